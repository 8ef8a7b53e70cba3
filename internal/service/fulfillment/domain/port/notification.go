// internal/service/fulfillment/domain/port/notification.go
package port

import (
	"context"

	"fulcrum/internal/service/fulfillment/domain"
)

// NotificationProducer 是通知协作方的出站端口。
// 通知传输（短信/邮件/推送）的实现和重试策略都在协作方，
// 这里只定义 send(target, message) -> ack 级别的语义。
type NotificationProducer interface {
	// SendOrderProcessing 在订单首个单元被接受时发送，每个订单恰好一次。
	SendOrderProcessing(ctx context.Context, order *domain.Order) error
}

// StatusEventSink 消费订单状态变更事件。
// 补偿引擎、通知适配器和运营实时流都实现该接口，由组装根做扇出。
type StatusEventSink interface {
	StatusChanged(ctx context.Context, event domain.OrderStatusChanged) error
}

// DispatchQueue 是派发请求队列的出站端口，回调入口在赢得派发标记后入队。
type DispatchQueue interface {
	EnqueueDispatch(ctx context.Context, event domain.DispatchRequested) error
}
