// internal/service/fulfillment/domain/event.go
package domain

import "time"

// DispatchRequested 是回调入口完成三重校验并赢得派发标记后发布的事件，
// 由派发消费者拾取并驱动 DispatchCoordinator。
type DispatchRequested struct {
	OrderID string `json:"orderId"`
	EventID string `json:"eventId"`
	TraceID string `json:"traceId,omitempty"`
}

// OrderStatusChanged 在订单状态每次实际变更时恰好发布一次。
// 终态变更由补偿引擎和通知协作方消费。
type OrderStatusChanged struct {
	OrderID string    `json:"orderId"`
	From    Status    `json:"fromStatus"`
	To      Status    `json:"toStatus"`
	At      time.Time `json:"at"`
}

// NotificationEvent 是发给通知协作方的出站消息载体。
// 通知通道的重试与退避策略由协作方自行决定，本服务只负责发出。
type NotificationEvent struct {
	OrderID string `json:"orderId"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}
