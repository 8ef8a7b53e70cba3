// internal/service/fulfillment/infrastructure/adapter/notification_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"fulcrum/internal/pkg/logger"
	"fulcrum/internal/pkg/mq"
	"fulcrum/internal/service/fulfillment/domain"

	"github.com/segmentio/kafka-go"
)

// NotificationKafkaAdapter 把通知和状态事件发布到 Kafka。
// 它同时实现 port.NotificationProducer 和 port.StatusEventSink：
// 前者对应"订单开始处理"的一次性通知，后者把每次状态变更广播到事件主题，
// 并在进入终态时追加一条面向用户的通知消息。
type NotificationKafkaAdapter struct {
	notificationWriter *kafka.Writer
	statusEventWriter  *kafka.Writer
}

func NewNotificationKafkaAdapter(notificationWriter, statusEventWriter *kafka.Writer) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{
		notificationWriter: notificationWriter,
		statusEventWriter:  statusEventWriter,
	}
}

// SendOrderProcessing 在首个单元被供应商接受时发出，每个订单恰好一次。
func (a *NotificationKafkaAdapter) SendOrderProcessing(ctx context.Context, order *domain.Order) error {
	event := domain.NotificationEvent{
		OrderID: order.ID,
		Status:  domain.StatusProcessing,
		Message: fmt.Sprintf("您的订单 %s 已开始处理", order.ID),
	}
	return a.publishNotification(ctx, event)
}

// StatusChanged 把状态变更写入事件主题；终态变更额外通知用户。
func (a *NotificationKafkaAdapter) StatusChanged(ctx context.Context, event domain.OrderStatusChanged) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	if err := mq.ProduceMessage(ctx, a.statusEventWriter, []byte(event.OrderID), payload); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	logger.Ctx(ctx).Info().
		Str("order_id", event.OrderID).
		Str("from", string(event.From)).
		Str("to", string(event.To)).
		Msg("status event published")

	if !event.To.IsTerminal() {
		return nil
	}
	return a.publishNotification(ctx, domain.NotificationEvent{
		OrderID: event.OrderID,
		Status:  event.To,
		Message: fmt.Sprintf("您的订单 %s 已结束，最终状态：%s", event.OrderID, event.To),
	})
}

func (a *NotificationKafkaAdapter) publishNotification(ctx context.Context, event domain.NotificationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := mq.ProduceMessage(ctx, a.notificationWriter, []byte(event.OrderID), payload); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
