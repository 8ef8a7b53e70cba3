// internal/service/fulfillment/infrastructure/adapter/dispatch_queue_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"fulcrum/internal/pkg/mq"
	"fulcrum/internal/service/fulfillment/domain"

	"github.com/segmentio/kafka-go"
)

// DispatchQueueKafkaAdapter 实现 port.DispatchQueue，
// 把派发请求写入 Kafka。Key 取订单号，同一订单的消息落在同一分区，
// 配合消费端的派发标记 CAS 保证一个订单只被派发一次。
type DispatchQueueKafkaAdapter struct {
	writer *kafka.Writer
}

func NewDispatchQueueKafkaAdapter(writer *kafka.Writer) *DispatchQueueKafkaAdapter {
	return &DispatchQueueKafkaAdapter{writer: writer}
}

func (a *DispatchQueueKafkaAdapter) EnqueueDispatch(ctx context.Context, event domain.DispatchRequested) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal dispatch request: %w", err)
	}
	if err := mq.ProduceMessage(ctx, a.writer, []byte(event.OrderID), payload); err != nil {
		return fmt.Errorf("enqueue dispatch for order %s: %w", event.OrderID, err)
	}
	return nil
}
