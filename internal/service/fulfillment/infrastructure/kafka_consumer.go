// internal/service/fulfillment/infrastructure/kafka_consumer.go
package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"fulcrum/internal/pkg/logger"
	"fulcrum/internal/pkg/mq"
	"fulcrum/internal/service/fulfillment/application"
	"fulcrum/internal/service/fulfillment/domain"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// DispatchConsumerAdapter 是一个驱动适配器：监听派发请求主题并驱动应用服务。
type DispatchConsumerAdapter struct {
	reader         *kafka.Reader
	appSvc         *application.FulfillmentApplicationService
	failureHandler *mq.FailureHandler
	wg             sync.WaitGroup
	stopped        atomic.Bool // Stop 和消费循环并发读写
}

func NewDispatchConsumerAdapter(reader *kafka.Reader, appSvc *application.FulfillmentApplicationService, failureHandler *mq.FailureHandler) *DispatchConsumerAdapter {
	return &DispatchConsumerAdapter{
		reader:         reader,
		appSvc:         appSvc,
		failureHandler: failureHandler,
	}
}

// Start 开始监听派发请求主题。这是一个长期运行的方法。
func (a *DispatchConsumerAdapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("✅ dispatch consumer started")
		for {
			if a.stopped.Load() {
				return
			}
			// 使用 FetchMessage 而不是 ReadMessage，以便控制提交流程
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("🛑 dispatch consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read message, retrying")
				time.Sleep(1 * time.Second) // 避免快速失败循环
				continue
			}

			propagator := otel.GetTextMapPropagator()
			headerCarrier := mq.KafkaHeaderCarrier(msg.Headers)
			msgCtx := propagator.Extract(ctx, &headerCarrier)

			if err := a.processMessage(msgCtx, msg); err != nil {
				// 处理失败移交 DLT，随后照常提交，避免阻塞分区
				a.failureHandler.Handle(msgCtx, msg, err)
			}

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit messages")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (a *DispatchConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ dispatch consumer stopped")
}

func (a *DispatchConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) error {
	var event domain.DispatchRequested
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal dispatch request, skipping")
		// 毒消息没有重试价值，直接交给 DLT
		return err
	}
	return a.appSvc.HandleDispatchRequested(ctx, &event)
}
