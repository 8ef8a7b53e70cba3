// internal/service/fulfillment/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"

	"fulcrum/internal/pkg/logger"
	"fulcrum/internal/service/fulfillment/domain"
	"fulcrum/internal/service/fulfillment/domain/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EventFanout 把一次状态变更事件扇出给所有接入的消费者
// （补偿引擎、通知适配器、运营实时流）。单个消费者失败不影响其它消费者。
type EventFanout []port.StatusEventSink

func (f EventFanout) StatusChanged(ctx context.Context, event domain.OrderStatusChanged) error {
	var errs []error
	for _, sink := range f {
		if err := sink.StatusChanged(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FulfillmentApplicationService 只关注业务流程编排：
// 支付确认 → 赢得派发权 → 入队；消费者 → 派发批次；运营动作 → 对账/补偿。
type FulfillmentApplicationService struct {
	orders      domain.OrderRepository
	queue       port.DispatchQueue
	coordinator *DispatchCoordinator
	reconciler  *StatusReconciler
	compensator *CompensationEngine
	tracer      trace.Tracer
}

func NewFulfillmentApplicationService(
	orders domain.OrderRepository,
	queue port.DispatchQueue,
	coordinator *DispatchCoordinator,
	reconciler *StatusReconciler,
	compensator *CompensationEngine,
	tracer trace.Tracer,
) *FulfillmentApplicationService {
	return &FulfillmentApplicationService{
		orders: orders, queue: queue, coordinator: coordinator,
		reconciler: reconciler, compensator: compensator, tracer: tracer,
	}
}

// ProcessPaymentConfirmed 在回调入口完成三重校验后被调用。
//
// “确认仍为 PENDING，然后派发”通过派发标记的 compare-and-swap 实现互斥：
// 并发的重复回调只有一个能赢得 CAS，输家拿到 ErrAlreadyProcessed，
// 回调入口据此返回无副作用的成功应答。CAS 同时保证入队至多一次。
func (s *FulfillmentApplicationService) ProcessPaymentConfirmed(ctx context.Context, orderID string) error {
	ctx, span := s.tracer.Start(ctx, "app.ProcessPaymentConfirmed")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	won, err := s.orders.BeginDispatch(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !won {
		span.AddEvent("DispatchAlreadyClaimed")
		return domain.ErrAlreadyProcessed
	}

	event := domain.DispatchRequested{
		OrderID: orderID,
		EventID: uuid.New().String(),
		TraceID: span.SpanContext().TraceID().String(),
	}
	if err := s.queue.EnqueueDispatch(ctx, event); err != nil {
		// 已赢得 CAS 但入队失败：回退标记，让网关重试时能再次赢得派发权
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to enqueue dispatch request")
		if abortErr := s.orders.AbortDispatch(ctx, orderID); abortErr != nil {
			logger.Ctx(ctx).Error().Err(abortErr).Str("order_id", orderID).
				Msg("CRITICAL: failed to roll back dispatch marker after enqueue failure")
		}
		return err
	}

	span.AddEvent("DispatchRequestEnqueued")
	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("event_id", event.EventID).
		Msg("payment confirmed, dispatch request enqueued")
	return nil
}

// HandleDispatchRequested 是派发消费者的入口。
// Kafka 的重复投递在这里被吸收：只有派发标记仍为 INFLIGHT 的订单才会被派发。
func (s *FulfillmentApplicationService) HandleDispatchRequested(ctx context.Context, event *domain.DispatchRequested) error {
	ctx, span := s.tracer.Start(ctx, "app.HandleDispatchRequested", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(attribute.String("order.id", event.OrderID))

	order, err := s.orders.FindByID(ctx, event.OrderID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if order.DispatchState != domain.DispatchInflight {
		// 重复投递或已被人工处理过，按空操作吸收
		span.AddEvent("DuplicateDeliverySkipped")
		logger.Ctx(ctx).Warn().Str("order_id", event.OrderID).
			Str("dispatch_state", string(order.DispatchState)).
			Msg("dispatch request skipped, order not inflight")
		return nil
	}

	return s.coordinator.Dispatch(ctx, order)
}

// RequeueDispatch 是运营的人工重新派发动作，覆盖两种卡死形态：
// 配置错误中止后仍停留在 PENDING 的订单，以及批次中途搁浅的订单
// （标记 INFLIGHT 但没有任何单元落库，比如落库调用本身失败）。
func (s *FulfillmentApplicationService) RequeueDispatch(ctx context.Context, orderID string) error {
	ctx, span := s.tracer.Start(ctx, "app.RequeueDispatch")
	defer span.End()

	err := s.ProcessPaymentConfirmed(ctx, orderID)
	if !errors.Is(err, domain.ErrAlreadyProcessed) {
		return err
	}

	// 标记已被占用：区分正常推进中的订单和搁浅的批次。
	// 批次要么在 CompleteDispatch 里原子落库全部单元并把标记置 DONE，
	// 要么一个单元都不写；INFLIGHT 且零单元只剩批次中途失败一种解释。
	order, findErr := s.orders.FindByID(ctx, orderID)
	if findErr != nil {
		return findErr
	}
	if order.Status != domain.StatusPending || order.DispatchState != domain.DispatchInflight {
		return fmt.Errorf("order %s is not awaiting dispatch", orderID)
	}
	units, findErr := s.orders.FindUnits(ctx, orderID)
	if findErr != nil {
		return findErr
	}
	if len(units) > 0 {
		return fmt.Errorf("order %s is not awaiting dispatch", orderID)
	}

	span.AddEvent("StrandedDispatchMarkerReset")
	logger.Ctx(ctx).Warn().Str("order_id", orderID).
		Msg("resetting stranded dispatch marker before requeue")
	if err := s.orders.AbortDispatch(ctx, orderID); err != nil {
		return err
	}
	return s.ProcessPaymentConfirmed(ctx, orderID)
}

// ReconcileNow 是运营的“立即对账”动作。
func (s *FulfillmentApplicationService) ReconcileNow(ctx context.Context, orderID string) error {
	return s.reconciler.ReconcileOrder(ctx, orderID)
}

// ForceStatus 是运营的强制终态覆写动作。
func (s *FulfillmentApplicationService) ForceStatus(ctx context.Context, orderID string, to domain.Status) error {
	return s.reconciler.ForceTerminal(ctx, orderID, to)
}

// OrderDetail 返回订单及其单元明细，供运营排障查看。
// 付款人只能看到聚合状态，单元级细节只出现在运营面。
func (s *FulfillmentApplicationService) OrderDetail(ctx context.Context, orderID string) (*domain.Order, []domain.UnitOrder, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	units, err := s.orders.FindUnits(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, units, nil
}
