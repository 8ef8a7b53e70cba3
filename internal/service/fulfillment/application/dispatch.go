// internal/service/fulfillment/application/dispatch.go
package application

import (
	"context"
	"time"

	"fulcrum/internal/pkg/logger"
	"fulcrum/internal/service/fulfillment/domain"
	"fulcrum/internal/service/fulfillment/domain/port"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DispatchCoordinator 驱动一次派发批次：把分解出的单元 spec 逐个打到
// 绑定的供应商上，并把各单元结果折叠为订单状态。
//
// 同一订单的派发严格串行（保证子引用编号确定、尊重供应商限流），
// 相邻调用之间有固定间隔。每个 spec 在一个批次内至多发起一次下单调用：
// 失败或超时的下单调用绝不在批次内就地重试，只能由对账器拿同一个
// 子引用幂等重发，或由人工 requeue 重跑批次。
type DispatchCoordinator struct {
	orders    domain.OrderRepository
	services  domain.ServiceRepository
	providers port.ProviderRegistry
	notifier  port.NotificationProducer
	events    port.StatusEventSink
	tracer    trace.Tracer

	callTimeout    time.Duration
	interCallDelay time.Duration
}

func NewDispatchCoordinator(
	orders domain.OrderRepository,
	services domain.ServiceRepository,
	providers port.ProviderRegistry,
	notifier port.NotificationProducer,
	events port.StatusEventSink,
	tracer trace.Tracer,
	callTimeout, interCallDelay time.Duration,
) *DispatchCoordinator {
	return &DispatchCoordinator{
		orders: orders, services: services, providers: providers,
		notifier: notifier, events: events, tracer: tracer,
		callTimeout: callTimeout, interCallDelay: interCallDelay,
	}
}

// Dispatch 执行订单的派发批次。调用方必须先通过 BeginDispatch 赢得派发标记。
//
// 返回非 nil 仅发生在配置错误或持久化失败时，此时批次中止、
// 派发标记回退，订单保持 PENDING 等待人工介入；供应商级的失败
// 永远不会作为 error 逃逸，它们被折叠进单元结果和聚合状态。
func (c *DispatchCoordinator) Dispatch(ctx context.Context, order *domain.Order) error {
	ctx, span := c.tracer.Start(ctx, "dispatch.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.Bool("order.fusion", order.IsFusion),
		attribute.Int("order.quantity", order.Quantity),
	)

	specs, clients, err := c.prepare(ctx, order)
	if err != nil {
		if domain.IsValidation(err) {
			// 校验失败：没有任何供应商调用发生，也没有东西可补偿，
			// 订单按零接受归约直接判失败。
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Msg("order rejected before dispatch")
			span.AddEvent("ValidationRejected")
			return c.finish(ctx, order, nil)
		}
		// 配置错误：中止整个批次，回退派发标记，订单保持 PENDING。
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch pass aborted")
		if abortErr := c.orders.AbortDispatch(ctx, order.ID); abortErr != nil {
			logger.Ctx(ctx).Error().Err(abortErr).Str("order_id", order.ID).
				Msg("CRITICAL: failed to roll back dispatch marker after abort")
		}
		return err
	}

	units := make([]domain.UnitOrder, 0, len(specs))
	notified := false
	for i, spec := range specs {
		if i > 0 {
			sleepCtx(ctx, c.interCallDelay)
		}

		unit := c.dispatchUnit(ctx, clients[spec.ProviderCode], spec)
		units = append(units, unit)

		// 首个单元被接受时恰好发送一次 processing 通知（绝不按单元发）
		if unit.Accepted && !notified {
			notified = true
			if err := c.notifier.SendOrderProcessing(ctx, order); err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).
					Msg("failed to send processing notification")
			}
		}
	}

	return c.finish(ctx, order, units)
}

// prepare 完成分解并预先解析所有供应商客户端。
// 客户端在任何下单调用发生之前全部解析完成，这样配置错误
// 只可能在批次开始前出现，不会留下打了一半的批次。
func (c *DispatchCoordinator) prepare(ctx context.Context, order *domain.Order) ([]domain.UnitOrderSpec, map[string]port.ProviderClient, error) {
	var (
		services []domain.Service
		err      error
	)
	if order.IsFusion {
		services, err = c.services.FindByIDs(ctx, order.MemberIDs)
	} else {
		var svc *domain.Service
		svc, err = c.services.FindByID(ctx, order.ServiceID)
		if svc != nil {
			services = []domain.Service{*svc}
		}
	}
	if err != nil {
		return nil, nil, err
	}

	modeOf := func(code string) (domain.DispatchMode, error) {
		client, err := c.providers.Get(code)
		if err != nil {
			return 0, err
		}
		return client.Mode(), nil
	}

	specs, err := domain.Decompose(order, services, modeOf)
	if err != nil {
		return nil, nil, err
	}

	clients := make(map[string]port.ProviderClient)
	for _, spec := range specs {
		if _, ok := clients[spec.ProviderCode]; ok {
			continue
		}
		client, err := c.providers.Get(spec.ProviderCode)
		if err != nil {
			return nil, nil, err
		}
		clients[spec.ProviderCode] = client
	}
	return specs, clients, nil
}

// dispatchUnit 发起一次下单调用并把结果翻译为单元订单。
// 超时属于结果不可知的失败：这里不重试，也不把它当成错误向上抛。
func (c *DispatchCoordinator) dispatchUnit(ctx context.Context, client port.ProviderClient, spec domain.UnitOrderSpec) domain.UnitOrder {
	ctx, span := c.tracer.Start(ctx, "dispatch.CreateUnitOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider.code", spec.ProviderCode),
		attribute.String("unit.sub_ref", spec.SubRef),
		attribute.Int("unit.quantity", spec.Quantity),
	)

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	result, err := client.CreateUnitOrder(callCtx, spec.ServiceCode, spec.Target, spec.Quantity, spec.SubRef)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider unreachable")
		dispatchUnitsTotal.WithLabelValues(spec.ProviderCode, "unreachable").Inc()
		return domain.UnitOrder{
			Spec:      spec,
			Status:    domain.StatusFailed,
			ErrorKind: domain.FailureProviderUnreachable,
			Error:     err.Error(),
		}
	}

	if !result.Accepted {
		span.AddEvent("ProviderRejected")
		dispatchUnitsTotal.WithLabelValues(spec.ProviderCode, "rejected").Inc()
		return domain.UnitOrder{
			Spec:      spec,
			RawStatus: result.RawStatus,
			Status:    domain.StatusFailed,
			ErrorKind: domain.FailureProviderRejected,
			Error:     result.Message,
		}
	}

	span.AddEvent("UnitAccepted", trace.WithAttributes(attribute.String("provider.ref", result.ProviderRef)))
	dispatchUnitsTotal.WithLabelValues(spec.ProviderCode, "accepted").Inc()
	return domain.UnitOrder{
		Spec:        spec,
		Accepted:    true,
		ProviderRef: result.ProviderRef,
		RawStatus:   result.RawStatus,
		Status:      domain.StatusProcessing,
	}
}

// finish 应用聚合规则并持久化派发结果。
func (c *DispatchCoordinator) finish(ctx context.Context, order *domain.Order, units []domain.UnitOrder) error {
	from := order.Status
	aggregate := domain.ReduceDispatch(units)

	if err := order.TransitionTo(aggregate); err != nil {
		return err
	}

	order.ProviderRefs = order.ProviderRefs[:0]
	for _, u := range units {
		if u.ProviderRef != "" {
			order.ProviderRefs = append(order.ProviderRefs, u.ProviderRef)
		}
	}

	if err := c.orders.CompleteDispatch(ctx, order, units); err != nil {
		return err
	}
	dispatchOrdersTotal.WithLabelValues(string(aggregate)).Inc()
	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("status", string(aggregate)).
		Int("units", len(units)).
		Msg("dispatch pass completed")

	event := domain.OrderStatusChanged{OrderID: order.ID, From: from, To: aggregate, At: time.Now()}
	if err := c.events.StatusChanged(ctx, event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to publish status event")
	}
	return nil
}

// sleepCtx 等待固定间隔，ctx 取消时提前返回。
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
