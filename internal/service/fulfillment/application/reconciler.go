// internal/service/fulfillment/application/reconciler.go
package application

import (
	"context"
	"fmt"
	"time"

	"fulcrum/internal/pkg/logger"
	"fulcrum/internal/service/fulfillment/domain"
	"fulcrum/internal/service/fulfillment/domain/port"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// sweepConcurrency 限制一轮扫描内并行对账的订单数，
// 订单之间相互独立，订单内部仍由分布式锁保证互斥。
const sweepConcurrency = 4

// Locker 是单订单互斥锁的抽象，生产环境由 ZooKeeper 实现。
type Locker interface {
	Lock() error
	Unlock() error
}

// LockFactory 为指定订单构造一把锁。
type LockFactory func(orderID string) Locker

// ReconcileOptions 是对账器的运行参数。
type ReconcileOptions struct {
	SweepInterval   time.Duration // 周期扫描的间隔
	MinPollInterval time.Duration // 派发完成到首次扫描之间的冷却期
	QueryTimeout    time.Duration // 单次供应商状态查询的超时
	BatchSize       int           // 单轮扫描最多处理的订单数

	// MaxProcessingAge 大于零时启用：派发完成超过该时长仍未终态的订单，
	// 其未决单元按失败归约，避免单个永久卡住的单元让订单永远到不了终态。
	MaxProcessingAge time.Duration
}

// StatusReconciler 周期性地重查未决单元的供应商状态并推进订单状态。
//
// 扫描只会选中派发批次已经完全结束的订单（每个单元都有引用或终态失败），
// 因此它可以和回调驱动的派发并发运行，绝不触碰派发中的订单。
// 没有拿到引用的失败单元在这里被重发：子引用是供应商侧的幂等键，
// 重发同一个子引用至多履约一次。扫描之间无状态，
// 重复扫描对已收敛的订单是幂等空操作。
type StatusReconciler struct {
	orders    domain.OrderRepository
	providers port.ProviderRegistry
	events    port.StatusEventSink
	locks     LockFactory
	tracer    trace.Tracer
	opts      ReconcileOptions
}

func NewStatusReconciler(
	orders domain.OrderRepository,
	providers port.ProviderRegistry,
	events port.StatusEventSink,
	locks LockFactory,
	tracer trace.Tracer,
	opts ReconcileOptions,
) *StatusReconciler {
	return &StatusReconciler{
		orders: orders, providers: providers, events: events,
		locks: locks, tracer: tracer, opts: opts,
	}
}

// Run 以固定周期运行扫描，直到 ctx 被取消。
func (r *StatusReconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	logger.Ctx(ctx).Info().Dur("interval", r.opts.SweepInterval).Msg("✅ status reconciler started")
	for {
		select {
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("reconcile sweep failed")
			}
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 status reconciler shutting down")
			return
		}
	}
}

// Sweep 选取到期订单并逐个对账。单个订单的失败不阻塞同一轮的其它订单。
func (r *StatusReconciler) Sweep(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "reconcile.Sweep")
	defer span.End()

	before := time.Now().Add(-r.opts.MinPollInterval)
	orders, err := r.orders.FindDueForReconcile(ctx, before, r.opts.BatchSize)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("sweep.candidates", len(orders)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, order := range orders {
		orderID := order.ID
		g.Go(func() error {
			if err := r.ReconcileOrder(gctx, orderID); err != nil {
				logger.Ctx(gctx).Error().Err(err).Str("order_id", orderID).Msg("failed to reconcile order")
			}
			return nil
		})
	}
	return g.Wait()
}

// ReconcileOrder 对单个订单做一轮对账。运营的“立即对账”动作也走这里。
func (r *StatusReconciler) ReconcileOrder(ctx context.Context, orderID string) error {
	ctx, span := r.tracer.Start(ctx, "reconcile.Order")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	lock := r.locks(orderID)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire order lock: %w", err)
	}
	defer lock.Unlock()

	order, err := r.orders.FindByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	// 终态不可变；派发中的订单绝不触碰
	if order.Status.IsTerminal() {
		span.AddEvent("AlreadyTerminal")
		return nil
	}
	if order.DispatchState != domain.DispatchDone {
		span.AddEvent("DispatchNotComplete")
		return nil
	}

	units, err := r.orders.FindUnits(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	redispatched := r.redispatchUnits(ctx, units)
	changed := redispatched
	if r.refreshUnits(ctx, units) {
		changed = true
	}
	if r.forceStuckUnits(order, units) {
		changed = true
		span.AddEvent("StuckUnitsForcedToFailed")
	}
	if changed {
		if err := r.orders.SaveUnits(ctx, units); err != nil {
			span.RecordError(err)
			return err
		}
	}
	if redispatched {
		// 重发可能带来新的供应商引用，订单行的引用串要跟着重建
		order.ProviderRefs = order.ProviderRefs[:0]
		for _, u := range units {
			if u.ProviderRef != "" {
				order.ProviderRefs = append(order.ProviderRefs, u.ProviderRef)
			}
		}
		if err := r.orders.Save(ctx, order); err != nil {
			span.RecordError(err)
			return err
		}
	}

	statuses := make([]domain.Status, len(units))
	for i, u := range units {
		statuses[i] = u.EffectiveStatus()
	}
	aggregate := domain.ReduceUnitStatuses(statuses)

	// 与当前状态一致时是幂等空操作，不发事件、不触发补偿
	if aggregate == order.Status {
		span.AddEvent("NoTransition")
		return nil
	}
	return r.applyTransition(ctx, order, aggregate)
}

// redispatchUnits 为没有拿到供应商引用的失败单元重发下单调用。
// 子引用是确定性的幂等键，供应商侧按引用去重，所以重发不会重复履约；
// 每次尝试都消耗一次重发预算，不论结局，预算用尽后单元按终局失败聚合。
func (r *StatusReconciler) redispatchUnits(ctx context.Context, units []domain.UnitOrder) bool {
	changed := false
	for i := range units {
		unit := &units[i]
		if !unit.AwaitingRedispatch() {
			continue
		}

		client, err := r.providers.Get(unit.Spec.ProviderCode)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("provider", unit.Spec.ProviderCode).
				Msg("provider missing from registry during redispatch")
			continue
		}

		unit.RedispatchAttempts++
		changed = true

		callCtx, cancel := context.WithTimeout(ctx, r.opts.QueryTimeout)
		result, err := client.CreateUnitOrder(callCtx, unit.Spec.ServiceCode, unit.Spec.Target, unit.Spec.Quantity, unit.Spec.SubRef)
		cancel()
		if err != nil {
			// 结局不可知：单元维持失败态，剩余预算留给下一轮
			reconcileRedispatchTotal.WithLabelValues(unit.Spec.ProviderCode, "unreachable").Inc()
			logger.Ctx(ctx).Warn().Err(err).
				Str("provider", unit.Spec.ProviderCode).
				Str("sub_ref", unit.Spec.SubRef).
				Msg("redispatch create failed, will retry next sweep")
			continue
		}
		if !result.Accepted {
			reconcileRedispatchTotal.WithLabelValues(unit.Spec.ProviderCode, "rejected").Inc()
			unit.ErrorKind = domain.FailureProviderRejected
			unit.Error = result.Message
			unit.RawStatus = result.RawStatus
			continue
		}

		reconcileRedispatchTotal.WithLabelValues(unit.Spec.ProviderCode, "accepted").Inc()
		unit.Accepted = true
		unit.ProviderRef = result.ProviderRef
		unit.RawStatus = result.RawStatus
		unit.Status = domain.StatusProcessing
		unit.ErrorKind = ""
		unit.Error = ""
		logger.Ctx(ctx).Info().
			Str("order_id", unit.Spec.OrderID).
			Str("sub_ref", unit.Spec.SubRef).
			Str("provider_ref", result.ProviderRef).
			Msg("failed unit redispatched and accepted")
	}
	return changed
}

// refreshUnits 重查所有仍可推进的单元。单个查询失败只记录，
// 留到下一轮重试，不阻塞同一订单的其它单元。
func (r *StatusReconciler) refreshUnits(ctx context.Context, units []domain.UnitOrder) bool {
	changed := false
	for i := range units {
		unit := &units[i]
		if !unit.Resolvable() {
			continue
		}

		client, err := r.providers.Get(unit.Spec.ProviderCode)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("provider", unit.Spec.ProviderCode).
				Msg("provider missing from registry during reconcile")
			continue
		}

		queryCtx, cancel := context.WithTimeout(ctx, r.opts.QueryTimeout)
		result, err := client.QueryStatus(queryCtx, unit.ProviderRef)
		cancel()
		if err != nil {
			// 查询超时/网络失败是可重试失败：保留旧状态，下一轮再查
			reconcileQueryErrorsTotal.WithLabelValues(unit.Spec.ProviderCode).Inc()
			logger.Ctx(ctx).Warn().Err(err).
				Str("provider", unit.Spec.ProviderCode).
				Str("provider_ref", unit.ProviderRef).
				Msg("status query failed, will retry next sweep")
			continue
		}

		mapped := domain.MapProviderStatus(result.RawStatus)
		if mapped != unit.Status || result.RawStatus != unit.RawStatus {
			unit.Status = mapped
			unit.RawStatus = result.RawStatus
			unit.Error = result.Message
			changed = true
		}
	}
	return changed
}

// forceStuckUnits 在启用最大处理时长后，把超龄订单的未决单元判为失败，
// 防止单个永久卡住的单元阻止订单到达终态。
func (r *StatusReconciler) forceStuckUnits(order *domain.Order, units []domain.UnitOrder) bool {
	if r.opts.MaxProcessingAge <= 0 || order.DispatchedAt == nil {
		return false
	}
	if time.Since(*order.DispatchedAt) <= r.opts.MaxProcessingAge {
		return false
	}

	forced := false
	for i := range units {
		if units[i].AwaitingRedispatch() {
			// 超龄订单不再享受重发，剩余预算直接清零
			units[i].RedispatchAttempts = domain.MaxRedispatchAttempts
			units[i].Error = "forced to failed: exceeded max processing age"
			forced = true
			continue
		}
		if units[i].Status.IsTerminal() {
			continue
		}
		units[i].Status = domain.StatusFailed
		units[i].Error = "forced to failed: exceeded max processing age"
		forced = true
	}
	return forced
}

// ForceTerminal 是运营的强制终态覆写入口。
func (r *StatusReconciler) ForceTerminal(ctx context.Context, orderID string, to domain.Status) error {
	ctx, span := r.tracer.Start(ctx, "reconcile.ForceTerminal")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("target.status", string(to)))

	if !to.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", to)
	}

	lock := r.locks(orderID)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire order lock: %w", err)
	}
	defer lock.Unlock()

	order, err := r.orders.FindByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("order %s is already terminal (%s)", orderID, order.Status)
	}
	return r.applyTransition(ctx, order, to)
}

// applyTransition 落库一次状态变更并恰好发布一次变更事件。
func (r *StatusReconciler) applyTransition(ctx context.Context, order *domain.Order, to domain.Status) error {
	from := order.Status
	if err := order.TransitionTo(to); err != nil {
		return err
	}
	if err := r.orders.Save(ctx, order); err != nil {
		return err
	}
	reconcileTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("order status transitioned")

	event := domain.OrderStatusChanged{OrderID: order.ID, From: from, To: to, At: time.Now()}
	if err := r.events.StatusChanged(ctx, event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).
			Msg("failed to publish status event")
	}
	return nil
}
