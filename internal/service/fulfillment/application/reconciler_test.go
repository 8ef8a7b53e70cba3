// internal/service/fulfillment/application/reconciler_test.go
package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"fulcrum/internal/service/fulfillment/domain"
	"fulcrum/internal/service/fulfillment/domain/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconciledOrder(id string, dispatchedAgo time.Duration) *domain.Order {
	at := time.Now().Add(-dispatchedAgo)
	return &domain.Order{
		ID:            id,
		Status:        domain.StatusProcessing,
		DispatchState: domain.DispatchDone,
		DispatchedAt:  &at,
	}
}

func acceptedUnit(orderID, subRef, providerRef string) domain.UnitOrder {
	return domain.UnitOrder{
		Spec:        domain.UnitOrderSpec{OrderID: orderID, ProviderCode: "alpha", SubRef: subRef},
		Accepted:    true,
		ProviderRef: providerRef,
		Status:      domain.StatusProcessing,
	}
}

// rejectedUnit 是下单被拒、没有供应商引用的单元，等待对账器重发。
func rejectedUnit(orderID, subRef, providerCode string) domain.UnitOrder {
	return domain.UnitOrder{
		Spec:      domain.UnitOrderSpec{OrderID: orderID, ProviderCode: providerCode, SubRef: subRef, Quantity: 1},
		Status:    domain.StatusFailed,
		ErrorKind: domain.FailureProviderRejected,
		Error:     "out of stock",
	}
}

func newReconciler(repo *fakeOrderRepo, registry *fakeRegistry, sink port.StatusEventSink, opts ReconcileOptions) *StatusReconciler {
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = time.Second
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 100
	}
	return NewStatusReconciler(repo, registry, sink, noopLockFactory, testTracer(), opts)
}

func TestReconcileOrder_AllCompleted(t *testing.T) {
	order := newReconciledOrder("ORD-1", time.Hour)
	repo := newFakeOrderRepo(order)
	repo.units["ORD-1"] = []domain.UnitOrder{
		acceptedUnit("ORD-1", "ORD-1-1", "REF-1"),
		acceptedUnit("ORD-1", "ORD-1-2", "REF-2"),
	}
	provider := newFakeProvider("alpha", domain.DispatchPerCall)
	provider.queryFn = func(string) (port.StatusResult, error) {
		return port.StatusResult{RawStatus: "completed"}, nil
	}
	sink := &recordingSink{}

	r := newReconciler(repo, newFakeRegistry(provider), sink, ReconcileOptions{})
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-1"))

	assert.Equal(t, domain.StatusCompleted, repo.stored("ORD-1").Status)
	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusProcessing, events[0].From)
	assert.Equal(t, domain.StatusCompleted, events[0].To)
}

func TestReconcileOrder_RefundedMapsToFailed(t *testing.T) {
	order := newReconciledOrder("ORD-2", time.Hour)
	repo := newFakeOrderRepo(order)
	repo.units["ORD-2"] = []domain.UnitOrder{acceptedUnit("ORD-2", "ORD-2-1", "REF-1")}
	provider := newFakeProvider("alpha", domain.DispatchPerCall)
	provider.queryFn = func(string) (port.StatusResult, error) {
		return port.StatusResult{RawStatus: "refunded"}, nil
	}
	sink := &recordingSink{}

	r := newReconciler(repo, newFakeRegistry(provider), sink, ReconcileOptions{})
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-2"))

	assert.Equal(t, domain.StatusFailed, repo.stored("ORD-2").Status)
	units, _ := repo.FindUnits(context.Background(), "ORD-2")
	assert.Equal(t, domain.StatusFailed, units[0].Status)
	assert.Equal(t, "refunded", units[0].RawStatus)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusFailed, events[0].To, "terminal failure event drives compensation")
}

func TestReconcileOrder_MixedPendingAndCompletedStaysProcessing(t *testing.T) {
	order := newReconciledOrder("ORD-3", time.Hour)
	repo := newFakeOrderRepo(order)
	repo.units["ORD-3"] = []domain.UnitOrder{
		acceptedUnit("ORD-3", "ORD-3-1", "REF-1"),
		acceptedUnit("ORD-3", "ORD-3-2", "REF-2"),
	}
	provider := newFakeProvider("alpha", domain.DispatchPerCall)
	provider.queryFn = func(ref string) (port.StatusResult, error) {
		if ref == "REF-1" {
			return port.StatusResult{RawStatus: "completed"}, nil
		}
		return port.StatusResult{RawStatus: "pending"}, nil
	}
	sink := &recordingSink{}

	r := newReconciler(repo, newFakeRegistry(provider), sink, ReconcileOptions{})
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-3"))

	assert.Equal(t, domain.StatusProcessing, repo.stored("ORD-3").Status)
	assert.Empty(t, sink.all(), "no transition means no event")
}

func TestReconcileOrder_QueryFailureDoesNotBlockSiblings(t *testing.T) {
	order := newReconciledOrder("ORD-4", time.Hour)
	repo := newFakeOrderRepo(order)
	repo.units["ORD-4"] = []domain.UnitOrder{
		acceptedUnit("ORD-4", "ORD-4-1", "REF-1"),
		acceptedUnit("ORD-4", "ORD-4-2", "REF-2"),
	}
	provider := newFakeProvider("alpha", domain.DispatchPerCall)
	provider.queryFn = func(ref string) (port.StatusResult, error) {
		if ref == "REF-1" {
			return port.StatusResult{}, errors.New("connection reset")
		}
		return port.StatusResult{RawStatus: "completed"}, nil
	}
	sink := &recordingSink{}

	r := newReconciler(repo, newFakeRegistry(provider), sink, ReconcileOptions{})
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-4"))

	units, _ := repo.FindUnits(context.Background(), "ORD-4")
	assert.Equal(t, domain.StatusProcessing, units[0].Status, "failed query keeps the old status")
	assert.Equal(t, domain.StatusCompleted, units[1].Status, "sibling still advances")
	assert.Equal(t, domain.StatusProcessing, repo.stored("ORD-4").Status)

	// 下一轮查询恢复后订单收敛
	provider.queryFn = func(string) (port.StatusResult, error) {
		return port.StatusResult{RawStatus: "completed"}, nil
	}
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-4"))
	assert.Equal(t, domain.StatusCompleted, repo.stored("ORD-4").Status)
}

func TestReconcileOrder_IdempotentOnConvergedOrder(t *testing.T) {
	order := newReconciledOrder("ORD-5", time.Hour)
	repo := newFakeOrderRepo(order)
	repo.units["ORD-5"] = []domain.UnitOrder{acceptedUnit("ORD-5", "ORD-5-1", "REF-1")}
	provider := newFakeProvider("alpha", domain.DispatchPerCall)
	provider.queryFn = func(string) (port.StatusResult, error) {
		return port.StatusResult{RawStatus: "completed"}, nil
	}
	sink := &recordingSink{}

	r := newReconciler(repo, newFakeRegistry(provider), sink, ReconcileOptions{})
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-5"))
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-5"))
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-5"))

	assert.Equal(t, domain.StatusCompleted, repo.stored("ORD-5").Status)
	assert.Len(t, sink.all(), 1, "exactly one event despite repeated sweeps")
	assert.Equal(t, 1, provider.queryCalls["REF-1"], "terminal units are never re-queried")
}

func TestReconcileOrder_SkipsInflightDispatch(t *testing.T) {
	order := newReconciledOrder("ORD-6", time.Hour)
	order.DispatchState = domain.DispatchInflight
	repo := newFakeOrderRepo(order)
	provider := newFakeProvider("alpha", domain.DispatchPerCall)
	sink := &recordingSink{}

	r := newReconciler(repo, newFakeRegistry(provider), sink, ReconcileOptions{})
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-6"))

	assert.Equal(t, domain.StatusProcessing, repo.stored("ORD-6").Status)
	assert.Empty(t, provider.queryCalls)
}

func TestReconcileOrder_MaxProcessingAgeForcesStuckUnits(t *testing.T) {
	order := newReconciledOrder("ORD-7", 48*time.Hour)
	repo := newFakeOrderRepo(order)
	repo.units["ORD-7"] = []domain.UnitOrder{
		acceptedUnit("ORD-7", "ORD-7-1", "REF-1"),
		acceptedUnit("ORD-7", "ORD-7-2", "REF-2"),
	}
	provider := newFakeProvider("alpha", domain.DispatchPerCall)
	provider.queryFn = func(ref string) (port.StatusResult, error) {
		if ref == "REF-1" {
			return port.StatusResult{RawStatus: "completed"}, nil
		}
		return port.StatusResult{RawStatus: "pending"}, nil // 永远卡住
	}
	sink := &recordingSink{}

	r := newReconciler(repo, newFakeRegistry(provider), sink, ReconcileOptions{MaxProcessingAge: 24 * time.Hour})
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-7"))

	units, _ := repo.FindUnits(context.Background(), "ORD-7")
	assert.Equal(t, domain.StatusCompleted, units[0].Status)
	assert.Equal(t, domain.StatusFailed, units[1].Status, "stuck unit forced to failed")
	assert.Equal(t, domain.StatusFailed, repo.stored("ORD-7").Status)
}

func TestReconcileOrder_MaxProcessingAgeDisabledByDefault(t *testing.T) {
	order := newReconciledOrder("ORD-8", 48*time.Hour)
	repo := newFakeOrderRepo(order)
	repo.units["ORD-8"] = []domain.UnitOrder{acceptedUnit("ORD-8", "ORD-8-1", "REF-1")}
	provider := newFakeProvider("alpha", domain.DispatchPerCall)
	provider.queryFn = func(string) (port.StatusResult, error) {
		return port.StatusResult{RawStatus: "pending"}, nil
	}

	r := newReconciler(repo, newFakeRegistry(provider), &recordingSink{}, ReconcileOptions{})
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-8"))

	assert.Equal(t, domain.StatusProcessing, repo.stored("ORD-8").Status, "zero age never forces failure")
}

func TestForceTerminal(t *testing.T) {
	order := newReconciledOrder("ORD-9", time.Hour)
	repo := newFakeOrderRepo(order)
	sink := &recordingSink{}
	r := newReconciler(repo, newFakeRegistry(), sink, ReconcileOptions{})

	assert.Error(t, r.ForceTerminal(context.Background(), "ORD-9", domain.StatusProcessing),
		"only terminal statuses can be forced")

	require.NoError(t, r.ForceTerminal(context.Background(), "ORD-9", domain.StatusCancelled))
	assert.Equal(t, domain.StatusCancelled, repo.stored("ORD-9").Status)
	require.Len(t, sink.all(), 1)

	assert.Error(t, r.ForceTerminal(context.Background(), "ORD-9", domain.StatusFailed),
		"terminal orders are immutable even for operators")
}

func TestSweep_HonorsCooldownAndBatch(t *testing.T) {
	due := newReconciledOrder("ORD-DUE", time.Hour)
	fresh := newReconciledOrder("ORD-FRESH", time.Second)
	repo := newFakeOrderRepo(due, fresh)
	repo.units["ORD-DUE"] = []domain.UnitOrder{acceptedUnit("ORD-DUE", "ORD-DUE-1", "REF-1")}
	repo.units["ORD-FRESH"] = []domain.UnitOrder{acceptedUnit("ORD-FRESH", "ORD-FRESH-1", "REF-2")}
	provider := newFakeProvider("alpha", domain.DispatchPerCall)
	provider.queryFn = func(string) (port.StatusResult, error) {
		return port.StatusResult{RawStatus: "completed"}, nil
	}

	r := newReconciler(repo, newFakeRegistry(provider), &recordingSink{},
		ReconcileOptions{MinPollInterval: 10 * time.Minute})
	require.NoError(t, r.Sweep(context.Background()))

	assert.Equal(t, domain.StatusCompleted, repo.stored("ORD-DUE").Status)
	assert.Equal(t, domain.StatusProcessing, repo.stored("ORD-FRESH").Status, "fresh order still cooling down")
}

// 终局失败的完整链路：对账发现 refunded → 订单 FAILED → 事件扇出 → 库存回补。
func TestReconcileOrder_RefundTriggersCompensation(t *testing.T) {
	order := newReconciledOrder("ORD-11", time.Hour)
	repo := newFakeOrderRepo(order)
	repo.units["ORD-11"] = []domain.UnitOrder{acceptedUnit("ORD-11", "ORD-11-1", "REF-1")}
	provider := newFakeProvider("alpha", domain.DispatchPerCall)
	provider.queryFn = func(string) (port.StatusResult, error) {
		return port.StatusResult{RawStatus: "refunded"}, nil
	}

	records := newFakeCompensationRepo(domain.CompensationRecord{
		ID: 1, OrderID: "ORD-11", Kind: domain.InventoryFlashSale, ItemID: "item-9", Reserved: 2,
	})
	stock := newFakeStock()
	stock.stock["item-9"] = 3
	stock.sold["item-9"] = 2
	compensator := NewCompensationEngine(records, repo, stock, &fakeVouchers{}, testTracer())

	recorder := &recordingSink{}
	fanout := EventFanout{compensator, recorder}

	r := newReconciler(repo, newFakeRegistry(provider), fanout, ReconcileOptions{})
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-11"))

	assert.Equal(t, domain.StatusFailed, repo.stored("ORD-11").Status)
	assert.Equal(t, 5, stock.stock["item-9"], "reserved stock restored on terminal failure")
	assert.Equal(t, 0, stock.sold["item-9"])
	assert.True(t, repo.stored("ORD-11").Compensated)
	require.Len(t, recorder.all(), 1)
}

// 融合订单一收一拒后停在 PROCESSING；对账器拿确定性子引用重发被拒单元，
// 两个单元随后都查到 completed，订单最终到达 COMPLETED。
func TestReconcileOrder_ReattemptsRejectedUnitThenCompletes(t *testing.T) {
	order := newReconciledOrder("ORD-B", time.Hour)
	order.IsFusion = true
	order.ProviderRefs = []string{"REF-A1"}
	repo := newFakeOrderRepo(order)
	repo.units["ORD-B"] = []domain.UnitOrder{
		acceptedUnit("ORD-B", "ORD-B-1", "REF-A1"),
		rejectedUnit("ORD-B", "ORD-B-2", "beta"),
	}

	alpha := newFakeProvider("alpha", domain.DispatchPerCall)
	alpha.queryFn = func(string) (port.StatusResult, error) {
		return port.StatusResult{RawStatus: "completed"}, nil
	}
	var gotIdempotencyRef string
	beta := newFakeProvider("beta", domain.DispatchQuantityNative)
	beta.createFn = func(_ int, idempotencyRef string) (port.CreateResult, error) {
		gotIdempotencyRef = idempotencyRef
		return port.CreateResult{Accepted: true, ProviderRef: "REF-B9", RawStatus: "pending"}, nil
	}
	beta.queryFn = func(string) (port.StatusResult, error) {
		return port.StatusResult{RawStatus: "completed"}, nil
	}
	sink := &recordingSink{}

	r := newReconciler(repo, newFakeRegistry(alpha, beta), sink, ReconcileOptions{})
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-B"))

	assert.Equal(t, "ORD-B-2", gotIdempotencyRef, "redispatch reuses the deterministic sub-ref")
	units, _ := repo.FindUnits(context.Background(), "ORD-B")
	assert.True(t, units[1].Accepted)
	assert.Equal(t, "REF-B9", units[1].ProviderRef)
	assert.Equal(t, domain.StatusCompleted, units[1].Status)
	assert.Empty(t, units[1].ErrorKind)

	stored := repo.stored("ORD-B")
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, "REF-A1,REF-B9", stored.JoinedRefs(), "order refs rebuilt after redispatch")

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusProcessing, events[0].From)
	assert.Equal(t, domain.StatusCompleted, events[0].To)
}

func TestReconcileOrder_ReattemptUnknownOutcomeRetriesNextSweep(t *testing.T) {
	order := newReconciledOrder("ORD-C", time.Hour)
	repo := newFakeOrderRepo(order)
	repo.units["ORD-C"] = []domain.UnitOrder{
		acceptedUnit("ORD-C", "ORD-C-1", "REF-1"),
		rejectedUnit("ORD-C", "ORD-C-2", "alpha"),
	}
	provider := newFakeProvider("alpha", domain.DispatchPerCall)
	provider.createFn = func(int, string) (port.CreateResult, error) {
		return port.CreateResult{}, context.DeadlineExceeded
	}
	provider.queryFn = func(string) (port.StatusResult, error) {
		return port.StatusResult{RawStatus: "completed"}, nil
	}

	r := newReconciler(repo, newFakeRegistry(provider), &recordingSink{}, ReconcileOptions{})
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-C"))

	// 重发结局不可知：单元留在失败态等下一轮，订单不许滑向终态
	units, _ := repo.FindUnits(context.Background(), "ORD-C")
	assert.Equal(t, domain.StatusFailed, units[1].Status)
	assert.Empty(t, units[1].ProviderRef)
	assert.Equal(t, 1, units[1].RedispatchAttempts)
	assert.Equal(t, domain.StatusProcessing, repo.stored("ORD-C").Status)

	// 下一轮供应商恢复，订单收敛
	provider.createFn = nil
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-C"))
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-C"))
	assert.Equal(t, domain.StatusCompleted, repo.stored("ORD-C").Status)
}

func TestReconcileOrder_ReattemptBudgetExhaustedFailsOrder(t *testing.T) {
	order := newReconciledOrder("ORD-D", time.Hour)
	repo := newFakeOrderRepo(order)
	repo.units["ORD-D"] = []domain.UnitOrder{
		acceptedUnit("ORD-D", "ORD-D-1", "REF-1"),
		rejectedUnit("ORD-D", "ORD-D-2", "alpha"),
	}
	provider := newFakeProvider("alpha", domain.DispatchPerCall)
	provider.createFn = func(int, string) (port.CreateResult, error) {
		return port.CreateResult{Accepted: false, Message: "out of stock"}, nil
	}
	provider.queryFn = func(string) (port.StatusResult, error) {
		return port.StatusResult{RawStatus: "completed"}, nil
	}
	sink := &recordingSink{}

	r := newReconciler(repo, newFakeRegistry(provider), sink, ReconcileOptions{})
	for i := 0; i < domain.MaxRedispatchAttempts; i++ {
		require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-D"))
	}

	assert.Equal(t, domain.MaxRedispatchAttempts, provider.createCalls, "budget bounds the re-attempts")
	assert.Equal(t, domain.StatusFailed, repo.stored("ORD-D").Status, "exhausted unit counts as final failure")

	// 终态后不再重发
	require.NoError(t, r.ReconcileOrder(context.Background(), "ORD-D"))
	assert.Equal(t, domain.MaxRedispatchAttempts, provider.createCalls)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusFailed, events[0].To)
}

func TestHandleDispatchRequested_AbsorbsDuplicateDelivery(t *testing.T) {
	order := newReconciledOrder("ORD-10", time.Hour) // 已经 DONE
	repo := newFakeOrderRepo(order)
	provider := newFakeProvider("alpha", domain.DispatchPerCall)
	catalog := newFakeCatalog(domain.Service{ID: 7, ProviderCode: "alpha", Active: true})
	coordinator := newCoordinator(repo, catalog, newFakeRegistry(provider), &fakeNotifier{}, &recordingSink{})

	svc := NewFulfillmentApplicationService(repo, &fakeQueue{}, coordinator, nil, nil, testTracer())
	require.NoError(t, svc.HandleDispatchRequested(context.Background(),
		&domain.DispatchRequested{OrderID: "ORD-10", EventID: "evt-1"}))

	assert.Equal(t, 0, provider.createCalls, "duplicate delivery must not re-dispatch")
}
