// internal/service/fulfillment/application/fakes_test.go
package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fulcrum/internal/service/fulfillment/domain"
	"fulcrum/internal/service/fulfillment/domain/port"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func testTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("test")
}

// ---- 仓储 ----

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	units  map[string][]domain.UnitOrder

	saveErr     error
	completeErr error
}

func newFakeOrderRepo(orders ...*domain.Order) *fakeOrderRepo {
	repo := &fakeOrderRepo{
		orders: make(map[string]*domain.Order),
		units:  make(map[string][]domain.UnitOrder),
	}
	for _, o := range orders {
		repo.orders[o.ID] = o
	}
	return repo
}

func (r *fakeOrderRepo) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (r *fakeOrderRepo) Save(_ context.Context, order *domain.Order) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *order
	r.orders[order.ID] = &copied
	return nil
}

func (r *fakeOrderRepo) BeginDispatch(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.DispatchState != domain.DispatchNone || order.Status != domain.StatusPending {
		return false, nil
	}
	order.DispatchState = domain.DispatchInflight
	return true, nil
}

func (r *fakeOrderRepo) AbortDispatch(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order, ok := r.orders[id]; ok && order.DispatchState == domain.DispatchInflight {
		order.DispatchState = domain.DispatchNone
	}
	return nil
}

func (r *fakeOrderRepo) CompleteDispatch(_ context.Context, order *domain.Order, units []domain.UnitOrder) error {
	if r.completeErr != nil {
		return r.completeErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	order.DispatchState = domain.DispatchDone
	order.DispatchedAt = &now
	copied := *order
	r.orders[order.ID] = &copied
	r.units[order.ID] = append([]domain.UnitOrder(nil), units...)
	return nil
}

func (r *fakeOrderRepo) FindUnits(_ context.Context, orderID string) ([]domain.UnitOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.UnitOrder(nil), r.units[orderID]...), nil
}

func (r *fakeOrderRepo) SaveUnits(_ context.Context, units []domain.UnitOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range units {
		stored := r.units[u.Spec.OrderID]
		for i := range stored {
			if stored[i].Spec.SubRef == u.Spec.SubRef {
				stored[i] = u
			}
		}
	}
	return nil
}

func (r *fakeOrderRepo) FindDueForReconcile(_ context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*domain.Order
	for _, o := range r.orders {
		if o.Status.IsTerminal() || o.DispatchState != domain.DispatchDone {
			continue
		}
		if o.DispatchedAt == nil || !o.DispatchedAt.Before(before) {
			continue
		}
		copied := *o
		due = append(due, &copied)
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

// stored 返回仓储里的当前订单状态，绕过拷贝语义方便断言。
func (r *fakeOrderRepo) stored(id string) *domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id]
}

type fakeCatalog struct {
	services map[int64]domain.Service
}

func newFakeCatalog(services ...domain.Service) *fakeCatalog {
	c := &fakeCatalog{services: make(map[int64]domain.Service)}
	for _, s := range services {
		c.services[s.ID] = s
	}
	return c
}

func (c *fakeCatalog) FindByID(_ context.Context, id int64) (*domain.Service, error) {
	svc, ok := c.services[id]
	if !ok {
		return nil, domain.NewValidationError(domain.ReasonInactiveService,
			fmt.Sprintf("service %d does not exist", id))
	}
	return &svc, nil
}

func (c *fakeCatalog) FindByIDs(_ context.Context, ids []int64) ([]domain.Service, error) {
	out := make([]domain.Service, 0, len(ids))
	for _, id := range ids {
		svc, ok := c.services[id]
		if !ok {
			return nil, domain.NewValidationError(domain.ReasonInactiveService,
				fmt.Sprintf("member service %d does not exist", id))
		}
		out = append(out, svc)
	}
	return out, nil
}

type fakeCompensationRepo struct {
	mu      sync.Mutex
	records map[int64]*domain.CompensationRecord
}

func newFakeCompensationRepo(records ...domain.CompensationRecord) *fakeCompensationRepo {
	repo := &fakeCompensationRepo{records: make(map[int64]*domain.CompensationRecord)}
	for i := range records {
		rec := records[i]
		repo.records[rec.ID] = &rec
	}
	return repo
}

func (r *fakeCompensationRepo) FindUnreleased(_ context.Context, orderID string) ([]domain.CompensationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CompensationRecord
	for _, rec := range r.records {
		if rec.OrderID == orderID && !rec.Released {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeCompensationRepo) MarkReleased(_ context.Context, recordID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[recordID]
	if !ok || rec.Released {
		return false, nil
	}
	rec.Released = true
	return true, nil
}

// ---- 供应商 ----

type fakeProvider struct {
	code string
	mode domain.DispatchMode

	mu          sync.Mutex
	createCalls int
	queryCalls  map[string]int
	createFn    func(call int, idempotencyRef string) (port.CreateResult, error)
	queryFn     func(providerRef string) (port.StatusResult, error)
}

func newFakeProvider(code string, mode domain.DispatchMode) *fakeProvider {
	return &fakeProvider{code: code, mode: mode, queryCalls: make(map[string]int)}
}

func (p *fakeProvider) Code() string              { return p.code }
func (p *fakeProvider) Mode() domain.DispatchMode { return p.mode }

func (p *fakeProvider) CreateUnitOrder(_ context.Context, _ string, _ domain.Target, _ int, idempotencyRef string) (port.CreateResult, error) {
	p.mu.Lock()
	p.createCalls++
	call := p.createCalls
	p.mu.Unlock()
	if p.createFn == nil {
		return port.CreateResult{Accepted: true, ProviderRef: fmt.Sprintf("REF-%d", call), RawStatus: "pending"}, nil
	}
	return p.createFn(call, idempotencyRef)
}

func (p *fakeProvider) QueryStatus(_ context.Context, providerRef string) (port.StatusResult, error) {
	p.mu.Lock()
	p.queryCalls[providerRef]++
	p.mu.Unlock()
	if p.queryFn == nil {
		return port.StatusResult{RawStatus: "processing"}, nil
	}
	return p.queryFn(providerRef)
}

type fakeRegistry struct {
	providers map[string]port.ProviderClient
}

func newFakeRegistry(providers ...*fakeProvider) *fakeRegistry {
	r := &fakeRegistry{providers: make(map[string]port.ProviderClient)}
	for _, p := range providers {
		r.providers[p.code] = p
	}
	return r
}

func (r *fakeRegistry) Get(code string) (port.ProviderClient, error) {
	p, ok := r.providers[code]
	if !ok {
		return nil, domain.NewConfigError("no provider client registered for code %q", code)
	}
	return p, nil
}

// ---- 事件与通知 ----

type fakeNotifier struct {
	mu    sync.Mutex
	sends int
}

func (n *fakeNotifier) SendOrderProcessing(context.Context, *domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends++
	return nil
}

func (n *fakeNotifier) sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sends
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.OrderStatusChanged
}

func (s *recordingSink) StatusChanged(_ context.Context, event domain.OrderStatusChanged) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) all() []domain.OrderStatusChanged {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OrderStatusChanged(nil), s.events...)
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []domain.DispatchRequested
	failWith error
}

func (q *fakeQueue) EnqueueDispatch(_ context.Context, event domain.DispatchRequested) error {
	if q.failWith != nil {
		return q.failWith
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, event)
	return nil
}

// ---- 库存 ----

type fakeStock struct {
	mu       sync.Mutex
	stock    map[string]int
	sold     map[string]int
	restores int
}

func newFakeStock() *fakeStock {
	return &fakeStock{stock: make(map[string]int), sold: make(map[string]int)}
}

func (s *fakeStock) Restore(_ context.Context, itemID string, qty int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, tracked := s.stock[itemID]; !tracked {
		return false, nil
	}
	s.stock[itemID] += qty
	s.sold[itemID] -= qty
	s.restores++
	return true, nil
}

type fakeVouchers struct {
	mu       sync.Mutex
	released []string
}

func (v *fakeVouchers) ReleaseUsage(_ context.Context, voucherID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.released = append(v.released, voucherID)
	return nil
}

// ---- 锁 ----

type noopLocker struct{}

func (noopLocker) Lock() error   { return nil }
func (noopLocker) Unlock() error { return nil }

func noopLockFactory(string) Locker { return noopLocker{} }
