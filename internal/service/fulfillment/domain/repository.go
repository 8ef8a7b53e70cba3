// internal/service/fulfillment/domain/repository.go
package domain

import (
	"context"
	"time"
)

// OrderRepository 定义了订单聚合（含单元订单）的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	FindByID(ctx context.Context, id string) (*Order, error)
	Save(ctx context.Context, order *Order) error

	// BeginDispatch 以 compare-and-swap 的方式把派发标记从 NONE 置为 INFLIGHT，
	// 仅当订单仍为 PENDING。返回 false 表示并发竞争者已经赢得派发权或订单已推进。
	BeginDispatch(ctx context.Context, id string) (bool, error)

	// AbortDispatch 在配置错误中止派发批次后把标记回退为 NONE，
	// 让人工 requeue 能重新赢得派发权。
	AbortDispatch(ctx context.Context, id string) error

	// CompleteDispatch 原子持久化派发结果：订单状态、引用串、
	// 派发标记 DONE、派发完成时间，以及全部单元订单行。
	CompleteDispatch(ctx context.Context, order *Order, units []UnitOrder) error

	// FindUnits 返回订单的全部单元订单，按 Index 升序。
	FindUnits(ctx context.Context, orderID string) ([]UnitOrder, error)

	// SaveUnits 更新单元订单的状态字段。
	SaveUnits(ctx context.Context, units []UnitOrder) error

	// FindDueForReconcile 选取对账候选：状态 ∈ {PENDING, PROCESSING}、
	// 派发标记为 DONE、派发完成时间早于 before 的订单。
	FindDueForReconcile(ctx context.Context, before time.Time, limit int) ([]*Order, error)
}

// ServiceRepository 是商品目录的只读端口。
type ServiceRepository interface {
	FindByID(ctx context.Context, id int64) (*Service, error)
	// FindByIDs 按给定顺序返回服务；任何一个缺失都返回错误。
	FindByIDs(ctx context.Context, ids []int64) ([]Service, error)
}

// InvoiceRepository 是支付单的只读端口。
type InvoiceRepository interface {
	FindByOrderID(ctx context.Context, orderID string) (*Invoice, error)
}

// CompensationRepository 定义补偿记录的持久化接口。
type CompensationRepository interface {
	// FindUnreleased 返回订单尚未释放的补偿记录。
	FindUnreleased(ctx context.Context, orderID string) ([]CompensationRecord, error)

	// MarkReleased 原子地把 released 从 false 置为 true。
	// 返回 false 表示记录已被释放过（或不存在），调用方必须跳过库存回补。
	MarkReleased(ctx context.Context, recordID int64) (bool, error)
}
