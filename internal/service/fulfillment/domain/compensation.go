// internal/service/fulfillment/domain/compensation.go
package domain

// InventoryKind 区分补偿记录对应的库存类型。
type InventoryKind string

const (
	InventoryFlashSale InventoryKind = "FLASH_SALE" // 限时抢购库存
	InventoryVoucher   InventoryKind = "VOUCHER"    // 代金券使用名额
)

// CompensationRecord 在下单预留了有限库存时创建，订单终局失败时由补偿引擎消费。
// Released 只允许 false→true 流转一次，检查与置位必须是原子的。
type CompensationRecord struct {
	ID       int64
	OrderID  string
	Kind     InventoryKind
	ItemID   string // 抢购商品 ID 或代金券 ID
	Reserved int    // 预留数量；代金券恒为 1
	Released bool
}
