// internal/service/fulfillment/domain/port/inventory.go
package port

import "context"

// FlashSaleStock 是限时抢购库存账本的出站端口。
type FlashSaleStock interface {
	// Restore 把 qty 个单位归还给商品：可用库存加 qty，已售计数减 qty。
	// 商品未启用库存追踪（不限量）时返回 false 且不做任何修改。
	Restore(ctx context.Context, itemID string, qty int) (bool, error)
}

// VoucherLedger 是代金券使用账本的出站端口。
type VoucherLedger interface {
	// ReleaseUsage 把代金券的 usage_count 减一，归还本订单占用的名额。
	ReleaseUsage(ctx context.Context, voucherID string) error
}
