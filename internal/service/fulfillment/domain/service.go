// internal/service/fulfillment/domain/service.go
package domain

// Service 是商品目录的只读模型，分解器据此决定派发形态。
// 目录的增删改由后台系统负责，不在本服务范围内。
type Service struct {
	ID           int64
	Name         string
	ProviderCode string // 绑定的履约供应商
	ProviderSKU  string // 供应商侧的服务编码
	Active       bool

	// 融合服务：一个对外服务由多个成员服务按顺序组合履约。
	Fusion    bool
	MemberIDs []int64
}

// Invoice 是支付单的只读模型，回调入口用它做金额核对。
// 金额以最小货币单位（分）存储，比较必须是精确的整数相等。
type Invoice struct {
	OrderID     string
	Gateway     string
	AmountCents int64
}
