// internal/service/fulfillment/domain/unit.go
package domain

// DispatchMode 是供应商的派发能力标记。
// 按次派发的供应商一次调用只消耗一个数量，数量原生的供应商接受 quantity 参数。
type DispatchMode int

const (
	DispatchPerCall DispatchMode = iota + 1
	DispatchQuantityNative
)

// UnitOrderSpec 描述一次对供应商的下单调用。
// SubRef 是确定性的子引用（订单号加 "-1".."-N" 后缀），同时充当幂等引用。
type UnitOrderSpec struct {
	OrderID      string
	ServiceID    int64
	ProviderCode string
	ServiceCode  string // 供应商侧的服务编码
	Target       Target
	Index        int // 1 起始的单元序号
	SubRef       string
	Quantity     int // 本次调用承载的数量
}

// MaxRedispatchAttempts 限制对账器为一个单元重发下单调用的总次数。
// 预算用尽后单元按终局失败参与聚合。
const MaxRedispatchAttempts = 3

// UnitOrder 是一个 spec 的运行时结果。
type UnitOrder struct {
	Spec UnitOrderSpec

	Accepted    bool
	ProviderRef string // 供应商返回的引用，查询状态时使用
	RawStatus   string // 供应商原始状态词
	Status      Status // 规范单元状态
	ErrorKind   string // provider_rejected / provider_unreachable，为空表示无故障
	Error       string

	RedispatchAttempts int // 对账器已为该单元重发下单的次数
}

// Resolvable 返回该单元是否还能通过供应商查询推进状态。
// 没有拿到引用的单元无从查询，它们走重发路径。
func (u *UnitOrder) Resolvable() bool {
	return u.ProviderRef != "" && !u.Status.IsTerminal()
}

// AwaitingRedispatch 返回该单元是否还在等待对账器重发下单调用：
// 下单被拒或不可达、没有拿到供应商引用、且重发预算未用尽。
// 子引用是供应商侧的幂等键，重发同一个子引用不会重复履约。
func (u *UnitOrder) AwaitingRedispatch() bool {
	return !u.Accepted && u.ProviderRef == "" && u.ErrorKind != "" &&
		u.RedispatchAttempts < MaxRedispatchAttempts
}

// EffectiveStatus 是该单元参与订单聚合时的状态。
// 等待重发的单元虽然落库为失败，但还不算终局，按 PENDING 参与聚合，
// 避免一次被拒就把整个订单钉死在失败上。
func (u *UnitOrder) EffectiveStatus() Status {
	if u.AwaitingRedispatch() {
		return StatusPending
	}
	return u.Status
}
