// internal/service/fulfillment/domain/order.go
package domain

import (
	"fmt"
	"strings"
	"time"
)

// RefDelimiter 用于把多个供应商引用拼接进订单的 reference 字段。
const RefDelimiter = ","

// DispatchState 标记订单的派发进度，用于回调并发互斥和对账选单。
// 状态机: none → inflight → done；配置错误导致派发中止时回退 inflight → none。
type DispatchState string

const (
	DispatchNone     DispatchState = "NONE"     // 尚未派发
	DispatchInflight DispatchState = "INFLIGHT" // 派发中，对账扫描必须跳过
	DispatchDone     DispatchState = "DONE"     // 派发已完成（每个单元都有了引用或终态失败）
)

// Order 是履约订单聚合的根实体。
type Order struct {
	ID       string // 对外订单号
	Status   Status
	Quantity int
	Target   Target

	// 融合订单：按顺序履约多个成员服务；Quantity 作为参数传递而不展开。
	IsFusion  bool
	ServiceID int64   // 非融合订单绑定的服务
	MemberIDs []int64 // 融合订单的有序成员服务列表

	// ProviderRefs 是各单元的供应商引用，持久化时用 RefDelimiter 拼接。
	ProviderRefs []string

	// Compensated 是补偿标记：库存回补已执行。
	Compensated bool

	DispatchState DispatchState
	DispatchedAt  *time.Time // 派发完成时间，对账扫描据此判断冷却期

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransitionTo 执行一次状态流转。终态不可变；相同状态视为非法调用，
// 幂等判断应该发生在调用方（对账归约先比较再流转）。
func (o *Order) TransitionTo(to Status) error {
	if o.Status.IsTerminal() {
		return fmt.Errorf("order %s is already terminal (%s), cannot transition to %s", o.ID, o.Status, to)
	}
	if to == o.Status {
		return fmt.Errorf("order %s is already in status %s", o.ID, to)
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return nil
}

// JoinedRefs 返回拼接后的供应商引用串。
func (o *Order) JoinedRefs() string {
	return strings.Join(o.ProviderRefs, RefDelimiter)
}

// TargetZoneDelimiter 分隔目标描述符中的主标识和分区。
const TargetZoneDelimiter = "|"

// Target 是履约目标描述符：主标识加可选分区（例如游戏账号 + 大区）。
type Target struct {
	Primary string
	Zone    string
}

// ParseTarget 解析原始目标串。包含分隔符时两段去空白后都必须非空。
func ParseTarget(raw string) (Target, error) {
	if !strings.Contains(raw, TargetZoneDelimiter) {
		primary := strings.TrimSpace(raw)
		if primary == "" {
			return Target{}, NewValidationError(ReasonBadTargetFormat, "target is empty")
		}
		return Target{Primary: primary}, nil
	}

	parts := strings.SplitN(raw, TargetZoneDelimiter, 2)
	primary := strings.TrimSpace(parts[0])
	zone := strings.TrimSpace(parts[1])
	if primary == "" || zone == "" {
		return Target{}, NewValidationError(ReasonBadTargetFormat,
			fmt.Sprintf("both sides of %q must be non-empty", TargetZoneDelimiter))
	}
	return Target{Primary: primary, Zone: zone}, nil
}

// String 还原目标描述符的原始形式。
func (t Target) String() string {
	if t.Zone == "" {
		return t.Primary
	}
	return t.Primary + TargetZoneDelimiter + t.Zone
}
