// internal/service/fulfillment/domain/status.go
package domain

import "strings"

// Status 定义了订单（以及单元订单）的规范状态。
// 订单状态永远是其单元状态的纯函数，由本文件中的归约函数计算，
// 任何地方都不允许绕过归约直接拍一个状态上去。
type Status string

const (
	StatusPending    Status = "PENDING"    // 初始状态，支付确认后、派发完成前
	StatusProcessing Status = "PROCESSING" // 至少一个单元被供应商接受
	StatusCompleted  Status = "COMPLETED"  // 终态
	StatusFailed     Status = "FAILED"     // 终态
	StatusCancelled  Status = "CANCELLED"  // 终态（仅运营人工置入）
)

// IsTerminal 返回该状态是否为终态。终态一经达成不可再变。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// MapProviderStatus 把供应商的原始状态词翻译为规范状态。
// 白名单之外的任何词都按失败处理（fail-closed），
// 供应商新增的未知状态词不允许让订单停在非终态上。
func MapProviderStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return StatusPending
	case "processing":
		return StatusProcessing
	case "completed":
		return StatusCompleted
	case "failed":
		return StatusFailed
	case "refunded":
		return StatusFailed
	default:
		return StatusFailed
	}
}

// ReduceDispatch 在一次派发完成后，把各单元的接受结果折叠为订单状态：
// 至少一个单元被接受 → PROCESSING（部分失败也算），全军覆没 → FAILED。
func ReduceDispatch(units []UnitOrder) Status {
	for _, u := range units {
		if u.Accepted {
			return StatusProcessing
		}
	}
	return StatusFailed
}

// ReduceUnitStatuses 是对账阶段的订单级归约：
//   - 所有单元状态一致 → 该状态
//   - 存在非终态单元（PENDING/PROCESSING）→ PROCESSING
//   - 全部终态但不一致，存在 FAILED → FAILED
func ReduceUnitStatuses(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusFailed
	}

	unanimous := true
	hasNonTerminal := false
	hasFailed := false
	for _, s := range statuses {
		if s != statuses[0] {
			unanimous = false
		}
		if !s.IsTerminal() {
			hasNonTerminal = true
		}
		if s == StatusFailed {
			hasFailed = true
		}
	}

	if unanimous {
		return statuses[0]
	}
	if hasNonTerminal {
		return StatusProcessing
	}
	if hasFailed {
		return StatusFailed
	}
	// 不会到达：单元状态只有四种，混合且全终态时必然包含 FAILED
	return StatusCompleted
}
