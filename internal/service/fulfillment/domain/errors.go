// internal/service/fulfillment/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// 回调边界错误。SignatureInvalid 是唯一会让网关收到拒绝响应的错误；
// AlreadyProcessed 不是故障，重复回调按成功应答，让网关停止重试。
var (
	ErrSignatureInvalid = errors.New("callback signature mismatch")
	ErrAmountMismatch   = errors.New("paid amount does not match invoice total")
	ErrAlreadyProcessed = errors.New("order already processed")
	ErrOrderNotFound    = errors.New("order not found")
	ErrInvoiceNotFound  = errors.New("invoice not found")
)

// ValidationError 在任何供应商调用发生之前拒绝订单分解。
type ValidationError struct {
	Reason string // bad_target_format / inactive_service
	Detail string
}

const (
	ReasonBadTargetFormat = "bad_target_format"
	ReasonInactiveService = "inactive_service"
)

func NewValidationError(reason, detail string) *ValidationError {
	return &ValidationError{Reason: reason, Detail: detail}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Reason, e.Detail)
}

// IsValidation 判断是否为分解阶段的校验错误。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConfigError 表示组装期配置缺失（未知供应商、缺少凭证等）。
// 它是唯一允许让整个派发批次中止的错误类别，订单保持 PENDING 等待人工介入。
type ConfigError struct {
	Detail string
}

func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Detail: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Detail
}

// IsConfig 判断是否为配置错误。
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// 单元级失败类别，仅作运营排障展示，不参与状态归约。
const (
	FailureProviderRejected    = "provider_rejected"
	FailureProviderUnreachable = "provider_unreachable"
)
