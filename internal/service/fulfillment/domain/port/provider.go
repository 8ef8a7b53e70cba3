// internal/service/fulfillment/domain/port/provider.go
package port

import (
	"context"

	"fulcrum/internal/service/fulfillment/domain"
)

// CreateResult 是供应商下单调用的结果。
// Accepted 为 false 时 ProviderRef 可能为空，RawStatus/Message 记录供应商的说法。
type CreateResult struct {
	Accepted    bool
	ProviderRef string
	RawStatus   string
	Message     string
}

// StatusResult 是供应商状态查询的结果。
type StatusResult struct {
	RawStatus string
	Message   string
}

// ProviderClient 是履约供应商的出站端口，每个供应商一个实现。
// 实例在组装根用各自的凭证构建一次（显式依赖注入），调用期间不再查配置。
//
// 派发能力（按次 / 数量原生）作为接口上的能力标记暴露，
// 调用方不需要知道供应商的具体品种。
type ProviderClient interface {
	// Code 返回供应商编码，与服务目录中的绑定一致。
	Code() string

	// Mode 返回派发能力标记。
	Mode() domain.DispatchMode

	// CreateUnitOrder 创建一个单元订单。调用是阻塞的、受 ctx 超时约束的网络调用；
	// 超时返回错误时结果不可知，调用方不得自动重试。
	CreateUnitOrder(ctx context.Context, serviceCode string, target domain.Target, quantity int, idempotencyRef string) (CreateResult, error)

	// QueryStatus 按供应商引用查询单元状态。超时是可重试失败，下一轮扫描再查。
	QueryStatus(ctx context.Context, providerRef string) (StatusResult, error)
}

// ProviderRegistry 按编码查找供应商客户端。
// 查不到属于配置错误，会让整个派发批次中止。
type ProviderRegistry interface {
	Get(code string) (ProviderClient, error)
}
