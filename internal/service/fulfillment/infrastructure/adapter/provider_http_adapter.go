// internal/service/fulfillment/infrastructure/adapter/provider_http_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"fulcrum/internal/pkg/bootstrap"
	"fulcrum/internal/pkg/httpclient"
	"fulcrum/internal/service/fulfillment/domain"
	"fulcrum/internal/service/fulfillment/domain/port"
)

// PanelHTTPProvider 是 port.ProviderClient 的 HTTP 面板式实现。
// 这类供应商暴露单一入口，action 参数区分下单和查询，表单提交、JSON 应答。
//
// 实例在组装根用配置里的凭证构建一次，之后不再回头查配置。
type PanelHTTPProvider struct {
	code   string
	mode   domain.DispatchMode
	apiURL string
	apiKey string
	client *httpclient.Client
}

// NewPanelHTTPProvider 根据静态配置构建一个供应商客户端。
func NewPanelHTTPProvider(cfg bootstrap.ProviderConfig, client *httpclient.Client) (*PanelHTTPProvider, error) {
	if cfg.APIURL == "" || cfg.APIKey == "" {
		return nil, domain.NewConfigError("provider %s is missing apiUrl or apiKey", cfg.Code)
	}
	var mode domain.DispatchMode
	switch cfg.Mode {
	case "per_call":
		mode = domain.DispatchPerCall
	case "quantity_native":
		mode = domain.DispatchQuantityNative
	default:
		return nil, domain.NewConfigError("provider %s has unknown dispatch mode %q", cfg.Code, cfg.Mode)
	}
	return &PanelHTTPProvider{
		code:   cfg.Code,
		mode:   mode,
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		client: client,
	}, nil
}

func (p *PanelHTTPProvider) Code() string {
	return p.code
}

func (p *PanelHTTPProvider) Mode() domain.DispatchMode {
	return p.mode
}

// panelResponse 是面板式 API 的统一应答形态。
type panelResponse struct {
	Order  json.Number `json:"order"`
	Status string      `json:"status"`
	Error  string      `json:"error"`
}

// CreateUnitOrder 发起一次下单调用。
// 网络错误/超时原样返回（结果不可知，调用方不得重试）；
// 供应商答复了但拒绝时不算错误，折叠进 CreateResult。
func (p *PanelHTTPProvider) CreateUnitOrder(ctx context.Context, serviceCode string, target domain.Target, quantity int, idempotencyRef string) (port.CreateResult, error) {
	params := url.Values{}
	params.Set("key", p.apiKey)
	params.Set("action", "add")
	params.Set("service", serviceCode)
	params.Set("link", target.Primary)
	if target.Zone != "" {
		params.Set("zone", target.Zone)
	}
	params.Set("quantity", strconv.Itoa(quantity))
	params.Set("ref", idempotencyRef)

	body, err := p.client.PostForm(ctx, p.apiURL, params)
	if err != nil && body == nil {
		return port.CreateResult{}, err
	}

	var resp panelResponse
	if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil {
		return port.CreateResult{}, fmt.Errorf("provider %s returned unparseable response: %w", p.code, jsonErr)
	}

	if resp.Error != "" || resp.Order == "" {
		return port.CreateResult{
			Accepted:  false,
			RawStatus: resp.Status,
			Message:   resp.Error,
		}, nil
	}
	return port.CreateResult{
		Accepted:    true,
		ProviderRef: resp.Order.String(),
		RawStatus:   resp.Status,
	}, nil
}

// QueryStatus 按供应商引用查询单元状态。
func (p *PanelHTTPProvider) QueryStatus(ctx context.Context, providerRef string) (port.StatusResult, error) {
	params := url.Values{}
	params.Set("key", p.apiKey)
	params.Set("action", "status")
	params.Set("order", providerRef)

	body, err := p.client.PostForm(ctx, p.apiURL, params)
	if err != nil && body == nil {
		return port.StatusResult{}, err
	}

	var resp panelResponse
	if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil {
		return port.StatusResult{}, fmt.Errorf("provider %s returned unparseable response: %w", p.code, jsonErr)
	}
	if resp.Error != "" {
		return port.StatusResult{}, fmt.Errorf("provider %s query failed: %s", p.code, resp.Error)
	}
	return port.StatusResult{RawStatus: resp.Status, Message: resp.Error}, nil
}

// StaticProviderRegistry 是组装期构建的供应商客户端注册表。
type StaticProviderRegistry struct {
	clients map[string]port.ProviderClient
}

func NewStaticProviderRegistry(clients ...port.ProviderClient) *StaticProviderRegistry {
	m := make(map[string]port.ProviderClient, len(clients))
	for _, c := range clients {
		m[c.Code()] = c
	}
	return &StaticProviderRegistry{clients: m}
}

// Get 按编码查找客户端。查不到是配置错误，会让整个派发批次中止。
func (r *StaticProviderRegistry) Get(code string) (port.ProviderClient, error) {
	client, ok := r.clients[code]
	if !ok {
		return nil, domain.NewConfigError("no provider client registered for code %q", code)
	}
	return client, nil
}
