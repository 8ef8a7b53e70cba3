// internal/service/fulfillment/interfaces/payment_callback_handler.go
package interfaces

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"fulcrum/internal/pkg/bootstrap"
	"fulcrum/internal/pkg/logger"
	"fulcrum/internal/service/fulfillment/application"
	"fulcrum/internal/service/fulfillment/domain"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

const (
	serviceName          = "fulfillment-service"
	callbackPathPrefix   = "/callback/payment/"
	callbackResultOK     = "SUCCESS"
	callbackResultReject = "FAIL"
)

// PaymentCallbackHandler 是支付网关回调的入站边界。
// 验签失败是唯一会让网关收到拒绝响应的情况；其余所有分支
// （重复回调、金额不符、支付失败码）都应答成功，让网关停止重试。
type PaymentCallbackHandler struct {
	service  *application.FulfillmentApplicationService
	invoices domain.InvoiceRepository
	gateways map[string]bootstrap.GatewayConfig
}

func NewPaymentCallbackHandler(
	service *application.FulfillmentApplicationService,
	invoices domain.InvoiceRepository,
	gateways map[string]bootstrap.GatewayConfig,
) *PaymentCallbackHandler {
	return &PaymentCallbackHandler{service: service, invoices: invoices, gateways: gateways}
}

// RegisterRoutes 在 ServeMux 上注册回调路由，网关编码取路径尾段。
func (h *PaymentCallbackHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(callbackPathPrefix, h.handleCallback)
}

func (h *PaymentCallbackHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "ingress.PaymentCallback")
	defer span.End()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form body", http.StatusBadRequest)
		return
	}

	gateway := strings.TrimPrefix(r.URL.Path, callbackPathPrefix)
	orderID := r.PostForm.Get("merchantOrderId")
	span.SetAttributes(
		attribute.String("payment.gateway", gateway),
		attribute.String("order.id", orderID),
	)

	gatewayCfg, ok := h.gateways[gateway]
	if !ok {
		// 没有密钥就无从验签，等同于验签失败
		span.SetStatus(codes.Error, "unknown gateway")
		logger.Ctx(ctx).Warn().Str("gateway", gateway).Msg("callback from unconfigured gateway rejected")
		h.reject(w)
		return
	}

	if err := verifySignature(r.PostForm, gatewayCfg.Secret); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "signature mismatch")
		logger.Ctx(ctx).Warn().Str("gateway", gateway).Str("order_id", orderID).
			Msg("callback signature mismatch, rejected")
		h.reject(w)
		return
	}
	span.AddEvent("SignatureVerified")

	// 验签之后的所有分支都按成功应答，差异只体现在是否触发派发
	if r.PostForm.Get("resultCode") != callbackResultOK {
		span.AddEvent("NonSuccessResultIgnored")
		logger.Ctx(ctx).Info().Str("order_id", orderID).
			Str("result_code", r.PostForm.Get("resultCode")).
			Msg("gateway reported non-success result, acknowledged without dispatch")
		h.ack(w)
		return
	}

	invoice, err := h.invoices.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrInvoiceNotFound) {
			span.AddEvent("InvoiceNotFound")
			logger.Ctx(ctx).Warn().Str("order_id", orderID).Msg("callback for unknown invoice, acknowledged")
			h.ack(w)
			return
		}
		span.RecordError(err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	paidCents, err := strconv.ParseInt(r.PostForm.Get("amount"), 10, 64)
	if err != nil || paidCents != invoice.AmountCents {
		// 金额必须整数分严格相等，不做容差比较
		span.RecordError(domain.ErrAmountMismatch)
		logger.Ctx(ctx).Error().Str("order_id", orderID).
			Str("reported_amount", r.PostForm.Get("amount")).
			Int64("invoice_amount_cents", invoice.AmountCents).
			Msg("paid amount does not match invoice, acknowledged without dispatch")
		h.ack(w)
		return
	}

	err = h.service.ProcessPaymentConfirmed(ctx, orderID)
	switch {
	case err == nil:
		span.AddEvent("DispatchTriggered")
	case errors.Is(err, domain.ErrAlreadyProcessed):
		// 网关重试或并发重复回调，无副作用地吸收
		span.AddEvent("DuplicateCallbackAbsorbed")
		logger.Ctx(ctx).Info().Str("order_id", orderID).Msg("duplicate callback acknowledged")
	default:
		// 内部瞬时故障：返回 5xx 让网关按自己的策略重试
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to process payment confirmation")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.ack(w)
}

func (h *PaymentCallbackHandler) ack(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(callbackResultOK))
}

func (h *PaymentCallbackHandler) reject(w http.ResponseWriter) {
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(callbackResultReject))
}

// verifySignature 校验网关签名：除 signature 外的所有参数按键名升序
// 拼成 k1=v1&k2=v2...&key=secret，取 MD5 十六进制摘要（小写）比对。
func verifySignature(form url.Values, secret string) error {
	reported := form.Get("signature")
	if reported == "" {
		return domain.ErrSignatureInvalid
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(form.Get(k))
		sb.WriteByte('&')
	}
	sb.WriteString("key=")
	sb.WriteString(secret)

	sum := md5.Sum([]byte(sb.String()))
	expected := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(reported))) != 1 {
		return domain.ErrSignatureInvalid
	}
	return nil
}
