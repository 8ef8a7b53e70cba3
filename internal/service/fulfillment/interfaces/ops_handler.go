// internal/service/fulfillment/interfaces/ops_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"

	"fulcrum/internal/service/fulfillment/application"
	"fulcrum/internal/service/fulfillment/domain"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
)

// OpsHandler 封装运营面的 HTTP 处理器：人工对账、强制终态、重新派发、订单明细。
// 付款人永远看不到这些接口，单元级细节只在这里暴露。
type OpsHandler struct {
	service *application.FulfillmentApplicationService
}

func NewOpsHandler(service *application.FulfillmentApplicationService) *OpsHandler {
	return &OpsHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OpsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ops/reconcile", h.reconcileHandler)
	mux.HandleFunc("/ops/force_status", h.forceStatusHandler)
	mux.HandleFunc("/ops/requeue", h.requeueHandler)
	mux.HandleFunc("/ops/order_detail", h.orderDetailHandler)
}

func (h *OpsHandler) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		http.Error(w, "orderId is required", http.StatusBadRequest)
		return
	}

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(r.Context(), "ops.ReconcileNow")
	defer span.End()

	if err := h.service.ReconcileNow(ctx, orderID); err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"orderId": orderID, "result": "reconciled"})
}

func (h *OpsHandler) forceStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	orderID := r.URL.Query().Get("orderId")
	status := domain.Status(r.URL.Query().Get("status"))
	if orderID == "" || status == "" {
		http.Error(w, "orderId and status are required", http.StatusBadRequest)
		return
	}

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(r.Context(), "ops.ForceStatus")
	defer span.End()

	if err := h.service.ForceStatus(ctx, orderID, status); err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"orderId": orderID, "status": string(status)})
}

func (h *OpsHandler) requeueHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		http.Error(w, "orderId is required", http.StatusBadRequest)
		return
	}

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(r.Context(), "ops.RequeueDispatch")
	defer span.End()

	if err := h.service.RequeueDispatch(ctx, orderID); err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"orderId": orderID, "result": "requeued"})
}

// orderDetailResponse 是运营明细视图的应答体
type orderDetailResponse struct {
	Order *domain.Order      `json:"order"`
	Units []domain.UnitOrder `json:"units"`
}

func (h *OpsHandler) orderDetailHandler(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		http.Error(w, "orderId is required", http.StatusBadRequest)
		return
	}

	order, units, err := h.service.OrderDetail(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, orderDetailResponse{Order: order, Units: units})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrOrderNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}
