package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"seckill/internal/pkg/logger"
	"seckill/internal/service/seckill/application"
	"seckill/internal/service/seckill/domain"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

const serviceName = "seckill-service"

// SeckillService 是 HTTP 层用到的应用服务能力
type SeckillService interface {
	Submit(ctx context.Context, req application.SubmitRequest) application.AdmissionResult
	QueryOutcome(ctx context.Context, reservationID string) (application.Outcome, error)
	HasParticipated(ctx context.Context, userID, productID string) (application.Participation, error)
	RemainingStock(ctx context.Context, productID string) (application.StockLevel, error)
	ProductStatus(ctx context.Context, productID string) (application.ProductStatus, error)
}

// Maintenance 是管理接口用到的维护能力
type Maintenance interface {
	WarmUp(ctx context.Context, productID string) (*domain.StockEntry, error)
	SweepExpired(ctx context.Context) (application.SweepReport, error)
}

// SeckillHandler 封装了秒杀服务的 HTTP 处理器
type SeckillHandler struct {
	service     SeckillService
	maintenance Maintenance
}

// NewSeckillHandler maintenance 为 nil 时不注册管理接口
func NewSeckillHandler(service SeckillService, maintenance Maintenance) *SeckillHandler {
	return &SeckillHandler{service: service, maintenance: maintenance}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *SeckillHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /seckill/submit", h.submitHandler)
	mux.HandleFunc("GET /seckill/outcome", h.outcomeHandler)
	mux.HandleFunc("GET /seckill/participation", h.participationHandler)
	mux.HandleFunc("GET /seckill/stock", h.stockHandler)
	mux.HandleFunc("GET /seckill/status", h.statusHandler)
	if h.maintenance != nil {
		mux.HandleFunc("POST /seckill/admin/warmup", h.warmUpHandler)
		mux.HandleFunc("POST /seckill/admin/sweep", h.sweepHandler)
	}
}

func (h *SeckillHandler) submitHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "http.Submit")
	defer span.End()

	req, err := decodeSubmitRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, application.Rejected(domain.ReasonInvalidRequest))
		return
	}
	span.SetAttributes(
		attribute.String("user.id", req.UserID),
		attribute.String("product.id", req.ProductID),
		attribute.Int64("seckill.quantity", req.Quantity),
	)

	result := h.service.Submit(ctx, req)
	if result.Accepted {
		writeJSON(w, http.StatusAccepted, result)
		return
	}
	span.SetAttributes(attribute.String("seckill.reject_reason", string(result.Reason)))
	writeJSON(w, statusForReason(result.Reason), result)
}

// decodeSubmitRequest 支持查询参数和 JSON 请求体两种形式，quantity 缺省为 1
func decodeSubmitRequest(r *http.Request) (application.SubmitRequest, error) {
	var req application.SubmitRequest
	if isJSON(r.Header.Get("Content-Type")) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, err
		}
	} else {
		q := r.URL.Query()
		req.UserID = q.Get("userId")
		req.ProductID = q.Get("productId")
		if raw := q.Get("quantity"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return req, err
			}
			req.Quantity = n
		}
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	return req, nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

func (h *SeckillHandler) outcomeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	reservationID := r.URL.Query().Get("reservationId")
	if reservationID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: string(domain.ReasonInvalidRequest)})
		return
	}
	out, err := h.service.QueryOutcome(ctx, reservationID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *SeckillHandler) participationHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	q := r.URL.Query()
	out, err := h.service.HasParticipated(ctx, q.Get("userId"), q.Get("productId"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *SeckillHandler) stockHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	out, err := h.service.RemainingStock(ctx, r.URL.Query().Get("productId"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *SeckillHandler) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	out, err := h.service.ProductStatus(ctx, r.URL.Query().Get("productId"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *SeckillHandler) warmUpHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	productID := r.URL.Query().Get("productId")
	if productID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: string(domain.ReasonInvalidRequest)})
		return
	}
	entry, err := h.maintenance.WarmUp(ctx, productID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *SeckillHandler) sweepHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	report, err := h.maintenance.SweepExpired(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func statusForReason(reason domain.RejectReason) int {
	switch reason {
	case domain.ReasonRateLimited:
		return http.StatusTooManyRequests
	case domain.ReasonDuplicateParticipation, domain.ReasonInsufficientStock:
		return http.StatusConflict
	case domain.ReasonIneligible:
		return http.StatusForbidden
	case domain.ReasonInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// errorBody 只携带稳定的错误码，根因只写日志
type errorBody struct {
	Error string `json:"error"`
}

const (
	codeNotFound       = "NOT_FOUND"
	codeLedgerConflict = "LEDGER_CONFLICT"
	codeInternal       = "INTERNAL_ERROR"
)

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, codeInternal
	switch {
	case errors.Is(err, domain.ErrReservationNotFound), errors.Is(err, domain.ErrProductNotFound):
		status, code = http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrInvalidRequest):
		status, code = http.StatusBadRequest, string(domain.ReasonInvalidRequest)
	case errors.Is(err, domain.ErrLedgerConflict):
		status, code = http.StatusConflict, codeLedgerConflict
	case domain.IsTransient(err):
		status, code = http.StatusServiceUnavailable, string(domain.ReasonTransientFailure)
	}
	l := logger.Ctx(ctx)
	if status >= http.StatusInternalServerError {
		l.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		l.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, status, errorBody{Error: code})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
