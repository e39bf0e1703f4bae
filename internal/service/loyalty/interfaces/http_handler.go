package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"stampcard/internal/pkg/logger"
	"stampcard/internal/service/loyalty/application"
	"stampcard/internal/service/loyalty/domain"
)

// LoyaltyHandler 封装了集点服务的 HTTP 处理器
type LoyaltyHandler struct {
	service *application.ScanService
	tracer  trace.Tracer
}

// NewLoyaltyHandler 创建一个新的 HTTP 处理器实例
func NewLoyaltyHandler(service *application.ScanService, tracer trace.Tracer) *LoyaltyHandler {
	return &LoyaltyHandler{service: service, tracer: tracer}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *LoyaltyHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/scan", h.scanHandler)
	mux.HandleFunc("/cooldown", h.cooldownHandler)
	mux.HandleFunc("/member", h.memberHandler)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *LoyaltyHandler) scanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, "http.Scan", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	var req application.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.RecordError(err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	span.SetAttributes(attribute.String("business.id", req.BusinessID))

	result, err := h.service.Scan(ctx, &req)
	if err != nil {
		if errors.Is(err, domain.ErrInCooldown) {
			w.Header().Set("Retry-After", strconv.Itoa(result.RemainingSeconds))
			writeJSON(w, http.StatusTooManyRequests, result)
			return
		}
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			logger.Ctx(ctx).Error().Err(err).Str("business_id", req.BusinessID).Msg("scan request failed")
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *LoyaltyHandler) cooldownHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, "http.CheckCooldown", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	businessID, identity, err := identityFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	status, err := h.service.CheckCooldown(ctx, businessID, identity)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *LoyaltyHandler) memberHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, "http.GetMember", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	businessID, identity, err := identityFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	view, err := h.service.GetMember(ctx, businessID, identity)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func identityFromQuery(r *http.Request) (string, domain.Identity, error) {
	q := r.URL.Query()
	businessID := q.Get("business_id")
	if businessID == "" {
		return "", domain.Identity{}, errors.New("business_id is required")
	}
	identity, err := domain.ParseIdentity(q.Get("identity_kind"), q.Get("identity_ref"))
	if err != nil {
		return "", domain.Identity{}, err
	}
	return businessID, identity, nil
}

// statusFor 把领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrBusinessNotFound), errors.Is(err, domain.ErrMemberNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidIdentity), errors.Is(err, domain.ErrInvalidStampCount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBusinessInactive):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInCooldown):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
