package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"refund-relay-go/internal/chain"
	"refund-relay-go/internal/models"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	RequestIdHeader = "X-Request-Id"
	maxBodyBytes    = 1 << 20
)

// NewRouter mounts the relay endpoints on a chi router.
func NewRouter(service *RelayService) http.Handler {
	h := &handler{service: service}

	r := chi.NewRouter()
	r.Use(requestId)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(accessLog)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/account", func(account chi.Router) {
		account.Post("/create", h.createAccount)
		account.Post("/refund", h.refund)
		account.Get("/{address}/deposits", h.deposits)
		account.Get("/{address}/nonce", h.nonce)
	})

	return r
}

type handler struct {
	service *RelayService
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.HealthCheck(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAccountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	response, err := h.service.CreateAccount(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *handler) deposits(w http.ResponseWriter, r *http.Request) {
	response, err := h.service.GetDeposits(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *handler) nonce(w http.ResponseWriter, r *http.Request) {
	response, err := h.service.GetNonce(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *handler) refund(w http.ResponseWriter, r *http.Request) {
	var req models.RefundRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	response, err := h.service.Refund(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		return models.Reject(models.ReasonInvalidRequest, "malformed body: %v", err)
	}
	return nil
}

// requestId tags the request context and response with a request id,
// reusing the caller's when present.
func requestId(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIdHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIdHeader, id)
		next.ServeHTTP(w, r.WithContext(models.WithRequestId(r.Context(), id)))
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("HTTP request",
			zap.String("request_id", models.GetRequestId(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("Request failed",
			zap.String("request_id", models.GetRequestId(r.Context())),
			zap.String("code", body.Code),
			zap.Error(err))
	}
	writeJSON(w, status, models.ErrorResponse{Error: body})
}

// errorResponse maps an error to its HTTP status and stable error code.
func errorResponse(err error) (int, models.ErrorBody) {
	var rejection *models.Rejection
	if errors.As(err, &rejection) {
		return rejectionStatus(rejection.Code), models.ErrorBody{
			Code:    string(rejection.Code),
			Message: rejection.Message,
		}
	}

	switch {
	case errors.Is(err, chain.ErrSimulationFailed):
		return http.StatusUnprocessableEntity, models.ErrorBody{Code: "simulation_failed", Message: err.Error()}
	case errors.Is(err, chain.ErrExecutionReverted):
		return http.StatusUnprocessableEntity, models.ErrorBody{Code: "execution_reverted", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, models.ErrorBody{Code: "timeout", Message: err.Error()}
	default:
		return http.StatusBadGateway, models.ErrorBody{Code: "upstream_error", Message: err.Error()}
	}
}

func rejectionStatus(code models.ReasonCode) int {
	switch code {
	case models.ReasonSessionNotFound:
		return http.StatusNotFound
	case models.ReasonCredentialMismatch:
		return http.StatusForbidden
	case models.ReasonAlreadyRefunded, models.ReasonRefundInProgress:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
