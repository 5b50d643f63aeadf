package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPHandler struct {
	checkout Checkouter
	pingers  []Pinger
	logger   *slog.Logger
}

func NewHTTPHandler(checkout Checkouter, logger *slog.Logger, pingers ...Pinger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{checkout: checkout, pingers: pingers, logger: logger}
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CheckoutRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CheckoutResponse{
			Success: false,
			Message: "invalid request body",
			Kind:    string(domain.KindInvalidInput),
		})
		return
	}

	resp, err := RunCheckout(r.Context(), h.checkout, &req)
	if err != nil {
		h.logger.Error("checkout failed", "request_id", req.RequestID, "status", "error", "error", err)
	}
	writeJSON(w, statusFor(domain.ErrorKind(resp.Kind), err != nil), resp)
}

func statusFor(kind domain.ErrorKind, internal bool) int {
	if internal {
		return http.StatusInternalServerError
	}
	switch kind {
	case "", domain.KindAuditWrite:
		return http.StatusOK
	case domain.KindInvalidInput, domain.KindEmptyCart, domain.KindInvalidDiscount:
		return http.StatusBadRequest
	case domain.KindInsufficientStock, domain.KindDuplicateRequest, domain.KindDuplicatePhone:
		return http.StatusConflict
	case domain.KindInsufficientCredit:
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
