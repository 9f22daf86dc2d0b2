package imagesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"colorcraft/api/internal/lease"
	"github.com/charmbracelet/log"
)

const maxWebhookBody = 1 << 20

// Handler serves storage webhook deliveries: read the body, verify, claim
// the delivery, decode, then hand the event to the Syncer.
type Handler struct {
	syncer   *Syncer
	verifier Verifier
	deduper  Deduper
	metrics  *Metrics
}

func NewHandler(syncer *Syncer, verifier Verifier, deduper Deduper, metrics *Metrics) *Handler {
	if verifier == nil {
		verifier = noneVerifier{}
	}
	return &Handler{syncer: syncer, verifier: verifier, deduper: deduper, metrics: metrics}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.fail(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large", nil)
			return
		}
		h.fail(w, http.StatusBadRequest, "INVALID_BODY", "Failed to read request body", nil)
		return
	}
	if err := h.verifier.Verify(r, body); err != nil {
		log.Warn("webhook verification failed", "err", err, "remote", r.RemoteAddr)
		h.fail(w, http.StatusUnauthorized, "UNAUTHORIZED", "Webhook verification failed", nil)
		return
	}

	var event Event
	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(&event); err != nil {
		h.fail(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return
	}
	if err := event.validate(); err != nil {
		h.fail(w, http.StatusBadRequest, "INVALID_EVENT", err.Error(), nil)
		return
	}

	deliveryKey := DeliveryKey(event)
	if h.deduper != nil {
		claimed, err := h.deduper.Claim(r.Context(), deliveryKey)
		if err != nil {
			// dedupe is best effort; process without a claim
			log.Warn("webhook dedupe unavailable", "err", err)
		} else if !claimed {
			h.metrics.delivery("duplicate")
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "duplicate": true})
			return
		}
	}

	result, err := h.syncer.Handle(r.Context(), event)
	if err != nil {
		h.release(deliveryKey)
		h.handleError(w, err, result)
		return
	}
	h.release(supersededKeys(event)...)
	h.metrics.delivery("ok")

	if result.Ignored {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"ignored": true,
			"message": result.Reason,
		})
		return
	}
	payload := map[string]any{
		"success":      true,
		"portfolioId":  result.PortfolioID,
		"mode":         result.Mode,
		"beforeImages": result.BeforeImages,
		"afterImages":  result.AfterImages,
	}
	if result.ImageType != "" {
		payload["imageType"] = result.ImageType
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleError(w http.ResponseWriter, err error, result Result) {
	switch {
	case errors.Is(err, ErrPortfolioNotFound):
		h.metrics.delivery("not_found")
		writeJSON(w, http.StatusNotFound, map[string]any{
			"code":        "NOT_FOUND",
			"error":       "Portfolio not found",
			"portfolioId": result.PortfolioID,
		})
	case errors.Is(err, ErrInvalidEvent):
		h.fail(w, http.StatusBadRequest, "INVALID_EVENT", err.Error(), nil)
	case errors.Is(err, lease.ErrNotAcquired):
		h.fail(w, http.StatusServiceUnavailable, "LEASE_UNAVAILABLE", "Portfolio is being synced, retry later", nil)
	default:
		log.Error("image sync failed", "portfolioId", result.PortfolioID, "mode", result.Mode, "err", err)
		h.fail(w, http.StatusInternalServerError, "SYNC_FAILED", "Failed to sync portfolio images",
			map[string]any{"message": err.Error()})
	}
}

func (h *Handler) release(keys ...string) {
	if h.deduper == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := h.deduper.Release(ctx, key); err != nil {
			log.Warn("release webhook claim", "err", err)
		}
	}
}

func (h *Handler) fail(w http.ResponseWriter, status int, code, message string, details any) {
	switch {
	case status >= 500:
		h.metrics.delivery("server_error")
	case status >= 400:
		h.metrics.delivery("rejected")
	}
	writeJSON(w, status, map[string]any{
		"code":    code,
		"error":   message,
		"details": details,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
