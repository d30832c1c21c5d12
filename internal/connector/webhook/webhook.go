// Package webhook receives helpdesk ticket webhooks over HTTP.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/h1v3-io/deskbridge/internal/relay"
	"github.com/h1v3-io/deskbridge/internal/ticket"
)

// MaxBodyBytes caps the webhook body size.
const MaxBodyBytes = 1 << 20

// signatureHeaders are checked in order for an HMAC signature.
var signatureHeaders = []string{"X-Desk-Signature", "X-Hub-Signature-256", "X-Signature-256"}

// Config holds webhook authentication. With neither field set every request
// is accepted.
type Config struct {
	// Secret for HMAC-SHA256 signature verification ("sha256=<hex>").
	Secret string `json:"secret,omitempty"`
	// BearerToken for Authorization header auth. Used if Secret is empty.
	BearerToken string `json:"bearer_token,omitempty"`
}

// EventHandler processes an authenticated webhook body.
type EventHandler interface {
	HandleEvent(ctx context.Context, body []byte, channel string) (relay.Outcome, error)
}

// Handler serves POST /teamwork-webhook.
type Handler struct {
	config  Config
	handler EventHandler
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a new webhook handler.
func New(cfg Config, handler EventHandler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:  cfg,
		handler: handler,
		logger:  logger.With("component", "webhook"),
		now:     time.Now,
	}
}

type okResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ServeHTTP handles one webhook delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	reqID := uuid.NewString()
	ts := h.now().UTC().Format(time.RFC3339)
	log := h.logger.With("request_id", reqID)

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body", RequestID: reqID})
		return
	}
	if len(body) > MaxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large", RequestID: reqID})
		return
	}

	if !h.authenticate(r, body) {
		log.Warn("webhook rejected", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", RequestID: reqID})
		return
	}

	log.Debug("webhook received", "bytes", len(body))
	out, err := h.handler.HandleEvent(r.Context(), body, r.URL.Query().Get("channel"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, okResponse{
			Message:   "Slack notification sent successfully.",
			Timestamp: ts,
			RequestID: reqID,
		})
	case errors.Is(err, ticket.ErrIgnored):
		log.Info("webhook ignored", "reason", err)
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ticket.ErrInvalidPayload):
		log.Warn("invalid webhook payload", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid payload", Details: err.Error(), RequestID: reqID})
	case errors.Is(err, relay.ErrDeliveryFailed):
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:     "Failed to send to Slack",
			Details:   out.Delivery.Body,
			RequestID: reqID,
		})
	default:
		log.Error("webhook handler error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Details: err.Error(), RequestID: reqID})
	}
}

func (h *Handler) authenticate(r *http.Request, body []byte) bool {
	if h.config.Secret != "" {
		for _, name := range signatureHeaders {
			if sig := r.Header.Get(name); sig != "" {
				return verifyHMAC(body, h.config.Secret, sig)
			}
		}
		return false
	}

	if h.config.BearerToken != "" {
		auth := r.Header.Get("Authorization")
		return subtle.ConstantTimeCompare([]byte(auth), []byte("Bearer "+h.config.BearerToken)) == 1
	}

	return true
}

// verifyHMAC checks an HMAC-SHA256 signature.
// Signature format: "sha256=<hex>" or bare hex.
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}

	sig := strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	expectedMAC, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expectedMAC)
}

// ComputeSignature generates an HMAC-SHA256 signature for testing/external use.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
