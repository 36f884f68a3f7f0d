package topup

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"tallystore/internal/common/money"
	"tallystore/internal/paygate"
	"tallystore/internal/wallet"
)

// WebhookPayload is the structure of gateway settlement callbacks.
type WebhookPayload struct {
	EventType string `json:"eventType"`
	EventData struct {
		PaymentReference     string            `json:"paymentReference"`
		TransactionReference string            `json:"transactionReference"`
		PaymentStatus        string            `json:"paymentStatus"`
		AmountPaid           float64           `json:"amountPaid"`
		PaidOn               string            `json:"paidOn"`
		Metadata             map[string]string `json:"metaData"`
	} `json:"eventData"`
}

// Verifier confirms a settlement with the gateway before crediting.
type Verifier interface {
	Verify(ctx context.Context, reference string) (*paygate.VerifyResult, error)
}

// WalletApplier applies verified top-ups.
type WalletApplier interface {
	ApplyTopUp(ctx context.Context, userID string, amount money.Money, reference, gatewayReference, creditedBy string) (*wallet.Transaction, error)
}

// WebhookHandler handles gateway settlement callbacks. It is the second
// crediting writer, racing the client-side reconciler; the ledger's
// uniqueness constraint arbitrates, and a duplicate rejection here is a
// success.
type WebhookHandler struct {
	gateway Verifier
	wallet  WalletApplier
	secret  string
	logger  *slog.Logger
}

// NewWebhookHandler creates a new gateway webhook handler. secret is the
// shared HMAC key; when empty, signature checking is disabled.
func NewWebhookHandler(gateway Verifier, walletService WalletApplier, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		gateway: gateway,
		wallet:  walletService,
		secret:  secret,
		logger:  logger,
	}
}

// ServeHTTP handles POST /webhooks/paygate.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if h.secret != "" && !h.validSignature(body, r.Header.Get("X-PayGate-Signature")) {
		h.logger.Warn("webhook signature mismatch")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	reference := payload.EventData.TransactionReference
	userID := payload.EventData.Metadata["user_id"]
	h.logger.Info("received gateway webhook",
		"event_type", payload.EventType,
		"reference", reference,
		"status", payload.EventData.PaymentStatus,
	)

	if reference == "" || userID == "" {
		http.Error(w, "missing reference or user id", http.StatusBadRequest)
		return
	}

	// The payload is advisory only. The gateway is re-queried before any
	// money moves.
	result, err := h.gateway.Verify(ctx, reference)
	if err != nil {
		h.logger.Error("webhook verification failed", "reference", reference, "error", err)
		// 5xx asks the gateway to redeliver.
		http.Error(w, "verification failed", http.StatusBadGateway)
		return
	}
	if result.Status != paygate.StatusSuccess {
		h.logger.Info("webhook for unsettled payment, ignoring",
			"reference", reference,
			"status", result.Status,
		)
		h.ok(w)
		return
	}

	_, err = h.wallet.ApplyTopUp(ctx, userID, result.Amount, reference, result.GatewayReference, "webhook")
	if err != nil {
		if errors.Is(err, wallet.ErrDuplicateReference) {
			// The client reconciler won the race. Nothing left to do.
			h.logger.Info("webhook credit already applied", "reference", reference)
			h.ok(w)
			return
		}
		h.logger.Error("webhook credit failed", "reference", reference, "error", err)
		http.Error(w, "credit failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info("webhook credited wallet", "reference", reference, "user_id", userID)
	h.ok(w)
}

func (h *WebhookHandler) validSignature(body []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *WebhookHandler) ok(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
