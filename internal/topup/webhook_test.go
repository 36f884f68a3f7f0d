package topup

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"tallystore/internal/common/money"
	"tallystore/internal/paygate"
	"tallystore/internal/wallet"
)

type fakeVerifier struct {
	result *paygate.VerifyResult
	err    error
	calls  int
}

func (v *fakeVerifier) Verify(ctx context.Context, reference string) (*paygate.VerifyResult, error) {
	v.calls++
	return v.result, v.err
}

// fakeApplier rejects any reference it has seen before, like the ledger
// constraint does.
type fakeApplier struct {
	mu      sync.Mutex
	applied map[string]bool
	err     error
	credits int
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{applied: make(map[string]bool)}
}

func (a *fakeApplier) ApplyTopUp(ctx context.Context, userID string, amount money.Money, reference, gatewayReference, creditedBy string) (*wallet.Transaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	if a.applied[reference] {
		return nil, wallet.ErrDuplicateReference
	}
	a.applied[reference] = true
	a.credits++
	return &wallet.Transaction{
		UserID:       userID,
		Type:         wallet.TypeTopUp,
		Amount:       amount,
		BalanceAfter: amount,
		Reference:    reference,
	}, nil
}

const webhookBody = `{
	"eventType": "SUCCESSFUL_TRANSACTION",
	"eventData": {
		"paymentReference": "TS-PAY-1",
		"transactionReference": "TS-1",
		"paymentStatus": "PAID",
		"amountPaid": 5000,
		"metaData": {"user_id": "u1"}
	}
}`

func postWebhook(t *testing.T, h *WebhookHandler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paygate", bytes.NewReader([]byte(body)))
	if signature != "" {
		req.Header.Set("X-PayGate-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sign(secret, body string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookCreditsVerifiedPayment(t *testing.T) {
	verifier := &fakeVerifier{result: &paygate.VerifyResult{
		Status:           paygate.StatusSuccess,
		Amount:           money.Naira(5000),
		GatewayReference: "ERCS-1",
	}}
	applier := newFakeApplier()
	h := NewWebhookHandler(verifier, applier, "", discardLogger())

	rec := postWebhook(t, h, webhookBody, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if applier.credits != 1 {
		t.Fatalf("credits = %d, want 1", applier.credits)
	}
	if verifier.calls != 1 {
		t.Fatal("webhook must verify before crediting")
	}
}

func TestWebhookDuplicateIsAcknowledged(t *testing.T) {
	verifier := &fakeVerifier{result: &paygate.VerifyResult{
		Status: paygate.StatusSuccess,
		Amount: money.Naira(5000),
	}}
	applier := newFakeApplier()
	applier.applied["TS-1"] = true // client reconciler got there first
	h := NewWebhookHandler(verifier, applier, "", discardLogger())

	rec := postWebhook(t, h, webhookBody, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for an already-applied credit", rec.Code)
	}
	if applier.credits != 0 {
		t.Fatal("no second credit may happen")
	}
}

func TestWebhookIgnoresUnsettledPayment(t *testing.T) {
	verifier := &fakeVerifier{result: &paygate.VerifyResult{Status: paygate.StatusPending}}
	applier := newFakeApplier()
	h := NewWebhookHandler(verifier, applier, "", discardLogger())

	rec := postWebhook(t, h, webhookBody, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if applier.credits != 0 {
		t.Fatal("an unsettled payment must not credit")
	}
}

func TestWebhookVerificationFailureAsksForRedelivery(t *testing.T) {
	verifier := &fakeVerifier{err: errors.New("gateway down")}
	applier := newFakeApplier()
	h := NewWebhookHandler(verifier, applier, "", discardLogger())

	rec := postWebhook(t, h, webhookBody, "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 so the gateway redelivers", rec.Code)
	}
	if applier.credits != 0 {
		t.Fatal("an unverified payload must never credit")
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	verifier := &fakeVerifier{result: &paygate.VerifyResult{Status: paygate.StatusSuccess}}
	applier := newFakeApplier()
	h := NewWebhookHandler(verifier, applier, "topsecret", discardLogger())

	rec := postWebhook(t, h, webhookBody, "deadbeef")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if verifier.calls != 0 {
		t.Fatal("an unsigned payload must not reach the gateway")
	}
}

func TestWebhookAcceptsValidSignature(t *testing.T) {
	verifier := &fakeVerifier{result: &paygate.VerifyResult{
		Status: paygate.StatusSuccess,
		Amount: money.Naira(5000),
	}}
	applier := newFakeApplier()
	h := NewWebhookHandler(verifier, applier, "topsecret", discardLogger())

	rec := postWebhook(t, h, webhookBody, sign("topsecret", webhookBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if applier.credits != 1 {
		t.Fatalf("credits = %d, want 1", applier.credits)
	}
}

func TestWebhookMissingUserIDRejected(t *testing.T) {
	verifier := &fakeVerifier{result: &paygate.VerifyResult{Status: paygate.StatusSuccess}}
	h := NewWebhookHandler(verifier, newFakeApplier(), "", discardLogger())

	body := `{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"transactionReference":"TS-2","metaData":{}}}`
	rec := postWebhook(t, h, body, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
