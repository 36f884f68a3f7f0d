package topup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tallystore/internal/common/middleware"
	"tallystore/internal/common/money"
	"tallystore/internal/paygate"
	"tallystore/internal/wallet"
)

type fakeGateway struct {
	resp *paygate.InitiateResponse
	err  error
	last *paygate.InitiateRequest
}

func (g *fakeGateway) Initiate(ctx context.Context, req *paygate.InitiateRequest) (*paygate.InitiateResponse, error) {
	g.last = req
	return g.resp, g.err
}

type fakeWalletSvc struct {
	profile *wallet.Profile
	txs     []*wallet.Transaction
	err     error
}

func (s *fakeWalletSvc) GetProfile(ctx context.Context, userID string) (*wallet.Profile, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.profile, nil
}

func (s *fakeWalletSvc) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*wallet.Transaction, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.txs, nil
}

func authed(req *http.Request, userID string) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, userID)
	return req.WithContext(ctx)
}

func TestInitiateTopUpOpensCheckout(t *testing.T) {
	gateway := &fakeGateway{resp: &paygate.InitiateResponse{
		TransactionReference: "TS-100",
		CheckoutURL:          "https://pay.example/checkout/TS-100",
	}}
	svc := &fakeWalletSvc{profile: &wallet.Profile{
		UserID:   "u1",
		Email:    "buyer@example.test",
		FullName: "Buyer One",
		Balance:  money.Naira(0),
	}}
	h := NewHandler(gateway, svc, nil, "https://shop.example/wallet")

	body := bytes.NewReader([]byte(`{"amount": 5000}`))
	req := authed(httptest.NewRequest(http.MethodPost, "/topup/initiate", body), "u1")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.InitiateTopUp(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Data InitiateTopUpResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.TransactionReference != "TS-100" {
		t.Fatalf("reference = %q, want TS-100", resp.Data.TransactionReference)
	}
	if resp.Data.CheckoutURL == "" {
		t.Fatal("response must carry the checkout URL")
	}
	if !resp.Data.Amount.Equal(money.Naira(5000)) {
		t.Fatalf("amount = %s, want NGN 5000.00", resp.Data.Amount)
	}

	if gateway.last == nil {
		t.Fatal("gateway was not called")
	}
	if gateway.last.Metadata["user_id"] != "u1" {
		t.Fatal("initiate must carry the user id so the webhook can attribute the payment")
	}
	if gateway.last.CustomerEmail != "buyer@example.test" {
		t.Fatalf("customer email = %q", gateway.last.CustomerEmail)
	}
}

func TestInitiateTopUpRejectsNonPositiveAmount(t *testing.T) {
	h := NewHandler(&fakeGateway{}, &fakeWalletSvc{profile: &wallet.Profile{UserID: "u1"}}, nil, "")

	for _, body := range []string{`{"amount": 0}`, `{"amount": -10}`, `{}`} {
		req := authed(httptest.NewRequest(http.MethodPost, "/topup/initiate", bytes.NewReader([]byte(body))), "u1")
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.InitiateTopUp(rec, req)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("body %s: status = %d, want 422", body, rec.Code)
		}
	}
}

func TestInitiateTopUpRequiresAuth(t *testing.T) {
	h := NewHandler(&fakeGateway{}, &fakeWalletSvc{}, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/topup/initiate", bytes.NewReader([]byte(`{"amount": 100}`)))
	rec := httptest.NewRecorder()
	h.InitiateTopUp(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestInitiateTopUpGatewayFailure(t *testing.T) {
	gateway := &fakeGateway{err: errors.New("connection refused")}
	svc := &fakeWalletSvc{profile: &wallet.Profile{UserID: "u1", Email: "a@b.test"}}
	h := NewHandler(gateway, svc, nil, "")

	req := authed(httptest.NewRequest(http.MethodPost, "/topup/initiate", bytes.NewReader([]byte(`{"amount": 100}`))), "u1")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.InitiateTopUp(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestGetWallet(t *testing.T) {
	svc := &fakeWalletSvc{profile: &wallet.Profile{
		UserID:  "u1",
		Balance: money.Naira(7500),
	}}
	h := NewHandler(&fakeGateway{}, svc, nil, "")

	req := authed(httptest.NewRequest(http.MethodGet, "/wallet", nil), "u1")
	rec := httptest.NewRecorder()
	h.GetWallet(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Data WalletResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Data.Balance.Equal(money.Naira(7500)) {
		t.Fatalf("balance = %s, want NGN 7500.00", resp.Data.Balance)
	}
}

func TestListTransactionsEmptyHistory(t *testing.T) {
	svc := &fakeWalletSvc{profile: &wallet.Profile{UserID: "u1"}}
	h := NewHandler(&fakeGateway{}, svc, nil, "")

	req := authed(httptest.NewRequest(http.MethodGet, "/wallet/transactions", nil), "u1")
	rec := httptest.NewRecorder()
	h.ListTransactions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Data  []*wallet.Transaction `json:"data"`
		Error *struct{}             `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatal("empty history is not an error")
	}
	if len(resp.Data) != 0 {
		t.Fatalf("transactions = %d, want 0", len(resp.Data))
	}
}
