package paygate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tallystore/internal/common/money"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestInitiateSuccess(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/payment/initiate" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %q", got)
		}
		w.Write([]byte(`{
			"requestSuccessful": true,
			"responseBody": {
				"paymentReference": "TS-REF",
				"transactionReference": "TXN-123",
				"checkoutUrl": "https://pay.example/checkout/TXN-123"
			}
		}`))
	})

	resp, err := client.Initiate(context.Background(), &InitiateRequest{
		Amount:        money.Naira(5000),
		CustomerEmail: "buyer@example.com",
		CustomerName:  "Buyer",
		RedirectURL:   "https://store.example/wallet",
		Metadata:      map[string]string{"user_id": "u1"},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if resp.TransactionReference != "TXN-123" {
		t.Errorf("expected TXN-123, got %s", resp.TransactionReference)
	}
	if resp.CheckoutURL == "" {
		t.Error("expected checkout URL")
	}
}

func TestInitiateRejected(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"requestSuccessful": false, "responseMessage": "invalid contract"}`))
	})

	_, err := client.Initiate(context.Background(), &InitiateRequest{
		Amount:        money.Naira(5000),
		CustomerEmail: "buyer@example.com",
	})
	if err == nil {
		t.Fatal("expected error for rejected initiate")
	}
}

func TestVerifyStatusMapping(t *testing.T) {
	cases := []struct {
		gateway string
		want    Status
	}{
		{"SUCCESSFUL", StatusSuccess},
		{"PENDING", StatusPending},
		{"FAILED", StatusFailed},
		{"EXPIRED", StatusFailed},
		{"SOMETHING_NEW", StatusError},
	}

	for _, tc := range cases {
		t.Run(tc.gateway, func(t *testing.T) {
			client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{
					"requestSuccessful": true,
					"responseBody": {"status": "` + tc.gateway + `", "amount": 5000, "ercs_reference": "ERCS-1"}
				}`))
			})

			res, err := client.Verify(context.Background(), "TXN-1")
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if res.Status != tc.want {
				t.Errorf("status %s: expected %s, got %s", tc.gateway, tc.want, res.Status)
			}
		})
	}
}

func TestVerifyAmountAndReference(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment/transaction/verify/TXN-9" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"requestSuccessful": true,
			"responseBody": {
				"status": "SUCCESSFUL",
				"amount": 5000,
				"paid_at": "2024-05-01T10:00:00Z",
				"ercs_reference": "ERCS-9"
			}
		}`))
	})

	res, err := client.Verify(context.Background(), "TXN-9")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if !res.Amount.Equal(money.Naira(5000)) {
		t.Errorf("expected ₦5000, got %s", res.Amount)
	}
	if res.GatewayReference != "ERCS-9" {
		t.Errorf("expected ERCS-9, got %s", res.GatewayReference)
	}
	if res.PaidAt == nil {
		t.Error("expected paid_at to parse")
	}
}

func TestVerifyNotFound(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.Verify(context.Background(), "TXN-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyMalformedBodyIsTransient(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"requestSuccessful": tru`))
	})

	res, err := client.Verify(context.Background(), "TXN-1")
	if err == nil {
		t.Fatalf("expected error, got %+v", res)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("malformed body must not map to ErrNotFound")
	}
}

func TestVerifyServerErrorIsTransient(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Verify(context.Background(), "TXN-1")
	if err == nil {
		t.Fatal("expected error on 502")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("502 must not map to ErrNotFound")
	}
}
