// Package paygate is the HTTP client for the hosted payment gateway. It
// initiates checkout sessions and verifies settlement status by reference.
package paygate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"tallystore/internal/common/money"
)

// Status is the normalized settlement status of a gateway transaction.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
	// StatusError covers responses the gateway acknowledged but we could not
	// interpret. Callers retry; only StatusFailed terminates polling.
	StatusError Status = "error"
)

var (
	// ErrNotFound means the gateway does not know the reference. Distinct
	// from a failed settlement; callers keep retrying until the intent ages
	// out.
	ErrNotFound = errors.New("paygate: transaction not found")
)

// Config holds gateway client configuration.
type Config struct {
	BaseURL     string        `envconfig:"PAYGATE_BASE_URL" required:"true"`
	APIKey      string        `envconfig:"PAYGATE_API_KEY" required:"true"`
	ContractRef string        `envconfig:"PAYGATE_CONTRACT_REF"`
	Timeout     time.Duration `envconfig:"PAYGATE_TIMEOUT" default:"30s"`
}

// Client calls the payment gateway HTTP API.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new gateway client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// InitiateRequest is a request to open a hosted checkout session.
type InitiateRequest struct {
	Amount        money.Money
	CustomerEmail string
	CustomerName  string
	RedirectURL   string
	// Metadata must carry the application user id so the gateway webhook
	// can attribute the payment server-side.
	Metadata map[string]string
}

// InitiateResponse is the result of opening a checkout session.
type InitiateResponse struct {
	TransactionReference string
	PaymentReference     string
	CheckoutURL          string
}

// VerifyResult is the normalized result of a verification call.
type VerifyResult struct {
	Status           Status
	Amount           money.Money
	GatewayReference string // Gateway's own settlement id; may differ from ours
	PaidAt           *time.Time
}

type initiateAPIRequest struct {
	Amount           float64           `json:"amount"`
	PaymentReference string            `json:"paymentReference"`
	CustomerEmail    string            `json:"customerEmail"`
	CustomerName     string            `json:"customerName"`
	RedirectURL      string            `json:"redirectUrl"`
	ContractRef      string            `json:"contractCode,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

type initiateAPIResponse struct {
	RequestSuccessful bool   `json:"requestSuccessful"`
	ResponseMessage   string `json:"responseMessage"`
	ResponseBody      struct {
		PaymentReference     string `json:"paymentReference"`
		TransactionReference string `json:"transactionReference"`
		CheckoutURL          string `json:"checkoutUrl"`
	} `json:"responseBody"`
}

type verifyAPIResponse struct {
	RequestSuccessful bool   `json:"requestSuccessful"`
	ResponseMessage   string `json:"responseMessage"`
	ResponseBody      struct {
		Status   string  `json:"status"`
		Amount   float64 `json:"amount"`
		Customer struct {
			Email string `json:"email"`
		} `json:"customer"`
		PaidAt        string `json:"paid_at"`
		ErcsReference string `json:"ercs_reference"`
	} `json:"responseBody"`
}

// Initiate opens a hosted checkout session. The returned transaction
// reference identifies the attempt for all later verification calls.
func (c *Client) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error) {
	paymentRef := fmt.Sprintf("TS-%s", ulid.Make().String())

	apiReq := initiateAPIRequest{
		Amount:           req.Amount.ToMajor(),
		PaymentReference: paymentRef,
		CustomerEmail:    req.CustomerEmail,
		CustomerName:     req.CustomerName,
		RedirectURL:      req.RedirectURL,
		ContractRef:      c.config.ContractRef,
		Metadata:         req.Metadata,
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal initiate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/payment/initiate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(httpResp.Body)
	if httpResp.StatusCode >= 400 {
		return nil, fmt.Errorf("paygate initiate: status=%d body=%s", httpResp.StatusCode, string(respBody))
	}

	var resp initiateAPIResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal initiate response: %w", err)
	}
	if !resp.RequestSuccessful {
		return nil, fmt.Errorf("paygate initiate rejected: %s", resp.ResponseMessage)
	}
	if resp.ResponseBody.TransactionReference == "" || resp.ResponseBody.CheckoutURL == "" {
		return nil, fmt.Errorf("paygate initiate: incomplete response body")
	}

	c.logger.Info("checkout session initiated",
		"transaction_reference", resp.ResponseBody.TransactionReference,
		"amount", req.Amount.AmountMinor,
	)

	return &InitiateResponse{
		TransactionReference: resp.ResponseBody.TransactionReference,
		PaymentReference:     resp.ResponseBody.PaymentReference,
		CheckoutURL:          resp.ResponseBody.CheckoutURL,
	}, nil
}

// Verify fetches the settlement status of a transaction. It is a pure read
// and safe to call repeatedly. While settlement is in flight the gateway
// reports PENDING rather than erroring.
func (c *Client) Verify(ctx context.Context, transactionReference string) (*VerifyResult, error) {
	url := c.config.BaseURL + "/payment/transaction/verify/" + transactionReference

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(httpResp.Body)

	if httpResp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if httpResp.StatusCode >= 400 {
		return nil, fmt.Errorf("paygate verify: status=%d body=%s", httpResp.StatusCode, string(respBody))
	}

	var resp verifyAPIResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal verify response: %w", err)
	}
	if !resp.RequestSuccessful {
		// The gateway reports unknown references through the response
		// message rather than a 404 in some deployments.
		return nil, fmt.Errorf("paygate verify rejected: %s", resp.ResponseMessage)
	}

	result := &VerifyResult{
		Status:           mapStatus(resp.ResponseBody.Status),
		Amount:           money.NewFromMajor(resp.ResponseBody.Amount, money.NGN),
		GatewayReference: resp.ResponseBody.ErcsReference,
	}

	if resp.ResponseBody.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.ResponseBody.PaidAt); err == nil {
			result.PaidAt = &t
		}
	}

	return result, nil
}

// mapStatus normalizes gateway status strings. Anything unrecognized maps to
// StatusError so callers retry instead of treating it as a confirmed
// negative.
func mapStatus(s string) Status {
	switch s {
	case "SUCCESSFUL", "SUCCESS", "PAID":
		return StatusSuccess
	case "PENDING":
		return StatusPending
	case "FAILED", "EXPIRED", "CANCELLED":
		return StatusFailed
	default:
		return StatusError
	}
}
