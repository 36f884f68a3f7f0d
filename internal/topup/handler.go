// Package topup exposes the wallet funding HTTP surface: opening a hosted
// checkout session, reading the wallet, and the gateway webhook that acts
// as the second crediting writer.
package topup

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tallystore/internal/common/api"
	"tallystore/internal/common/events"
	"tallystore/internal/common/middleware"
	"tallystore/internal/common/money"
	"tallystore/internal/paygate"
	"tallystore/internal/wallet"
)

// Gateway opens checkout sessions.
type Gateway interface {
	Initiate(ctx context.Context, req *paygate.InitiateRequest) (*paygate.InitiateResponse, error)
}

// WalletService is the slice of the wallet service the handlers need.
type WalletService interface {
	GetProfile(ctx context.Context, userID string) (*wallet.Profile, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*wallet.Transaction, error)
}

// Publisher publishes domain events. Nil disables publishing.
type Publisher interface {
	Publish(ctx context.Context, subject string, env *events.Envelope) error
}

// Handler handles wallet and top-up HTTP requests
type Handler struct {
	gateway     Gateway
	wallet      WalletService
	publisher   Publisher
	redirectURL string
}

// NewHandler creates a new top-up handler. redirectURL is where the hosted
// checkout sends the customer back after payment.
func NewHandler(gateway Gateway, walletService WalletService, publisher Publisher, redirectURL string) *Handler {
	return &Handler{
		gateway:     gateway,
		wallet:      walletService,
		publisher:   publisher,
		redirectURL: redirectURL,
	}
}

// Routes returns the wallet and top-up routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/topup/initiate", h.InitiateTopUp)
	r.Get("/wallet", h.GetWallet)
	r.Get("/wallet/transactions", h.ListTransactions)

	return r
}

// InitiateTopUpRequest is the API request for opening a checkout session.
type InitiateTopUpRequest struct {
	// Amount is in naira.
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// InitiateTopUpResponse points the client at the hosted checkout page.
type InitiateTopUpResponse struct {
	TransactionReference string      `json:"transaction_reference"`
	CheckoutURL          string      `json:"checkout_url"`
	Amount               money.Money `json:"amount"`
}

// InitiateTopUp handles POST /topup/initiate
func (h *Handler) InitiateTopUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		api.Unauthorized(w, "authentication required")
		return
	}

	var req InitiateTopUpRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	profile, err := h.wallet.GetProfile(ctx, userID)
	if err != nil {
		api.NotFound(w, "wallet profile not found")
		return
	}

	amount := money.Naira(req.Amount)
	resp, err := h.gateway.Initiate(ctx, &paygate.InitiateRequest{
		Amount:        amount,
		CustomerEmail: profile.Email,
		CustomerName:  profile.FullName,
		RedirectURL:   h.redirectURL,
		Metadata:      map[string]string{"user_id": userID},
	})
	if err != nil {
		api.WriteError(w, http.StatusBadGateway, api.ErrCodeGatewayError, "payment gateway unavailable, try again")
		return
	}

	h.publishInitiated(ctx, userID, resp, amount)

	api.WriteData(w, http.StatusOK, InitiateTopUpResponse{
		TransactionReference: resp.TransactionReference,
		CheckoutURL:          resp.CheckoutURL,
		Amount:               amount,
	})
}

// WalletResponse is the wallet summary.
type WalletResponse struct {
	UserID  string      `json:"user_id"`
	Balance money.Money `json:"balance"`
}

// GetWallet handles GET /wallet
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Unauthorized(w, "authentication required")
		return
	}

	profile, err := h.wallet.GetProfile(r.Context(), userID)
	if err != nil {
		api.NotFound(w, "wallet profile not found")
		return
	}

	api.WriteData(w, http.StatusOK, WalletResponse{
		UserID:  profile.UserID,
		Balance: profile.Balance,
	})
}

// ListTransactions handles GET /wallet/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Unauthorized(w, "authentication required")
		return
	}

	limit := api.QueryInt(r, "limit", 20, 100)
	offset := api.QueryInt(r, "offset", 0, 10000)

	txs, err := h.wallet.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		api.InternalError(w, "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []*wallet.Transaction{}
	}
	api.WriteData(w, http.StatusOK, txs)
}

func (h *Handler) publishInitiated(ctx context.Context, userID string, resp *paygate.InitiateResponse, amount money.Money) {
	if h.publisher == nil {
		return
	}
	event := &events.TopUpInitiatedEvent{
		Reference:   resp.TransactionReference,
		AmountMinor: amount.AmountMinor,
		Currency:    string(amount.Currency),
		CheckoutURL: resp.CheckoutURL,
	}
	env, err := events.NewEnvelope(events.EventTopUpInitiated, userID, resp.TransactionReference, event)
	if err != nil {
		return
	}
	// Best effort; checkout proceeds even if the event is lost.
	_ = h.publisher.Publish(ctx, events.SubjectTopUpInitiated, env)
}
