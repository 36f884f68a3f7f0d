package catalog

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tallystore/internal/common/api"
	"tallystore/internal/common/middleware"
	"tallystore/internal/common/money"
	"tallystore/internal/wallet"
)

// Receipts sends order confirmations to the buyer. Delivery is best effort.
type Receipts interface {
	OrderReceipt(ctx context.Context, email, orderID string, amount money.Money)
}

// Handler handles catalog HTTP requests
type Handler struct {
	service  *Service
	receipts Receipts
}

// NewHandler creates a new catalog handler. receipts may be nil.
func NewHandler(service *Service, receipts Receipts) *Handler {
	return &Handler{service: service, receipts: receipts}
}

// Routes returns the catalog routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/categories", h.ListCategories)
	r.Get("/groups", h.ListGroups)
	r.Get("/groups/{id}", h.GetGroup)
	r.Post("/groups/{id}/purchase", h.Purchase)
	r.Get("/orders", h.ListOrders)

	return r
}

// ListCategories handles GET /categories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		api.InternalError(w, "failed to list categories")
		return
	}
	if categories == nil {
		categories = []*Category{}
	}
	api.WriteData(w, http.StatusOK, categories)
}

// ListGroups handles GET /groups?category=<id>
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.ListGroups(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		api.InternalError(w, "failed to list groups")
		return
	}
	if groups == nil {
		groups = []*Group{}
	}
	api.WriteData(w, http.StatusOK, groups)
}

// GetGroup handles GET /groups/{id}
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.service.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			api.NotFound(w, "product group not found")
			return
		}
		api.InternalError(w, "failed to load group")
		return
	}
	api.WriteData(w, http.StatusOK, group)
}

// PurchaseResponse delivers the purchased credentials alongside the order.
type PurchaseResponse struct {
	Order   *Order   `json:"order"`
	Account *Account `json:"account"`
}

// Purchase handles POST /groups/{id}/purchase
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Unauthorized(w, "authentication required")
		return
	}

	order, account, err := h.service.Purchase(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrGroupNotFound):
			api.NotFound(w, "product group not found")
		case errors.Is(err, ErrOutOfStock):
			api.WriteError(w, http.StatusConflict, api.ErrCodeOutOfStock, "no accounts available in this group")
		case errors.Is(err, wallet.ErrInsufficientBalance):
			api.WriteError(w, http.StatusPaymentRequired, api.ErrCodeInsufficientFunds, "wallet balance too low, top up first")
		case errors.Is(err, wallet.ErrProfileNotFound):
			api.NotFound(w, "wallet profile not found")
		default:
			api.InternalError(w, "purchase failed")
		}
		return
	}

	if h.receipts != nil {
		if email := middleware.GetUserEmail(r.Context()); email != "" {
			go h.receipts.OrderReceipt(context.WithoutCancel(r.Context()), email, order.ID, order.Amount)
		}
	}

	api.WriteData(w, http.StatusOK, PurchaseResponse{Order: order, Account: account})
}

// OrderView is one order with its delivered credentials.
type OrderView struct {
	Order   *Order   `json:"order"`
	Account *Account `json:"account"`
}

// ListOrders handles GET /orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Unauthorized(w, "authentication required")
		return
	}

	limit := api.QueryInt(r, "limit", 20, 100)
	offset := api.QueryInt(r, "offset", 0, 10000)

	orders, accounts, err := h.service.ListOrders(r.Context(), userID, limit, offset)
	if err != nil {
		api.InternalError(w, "failed to list orders")
		return
	}

	views := make([]OrderView, len(orders))
	for i := range orders {
		views[i] = OrderView{Order: orders[i], Account: accounts[i]}
	}
	api.WriteData(w, http.StatusOK, views)
}
