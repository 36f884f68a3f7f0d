// Package catalog sells pre-provisioned account credentials. Inventory is
// grouped by platform and price; a purchase atomically claims one available
// account, debits the wallet, and records an order.
package catalog

import (
	"errors"
	"time"

	"tallystore/internal/common/money"
)

var (
	// ErrGroupNotFound means the product group does not exist.
	ErrGroupNotFound = errors.New("catalog: product group not found")

	// ErrOutOfStock means the group has no available accounts left.
	ErrOutOfStock = errors.New("catalog: no accounts available in group")

	// ErrOrderNotFound means the order does not exist or belongs to
	// another user.
	ErrOrderNotFound = errors.New("catalog: order not found")
)

// AccountStatus marks whether a provisioned account is still sellable.
type AccountStatus string

const (
	StatusAvailable AccountStatus = "available"
	StatusSold      AccountStatus = "sold"
)

// Category is a top-level grouping, typically a platform name.
type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Group is a sellable product line: same platform, same price, a pool of
// interchangeable accounts behind it.
type Group struct {
	ID          string      `json:"id"`
	CategoryID  string      `json:"category_id"`
	Name        string      `json:"name"`
	Price       money.Money `json:"price"`
	Description string      `json:"description,omitempty"`
	Available   int         `json:"available"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Account is one provisioned credential set. Credential fields are only
// exposed to the buyer after purchase.
type Account struct {
	ID        string        `json:"id"`
	GroupID   string        `json:"group_id"`
	Username  string        `json:"username"`
	Password  string        `json:"password"`
	Email     string        `json:"email,omitempty"`
	TwoFactor string        `json:"two_factor,omitempty"`
	Status    AccountStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// Order records a completed purchase and which account it delivered.
type Order struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	GroupID       string      `json:"group_id"`
	AccountID     string      `json:"account_id"`
	TransactionID string      `json:"transaction_id"`
	Amount        money.Money `json:"amount"`
	Status        string      `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}
