// Package wallet owns the authoritative wallet balance and transaction
// ledger. Balance changes are always paired with a ledger row in the same
// database transaction, and topup rows are unique per (user, reference).
package wallet

import (
	"errors"
	"time"

	"tallystore/internal/common/money"
)

// TransactionType classifies ledger rows.
type TransactionType string

const (
	TypeTopUp       TransactionType = "topup"
	TypePurchase    TransactionType = "purchase"
	TypeAdminCredit TransactionType = "admin_credit"
	TypeAdminDebit  TransactionType = "admin_debit"
)

// Sentinel errors surfaced by the store.
var (
	ErrProfileNotFound = errors.New("wallet: profile not found")
	// ErrDuplicateReference means a topup ledger row already exists for this
	// (user, reference) pair. It is the authoritative signal that another
	// writer credited the top-up first; callers treat it as success-via-dedup,
	// never as a failure to retry.
	ErrDuplicateReference  = errors.New("wallet: duplicate topup reference")
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
)

// Profile is a storefront user with a wallet balance.
type Profile struct {
	UserID    string      `json:"user_id"`
	Email     string      `json:"email"`
	FullName  string      `json:"full_name"`
	Balance   money.Money `json:"balance"`
	IsAdmin   bool        `json:"is_admin"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Transaction is an immutable ledger row. For a given (UserID, Reference)
// pair at most one topup row may ever exist.
type Transaction struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Type             TransactionType `json:"type"`
	Amount           money.Money     `json:"amount"`
	BalanceAfter     money.Money     `json:"balance_after"`
	Status           string          `json:"status"`
	Reference        string          `json:"reference,omitempty"`
	GatewayReference string          `json:"gateway_reference,omitempty"`
	Description      string          `json:"description,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
