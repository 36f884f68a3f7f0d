package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"tallystore/internal/common/database"
	"tallystore/internal/common/money"
)

// Store provides wallet data access. Mutating operations take a Querier so
// callers can compose them inside a single transaction.
type Store struct {
	db *database.DB
}

// NewStore creates a new wallet store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// CreateProfile inserts a new profile with a zero balance.
func (s *Store) CreateProfile(ctx context.Context, p *Profile) error {
	query := `
		INSERT INTO profiles (user_id, email, full_name, balance, currency, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, query,
		p.UserID, p.Email, p.FullName, p.Balance.AmountMinor, p.Balance.Currency, p.IsAdmin, now, now,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("profile %s: %w", p.UserID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by user id.
func (s *Store) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	query := `
		SELECT user_id, email, full_name, balance, currency, is_admin, created_at, updated_at
		FROM profiles WHERE user_id = $1
	`
	row := s.db.QueryRow(ctx, query, userID)

	var p Profile
	var balanceMinor int64
	var currency money.Currency
	err := row.Scan(&p.UserID, &p.Email, &p.FullName, &balanceMinor, &currency, &p.IsAdmin, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	p.Balance = money.New(balanceMinor, currency)
	return &p, nil
}

// ListRecentTransactions returns the user's ledger rows created at or after
// since, newest first. The reconciler scans these to rule out a credit the
// webhook already applied.
func (s *Store) ListRecentTransactions(ctx context.Context, userID string, since time.Time, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, user_id, type, amount_minor, currency, balance_after, status,
		       reference, gateway_reference, description, created_at
		FROM transactions
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := s.db.Query(ctx, query, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// ListTransactions returns a page of the user's ledger rows, newest first.
func (s *Store) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_id, type, amount_minor, currency, balance_after, status,
		       reference, gateway_reference, description, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// CreditWallet atomically adds amount to the user's balance and returns the
// new balance. The read-modify-write happens inside the UPDATE itself.
func (s *Store) CreditWallet(ctx context.Context, q database.Querier, userID string, amount money.Money) (money.Money, error) {
	query := `
		UPDATE profiles
		SET balance = balance + $2, updated_at = now()
		WHERE user_id = $1
		RETURNING balance, currency
	`
	var balanceMinor int64
	var currency money.Currency
	err := q.QueryRow(ctx, query, userID, amount.AmountMinor).Scan(&balanceMinor, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return money.Money{}, ErrProfileNotFound
		}
		return money.Money{}, fmt.Errorf("crediting wallet: %w", err)
	}
	return money.New(balanceMinor, currency), nil
}

// DebitWallet atomically subtracts amount from the user's balance. The
// balance check is part of the UPDATE predicate so concurrent debits cannot
// overdraw.
func (s *Store) DebitWallet(ctx context.Context, q database.Querier, userID string, amount money.Money) (money.Money, error) {
	query := `
		UPDATE profiles
		SET balance = balance - $2, updated_at = now()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance, currency
	`
	var balanceMinor int64
	var currency money.Currency
	err := q.QueryRow(ctx, query, userID, amount.AmountMinor).Scan(&balanceMinor, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either no such profile or the balance predicate failed.
			if _, getErr := s.GetProfile(ctx, userID); getErr != nil {
				return money.Money{}, getErr
			}
			return money.Money{}, ErrInsufficientBalance
		}
		return money.Money{}, fmt.Errorf("debiting wallet: %w", err)
	}
	return money.New(balanceMinor, currency), nil
}

// RecordTopUp inserts a topup ledger row. It fails with
// ErrDuplicateReference when a row for (user, reference) already exists;
// it never silently succeeds on a duplicate.
func (s *Store) RecordTopUp(ctx context.Context, q database.Querier, tx *Transaction) error {
	tx.Type = TypeTopUp
	return s.insertTransaction(ctx, q, tx)
}

// RecordTransaction inserts a non-topup ledger row.
func (s *Store) RecordTransaction(ctx context.Context, q database.Querier, tx *Transaction) error {
	return s.insertTransaction(ctx, q, tx)
}

func (s *Store) insertTransaction(ctx context.Context, q database.Querier, tx *Transaction) error {
	query := `
		INSERT INTO transactions (
			id, user_id, type, amount_minor, currency, balance_after, status,
			reference, gateway_reference, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Status == "" {
		tx.Status = "completed"
	}

	_, err := q.Exec(ctx, query,
		tx.ID, tx.UserID, tx.Type, tx.Amount.AmountMinor, tx.Amount.Currency,
		tx.BalanceAfter.AmountMinor, tx.Status,
		nullStr(tx.Reference), nullStr(tx.GatewayReference), tx.Description, tx.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("reference %s for user %s: %w", tx.Reference, tx.UserID, ErrDuplicateReference)
		}
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

func scanTransaction(rows pgx.Rows) (*Transaction, error) {
	var t Transaction
	var amountMinor, balanceAfter int64
	var currency money.Currency
	var reference, gatewayRef *string

	err := rows.Scan(
		&t.ID, &t.UserID, &t.Type, &amountMinor, &currency, &balanceAfter,
		&t.Status, &reference, &gatewayRef, &t.Description, &t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}

	t.Amount = money.New(amountMinor, currency)
	t.BalanceAfter = money.New(balanceAfter, currency)
	if reference != nil {
		t.Reference = *reference
	}
	if gatewayRef != nil {
		t.GatewayReference = *gatewayRef
	}
	return &t, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
