package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"tallystore/internal/common/database"
	"tallystore/internal/common/events"
	"tallystore/internal/common/money"
)

// Publisher publishes domain events. A nil Publisher disables publishing.
type Publisher interface {
	Publish(ctx context.Context, subject string, env *events.Envelope) error
}

// Receipts sends credit confirmations to the user. Delivery is best effort.
type Receipts interface {
	TopUpReceipt(ctx context.Context, email string, amount, newBalance money.Money)
}

// Service provides wallet operations.
type Service struct {
	db        *database.DB
	store     *Store
	publisher Publisher
	receipts  Receipts
	logger    *slog.Logger
}

// NewService creates a new wallet service.
func NewService(db *database.DB, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		db:        db,
		store:     NewStore(db),
		publisher: publisher,
		logger:    logger,
	}
}

// WithReceipts attaches a receipt sender. Credits made after this call mail
// a confirmation.
func (s *Service) WithReceipts(r Receipts) *Service {
	s.receipts = r
	return s
}

// Store exposes the underlying store for composition with other services'
// transactions.
func (s *Service) Store() *Store {
	return s.store
}

// GetProfile returns the user's profile including the current balance.
func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	return s.store.GetProfile(ctx, userID)
}

// EnsureProfile creates a wallet profile for a first-seen user. Racing
// creations are fine; the losing insert is ignored.
func (s *Service) EnsureProfile(ctx context.Context, userID, email string) error {
	err := s.store.CreateProfile(ctx, &Profile{
		UserID:  userID,
		Email:   email,
		Balance: money.Zero(money.NGN),
	})
	if err != nil && !errors.Is(err, database.ErrAlreadyExists) {
		return err
	}
	return nil
}

// ListRecentTransactions returns recent ledger rows for duplicate scanning.
func (s *Service) ListRecentTransactions(ctx context.Context, userID string, since time.Time, limit int) ([]*Transaction, error) {
	return s.store.ListRecentTransactions(ctx, userID, since, limit)
}

// ListTransactions returns a page of the user's ledger history, newest
// first.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error) {
	return s.store.ListTransactions(ctx, userID, limit, offset)
}

// ApplyTopUp credits a verified top-up: one database transaction inserts the
// topup ledger row and bumps the balance. A concurrent writer that already
// credited the same reference makes the ledger insert fail its uniqueness
// constraint, which surfaces as ErrDuplicateReference with no balance
// change. Every writer (client reconciler, gateway webhook) credits through
// this path.
func (s *Service) ApplyTopUp(ctx context.Context, userID string, amount money.Money, reference, gatewayReference, creditedBy string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("top-up amount must be positive, got %d", amount.AmountMinor)
	}
	if reference == "" {
		return nil, errors.New("top-up reference is required")
	}

	tx := &Transaction{
		ID:               ulid.Make().String(),
		UserID:           userID,
		Type:             TypeTopUp,
		Amount:           amount,
		Reference:        reference,
		GatewayReference: gatewayReference,
		Description:      "Wallet top-up",
	}

	err := s.db.WithTx(ctx, func(dbTx pgx.Tx) error {
		// Ledger insert first: the uniqueness constraint must reject a
		// duplicate before any balance mutation happens.
		if err := s.store.RecordTopUp(ctx, dbTx, tx); err != nil {
			return err
		}
		newBalance, err := s.store.CreditWallet(ctx, dbTx, userID, amount)
		if err != nil {
			return err
		}
		tx.BalanceAfter = newBalance

		// Keep balance_after consistent with the credited balance.
		_, err = dbTx.Exec(ctx,
			`UPDATE transactions SET balance_after = $2 WHERE id = $1`,
			tx.ID, newBalance.AmountMinor,
		)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			s.logger.Info("top-up already credited by another writer",
				"user_id", userID,
				"reference", reference,
			)
			return nil, err
		}
		return nil, fmt.Errorf("applying top-up: %w", err)
	}

	s.logger.Info("wallet credited",
		"user_id", userID,
		"reference", reference,
		"amount", amount.AmountMinor,
		"new_balance", tx.BalanceAfter.AmountMinor,
		"credited_by", creditedBy,
	)

	s.publishCredited(ctx, tx, creditedBy)
	s.sendReceipt(ctx, userID, tx)
	return tx, nil
}

func (s *Service) sendReceipt(ctx context.Context, userID string, tx *Transaction) {
	if s.receipts == nil {
		return
	}
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		s.logger.Warn("skipping receipt, profile lookup failed", "user_id", userID, "error", err)
		return
	}
	go s.receipts.TopUpReceipt(context.WithoutCancel(ctx), profile.Email, tx.Amount, tx.BalanceAfter)
}

// AdminAdjust applies a manual credit or debit with its paired ledger row.
func (s *Service) AdminAdjust(ctx context.Context, userID string, amount money.Money, credit bool, reason string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("adjustment amount must be positive, got %d", amount.AmountMinor)
	}

	txType := TypeAdminDebit
	if credit {
		txType = TypeAdminCredit
	}

	tx := &Transaction{
		ID:          ulid.Make().String(),
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Description: reason,
	}

	err := s.db.WithTx(ctx, func(dbTx pgx.Tx) error {
		var newBalance money.Money
		var err error
		if credit {
			newBalance, err = s.store.CreditWallet(ctx, dbTx, userID, amount)
		} else {
			newBalance, err = s.store.DebitWallet(ctx, dbTx, userID, amount)
		}
		if err != nil {
			return err
		}
		tx.BalanceAfter = newBalance
		return s.store.RecordTransaction(ctx, dbTx, tx)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("admin adjustment applied",
		"user_id", userID,
		"type", txType,
		"amount", amount.AmountMinor,
	)
	return tx, nil
}

func (s *Service) publishCredited(ctx context.Context, tx *Transaction, creditedBy string) {
	if s.publisher == nil {
		return
	}
	event := &events.TopUpCreditedEvent{
		Reference:        tx.Reference,
		GatewayReference: tx.GatewayReference,
		AmountMinor:      tx.Amount.AmountMinor,
		Currency:         string(tx.Amount.Currency),
		NewBalanceMinor:  tx.BalanceAfter.AmountMinor,
		CreditedBy:       creditedBy,
	}
	if env, err := events.NewEnvelope(events.EventTopUpCredited, tx.UserID, tx.Reference, event); err == nil {
		if err := s.publisher.Publish(ctx, events.SubjectTopUpCredited, env); err != nil {
			s.logger.Warn("failed to publish credited event", "error", err)
		}
	}
}
