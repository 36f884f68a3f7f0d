package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"tallystore/internal/common/database"
	"tallystore/internal/common/events"
	"tallystore/internal/wallet"
)

// Publisher publishes domain events. Nil disables publishing.
type Publisher interface {
	Publish(ctx context.Context, subject string, env *events.Envelope) error
}

// Service implements catalog browsing and purchasing.
type Service struct {
	db        *database.DB
	store     *Store
	wallet    *wallet.Store
	publisher Publisher
	logger    *slog.Logger
}

// NewService creates a catalog service backed by the shared database.
func NewService(db *database.DB, walletStore *wallet.Store, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		db:        db,
		store:     NewStore(db),
		wallet:    walletStore,
		publisher: publisher,
		logger:    logger,
	}
}

// Store returns the underlying store for read paths and admin seeding.
func (s *Service) Store() *Store {
	return s.store
}

// ListCategories returns all categories.
func (s *Service) ListCategories(ctx context.Context) ([]*Category, error) {
	return s.store.ListCategories(ctx)
}

// ListGroups returns groups, optionally filtered by category.
func (s *Service) ListGroups(ctx context.Context, categoryID string) ([]*Group, error) {
	return s.store.ListGroups(ctx, categoryID)
}

// GetGroup returns one group.
func (s *Service) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	return s.store.GetGroup(ctx, groupID)
}

// ListOrders returns the user's purchase history with delivered credentials.
func (s *Service) ListOrders(ctx context.Context, userID string, limit, offset int) ([]*Order, []*Account, error) {
	return s.store.ListOrders(ctx, userID, limit, offset)
}

// Purchase buys one account from the group. Claiming the account, debiting
// the wallet, and recording the ledger row and order all happen in one
// transaction, so a failure at any step leaves stock and balance untouched.
func (s *Service) Purchase(ctx context.Context, userID, groupID string) (*Order, *Account, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}

	var (
		order   *Order
		account *Account
		ledger  *wallet.Transaction
	)
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		account, err = s.store.ClaimAccount(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if err := s.store.MarkSold(ctx, tx, account.ID); err != nil {
			return err
		}

		newBalance, err := s.wallet.DebitWallet(ctx, tx, userID, group.Price)
		if err != nil {
			return err
		}

		ledger = &wallet.Transaction{
			ID:           ulid.Make().String(),
			UserID:       userID,
			Type:         wallet.TypePurchase,
			Amount:       group.Price,
			BalanceAfter: newBalance,
			Status:       "completed",
			Description:  fmt.Sprintf("purchase: %s", group.Name),
		}
		if err := s.wallet.RecordTransaction(ctx, tx, ledger); err != nil {
			return err
		}

		order = &Order{
			ID:            ulid.Make().String(),
			UserID:        userID,
			GroupID:       groupID,
			AccountID:     account.ID,
			TransactionID: ledger.ID,
			Amount:        group.Price,
			Status:        "completed",
		}
		return s.store.InsertOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, nil, err
	}

	account.Status = StatusSold
	s.logger.Info("purchase completed",
		"user_id", userID,
		"order_id", order.ID,
		"group_id", groupID,
		"amount", group.Price.AmountMinor,
	)
	s.publishPurchase(ctx, order, ledger)
	return order, account, nil
}

func (s *Service) publishPurchase(ctx context.Context, order *Order, ledger *wallet.Transaction) {
	if s.publisher == nil {
		return
	}

	debited := &events.WalletDebitedEvent{
		TransactionID:   ledger.ID,
		AmountMinor:     ledger.Amount.AmountMinor,
		NewBalanceMinor: ledger.BalanceAfter.AmountMinor,
	}
	if env, err := events.NewEnvelope(events.EventWalletDebited, order.UserID, order.ID, debited); err == nil {
		if err := s.publisher.Publish(ctx, events.SubjectWalletDebited, env); err != nil {
			s.logger.Warn("failed to publish wallet debited event", "error", err)
		}
	}

	completed := &events.OrderCompletedEvent{
		OrderID:     order.ID,
		GroupID:     order.GroupID,
		AccountID:   order.AccountID,
		AmountMinor: order.Amount.AmountMinor,
	}
	if env, err := events.NewEnvelope(events.EventOrderCompleted, order.UserID, order.ID, completed); err == nil {
		if err := s.publisher.Publish(ctx, events.SubjectOrderCompleted, env); err != nil {
			s.logger.Warn("failed to publish order completed event", "error", err)
		}
	}
}
