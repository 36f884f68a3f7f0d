package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"tallystore/internal/common/database"
	"tallystore/internal/common/money"
)

// Store persists catalog inventory and orders.
type Store struct {
	db *database.DB
}

// NewStore creates a catalog store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// ListCategories returns all categories ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]*Category, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, slug, description, created_at
		FROM categories
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []*Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CreateCategory inserts a category.
func (s *Store) CreateCategory(ctx context.Context, c *Category) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO categories (id, name, slug, description)
		VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.Slug, c.Description)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("category slug %q: %w", c.Slug, database.ErrAlreadyExists)
		}
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

const groupColumns = `
	g.id, g.category_id, g.name, g.price_minor, g.currency, g.description, g.created_at,
	count(a.id) FILTER (WHERE a.status = 'available') AS available`

// ListGroups returns product groups with their available stock counts.
// Pass an empty categoryID for all groups.
func (s *Store) ListGroups(ctx context.Context, categoryID string) ([]*Group, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM product_groups g
		LEFT JOIN product_accounts a ON a.group_id = g.id
		WHERE ($1 = '' OR g.category_id = $1)
		GROUP BY g.id
		ORDER BY g.name`

	rows, err := s.db.Query(ctx, query, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetGroup returns one group with its available count.
func (s *Store) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+groupColumns+`
		FROM product_groups g
		LEFT JOIN product_accounts a ON a.group_id = g.id
		WHERE g.id = $1
		GROUP BY g.id`, groupID)

	g, err := scanGroup(row)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// CreateGroup inserts a product group.
func (s *Store) CreateGroup(ctx context.Context, g *Group) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO product_groups (id, category_id, name, price_minor, currency, description)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		g.ID, g.CategoryID, g.Name, g.Price.AmountMinor, string(g.Price.Currency), g.Description)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return fmt.Errorf("category %q does not exist: %w", g.CategoryID, database.ErrNotFound)
		}
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

// AddAccounts stocks a group with provisioned accounts in one batch.
func (s *Store) AddAccounts(ctx context.Context, accounts []*Account) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, a := range accounts {
			_, err := tx.Exec(ctx, `
				INSERT INTO product_accounts (id, group_id, username, password, email, two_factor, status)
				VALUES ($1, $2, $3, $4, $5, $6, 'available')`,
				a.ID, a.GroupID, a.Username, a.Password, a.Email, a.TwoFactor)
			if err != nil {
				return fmt.Errorf("insert account: %w", err)
			}
		}
		return nil
	})
}

// ClaimAccount locks and returns one available account in the group. The
// SKIP LOCKED clause lets concurrent purchases of the same group claim
// different rows instead of serializing on the first one.
func (s *Store) ClaimAccount(ctx context.Context, q database.Querier, groupID string) (*Account, error) {
	row := q.QueryRow(ctx, `
		SELECT id, group_id, username, password, email, two_factor, status, created_at
		FROM product_accounts
		WHERE group_id = $1 AND status = 'available'
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, groupID)

	var a Account
	err := row.Scan(&a.ID, &a.GroupID, &a.Username, &a.Password, &a.Email, &a.TwoFactor, &a.Status, &a.CreatedAt)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrOutOfStock
		}
		return nil, fmt.Errorf("claim account: %w", err)
	}
	return &a, nil
}

// MarkSold flips a claimed account to sold. The caller must hold the row
// lock from ClaimAccount in the same transaction.
func (s *Store) MarkSold(ctx context.Context, q database.Querier, accountID string) error {
	tag, err := q.Exec(ctx, `
		UPDATE product_accounts SET status = 'sold'
		WHERE id = $1 AND status = 'available'`, accountID)
	if err != nil {
		return fmt.Errorf("mark account sold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s no longer available", accountID)
	}
	return nil
}

// InsertOrder records a completed purchase.
func (s *Store) InsertOrder(ctx context.Context, q database.Querier, o *Order) error {
	_, err := q.Exec(ctx, `
		INSERT INTO orders (id, user_id, group_id, account_id, transaction_id, amount_minor, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.UserID, o.GroupID, o.AccountID, o.TransactionID,
		o.Amount.AmountMinor, string(o.Amount.Currency), o.Status)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// ListOrders returns the user's orders, newest first, with the delivered
// credentials joined in.
func (s *Store) ListOrders(ctx context.Context, userID string, limit, offset int) ([]*Order, []*Account, error) {
	rows, err := s.db.Query(ctx, `
		SELECT o.id, o.user_id, o.group_id, o.account_id, o.transaction_id,
		       o.amount_minor, o.currency, o.status, o.created_at,
		       a.username, a.password, a.email, a.two_factor
		FROM orders o
		JOIN product_accounts a ON a.id = o.account_id
		WHERE o.user_id = $1
		ORDER BY o.created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var (
		orders   []*Order
		accounts []*Account
	)
	for rows.Next() {
		var (
			o           Order
			a           Account
			amountMinor int64
			currency    string
		)
		err := rows.Scan(&o.ID, &o.UserID, &o.GroupID, &o.AccountID, &o.TransactionID,
			&amountMinor, &currency, &o.Status, &o.CreatedAt,
			&a.Username, &a.Password, &a.Email, &a.TwoFactor)
		if err != nil {
			return nil, nil, fmt.Errorf("scan order: %w", err)
		}
		o.Amount = money.New(amountMinor, money.Currency(currency))
		a.ID = o.AccountID
		a.GroupID = o.GroupID
		a.Status = StatusSold
		orders = append(orders, &o)
		accounts = append(accounts, &a)
	}
	return orders, accounts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*Group, error) {
	var (
		g           Group
		amountMinor int64
		currency    string
	)
	err := row.Scan(&g.ID, &g.CategoryID, &g.Name, &amountMinor, &currency, &g.Description, &g.CreatedAt, &g.Available)
	if err != nil {
		return nil, err
	}
	g.Price = money.New(amountMinor, money.Currency(currency))
	return &g, nil
}
