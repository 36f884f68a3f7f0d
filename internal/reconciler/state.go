package reconciler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"tallystore/internal/common/money"
)

// SQLiteState persists reconciler state in a local SQLite file so an intent
// survives agent restarts. The pending_topup table holds at most one row;
// processed_references is append-only.
type SQLiteState struct {
	db *sql.DB
	mu sync.Mutex
}

const stateSchema = `
CREATE TABLE IF NOT EXISTS pending_topup (
	slot INTEGER PRIMARY KEY CHECK (slot = 1),
	reference TEXT NOT NULL,
	amount_minor INTEGER NOT NULL,
	currency TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_references (
	reference TEXT PRIMARY KEY,
	processed_at_ms INTEGER NOT NULL
);
`

// OpenState opens (or creates) the state database at path.
func OpenState(path string) (*SQLiteState, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// Single writer; serialize at the pool level too.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(stateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply state schema: %w", err)
	}
	return &SQLiteState{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteState) Close() error {
	return s.db.Close()
}

// PendingIntent returns the tracked intent, or nil when the slot is empty.
func (s *SQLiteState) PendingIntent(ctx context.Context) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT reference, amount_minor, currency, created_at_ms FROM pending_topup WHERE slot = 1")

	var (
		intent      Intent
		amountMinor int64
		currency    string
		createdMs   int64
	)
	err := row.Scan(&intent.TransactionReference, &amountMinor, &currency, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending intent: %w", err)
	}
	intent.Amount = money.New(amountMinor, money.Currency(currency))
	intent.CreatedAt = time.UnixMilli(createdMs)
	return &intent, nil
}

// SaveIntent writes the intent into the single slot, replacing any previous
// one.
func (s *SQLiteState) SaveIntent(ctx context.Context, intent *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_topup (slot, reference, amount_minor, currency, created_at_ms)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (slot) DO UPDATE SET
			reference = excluded.reference,
			amount_minor = excluded.amount_minor,
			currency = excluded.currency,
			created_at_ms = excluded.created_at_ms`,
		intent.TransactionReference,
		intent.Amount.AmountMinor,
		string(intent.Amount.Currency),
		intent.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save intent: %w", err)
	}
	return nil
}

// ClearIntent empties the slot. Clearing an already empty slot is not an
// error.
func (s *SQLiteState) ClearIntent(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM pending_topup WHERE slot = 1"); err != nil {
		return fmt.Errorf("clear intent: %w", err)
	}
	return nil
}

// IsProcessed reports whether the reference was already settled.
func (s *SQLiteState) IsProcessed(ctx context.Context, reference string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM processed_references WHERE reference = ?", reference).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed reference: %w", err)
	}
	return true, nil
}

// MarkProcessed records the reference as settled. Marking twice is a no-op.
func (s *SQLiteState) MarkProcessed(ctx context.Context, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO processed_references (reference, processed_at_ms) VALUES (?, ?)",
		reference, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("mark reference processed: %w", err)
	}
	return nil
}
