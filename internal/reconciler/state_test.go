package reconciler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tallystore/internal/common/money"
)

func openTestState(t *testing.T) *SQLiteState {
	t.Helper()
	state, err := OpenState(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	t.Cleanup(func() { state.Close() })
	return state
}

func TestStateIntentRoundTrip(t *testing.T) {
	ctx := context.Background()
	state := openTestState(t)

	got, err := state.PendingIntent(ctx)
	if err != nil {
		t.Fatalf("pending intent: %v", err)
	}
	if got != nil {
		t.Fatal("fresh store must have an empty slot")
	}

	created := time.Now().Add(-90 * time.Second).Truncate(time.Millisecond)
	intent := &Intent{
		TransactionReference: "TS-STATE-1",
		Amount:               money.Naira(2500),
		CreatedAt:            created,
	}
	if err := state.SaveIntent(ctx, intent); err != nil {
		t.Fatalf("save intent: %v", err)
	}

	got, err = state.PendingIntent(ctx)
	if err != nil {
		t.Fatalf("pending intent: %v", err)
	}
	if got == nil {
		t.Fatal("expected a persisted intent")
	}
	if got.TransactionReference != intent.TransactionReference {
		t.Fatalf("reference = %q, want %q", got.TransactionReference, intent.TransactionReference)
	}
	if !got.Amount.Equal(intent.Amount) {
		t.Fatalf("amount = %s, want %s", got.Amount, intent.Amount)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created at = %v, want %v", got.CreatedAt, created)
	}
}

func TestStateSaveReplacesSlot(t *testing.T) {
	ctx := context.Background()
	state := openTestState(t)

	first := &Intent{TransactionReference: "TS-A", Amount: money.Naira(100), CreatedAt: time.Now()}
	second := &Intent{TransactionReference: "TS-B", Amount: money.Naira(200), CreatedAt: time.Now()}

	if err := state.SaveIntent(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := state.SaveIntent(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := state.PendingIntent(ctx)
	if err != nil {
		t.Fatalf("pending intent: %v", err)
	}
	if got.TransactionReference != "TS-B" {
		t.Fatalf("reference = %q, want TS-B (slot holds one intent)", got.TransactionReference)
	}
}

func TestStateClearIntent(t *testing.T) {
	ctx := context.Background()
	state := openTestState(t)

	if err := state.ClearIntent(ctx); err != nil {
		t.Fatalf("clearing an empty slot: %v", err)
	}

	intent := &Intent{TransactionReference: "TS-C", Amount: money.Naira(100), CreatedAt: time.Now()}
	if err := state.SaveIntent(ctx, intent); err != nil {
		t.Fatalf("save intent: %v", err)
	}
	if err := state.ClearIntent(ctx); err != nil {
		t.Fatalf("clear intent: %v", err)
	}
	got, err := state.PendingIntent(ctx)
	if err != nil {
		t.Fatalf("pending intent: %v", err)
	}
	if got != nil {
		t.Fatal("slot must be empty after clear")
	}
}

func TestStateProcessedReferences(t *testing.T) {
	ctx := context.Background()
	state := openTestState(t)

	ok, err := state.IsProcessed(ctx, "TS-D")
	if err != nil {
		t.Fatalf("is processed: %v", err)
	}
	if ok {
		t.Fatal("unknown reference must not be processed")
	}

	if err := state.MarkProcessed(ctx, "TS-D"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if err := state.MarkProcessed(ctx, "TS-D"); err != nil {
		t.Fatalf("marking twice must be a no-op, got: %v", err)
	}

	ok, err = state.IsProcessed(ctx, "TS-D")
	if err != nil {
		t.Fatalf("is processed: %v", err)
	}
	if !ok {
		t.Fatal("marked reference must be processed")
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agent.db")

	state, err := OpenState(path)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	intent := &Intent{TransactionReference: "TS-E", Amount: money.Naira(300), CreatedAt: time.Now()}
	if err := state.SaveIntent(ctx, intent); err != nil {
		t.Fatalf("save intent: %v", err)
	}
	if err := state.MarkProcessed(ctx, "TS-OLD"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	state.Close()

	reopened, err := OpenState(path)
	if err != nil {
		t.Fatalf("reopen state: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.PendingIntent(ctx)
	if err != nil {
		t.Fatalf("pending intent: %v", err)
	}
	if got == nil || got.TransactionReference != "TS-E" {
		t.Fatal("intent must survive a restart")
	}
	ok, err := reopened.IsProcessed(ctx, "TS-OLD")
	if err != nil {
		t.Fatalf("is processed: %v", err)
	}
	if !ok {
		t.Fatal("processed set must survive a restart")
	}
}
