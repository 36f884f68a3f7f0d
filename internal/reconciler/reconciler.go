// Package reconciler tracks one outstanding wallet top-up, verifies it
// against the payment gateway, and applies exactly one credit.
//
// Two uncoordinated writers watch the same payment: this client-resident
// reconciler and the gateway's server-side webhook. There is no shared lock
// between them; correctness rests on the ledger's uniqueness constraint on
// (user, reference), checked immediately before every credit. The recent-
// transaction scan here is a best-effort supplement, not the mechanism.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tallystore/internal/common/events"
	"tallystore/internal/common/money"
	"tallystore/internal/paygate"
	"tallystore/internal/wallet"
)

// Intent is the single tracked top-up attempt. At most one is tracked per
// agent at a time; it is persisted locally so a restart resumes polling.
type Intent struct {
	TransactionReference string      `json:"transactionReference"`
	Amount               money.Money `json:"amount"`
	CreatedAt            time.Time   `json:"timestamp"`
}

// Expired reports whether the intent exceeded the age ceiling and should be
// treated as abandoned.
func (i *Intent) Expired(now time.Time, maxAge time.Duration) bool {
	return now.Sub(i.CreatedAt) > maxAge
}

// Verifier is the gateway verification contract.
type Verifier interface {
	Verify(ctx context.Context, reference string) (*paygate.VerifyResult, error)
}

// Wallet is the slice of the wallet service the reconciler needs.
type Wallet interface {
	ListRecentTransactions(ctx context.Context, userID string, since time.Time, limit int) ([]*wallet.Transaction, error)
	ApplyTopUp(ctx context.Context, userID string, amount money.Money, reference, gatewayReference, creditedBy string) (*wallet.Transaction, error)
}

// StateStore persists the intent slot and the processed-reference set.
// Membership in the processed set is terminal: once a reference is added it
// is never verified or credited again by this client.
type StateStore interface {
	PendingIntent(ctx context.Context) (*Intent, error)
	SaveIntent(ctx context.Context, intent *Intent) error
	ClearIntent(ctx context.Context) error
	IsProcessed(ctx context.Context, reference string) (bool, error)
	MarkProcessed(ctx context.Context, reference string) error
}

// Notifier surfaces reconciliation outcomes to the user.
type Notifier interface {
	TopUpCredited(amount, newBalance money.Money)
	TopUpAlreadyApplied(reference string)
	TopUpFailed(reference string)
	TopUpNeedsSupport(reference string, err error)
}

// Publisher publishes domain events. Nil disables publishing.
type Publisher interface {
	Publish(ctx context.Context, subject string, env *events.Envelope) error
}

// Config holds reconciler tuning.
type Config struct {
	PollInterval  time.Duration `envconfig:"RECONCILER_POLL_INTERVAL" default:"10s"`
	FocusDebounce time.Duration `envconfig:"RECONCILER_FOCUS_DEBOUNCE" default:"800ms"`
	IntentMaxAge  time.Duration `envconfig:"RECONCILER_INTENT_MAX_AGE" default:"30m"`
	// DuplicateWindow and AmountEpsilonMinor tune the amount+time duplicate
	// heuristic. Placeholders, not guarantees: the ledger constraint is what
	// actually prevents a double credit.
	DuplicateWindow    time.Duration `envconfig:"RECONCILER_DUPLICATE_WINDOW" default:"10m"`
	AmountEpsilonMinor int64         `envconfig:"RECONCILER_AMOUNT_EPSILON" default:"100"`
	RecentScanLimit    int           `envconfig:"RECONCILER_RECENT_SCAN_LIMIT" default:"20"`
}

// DefaultConfig returns the default reconciler tuning.
func DefaultConfig() Config {
	return Config{
		PollInterval:       10 * time.Second,
		FocusDebounce:      800 * time.Millisecond,
		IntentMaxAge:       30 * time.Minute,
		DuplicateWindow:    10 * time.Minute,
		AmountEpsilonMinor: 100,
		RecentScanLimit:    20,
	}
}

// Reconciler drives the top-up state machine for one user.
type Reconciler struct {
	cfg       Config
	userID    string
	gateway   Verifier
	wallet    Wallet
	state     StateStore
	notifier  Notifier
	publisher Publisher
	logger    *slog.Logger

	// busy serializes the critical section between the poll tick and the
	// focus handler: whichever fires second no-ops instead of queueing.
	busy atomic.Bool

	// supportNotified suppresses repeat support toasts for one reference.
	// Only touched inside the busy section.
	supportNotified string

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	focusMu    sync.Mutex
	focusTimer *time.Timer

	now func() time.Time
}

// New creates a reconciler for the given user.
func New(cfg Config, userID string, gateway Verifier, w Wallet, state StateStore, notifier Notifier, publisher Publisher, logger *slog.Logger) *Reconciler {
	if cfg.PollInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Reconciler{
		cfg:       cfg,
		userID:    userID,
		gateway:   gateway,
		wallet:    w,
		state:     state,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Track persists a new intent and starts the poll loop. Only one intent is
// tracked at a time; a new one replaces the slot.
func (r *Reconciler) Track(ctx context.Context, intent *Intent) error {
	if err := r.state.SaveIntent(ctx, intent); err != nil {
		return err
	}
	r.logger.Info("tracking top-up intent",
		"reference", intent.TransactionReference,
		"amount", intent.Amount.AmountMinor,
	)
	r.startLoop(ctx)
	return nil
}

// Resume restarts polling for an intent persisted by a previous run, if any.
func (r *Reconciler) Resume(ctx context.Context) error {
	intent, err := r.state.PendingIntent(ctx)
	if err != nil {
		return err
	}
	if intent == nil {
		return nil
	}
	r.logger.Info("resuming persisted top-up intent",
		"reference", intent.TransactionReference,
		"age", r.now().Sub(intent.CreatedAt).Round(time.Second).String(),
	)
	r.startLoop(ctx)
	return nil
}

// Focus performs one check after a short debounce, for the moment the user
// returns from the hosted checkout page. If a poll tick is mid-flight the
// check no-ops.
func (r *Reconciler) Focus(ctx context.Context) {
	r.focusMu.Lock()
	defer r.focusMu.Unlock()

	if r.focusTimer != nil {
		r.focusTimer.Stop()
	}
	r.focusTimer = time.AfterFunc(r.cfg.FocusDebounce, func() {
		focusChecks.Inc()
		r.CheckOnce(ctx, "focus")
	})
}

// Stop cancels the poll loop and any pending focus check.
func (r *Reconciler) Stop() {
	r.focusMu.Lock()
	if r.focusTimer != nil {
		r.focusTimer.Stop()
	}
	r.focusMu.Unlock()

	r.loopMu.Lock()
	cancel, done := r.loopCancel, r.loopDone
	r.loopMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// startLoop launches the poll goroutine if one is not already running.
func (r *Reconciler) startLoop(ctx context.Context) {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.loopCancel != nil {
		select {
		case <-r.loopDone:
			// previous loop finished; fall through and restart
		default:
			return
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.loopCancel = cancel
	r.loopDone = done

	go func() {
		defer close(done)
		r.run(loopCtx)
	}()
}

// run fires one check per poll interval until the intent reaches a terminal
// state or the context is cancelled. The ticker never outlives the intent.
func (r *Reconciler) run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pollTicks.Inc()
			if done := r.CheckOnce(ctx, "poll"); done {
				return
			}
		}
	}
}

// CheckOnce runs a single reconciliation attempt. It returns true when there
// is nothing left to poll for (no intent, or the intent reached a terminal
// state). Concurrent calls no-op: the busy guard admits one at a time and is
// released on every path.
func (r *Reconciler) CheckOnce(ctx context.Context, origin string) (done bool) {
	if !r.busy.CompareAndSwap(false, true) {
		checksSkipped.Inc()
		r.logger.Debug("check already in progress, skipping", "origin", origin)
		return false
	}
	defer r.busy.Store(false)

	intent, err := r.state.PendingIntent(ctx)
	if err != nil {
		r.logger.Error("failed to load pending intent", "error", err)
		return false
	}
	if intent == nil {
		return true
	}

	ref := intent.TransactionReference

	processed, err := r.state.IsProcessed(ctx, ref)
	if err != nil {
		r.logger.Error("failed to read processed set", "error", err, "reference", ref)
		return false
	}
	if processed {
		// Terminal fact: never reprocess. Clear the stale slot.
		r.clearIntent(ctx, ref)
		return true
	}

	if intent.Expired(r.now(), r.cfg.IntentMaxAge) {
		// Abandoned: discard silently, without another verify call.
		abandonedTotal.Inc()
		r.logger.Info("top-up intent abandoned",
			"reference", ref,
			"age", r.now().Sub(intent.CreatedAt).Round(time.Second).String(),
		)
		r.clearIntent(ctx, ref)
		return true
	}

	result, err := r.gateway.Verify(ctx, ref)
	if err != nil {
		if errors.Is(err, paygate.ErrNotFound) {
			verifiesTotal.WithLabelValues("not_found").Inc()
			r.logger.Warn("gateway does not know reference yet", "reference", ref)
		} else {
			verifiesTotal.WithLabelValues("transient_error").Inc()
			r.logger.Warn("verify failed, will retry", "reference", ref, "error", err)
		}
		return false
	}
	verifiesTotal.WithLabelValues(string(result.Status)).Inc()

	switch result.Status {
	case paygate.StatusPending:
		return false

	case paygate.StatusFailed:
		r.logger.Info("top-up confirmed failed by gateway", "reference", ref)
		r.clearIntent(ctx, ref)
		if r.notifier != nil {
			r.notifier.TopUpFailed(ref)
		}
		r.publishFailed(ctx, ref)
		return true

	case paygate.StatusSuccess:
		return r.settle(ctx, intent, result)

	default:
		// Unexplained gateway response: keep the intent for manual
		// follow-up and point the user at support, once.
		if r.notifier != nil && r.supportNotified != ref {
			r.supportNotified = ref
			r.notifier.TopUpNeedsSupport(ref, errors.New("unrecognized gateway verification response"))
		}
		return false
	}
}

// settle runs the duplicate check and, if clean, applies the credit. The
// duplicate check must complete with a negative result before any credit is
// attempted; there is no compensating rollback.
func (r *Reconciler) settle(ctx context.Context, intent *Intent, result *paygate.VerifyResult) (done bool) {
	ref := intent.TransactionReference

	since := r.now().Add(-r.cfg.DuplicateWindow)
	recent, err := r.wallet.ListRecentTransactions(ctx, r.userID, since, r.cfg.RecentScanLimit)
	if err != nil {
		r.logger.Warn("duplicate scan failed, will retry", "reference", ref, "error", err)
		return false
	}

	if dup := r.findDuplicate(recent, intent, result); dup != nil {
		duplicatesTotal.Inc()
		r.logger.Info("top-up already credited, skipping",
			"reference", ref,
			"matched_transaction", dup.ID,
		)
		r.finishProcessed(ctx, ref)
		if r.notifier != nil {
			r.notifier.TopUpAlreadyApplied(ref)
		}
		r.publishDuplicate(ctx, ref, result)
		return true
	}

	amount := result.Amount
	if !amount.IsPositive() {
		amount = intent.Amount
	}
	if !amount.Equal(intent.Amount) {
		r.logger.Warn("verified amount differs from intent",
			"reference", ref,
			"intent_amount", intent.Amount.AmountMinor,
			"verified_amount", amount.AmountMinor,
		)
	}

	tx, err := r.wallet.ApplyTopUp(ctx, r.userID, amount, ref, result.GatewayReference, "client")
	if err != nil {
		if errors.Is(err, wallet.ErrDuplicateReference) {
			// The webhook won the race between our scan and our insert. The
			// constraint rejection is authoritative: finish bookkeeping.
			duplicatesTotal.Inc()
			r.logger.Info("credit rejected as duplicate by ledger", "reference", ref)
			r.finishProcessed(ctx, ref)
			if r.notifier != nil {
				r.notifier.TopUpAlreadyApplied(ref)
			}
			r.publishDuplicate(ctx, ref, result)
			return true
		}
		// Transient: the reference stays unprocessed so the next tick
		// retries the credit.
		creditRetries.Inc()
		r.logger.Warn("credit failed, will retry", "reference", ref, "error", err)
		return false
	}

	creditsTotal.Inc()
	r.logger.Info("top-up credited",
		"reference", ref,
		"amount", tx.Amount.AmountMinor,
		"new_balance", tx.BalanceAfter.AmountMinor,
	)
	r.finishProcessed(ctx, ref)
	if r.notifier != nil {
		r.notifier.TopUpCredited(tx.Amount, tx.BalanceAfter)
	}
	return true
}

// findDuplicate scans recent ledger rows for evidence this payment was
// already credited. A row matches on reference, on the gateway's settlement
// reference, or heuristically on amount within epsilon inside the duplicate
// window. The amount rule can conflate two genuine same-amount top-ups
// placed close together; it errs toward not double-crediting and the first
// of the pair is always credited.
func (r *Reconciler) findDuplicate(recent []*wallet.Transaction, intent *Intent, result *paygate.VerifyResult) *wallet.Transaction {
	cutoff := r.now().Add(-r.cfg.DuplicateWindow)

	for _, tx := range recent {
		if tx.Type != wallet.TypeTopUp {
			continue
		}
		if tx.Reference != "" && tx.Reference == intent.TransactionReference {
			return tx
		}
		if result.GatewayReference != "" && tx.GatewayReference == result.GatewayReference {
			return tx
		}
		if tx.Amount.WithinEpsilon(result.Amount, r.cfg.AmountEpsilonMinor) && tx.CreatedAt.After(cutoff) {
			return tx
		}
	}
	return nil
}

// finishProcessed records the terminal fact and frees the intent slot.
func (r *Reconciler) finishProcessed(ctx context.Context, reference string) {
	if err := r.state.MarkProcessed(ctx, reference); err != nil {
		// The ledger constraint still blocks a re-credit; this only risks a
		// redundant verify after restart.
		r.logger.Error("failed to persist processed reference", "error", err, "reference", reference)
	}
	r.clearIntent(ctx, reference)
}

func (r *Reconciler) clearIntent(ctx context.Context, reference string) {
	if err := r.state.ClearIntent(ctx); err != nil {
		r.logger.Error("failed to clear intent slot", "error", err, "reference", reference)
	}
}

func (r *Reconciler) publishDuplicate(ctx context.Context, reference string, result *paygate.VerifyResult) {
	if r.publisher == nil {
		return
	}
	event := &events.TopUpDuplicateEvent{
		Reference:        reference,
		GatewayReference: result.GatewayReference,
		AmountMinor:      result.Amount.AmountMinor,
	}
	if env, err := events.NewEnvelope(events.EventTopUpDuplicate, r.userID, reference, event); err == nil {
		if err := r.publisher.Publish(ctx, events.SubjectTopUpDuplicate, env); err != nil {
			r.logger.Warn("failed to publish duplicate event", "error", err)
		}
	}
}

func (r *Reconciler) publishFailed(ctx context.Context, reference string) {
	if r.publisher == nil {
		return
	}
	event := &events.TopUpFailedEvent{Reference: reference}
	if env, err := events.NewEnvelope(events.EventTopUpFailed, r.userID, reference, event); err == nil {
		if err := r.publisher.Publish(ctx, events.SubjectTopUpFailed, env); err != nil {
			r.logger.Warn("failed to publish failed event", "error", err)
		}
	}
}
