package reconciler

import (
	"log/slog"

	"tallystore/internal/common/money"
)

// LogNotifier writes reconciliation outcomes to the agent log. It stands in
// for a UI toast layer when the agent runs headless.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) TopUpCredited(amount, newBalance money.Money) {
	n.Logger.Info("wallet credited",
		"amount", amount.String(),
		"balance", newBalance.String(),
	)
}

func (n *LogNotifier) TopUpAlreadyApplied(reference string) {
	n.Logger.Info("top-up was already applied to the wallet", "reference", reference)
}

func (n *LogNotifier) TopUpFailed(reference string) {
	n.Logger.Info("payment did not complete, wallet unchanged", "reference", reference)
}

func (n *LogNotifier) TopUpNeedsSupport(reference string, err error) {
	n.Logger.Warn("payment could not be verified, contact support",
		"reference", reference,
		"error", err,
	)
}
