package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_poll_ticks_total",
		Help: "Poll interval ticks fired while an intent was tracked.",
	})
	focusChecks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_focus_checks_total",
		Help: "Checks triggered by a window focus event after debounce.",
	})
	checksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_checks_skipped_total",
		Help: "Checks skipped because another check was in flight.",
	})
	verifiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_verifies_total",
		Help: "Gateway verification calls by outcome.",
	}, []string{"status"})
	creditsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_credits_total",
		Help: "Top-ups credited by this client.",
	})
	duplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_duplicates_total",
		Help: "Verified top-ups found already credited by the other writer.",
	})
	creditRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_credit_retries_total",
		Help: "Credit attempts that failed transiently and will be retried.",
	})
	abandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_intents_abandoned_total",
		Help: "Intents discarded after exceeding the age ceiling.",
	})
)
