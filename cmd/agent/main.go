// The agent is the client-resident half of wallet funding. It opens checkout
// sessions, then polls the gateway until the payment settles and credits the
// wallet, racing the server-side webhook. SIGHUP stands in for the browser's
// focus event and triggers an immediate check.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tallystore/internal/common/database"
	"tallystore/internal/common/money"
	"tallystore/internal/paygate"
	"tallystore/internal/reconciler"
	"tallystore/internal/wallet"
)

// Config holds agent configuration
type Config struct {
	UserID    string `envconfig:"AGENT_USER_ID" required:"true"`
	StatePath string `envconfig:"AGENT_STATE_PATH" default:"tallystore-agent.db"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// MetricsAddr exposes /metrics when set, e.g. ":9091".
	MetricsAddr string `envconfig:"AGENT_METRICS_ADDR"`

	// CheckoutRedirectURL is passed to the gateway when opening a session.
	CheckoutRedirectURL string `envconfig:"CHECKOUT_REDIRECT_URL" default:"http://localhost:3000/wallet"`

	Database   database.Config
	PayGate    paygate.Config
	Reconciler reconciler.Config
}

func main() {
	amount := flag.Int64("amount", 0, "open a checkout session for this many naira, then track it")
	flag.Parse()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	state, err := reconciler.OpenState(cfg.StatePath)
	if err != nil {
		logger.Error("failed to open state database", "error", err, "path", cfg.StatePath)
		os.Exit(1)
	}
	defer state.Close()

	gateway := paygate.NewClient(cfg.PayGate, logger)
	walletService := wallet.NewService(db, nil, logger)

	rec := reconciler.New(
		cfg.Reconciler,
		cfg.UserID,
		gateway,
		walletService,
		state,
		&reconciler.LogNotifier{Logger: logger},
		nil,
		logger,
	)

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	if *amount > 0 {
		if err := openCheckout(ctx, cfg, gateway, walletService, rec, *amount); err != nil {
			logger.Error("failed to open checkout session", "error", err)
			os.Exit(1)
		}
	} else if err := rec.Resume(ctx); err != nil {
		logger.Error("failed to resume tracked intent", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			logger.Info("focus signal received, probing gateway")
			rec.Focus(ctx)
			continue
		}
		logger.Info("shutting down", "signal", sig)
		break
	}

	rec.Stop()
	cancel()
	logger.Info("agent stopped")
}

func openCheckout(ctx context.Context, cfg Config, gateway *paygate.Client, walletService *wallet.Service, rec *reconciler.Reconciler, naira int64) error {
	profile, err := walletService.GetProfile(ctx, cfg.UserID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	amount := money.Naira(naira)
	resp, err := gateway.Initiate(ctx, &paygate.InitiateRequest{
		Amount:        amount,
		CustomerEmail: profile.Email,
		CustomerName:  profile.FullName,
		RedirectURL:   cfg.CheckoutRedirectURL,
		Metadata:      map[string]string{"user_id": cfg.UserID},
	})
	if err != nil {
		return err
	}

	fmt.Printf("Checkout session opened for %s\n", amount)
	fmt.Printf("Pay at: %s\n", resp.CheckoutURL)
	fmt.Printf("Reference: %s\n", resp.TransactionReference)

	return rec.Track(ctx, &reconciler.Intent{
		TransactionReference: resp.TransactionReference,
		Amount:               amount,
		CreatedAt:            time.Now(),
	})
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
