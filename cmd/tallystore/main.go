package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tallystore/internal/auth"
	"tallystore/internal/catalog"
	"tallystore/internal/common/database"
	"tallystore/internal/common/middleware"
	natsclient "tallystore/internal/common/nats"
	"tallystore/internal/notify"
	"tallystore/internal/paygate"
	"tallystore/internal/topup"
	"tallystore/internal/wallet"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// CheckoutRedirectURL is where the hosted checkout sends the customer
	// back after payment.
	CheckoutRedirectURL string `envconfig:"CHECKOUT_REDIRECT_URL" default:"http://localhost:3000/wallet"`
	WebhookSecret       string `envconfig:"PAYGATE_WEBHOOK_SECRET"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`

	EventsEnabled bool   `envconfig:"EVENTS_ENABLED" default:"false"`
	EventsStream  string `envconfig:"EVENTS_STREAM" default:"TALLYSTORE"`

	Database database.Config
	PayGate  paygate.Config
	Auth     auth.Config
	NATS     natsclient.Config
	Email    notify.Config
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Events are optional; the storefront works without a broker.
	var publisher wallet.Publisher
	if cfg.EventsEnabled {
		natsClient, err := natsclient.New(ctx, cfg.NATS, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()

		subjects := []string{"wallet.>", "store.>"}
		if _, err := natsClient.EnsureStream(ctx, cfg.EventsStream, subjects); err != nil {
			logger.Error("failed to ensure events stream", "error", err)
			os.Exit(1)
		}
		publisher = natsclient.NewPublisher(natsClient, logger)
	}

	authClient := auth.NewClient(cfg.Auth, logger)
	gateway := paygate.NewClient(cfg.PayGate, logger)

	mailer := notify.NewMailer(cfg.Email, logger)

	walletService := wallet.NewService(db, publisher, logger)
	if cfg.Email.Enabled() {
		walletService.WithReceipts(mailer)
	}
	catalogService := catalog.NewService(db, walletService.Store(), asCatalogPublisher(publisher), logger)

	topupHandler := topup.NewHandler(gateway, walletService, asTopupPublisher(publisher), cfg.CheckoutRedirectURL)

	var catalogReceipts catalog.Receipts
	if cfg.Email.Enabled() {
		catalogReceipts = mailer
	}
	catalogHandler := catalog.NewHandler(catalogService, catalogReceipts)
	webhookHandler := topup.NewWebhookHandler(gateway, walletService, cfg.WebhookSecret, logger)

	// On a valid session, make sure the user has a wallet row before any
	// handler runs.
	validate := func(ctx context.Context, token string) (string, string, error) {
		userID, email, err := authClient.ValidateSession(ctx, token)
		if err != nil {
			return "", "", err
		}
		if err := walletService.EnsureProfile(ctx, userID, email); err != nil {
			return "", "", err
		}
		return userID, email, nil
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// The webhook authenticates with its HMAC signature, not a session.
	r.Post("/webhooks/paygate", webhookHandler.ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(validate))
		r.Mount("/", topupHandler.Routes())
		r.Mount("/store", catalogHandler.Routes())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting tallystore",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"events_enabled", cfg.EventsEnabled,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// The package-local Publisher interfaces are identical; these adapters keep
// a nil publisher nil across the conversion.
func asCatalogPublisher(p wallet.Publisher) catalog.Publisher {
	if p == nil {
		return nil
	}
	return p
}

func asTopupPublisher(p wallet.Publisher) topup.Publisher {
	if p == nil {
		return nil
	}
	return p
}

func setupLogger(level, format string) *slog.Logger {
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

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}
