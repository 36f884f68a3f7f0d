// Package notify sends transactional email through an external delivery
// API. Delivery is fire-and-forget: a failed send is logged and dropped,
// never surfaced to the purchase or top-up path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tallystore/internal/common/money"
)

// Config holds email delivery configuration.
type Config struct {
	BaseURL string        `envconfig:"EMAIL_BASE_URL"`
	APIKey  string        `envconfig:"EMAIL_API_KEY"`
	From    string        `envconfig:"EMAIL_FROM" default:"no-reply@tallystore.app"`
	Timeout time.Duration `envconfig:"EMAIL_TIMEOUT" default:"10s"`
}

// Enabled reports whether delivery is configured.
func (c Config) Enabled() bool {
	return c.BaseURL != ""
}

// Mailer sends transactional email.
type Mailer struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewMailer creates a mailer. A mailer built from an unconfigured Config
// silently drops everything.
func NewMailer(cfg Config, logger *slog.Logger) *Mailer {
	return &Mailer{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// TopUpReceipt mails a credit confirmation.
func (m *Mailer) TopUpReceipt(ctx context.Context, email string, amount, newBalance money.Money) {
	subject := "Wallet top-up confirmed"
	text := fmt.Sprintf("Your wallet was credited with %s. New balance: %s.", amount, newBalance)
	m.send(ctx, email, subject, text)
}

// OrderReceipt mails the purchased credentials reference.
func (m *Mailer) OrderReceipt(ctx context.Context, email, orderID string, amount money.Money) {
	subject := "Your order is ready"
	text := fmt.Sprintf("Order %s is complete (%s). Log in to view your account credentials.", orderID, amount)
	m.send(ctx, email, subject, text)
}

func (m *Mailer) send(ctx context.Context, to, subject, text string) {
	if !m.config.Enabled() {
		return
	}

	body, err := json.Marshal(sendRequest{
		From:    m.config.From,
		To:      to,
		Subject: subject,
		Text:    text,
	})
	if err != nil {
		m.logger.Error("failed to marshal email", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		m.logger.Error("failed to build email request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.config.APIKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn("email delivery failed", "to", to, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		m.logger.Warn("email delivery rejected", "to", to, "status", resp.StatusCode)
		return
	}
	m.logger.Debug("email sent", "to", to, "subject", subject)
}
