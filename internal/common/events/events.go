// Package events defines the domain event envelope and payloads published
// over NATS so listening views can refresh balances and transaction lists.
package events

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// NATS subjects for storefront events
const (
	SubjectTopUpInitiated = "wallet.topup.initiated"
	SubjectTopUpCredited  = "wallet.topup.credited"
	SubjectTopUpDuplicate = "wallet.topup.duplicate"
	SubjectTopUpFailed    = "wallet.topup.failed"
	SubjectWalletDebited  = "wallet.debited"
	SubjectOrderCompleted = "store.order.completed"
)

// EventType identifies the type of event.
type EventType string

const (
	EventTopUpInitiated EventType = "wallet.topup.initiated"
	EventTopUpCredited  EventType = "wallet.topup.credited"
	EventTopUpDuplicate EventType = "wallet.topup.duplicate"
	EventTopUpFailed    EventType = "wallet.topup.failed"
	EventWalletDebited  EventType = "wallet.debited"
	EventOrderCompleted EventType = "store.order.completed"
)

// Envelope wraps all events with common metadata.
type Envelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	UserID        string          `json:"user_id"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope creates a new event envelope.
func NewEnvelope(eventType EventType, userID, correlationID string, data any) (*Envelope, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:            ulid.Make().String(),
		Type:          eventType,
		UserID:        userID,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Data:          jsonData,
	}, nil
}

// DecodeData decodes the event data into a struct.
func (e *Envelope) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// TopUpInitiatedEvent is published when a checkout session is opened.
type TopUpInitiatedEvent struct {
	Reference   string `json:"reference"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	CheckoutURL string `json:"checkout_url"`
}

// TopUpCreditedEvent is published after a verified top-up is applied.
type TopUpCreditedEvent struct {
	Reference        string `json:"reference"`
	GatewayReference string `json:"gateway_reference,omitempty"`
	AmountMinor      int64  `json:"amount_minor"`
	Currency         string `json:"currency"`
	NewBalanceMinor  int64  `json:"new_balance_minor"`
	CreditedBy       string `json:"credited_by"` // "client" or "webhook"
}

// TopUpDuplicateEvent is published when a verified top-up was found already
// applied by the other writer. No balance change accompanies it.
type TopUpDuplicateEvent struct {
	Reference        string `json:"reference"`
	GatewayReference string `json:"gateway_reference,omitempty"`
	AmountMinor      int64  `json:"amount_minor"`
}

// TopUpFailedEvent is published on a confirmed gateway failure.
type TopUpFailedEvent struct {
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

// WalletDebitedEvent is published when a purchase debits the wallet.
type WalletDebitedEvent struct {
	TransactionID   string `json:"transaction_id"`
	AmountMinor     int64  `json:"amount_minor"`
	NewBalanceMinor int64  `json:"new_balance_minor"`
}

// OrderCompletedEvent is published when a purchase allocates an account.
type OrderCompletedEvent struct {
	OrderID     string `json:"order_id"`
	GroupID     string `json:"group_id"`
	AccountID   string `json:"account_id"`
	AmountMinor int64  `json:"amount_minor"`
}
