// Package domain contains the canonical payment facts consumed by the
// orchestrators.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrInvalidEvent          = errors.New("invalid_payment_event")
	ErrInvalidProvider       = errors.New("invalid_payment_provider")
	ErrInvalidPayload        = errors.New("invalid_payment_payload")
	ErrInvalidAmount         = errors.New("invalid_payment_amount")
	ErrInvalidCurrency       = errors.New("invalid_payment_currency")
	ErrEventAlreadyProcessed = errors.New("payment_event_already_processed")
	ErrUnknownIntent         = errors.New("unknown_payment_intent")
	ErrProviderNotFound      = errors.New("payment_provider_not_found")
	ErrInvalidSignature      = errors.New("invalid_webhook_signature")
	ErrEventIgnored          = errors.New("payment_event_ignored")
)

const (
	EventTypePaymentCaptured = "payment_captured"
	EventTypePaymentRefunded = "payment_refunded"
)

// EventRecord is the inbound ledger row for a gateway delivery. The unique
// (provider, provider_event_id) pair absorbs webhook redeliveries;
// ProcessedAt marks completed orchestration so a crash between insert and
// completion retries cleanly.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:text;not null;uniqueIndex:ux_payment_provider_event"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex:ux_payment_provider_event"`
	EventType       string         `gorm:"type:text;not null"`
	PaymentID       string         `gorm:"type:text;not null;index"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     `gorm:""`
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "payment_events" }

// PaymentEvent is the canonical payment fact parsed by gateway adapters.
// IntentReference ties a capture back to the command that priced it; refunds
// carry only the payment id.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	PaymentID       string
	IntentReference string
	Amount          int64
	Currency        string
	OccurredAt      time.Time
}
