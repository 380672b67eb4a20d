// Package standard parses the first-party gateway's webhook format.
package standard

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/clavis/internal/payment/domain"
)

const signatureHeader = "X-Webhook-Signature"

type Adapter struct {
	webhookSecret string
}

func NewAdapter(webhookSecret string) *Adapter {
	return &Adapter{webhookSecret: strings.TrimSpace(webhookSecret)}
}

func (a *Adapter) Provider() string { return "standard" }

type webhookEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	PaymentID  string         `json:"payment_id"`
	Amount     int64          `json:"amount"`
	Currency   string         `json:"currency"`
	OccurredAt time.Time      `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata"`
}

func (a *Adapter) Parse(payload []byte, headers http.Header) (*paymentdomain.PaymentEvent, error) {
	if err := a.verify(payload, headers); err != nil {
		return nil, err
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType string
	switch strings.TrimSpace(event.Type) {
	case "payment.captured":
		eventType = paymentdomain.EventTypePaymentCaptured
	case "payment.refunded":
		eventType = paymentdomain.EventTypePaymentRefunded
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &paymentdomain.PaymentEvent{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Type:            eventType,
		PaymentID:       event.PaymentID,
		IntentReference: metadataString(event.Metadata, "intent_reference"),
		Amount:          event.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(event.Currency)),
		OccurredAt:      occurredAt,
	}, nil
}

func (a *Adapter) verify(payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return nil
	}
	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, _ := metadata[key].(string)
	return strings.TrimSpace(value)
}
