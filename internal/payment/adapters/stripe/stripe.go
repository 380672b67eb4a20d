// Package stripe parses Stripe webhook deliveries into canonical facts.
package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/clavis/internal/payment/domain"
)

type Adapter struct {
	webhookSecret string
}

func NewAdapter(webhookSecret string) *Adapter {
	return &Adapter{webhookSecret: strings.TrimSpace(webhookSecret)}
}

func (a *Adapter) Provider() string { return "stripe" }

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripePaymentIntent struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Created  int64             `json:"created"`
	Metadata map[string]string `json:"metadata"`
}

type stripeCharge struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	AmountRefunded int64            `json:"amount_refunded"`
	Currency      string            `json:"currency"`
	Created       int64             `json:"created"`
	Metadata      map[string]string `json:"metadata"`
}

func (a *Adapter) Parse(payload []byte, headers http.Header) (*paymentdomain.PaymentEvent, error) {
	if err := a.verify(payload, headers); err != nil {
		return nil, err
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		return a.parsePaymentIntent(event)
	case "charge.refunded":
		return a.parseRefund(event)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

func (a *Adapter) parsePaymentIntent(event stripeEvent) (*paymentdomain.PaymentEvent, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.PaymentEvent{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Type:            paymentdomain.EventTypePaymentCaptured,
		PaymentID:       intent.ID,
		IntentReference: strings.TrimSpace(intent.Metadata["intent_reference"]),
		Amount:          intent.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(intent.Currency)),
		OccurredAt:      timestamp(intent.Created, event.Created),
	}, nil
}

func (a *Adapter) parseRefund(event stripeEvent) (*paymentdomain.PaymentEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	paymentID := strings.TrimSpace(charge.PaymentIntent)
	if paymentID == "" {
		paymentID = strings.TrimSpace(charge.ID)
	}
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.PaymentEvent{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Type:            paymentdomain.EventTypePaymentRefunded,
		PaymentID:       paymentID,
		Amount:          charge.AmountRefunded,
		Currency:        strings.ToUpper(strings.TrimSpace(charge.Currency)),
		OccurredAt:      timestamp(charge.Created, event.Created),
	}, nil
}

func (a *Adapter) verify(payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return nil
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestampPart, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestampPart, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestampPart string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestampPart = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestampPart == "" || len(signatures) == 0 {
		return "", nil, paymentdomain.ErrInvalidSignature
	}
	return timestampPart, signatures, nil
}

func timestamp(primary, fallback int64) time.Time {
	if primary > 0 {
		return time.Unix(primary, 0).UTC()
	}
	if fallback > 0 {
		return time.Unix(fallback, 0).UTC()
	}
	return time.Now().UTC()
}
