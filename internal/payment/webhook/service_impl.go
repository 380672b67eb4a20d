// Package webhook ingests gateway deliveries and hands canonical facts to
// the payment orchestrators.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/smallbiznis/clavis/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/clavis/internal/payment/domain"
	paymentservice "github.com/smallbiznis/clavis/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc *paymentservice.Service
	Adapters   *adapters.Registry
}

type Service struct {
	log        *zap.Logger
	paymentSvc *paymentservice.Service
	adapters   *adapters.Registry
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
	}
}

// IngestWebhook verifies and parses one delivery, then runs it through the
// orchestrators. Ignored event types and already-processed deliveries are
// success: the gateway should not retry them.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return err
	}

	fact, err := adapter.Parse(payload, headers)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.log.Debug("webhook event ignored", zap.String("provider", provider))
			return nil
		}
		return err
	}

	if err := s.paymentSvc.ProcessEvent(ctx, fact, payload); err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			s.log.Info("webhook delivery already processed",
				zap.String("provider", provider),
				zap.String("provider_event_id", fact.ProviderEventID),
			)
			return nil
		}
		return err
	}
	return nil
}
