package payment

import (
	"github.com/smallbiznis/clavis/internal/config"
	"github.com/smallbiznis/clavis/internal/payment/adapters"
	"github.com/smallbiznis/clavis/internal/payment/adapters/standard"
	"github.com/smallbiznis/clavis/internal/payment/adapters/stripe"
	"github.com/smallbiznis/clavis/internal/payment/repository"
	paymentservice "github.com/smallbiznis/clavis/internal/payment/service"
	"github.com/smallbiznis/clavis/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(
			standard.NewAdapter(cfg.WebhookSecret),
			stripe.NewAdapter(cfg.StripeWebhookSecret),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
