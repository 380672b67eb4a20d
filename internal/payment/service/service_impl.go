package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/clock"
	discountdomain "github.com/smallbiznis/clavis/internal/discount/domain"
	"github.com/smallbiznis/clavis/internal/event"
	eventdomain "github.com/smallbiznis/clavis/internal/event/domain"
	membershipdomain "github.com/smallbiznis/clavis/internal/membership/domain"
	obsmetrics "github.com/smallbiznis/clavis/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/clavis/internal/payment/domain"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           paymentdomain.Repository
	MembershipRepo membershipdomain.Repository
	Memberships    membershipdomain.Service
	Plans          plandomain.Service
	Discounts      discountdomain.Service
	Events         *event.Writer
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           paymentdomain.Repository
	membershipRepo membershipdomain.Repository
	memberships    membershipdomain.Service
	plans          plandomain.Service
	discounts      discountdomain.Service
	events         *event.Writer
	obsMetrics     *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("payment.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		membershipRepo: p.MembershipRepo,
		memberships:    p.Memberships,
		plans:          p.Plans,
		discounts:      p.Discounts,
		events:         p.Events,
		obsMetrics:     p.ObsMetrics,
	}
}

// ProcessEvent runs a canonical payment fact through the orchestrators. The
// inbound ledger row makes redelivered webhooks converge: a delivery seen
// before with processed_at set short-circuits, one seen before without it
// (crash mid-orchestration) is retried.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	if err := validateEvent(event); err != nil {
		return err
	}

	now := s.clock.Now()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		PaymentID:       event.PaymentID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}

	switch event.Type {
	case paymentdomain.EventTypePaymentCaptured:
		if err := s.settleCapture(ctx, event); err != nil {
			return err
		}
	case paymentdomain.EventTypePaymentRefunded:
		if err := s.settleRefund(ctx, event); err != nil {
			return err
		}
	default:
		return paymentdomain.ErrInvalidEvent
	}

	return s.repo.MarkProcessed(ctx, s.db, stored.ID, now)
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.Type = strings.TrimSpace(event.Type)
	event.PaymentID = strings.TrimSpace(event.PaymentID)
	if event.PaymentID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	if event.OccurredAt.IsZero() {
		return paymentdomain.ErrInvalidEvent
	}

	switch event.Type {
	case paymentdomain.EventTypePaymentCaptured:
		event.IntentReference = strings.TrimSpace(event.IntentReference)
		if event.IntentReference == "" {
			return paymentdomain.ErrInvalidEvent
		}
		// Zero is legitimate: a prorated upgrade can be fully covered by
		// the remaining credit.
		if event.Amount < 0 {
			return paymentdomain.ErrInvalidAmount
		}
		currency := strings.TrimSpace(event.Currency)
		if currency == "" {
			return paymentdomain.ErrInvalidCurrency
		}
		event.Currency = strings.ToUpper(currency)
	case paymentdomain.EventTypePaymentRefunded:
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

type grantKind string

const (
	grantKindPurchase grantKind = "purchase"
	grantKindGift     grantKind = "gift"
	grantKindUpgrade  grantKind = "upgrade"
)

// grantInstruction is the typed form of a capture's intent, decoded once so
// every later step works from the same fields.
type grantInstruction struct {
	kind            grantKind
	payerID         snowflake.ID
	beneficiaryID   snowflake.ID
	planID          snowflake.ID
	billingType     membershipdomain.BillingType
	billingInterval plandomain.BillingInterval
	discountCode    *string
	giftMessage     *string
	upgradeFromID   *snowflake.ID
}

func grantFromIntent(intent *membershipdomain.PaymentIntent) grantInstruction {
	grant := grantInstruction{
		kind:            grantKindPurchase,
		payerID:         intent.PayerID,
		beneficiaryID:   intent.BeneficiaryID,
		planID:          intent.MembershipPlanID,
		billingType:     intent.BillingType,
		billingInterval: intent.BillingInterval,
		discountCode:    intent.DiscountCode,
		giftMessage:     intent.GiftMessage,
		upgradeFromID:   intent.UpgradeFromID,
	}
	if intent.IsGift {
		grant.kind = grantKindGift
		// Gifted entitlements never auto-renew, whatever the intent says.
		grant.billingType = membershipdomain.BillingTypeOneTime
	} else if intent.UpgradeFromID != nil {
		grant.kind = grantKindUpgrade
	}
	return grant
}

func (s *Service) settleCapture(ctx context.Context, fact *paymentdomain.PaymentEvent) error {
	granted, err := s.membershipRepo.FindByPaymentID(ctx, s.db, fact.PaymentID)
	if err != nil {
		return err
	}
	if granted != nil {
		s.log.Info("capture already granted",
			zap.String("payment_id", fact.PaymentID),
			zap.String("membership_id", granted.ID.String()),
		)
		return nil
	}

	intent, err := s.membershipRepo.FindIntentByReference(ctx, s.db, fact.IntentReference)
	if err != nil {
		return err
	}
	if intent == nil {
		return paymentdomain.ErrUnknownIntent
	}
	grant := grantFromIntent(intent)

	plan, err := s.plans.GetByID(ctx, grant.planID)
	if err != nil {
		return err
	}
	// The snapshot records what the plan listed for, not what the buyer paid
	// after discounts or proration.
	listPrice, err := plan.PriceFor(grant.billingInterval)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.membershipRepo.FindByPaymentID(ctx, tx, fact.PaymentID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		superseded, err := s.membershipRepo.FindActiveForUserForUpdate(ctx, tx, grant.beneficiaryID, plan.FamilyKey)
		if err != nil {
			return err
		}

		// The quote priced the upgrade against a specific membership. If a
		// different one became active between command and capture, it is
		// replaced outright rather than credited as upgraded.
		upgraded := grant.kind == grantKindUpgrade && superseded != nil &&
			grant.upgradeFromID != nil && superseded.ID == *grant.upgradeFromID

		startsAt := fact.OccurredAt.UTC()
		endsAt := periodEnd(startsAt, grant, plan)
		if upgraded {
			// The buyer already paid through the old end date; the upgrade
			// price credited the remainder, so the period carries over.
			endsAt = superseded.EndsAt
		}

		if superseded != nil {
			reason := membershipdomain.ReasonReplacedByNewMembership
			if upgraded {
				reason = membershipdomain.ReasonUpgraded
			}
			if err := s.memberships.Transition(ctx, tx, superseded, membershipdomain.MembershipStatusCancelled, &reason, now); err != nil {
				return err
			}
		}

		granted := &membershipdomain.UserMembership{
			ID:                    s.genID.Generate(),
			UserID:                grant.beneficiaryID,
			MembershipPlanID:      plan.ID,
			FamilyKey:             plan.FamilyKey,
			RoleKey:               plan.RoleToAssign,
			BillingType:           grant.billingType,
			BillingInterval:       grant.billingInterval,
			Status:                membershipdomain.MembershipStatusActive,
			StartsAt:              startsAt,
			EndsAt:                endsAt,
			OriginalPriceAmount:   listPrice.Amount,
			OriginalPriceCurrency: listPrice.Currency,
			PaymentID:             fact.PaymentID,
			GiftMessage:           grant.giftMessage,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if grant.kind == grantKindGift {
			gifter := grant.payerID
			granted.GiftedByUserID = &gifter
		}
		if err := s.membershipRepo.Insert(ctx, tx, granted); err != nil {
			return err
		}

		if grant.discountCode != nil && *grant.discountCode != "" {
			if _, err := s.discounts.RedeemByCode(ctx, tx, *grant.discountCode, fact.PaymentID); err != nil {
				if !errors.Is(err, discountdomain.ErrNotFound) {
					return err
				}
				// The code disappeared between command and capture; the
				// charge already settled, so the grant proceeds unrecorded.
				s.log.Warn("discount code missing at capture",
					zap.String("code", *grant.discountCode),
					zap.String("payment_id", fact.PaymentID),
				)
			}
		}

		return s.events.Append(ctx, tx, grantTopic(grant.kind), "captured:"+fact.PaymentID,
			grantPayload(grant, granted, superseded))
	})
	if err != nil {
		return err
	}

	s.obsMetrics.RecordCapture(ctx, fact.Provider, string(grant.kind))
	s.log.Info("membership granted",
		zap.String("payment_id", fact.PaymentID),
		zap.String("user_id", grant.beneficiaryID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.String("grant_kind", string(grant.kind)),
	)
	return nil
}

func (s *Service) settleRefund(ctx context.Context, fact *paymentdomain.PaymentEvent) error {
	m, err := s.membershipRepo.FindByPaymentID(ctx, s.db, fact.PaymentID)
	if err != nil {
		return err
	}
	if m == nil {
		s.log.Info("refund for unknown payment, nothing to revoke",
			zap.String("payment_id", fact.PaymentID),
		)
		s.obsMetrics.RecordReversal(ctx, fact.Provider, "unknown_payment")
		return nil
	}
	if m.Status != membershipdomain.MembershipStatusActive {
		s.log.Info("refund for non-active membership, nothing to revoke",
			zap.String("payment_id", fact.PaymentID),
			zap.String("membership_id", m.ID.String()),
			zap.String("status", string(m.Status)),
		)
		s.obsMetrics.RecordReversal(ctx, fact.Provider, "already_terminal")
		return nil
	}

	now := s.clock.Now()
	reason := membershipdomain.ReasonChargebackRefund
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.memberships.Transition(ctx, tx, m, membershipdomain.MembershipStatusCancelled, &reason, now); err != nil {
			return err
		}

		payload := map[string]any{
			"membership_id": m.ID.String(),
			"user_id":       m.UserID.String(),
			"plan_id":       m.MembershipPlanID.String(),
			"family_key":    m.FamilyKey,
			"payment_id":    m.PaymentID,
			"reason":        string(reason),
			"is_gift":       m.IsGift(),
		}
		if m.GiftedByUserID != nil {
			payload["gifted_by_user_id"] = m.GiftedByUserID.String()
		}
		return s.events.Append(ctx, tx, eventdomain.TopicMembershipRevoked, "refunded:"+fact.PaymentID, payload)
	})
	if err != nil {
		return err
	}

	s.obsMetrics.RecordReversal(ctx, fact.Provider, "revoked")
	s.log.Info("membership revoked for refund",
		zap.String("payment_id", fact.PaymentID),
		zap.String("membership_id", m.ID.String()),
	)
	return nil
}

func periodEnd(start time.Time, grant grantInstruction, plan plandomain.MembershipPlan) *time.Time {
	var days int
	switch grant.billingType {
	case membershipdomain.BillingTypeOneTime:
		days = plan.OneTimeDurationDays
		if days <= 0 {
			return nil
		}
	default:
		// Recurring periods are open-ended; the provider signals renewal or
		// lapse with further captures and refunds.
		return nil
	}
	end := start.Add(time.Duration(days) * 24 * time.Hour)
	return &end
}

func grantTopic(kind grantKind) string {
	switch kind {
	case grantKindGift:
		return eventdomain.TopicMembershipGifted
	case grantKindUpgrade:
		return eventdomain.TopicMembershipUpgraded
	default:
		return eventdomain.TopicMembershipPurchased
	}
}

func grantPayload(grant grantInstruction, granted, superseded *membershipdomain.UserMembership) map[string]any {
	payload := map[string]any{
		"membership_id": granted.ID.String(),
		"user_id":       granted.UserID.String(),
		"plan_id":       granted.MembershipPlanID.String(),
		"family_key":    granted.FamilyKey,
		"payment_id":    granted.PaymentID,
		"billing_type":  string(granted.BillingType),
		"is_gift":       grant.kind == grantKindGift,
	}
	if grant.kind == grantKindGift {
		payload["gifted_by_user_id"] = grant.payerID.String()
		if grant.giftMessage != nil {
			payload["gift_message"] = *grant.giftMessage
		}
	}
	if superseded != nil {
		payload["superseded_membership_id"] = superseded.ID.String()
	}
	return payload
}
