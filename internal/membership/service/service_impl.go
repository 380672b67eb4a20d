package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/clavis/internal/clock"
	discountdomain "github.com/smallbiznis/clavis/internal/discount/domain"
	"github.com/smallbiznis/clavis/internal/event"
	eventdomain "github.com/smallbiznis/clavis/internal/event/domain"
	"github.com/smallbiznis/clavis/internal/membership/domain"
	"github.com/smallbiznis/clavis/internal/money"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	plans    plandomain.Service
	discounts discountdomain.Service
	events   *event.Writer
}

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Plans     plandomain.Service
	Discounts discountdomain.Service
	Events    *event.Writer
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("membership.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		plans:     p.Plans,
		discounts: p.Discounts,
		events:    p.Events,
	}
}

func (s *Service) Purchase(ctx context.Context, req domain.PurchaseMembershipRequest) (*domain.PaymentIntent, error) {
	plan, err := s.plans.GetByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if err := billingTypeAllowed(plan, req.BillingType); err != nil {
		return nil, err
	}
	interval, err := plandomain.ParseInterval(string(req.BillingInterval))
	if err != nil {
		return nil, err
	}

	price, err := s.priceWithDiscount(ctx, plan, interval, req.DiscountCode)
	if err != nil {
		return nil, err
	}

	intent := &domain.PaymentIntent{
		ID:               s.genID.Generate(),
		Reference:        uuid.NewString(),
		PayerID:          req.UserID,
		BeneficiaryID:    req.UserID,
		MembershipPlanID: plan.ID,
		BillingType:      req.BillingType,
		BillingInterval:  interval,
		AmountDue:        price.Amount,
		Currency:         price.Currency,
		DiscountCode:     req.DiscountCode,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.repo.InsertIntent(ctx, s.db, intent); err != nil {
		return nil, err
	}

	s.log.Info("purchase intent created",
		zap.String("reference", intent.Reference),
		zap.String("user_id", req.UserID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.Int64("amount_due", intent.AmountDue),
	)
	return intent, nil
}

func (s *Service) Gift(ctx context.Context, req domain.GiftMembershipRequest) (*domain.PaymentIntent, error) {
	if req.GifterUserID == req.RecipientUserID {
		return nil, domain.ErrSelfGift
	}

	plan, err := s.plans.GetByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	// Gifts never auto-renew on someone else's behalf.
	if err := billingTypeAllowed(plan, domain.BillingTypeOneTime); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindActiveForUser(ctx, s.db, req.RecipientUserID, plan.FamilyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrAlreadyEntitled
	}

	interval := req.BillingInterval
	if interval == "" {
		interval = plandomain.IntervalMonthly
	}
	if interval, err = plandomain.ParseInterval(string(interval)); err != nil {
		return nil, err
	}

	price, err := s.priceWithDiscount(ctx, plan, interval, req.DiscountCode)
	if err != nil {
		return nil, err
	}

	intent := &domain.PaymentIntent{
		ID:               s.genID.Generate(),
		Reference:        uuid.NewString(),
		PayerID:          req.GifterUserID,
		BeneficiaryID:    req.RecipientUserID,
		MembershipPlanID: plan.ID,
		BillingType:      domain.BillingTypeOneTime,
		BillingInterval:  interval,
		AmountDue:        price.Amount,
		Currency:         price.Currency,
		DiscountCode:     req.DiscountCode,
		IsGift:           true,
		GiftMessage:      req.GiftMessage,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.repo.InsertIntent(ctx, s.db, intent); err != nil {
		return nil, err
	}

	s.log.Info("gift intent created",
		zap.String("reference", intent.Reference),
		zap.String("gifter_id", req.GifterUserID.String()),
		zap.String("recipient_id", req.RecipientUserID.String()),
		zap.String("plan_id", plan.ID.String()),
	)
	return intent, nil
}

func (s *Service) QuoteUpgrade(ctx context.Context, req domain.UpgradeMembershipRequest) (*domain.UpgradeQuote, error) {
	_, quote, err := s.quoteUpgrade(ctx, req)
	return quote, err
}

func (s *Service) Upgrade(ctx context.Context, req domain.UpgradeMembershipRequest) (*domain.PaymentIntent, error) {
	target, quote, err := s.quoteUpgrade(ctx, req)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.FindByID(ctx, s.db, quote.CurrentMembershipID)
	if err != nil {
		return nil, err
	}

	intent := &domain.PaymentIntent{
		ID:               s.genID.Generate(),
		Reference:        uuid.NewString(),
		PayerID:          req.UserID,
		BeneficiaryID:    req.UserID,
		MembershipPlanID: target.ID,
		BillingType:      current.BillingType,
		BillingInterval:  current.BillingInterval,
		AmountDue:        quote.UpgradePrice.Amount,
		Currency:         quote.UpgradePrice.Currency,
		UpgradeFromID:    &quote.CurrentMembershipID,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.repo.InsertIntent(ctx, s.db, intent); err != nil {
		return nil, err
	}

	s.log.Info("upgrade intent created",
		zap.String("reference", intent.Reference),
		zap.String("user_id", req.UserID.String()),
		zap.String("from_membership_id", quote.CurrentMembershipID.String()),
		zap.String("target_plan_id", target.ID.String()),
		zap.Int64("amount_due", intent.AmountDue),
	)
	return intent, nil
}

func (s *Service) quoteUpgrade(ctx context.Context, req domain.UpgradeMembershipRequest) (*plandomain.MembershipPlan, *domain.UpgradeQuote, error) {
	target, err := s.plans.GetByID(ctx, req.TargetPlanID)
	if err != nil {
		return nil, nil, err
	}

	current, err := s.repo.FindActiveForUser(ctx, s.db, req.UserID, target.FamilyKey)
	if err != nil {
		return nil, nil, err
	}
	if current == nil {
		return nil, nil, domain.ErrNothingToUpgrade
	}
	if current.MembershipPlanID == target.ID {
		return nil, nil, domain.ErrUpgradeSamePlan
	}
	if err := billingTypeAllowed(target, current.BillingType); err != nil {
		return nil, nil, err
	}

	remaining, upgradePrice, err := CalculateUpgradePrice(*current, target, current.BillingInterval, s.clock.Now())
	if err != nil {
		return nil, nil, err
	}

	return &target, &domain.UpgradeQuote{
		CurrentMembershipID: current.ID,
		RemainingValue:      remaining,
		UpgradePrice:        upgradePrice,
	}, nil
}

func (s *Service) Cancel(ctx context.Context, req domain.CancelMembershipRequest) error {
	m, err := s.repo.FindByID(ctx, s.db, req.MembershipID)
	if err != nil {
		return err
	}
	if m == nil {
		return domain.ErrMembershipNotFound
	}
	if m.UserID != req.UserID {
		return domain.ErrNotOwner
	}
	if m.Status != domain.MembershipStatusActive {
		return domain.ErrMembershipNotActive
	}

	now := s.clock.Now()
	reason := domain.ReasonUserRequested
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Transition(ctx, tx, m, domain.MembershipStatusCancelled, &reason, now); err != nil {
			return err
		}
		return s.events.Append(ctx, tx, eventdomain.TopicMembershipRevoked,
			"revoked:"+m.ID.String(),
			map[string]any{
				"membership_id": m.ID.String(),
				"user_id":       m.UserID.String(),
				"plan_id":       m.MembershipPlanID.String(),
				"family_key":    m.FamilyKey,
				"reason":        string(reason),
				"is_gift":       m.IsGift(),
			})
	})
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.UserMembership, error) {
	m, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.ErrMembershipNotFound
	}
	return m, nil
}

func (s *Service) ListActiveForUser(ctx context.Context, userID snowflake.ID) ([]domain.UserMembership, error) {
	return s.repo.ListActiveForUser(ctx, s.db, userID)
}

// Transition enforces the membership lifecycle: active rows may move to
// cancelled or expired, terminal rows never move again. Cancellation requires
// a reason; expiry forbids one.
func (s *Service) Transition(ctx context.Context, tx *gorm.DB, m *domain.UserMembership, target domain.MembershipStatus, reason *domain.CancellationReason, at time.Time) error {
	if !isTransitionAllowed(m.Status, target) {
		return domain.ErrInvalidTransition
	}

	switch target {
	case domain.MembershipStatusCancelled:
		if reason == nil {
			return domain.ErrInvalidTransition
		}
		m.CancellationReason = reason
		m.CancelledAt = &at
	case domain.MembershipStatusExpired:
		if reason != nil {
			return domain.ErrInvalidTransition
		}
	}

	m.Status = target
	if err := s.repo.UpdateLifecycle(ctx, tx, m); err != nil {
		return err
	}

	s.log.Info("membership transitioned",
		zap.String("membership_id", m.ID.String()),
		zap.String("status", string(target)),
	)
	return nil
}

func isTransitionAllowed(current, target domain.MembershipStatus) bool {
	switch current {
	case domain.MembershipStatusActive:
		return target == domain.MembershipStatusCancelled || target == domain.MembershipStatusExpired
	default:
		return false
	}
}

func (s *Service) priceWithDiscount(ctx context.Context, plan plandomain.MembershipPlan, interval plandomain.BillingInterval, code *string) (money.Money, error) {
	base, err := plan.PriceFor(interval)
	if err != nil {
		return money.Money{}, err
	}
	if code == nil || *code == "" {
		return base, nil
	}
	applied, err := s.discounts.Validate(ctx, *code, plan.ID, base)
	if err != nil {
		return money.Money{}, err
	}
	return applied.FinalPrice, nil
}

func billingTypeAllowed(plan plandomain.MembershipPlan, bt domain.BillingType) error {
	switch bt {
	case domain.BillingTypeRecurring:
		if !plan.AllowsRecurring {
			return domain.ErrBillingTypeNotAllowed
		}
	case domain.BillingTypeOneTime:
		if !plan.AllowsOneTime {
			return domain.ErrBillingTypeNotAllowed
		}
	default:
		return domain.ErrBillingTypeNotAllowed
	}
	return nil
}
