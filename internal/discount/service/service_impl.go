package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/clock"
	discountdomain "github.com/smallbiznis/clavis/internal/discount/domain"
	"github.com/smallbiznis/clavis/internal/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  discountdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  discountdomain.Repository
}

func NewService(p ServiceParam) discountdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("discount.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Validate implements domain.Service. Check order is fixed: existence,
// expiry, usage limit, plan scope.
func (s *Service) Validate(ctx context.Context, code string, planID snowflake.ID, base money.Money) (discountdomain.DiscountApplication, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return discountdomain.DiscountApplication{}, discountdomain.ErrInvalidCode
	}

	discount, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return discountdomain.DiscountApplication{}, err
	}
	if discount == nil {
		return discountdomain.DiscountApplication{}, discountdomain.ErrNotFound
	}

	now := s.clock.Now()
	if discount.ExpiresAt != nil && !discount.ExpiresAt.After(now) {
		return discountdomain.DiscountApplication{}, discountdomain.ErrExpired
	}
	if discount.MaxUses != nil && discount.UsedCount >= *discount.MaxUses {
		return discountdomain.DiscountApplication{}, discountdomain.ErrLimitReached
	}
	if discount.MembershipPlanID != nil && *discount.MembershipPlanID != planID {
		return discountdomain.DiscountApplication{}, discountdomain.ErrNotApplicableToPlan
	}

	var discountAmount money.Money
	switch discount.DiscountType {
	case discountdomain.DiscountTypePercentage:
		discountAmount, err = base.PercentageOf(discount.DiscountValue)
		if err != nil {
			return discountdomain.DiscountApplication{}, err
		}
	case discountdomain.DiscountTypeFixedAmount:
		fixed, err := money.New(discount.DiscountValue, base.Currency)
		if err != nil {
			return discountdomain.DiscountApplication{}, err
		}
		discountAmount, err = fixed.Min(base)
		if err != nil {
			return discountdomain.DiscountApplication{}, err
		}
	default:
		return discountdomain.DiscountApplication{}, discountdomain.ErrInvalidCode
	}

	finalPrice, err := base.Sub(discountAmount)
	if err != nil {
		return discountdomain.DiscountApplication{}, err
	}

	return discountdomain.DiscountApplication{
		Discount:       *discount,
		DiscountAmount: discountAmount,
		FinalPrice:     finalPrice,
	}, nil
}

// Redeem implements domain.Service. The redemption row's unique index
// absorbs redeliveries; used_count moves only when the row is new.
func (s *Service) Redeem(ctx context.Context, tx *gorm.DB, discountID snowflake.ID, paymentID string) (bool, error) {
	paymentID = strings.TrimSpace(paymentID)
	if discountID == 0 || paymentID == "" {
		return false, discountdomain.ErrInvalidCode
	}

	inserted, err := s.repo.InsertRedemption(ctx, tx, &discountdomain.DiscountRedemption{
		ID:         s.genID.Generate(),
		DiscountID: discountID,
		PaymentID:  paymentID,
		RedeemedAt: s.clock.Now(),
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		s.log.Debug("discount already redeemed for payment",
			zap.String("discount_id", discountID.String()),
			zap.String("payment_id", paymentID),
		)
		return false, nil
	}

	if err := s.repo.IncrementUsedCount(ctx, tx, discountID); err != nil {
		return false, err
	}
	return true, nil
}

// RedeemByCode implements domain.Service.
func (s *Service) RedeemByCode(ctx context.Context, tx *gorm.DB, code, paymentID string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, discountdomain.ErrInvalidCode
	}

	discount, err := s.repo.FindByCode(ctx, tx, code)
	if err != nil {
		return false, err
	}
	if discount == nil {
		return false, discountdomain.ErrNotFound
	}
	return s.Redeem(ctx, tx, discount.ID, paymentID)
}
