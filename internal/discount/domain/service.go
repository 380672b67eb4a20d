package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/money"
	"gorm.io/gorm"
)

var (
	ErrNotFound            = errors.New("discount_not_found")
	ErrExpired             = errors.New("discount_expired")
	ErrLimitReached        = errors.New("discount_limit_reached")
	ErrNotApplicableToPlan = errors.New("discount_not_applicable_to_plan")
	ErrInvalidCode         = errors.New("invalid_discount_code")
)

// DiscountApplication is the side-effect-free result of validating a code
// against a plan price.
type DiscountApplication struct {
	Discount       MembershipDiscount
	DiscountAmount money.Money
	FinalPrice     money.Money
}

type Service interface {
	// Validate checks a code against a plan and base price. Read-only:
	// redemption bookkeeping happens separately, after capture.
	Validate(ctx context.Context, code string, planID snowflake.ID, base money.Money) (DiscountApplication, error)
	// Redeem counts one use for the given payment inside the caller's
	// transaction. Redelivering the same payment id is a no-op; the bool
	// reports whether this call performed the increment.
	Redeem(ctx context.Context, tx *gorm.DB, discountID snowflake.ID, paymentID string) (bool, error)
	// RedeemByCode resolves a code and records the redemption. The money
	// already moved by the time this runs, so a code that has since expired
	// or hit its limit is still counted; only an unknown code errors.
	RedeemByCode(ctx context.Context, tx *gorm.DB, code, paymentID string) (bool, error)
}

type Repository interface {
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*MembershipDiscount, error)
	InsertRedemption(ctx context.Context, db *gorm.DB, redemption *DiscountRedemption) (bool, error)
	IncrementUsedCount(ctx context.Context, db *gorm.DB, discountID snowflake.ID) error
}
