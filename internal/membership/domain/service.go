package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
	"github.com/smallbiznis/clavis/internal/money"
	"gorm.io/gorm"
)

var (
	ErrMembershipNotFound    = errors.New("membership_not_found")
	ErrInvalidTransition     = errors.New("invalid_membership_transition")
	ErrMembershipNotActive   = errors.New("membership_not_active")
	ErrSelfGift              = errors.New("cannot_gift_to_self")
	ErrAlreadyEntitled       = errors.New("beneficiary_already_entitled")
	ErrBillingTypeNotAllowed = errors.New("billing_type_not_allowed_by_plan")
	ErrNothingToUpgrade      = errors.New("no_active_membership_to_upgrade")
	ErrUpgradeSamePlan       = errors.New("cannot_upgrade_to_same_plan")
	ErrNotOwner              = errors.New("membership_not_owned_by_user")
	ErrRemainingValueNegative = errors.New("remaining_value_negative")
)

type PurchaseMembershipRequest struct {
	UserID          snowflake.ID
	PlanID          snowflake.ID
	BillingType     BillingType
	BillingInterval plandomain.BillingInterval
	DiscountCode    *string
}

type GiftMembershipRequest struct {
	GifterUserID    snowflake.ID
	RecipientUserID snowflake.ID
	PlanID          snowflake.ID
	BillingInterval plandomain.BillingInterval
	DiscountCode    *string
	GiftMessage     *string
}

type UpgradeMembershipRequest struct {
	UserID       snowflake.ID
	TargetPlanID snowflake.ID
}

type CancelMembershipRequest struct {
	UserID       snowflake.ID
	MembershipID snowflake.ID
}

// UpgradeQuote is the priced result of an upgrade request before capture.
type UpgradeQuote struct {
	CurrentMembershipID snowflake.ID
	RemainingValue      money.Money
	UpgradePrice        money.Money
}

type Service interface {
	Purchase(ctx context.Context, req PurchaseMembershipRequest) (*PaymentIntent, error)
	Gift(ctx context.Context, req GiftMembershipRequest) (*PaymentIntent, error)
	Upgrade(ctx context.Context, req UpgradeMembershipRequest) (*PaymentIntent, error)
	QuoteUpgrade(ctx context.Context, req UpgradeMembershipRequest) (*UpgradeQuote, error)
	Cancel(ctx context.Context, req CancelMembershipRequest) error

	GetByID(ctx context.Context, id snowflake.ID) (*UserMembership, error)
	ListActiveForUser(ctx context.Context, userID snowflake.ID) ([]UserMembership, error)

	// Transition moves a membership to a terminal state inside the caller's
	// transaction, enforcing the lifecycle rules.
	Transition(ctx context.Context, tx *gorm.DB, m *UserMembership, target MembershipStatus, reason *CancellationReason, at time.Time) error
}
