// Package domain contains the entitlement records and lifecycle states.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
	"github.com/smallbiznis/clavis/internal/money"
)

type BillingType string

const (
	BillingTypeRecurring BillingType = "recurring"
	BillingTypeOneTime   BillingType = "one_time"
)

// MembershipStatus represents lifecycle states for an entitlement.
type MembershipStatus string

const (
	MembershipStatusActive    MembershipStatus = "active"
	MembershipStatusCancelled MembershipStatus = "cancelled"
	MembershipStatusExpired   MembershipStatus = "expired"
)

type CancellationReason string

const (
	ReasonReplacedByNewMembership CancellationReason = "replaced_by_new_membership"
	ReasonUpgraded                CancellationReason = "upgraded"
	ReasonChargebackRefund        CancellationReason = "chargeback_refund"
	ReasonUserRequested           CancellationReason = "user_requested"
)

// UserMembership is a time-bounded entitlement funded by exactly one payment.
// Plan-derived fields (family key, role, price) are snapshotted at grant time
// so later catalog edits never rewrite entitlement history. Rows are never
// deleted; the lifecycle ends at cancelled or expired.
type UserMembership struct {
	ID                 snowflake.ID                  `gorm:"primaryKey"`
	UserID             snowflake.ID                  `gorm:"not null;index"`
	GiftedByUserID     *snowflake.ID                 `gorm:"index"`
	MembershipPlanID   snowflake.ID                  `gorm:"not null;index"`
	FamilyKey          string                        `gorm:"type:text;not null;index"`
	RoleKey            string                        `gorm:"type:text;not null"`
	BillingType        BillingType                   `gorm:"type:text;not null"`
	BillingInterval    plandomain.BillingInterval    `gorm:"type:text;not null"`
	Status             MembershipStatus              `gorm:"type:text;not null;index"`
	StartsAt           time.Time                     `gorm:"not null"`
	EndsAt             *time.Time                    `gorm:"index"`
	OriginalPriceAmount   int64                      `gorm:"not null"`
	OriginalPriceCurrency string                     `gorm:"type:text;not null"`
	PaymentID          string                        `gorm:"type:text;not null;uniqueIndex"`
	CancellationReason *CancellationReason           `gorm:"type:text"`
	CancelledAt        *time.Time                    `gorm:""`
	GiftMessage        *string                       `gorm:"type:text"`
	CreatedAt          time.Time                     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time                     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UserMembership) TableName() string { return "user_memberships" }

func (m UserMembership) IsGift() bool { return m.GiftedByUserID != nil }

func (m UserMembership) OriginalPrice() money.Money {
	return money.Money{Amount: m.OriginalPriceAmount, Currency: m.OriginalPriceCurrency}
}

// PaymentIntent is the core's record of a command awaiting capture. The
// gateway echoes the reference and typed metadata back in the captured fact.
type PaymentIntent struct {
	ID              snowflake.ID               `gorm:"primaryKey"`
	Reference       string                     `gorm:"type:text;not null;uniqueIndex"`
	PayerID         snowflake.ID               `gorm:"not null;index"`
	BeneficiaryID   snowflake.ID               `gorm:"not null;index"`
	MembershipPlanID snowflake.ID              `gorm:"not null"`
	BillingType     BillingType                `gorm:"type:text;not null"`
	BillingInterval plandomain.BillingInterval `gorm:"type:text;not null"`
	AmountDue       int64                      `gorm:"not null"`
	Currency        string                     `gorm:"type:text;not null"`
	DiscountCode    *string                    `gorm:"type:text"`
	IsGift          bool                       `gorm:"not null;default:false"`
	GiftMessage     *string                    `gorm:"type:text"`
	UpgradeFromID   *snowflake.ID              `gorm:""`
	CreatedAt       time.Time                  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentIntent) TableName() string { return "payment_intents" }
