// Package domain contains discount codes and their redemption ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "percentage"
	DiscountTypeFixedAmount DiscountType = "fixed_amount"
)

// MembershipDiscount is a redeemable code, optionally scoped to one plan.
type MembershipDiscount struct {
	ID               snowflake.ID  `gorm:"primaryKey"`
	Code             string        `gorm:"type:text;not null;uniqueIndex"`
	DiscountType     DiscountType  `gorm:"type:text;not null"`
	DiscountValue    int64         `gorm:"not null"`
	MembershipPlanID *snowflake.ID `gorm:"index"`
	MaxUses          *int64        `gorm:""`
	UsedCount        int64         `gorm:"not null;default:0"`
	ExpiresAt        *time.Time    `gorm:""`
	CreatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MembershipDiscount) TableName() string { return "membership_discounts" }

// DiscountRedemption records one counted use per captured payment. The unique
// (discount_id, payment_id) index is what makes redemption idempotent under
// event redelivery.
type DiscountRedemption struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	DiscountID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_discount_payment,priority:1"`
	PaymentID  string       `gorm:"type:text;not null;uniqueIndex:ux_discount_payment,priority:2"`
	RedeemedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (DiscountRedemption) TableName() string { return "discount_redemptions" }
