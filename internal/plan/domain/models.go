// Package domain contains the membership plan catalog.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/money"
)

// BillingInterval selects which catalog price applies.
type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
)

func ParseInterval(value string) (BillingInterval, error) {
	switch BillingInterval(strings.ToLower(strings.TrimSpace(value))) {
	case IntervalMonthly:
		return IntervalMonthly, nil
	case IntervalYearly:
		return IntervalYearly, nil
	default:
		return "", ErrInvalidInterval
	}
}

// MembershipPlan is a catalog entry. Prices are snapshotted into entitlements
// at grant time, so editing a price never rewrites history.
type MembershipPlan struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	Name               string       `gorm:"type:text;not null"`
	Slug               string       `gorm:"type:text;not null;uniqueIndex"`
	FamilyKey          string       `gorm:"type:text;not null;index"`
	Currency           string       `gorm:"type:text;not null"`
	MonthlyPriceAmount int64        `gorm:"not null"`
	YearlyPriceAmount  int64        `gorm:"not null"`
	OneTimeDurationDays int         `gorm:"not null"`
	AllowsRecurring    bool         `gorm:"not null;default:true"`
	AllowsOneTime      bool         `gorm:"not null;default:true"`
	RoleToAssign       string       `gorm:"type:text;not null"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MembershipPlan) TableName() string { return "membership_plans" }

// PriceFor returns the catalog price for the given interval.
func (p MembershipPlan) PriceFor(interval BillingInterval) (money.Money, error) {
	switch interval {
	case IntervalMonthly:
		return money.New(p.MonthlyPriceAmount, p.Currency)
	case IntervalYearly:
		return money.New(p.YearlyPriceAmount, p.Currency)
	default:
		return money.Money{}, ErrInvalidInterval
	}
}
