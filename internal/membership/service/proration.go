package service

import (
	"time"

	"github.com/smallbiznis/clavis/internal/membership/domain"
	"github.com/smallbiznis/clavis/internal/money"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
)

const (
	monthlyPeriodDays = 30
	yearlyPeriodDays  = 365
)

// CalculateUpgradePrice prorates the unused portion of the current
// entitlement and credits it against the target plan price. All division
// truncates toward zero, so fractional units round in the platform's favor.
//
// An open-ended entitlement (no end date) has no unused portion to credit.
func CalculateUpgradePrice(current domain.UserMembership, target plandomain.MembershipPlan, interval plandomain.BillingInterval, now time.Time) (remaining money.Money, upgradePrice money.Money, err error) {
	targetPrice, err := target.PriceFor(interval)
	if err != nil {
		return money.Money{}, money.Money{}, err
	}

	original := current.OriginalPrice()
	if original.Currency != targetPrice.Currency {
		return money.Money{}, money.Money{}, money.ErrCurrencyMismatch
	}

	remaining = money.Money{Amount: 0, Currency: original.Currency}
	if current.EndsAt != nil {
		remainingDays := int64(current.EndsAt.Sub(now) / (24 * time.Hour))
		if remainingDays < 0 {
			remainingDays = 0
		}

		periodDays := int64(monthlyPeriodDays)
		if current.BillingInterval == plandomain.IntervalYearly {
			periodDays = yearlyPeriodDays
		}

		remaining.Amount = original.Amount * remainingDays / periodDays
	}
	if remaining.Amount < 0 {
		return money.Money{}, money.Money{}, domain.ErrRemainingValueNegative
	}

	due := targetPrice.Amount - remaining.Amount
	if due < 0 {
		due = 0
	}
	upgradePrice = money.Money{Amount: due, Currency: targetPrice.Currency}
	return remaining, upgradePrice, nil
}
