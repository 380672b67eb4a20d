package service

import (
	"testing"
	"time"

	"github.com/smallbiznis/clavis/internal/membership/domain"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
	"github.com/stretchr/testify/require"
)

func monthlyMembership(originalPrice int64, endsInDays int, now time.Time) domain.UserMembership {
	endsAt := now.Add(time.Duration(endsInDays) * 24 * time.Hour)
	return domain.UserMembership{
		BillingType:           domain.BillingTypeRecurring,
		BillingInterval:       plandomain.IntervalMonthly,
		Status:                domain.MembershipStatusActive,
		EndsAt:                &endsAt,
		OriginalPriceAmount:   originalPrice,
		OriginalPriceCurrency: "USD",
	}
}

func monthlyPlan(price int64) plandomain.MembershipPlan {
	return plandomain.MembershipPlan{
		Currency:           "USD",
		MonthlyPriceAmount: price,
		YearlyPriceAmount:  price * 10,
	}
}

func TestCalculateUpgradePrice_HalfPeriodRemaining(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	current := monthlyMembership(1000, 15, now)

	remaining, price, err := CalculateUpgradePrice(current, monthlyPlan(2000), plandomain.IntervalMonthly, now)
	require.NoError(t, err)
	require.Equal(t, int64(500), remaining.Amount)
	require.Equal(t, int64(1500), price.Amount)
	require.Equal(t, "USD", price.Currency)
}

func TestCalculateUpgradePrice_TruncatesTowardPlatform(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	// 1000 * 7 / 30 = 233.33..., credit truncates to 233.
	current := monthlyMembership(1000, 7, now)

	remaining, price, err := CalculateUpgradePrice(current, monthlyPlan(2000), plandomain.IntervalMonthly, now)
	require.NoError(t, err)
	require.Equal(t, int64(233), remaining.Amount)
	require.Equal(t, int64(1767), price.Amount)
}

func TestCalculateUpgradePrice_ExpiredRemainderClampsToZero(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	current := monthlyMembership(1000, -3, now)

	remaining, price, err := CalculateUpgradePrice(current, monthlyPlan(2000), plandomain.IntervalMonthly, now)
	require.NoError(t, err)
	require.Equal(t, int64(0), remaining.Amount)
	require.Equal(t, int64(2000), price.Amount)
}

func TestCalculateUpgradePrice_CreditExceedsTarget(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	current := monthlyMembership(5000, 29, now)

	remaining, price, err := CalculateUpgradePrice(current, monthlyPlan(2000), plandomain.IntervalMonthly, now)
	require.NoError(t, err)
	require.Equal(t, int64(4833), remaining.Amount)
	require.Equal(t, int64(0), price.Amount)
}

func TestCalculateUpgradePrice_YearlyPeriod(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	endsAt := now.Add(100 * 24 * time.Hour)
	current := domain.UserMembership{
		BillingType:           domain.BillingTypeRecurring,
		BillingInterval:       plandomain.IntervalYearly,
		Status:                domain.MembershipStatusActive,
		EndsAt:                &endsAt,
		OriginalPriceAmount:   36500,
		OriginalPriceCurrency: "USD",
	}

	remaining, price, err := CalculateUpgradePrice(current, monthlyPlan(5000), plandomain.IntervalYearly, now)
	require.NoError(t, err)
	// 36500 * 100 / 365 = 10000
	require.Equal(t, int64(10000), remaining.Amount)
	require.Equal(t, int64(40000), price.Amount)
}

func TestCalculateUpgradePrice_OpenEndedHasNoCredit(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	current := domain.UserMembership{
		BillingType:           domain.BillingTypeRecurring,
		BillingInterval:       plandomain.IntervalMonthly,
		Status:                domain.MembershipStatusActive,
		OriginalPriceAmount:   1000,
		OriginalPriceCurrency: "USD",
	}

	remaining, price, err := CalculateUpgradePrice(current, monthlyPlan(2000), plandomain.IntervalMonthly, now)
	require.NoError(t, err)
	require.Equal(t, int64(0), remaining.Amount)
	require.Equal(t, int64(2000), price.Amount)
}

func TestCalculateUpgradePrice_CurrencyMismatch(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	current := monthlyMembership(1000, 15, now)
	target := monthlyPlan(2000)
	target.Currency = "EUR"

	_, _, err := CalculateUpgradePrice(current, target, plandomain.IntervalMonthly, now)
	require.Error(t, err)
}
