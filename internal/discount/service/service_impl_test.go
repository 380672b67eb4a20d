package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/clavis/internal/clock"
	"github.com/smallbiznis/clavis/internal/discount/domain"
	"github.com/smallbiznis/clavis/internal/discount/repository"
	"github.com/smallbiznis/clavis/internal/money"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&domain.MembershipDiscount{},
		&domain.DiscountRedemption{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	svc := &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: node,
		clock: fake,
		repo:  repository.Provide(),
	}
	return svc, db, fake
}

func seedDiscount(t *testing.T, db *gorm.DB, svc *Service, mutate func(*domain.MembershipDiscount)) *domain.MembershipDiscount {
	t.Helper()
	d := &domain.MembershipDiscount{
		ID:            svc.genID.Generate(),
		Code:          "SAVE20",
		DiscountType:  domain.DiscountTypePercentage,
		DiscountValue: 20,
		CreatedAt:     svc.clock.Now(),
		UpdatedAt:     svc.clock.Now(),
	}
	if mutate != nil {
		mutate(d)
	}
	require.NoError(t, db.Create(d).Error)
	return d
}

func mustMoney(t *testing.T, amount int64) money.Money {
	t.Helper()
	m, err := money.New(amount, "USD")
	require.NoError(t, err)
	return m
}

func TestValidatePercentageDiscount(t *testing.T) {
	svc, db, _ := newTestService(t)
	seedDiscount(t, db, svc, nil)

	app, err := svc.Validate(context.Background(), "SAVE20", 1, mustMoney(t, 1000))
	require.NoError(t, err)
	require.Equal(t, int64(200), app.DiscountAmount.Amount)
	require.Equal(t, int64(800), app.FinalPrice.Amount)
}

func TestValidateFixedDiscountClampsToBase(t *testing.T) {
	svc, db, _ := newTestService(t)
	seedDiscount(t, db, svc, func(d *domain.MembershipDiscount) {
		d.Code = "FLAT250"
		d.DiscountType = domain.DiscountTypeFixedAmount
		d.DiscountValue = 250
	})

	app, err := svc.Validate(context.Background(), "FLAT250", 1, mustMoney(t, 1000))
	require.NoError(t, err)
	require.Equal(t, int64(750), app.FinalPrice.Amount)

	// A fixed discount larger than the price never goes negative.
	app, err = svc.Validate(context.Background(), "FLAT250", 1, mustMoney(t, 100))
	require.NoError(t, err)
	require.Equal(t, int64(100), app.DiscountAmount.Amount)
	require.Equal(t, int64(0), app.FinalPrice.Amount)
}

func TestValidateUnknownCode(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Validate(context.Background(), "NOPE", 1, mustMoney(t, 1000))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestValidateExpiredCode(t *testing.T) {
	svc, db, fake := newTestService(t)
	expires := fake.Now().Add(time.Hour)
	seedDiscount(t, db, svc, func(d *domain.MembershipDiscount) {
		d.ExpiresAt = &expires
	})

	_, err := svc.Validate(context.Background(), "SAVE20", 1, mustMoney(t, 1000))
	require.NoError(t, err)

	fake.Advance(2 * time.Hour)
	_, err = svc.Validate(context.Background(), "SAVE20", 1, mustMoney(t, 1000))
	require.ErrorIs(t, err, domain.ErrExpired)
}

func TestValidateUsageLimit(t *testing.T) {
	svc, db, _ := newTestService(t)
	maxUses := int64(1)
	seedDiscount(t, db, svc, func(d *domain.MembershipDiscount) {
		d.MaxUses = &maxUses
		d.UsedCount = 1
	})

	_, err := svc.Validate(context.Background(), "SAVE20", 1, mustMoney(t, 1000))
	require.ErrorIs(t, err, domain.ErrLimitReached)
}

func TestValidatePlanScope(t *testing.T) {
	svc, db, _ := newTestService(t)
	scoped := snowflake.ID(42)
	seedDiscount(t, db, svc, func(d *domain.MembershipDiscount) {
		d.MembershipPlanID = &scoped
	})

	_, err := svc.Validate(context.Background(), "SAVE20", 7, mustMoney(t, 1000))
	require.ErrorIs(t, err, domain.ErrNotApplicableToPlan)

	_, err = svc.Validate(context.Background(), "SAVE20", scoped, mustMoney(t, 1000))
	require.NoError(t, err)
}

func TestRedeemCountsOncePerPayment(t *testing.T) {
	svc, db, _ := newTestService(t)
	d := seedDiscount(t, db, svc, nil)

	inserted, err := svc.Redeem(context.Background(), db, d.ID, "pay_1")
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = svc.Redeem(context.Background(), db, d.ID, "pay_1")
	require.NoError(t, err)
	require.False(t, inserted)

	var reloaded domain.MembershipDiscount
	require.NoError(t, db.First(&reloaded, "id = ?", d.ID).Error)
	require.Equal(t, int64(1), reloaded.UsedCount)

	inserted, err = svc.Redeem(context.Background(), db, d.ID, "pay_2")
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestRedeemByCodeUnknownCode(t *testing.T) {
	svc, db, _ := newTestService(t)

	_, err := svc.RedeemByCode(context.Background(), db, "NOPE", "pay_1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
