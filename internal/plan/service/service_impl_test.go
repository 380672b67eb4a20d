package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/clavis/internal/clock"
	membershipdomain "github.com/smallbiznis/clavis/internal/membership/domain"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
	"github.com/smallbiznis/clavis/internal/plan/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&plandomain.MembershipPlan{},
		&membershipdomain.UserMembership{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: node,
		clock: clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		repo:  repository.Provide(),
	}
	return svc, db
}

func validCreateRequest() plandomain.CreatePlanRequest {
	return plandomain.CreatePlanRequest{
		Name:                "Gold Tier",
		FamilyKey:           "premium",
		Currency:            "usd",
		MonthlyPriceAmount:  1000,
		YearlyPriceAmount:   10000,
		OneTimeDurationDays: 30,
		AllowsRecurring:     true,
		AllowsOneTime:       true,
		RoleToAssign:        "gold_member",
	}
}

func TestCreateSlugsNameWhenSlugOmitted(t *testing.T) {
	svc, _ := newTestService(t)

	plan, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)
	require.Equal(t, "gold-tier", plan.Slug)
	require.Equal(t, "premium", plan.FamilyKey)
	require.Equal(t, "USD", plan.Currency)
}

func TestCreateRejectsDuplicateSlug(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), validCreateRequest())
	require.ErrorIs(t, err, plandomain.ErrDuplicateSlug)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req := validCreateRequest()
	req.Name = " "
	_, err := svc.Create(ctx, req)
	require.ErrorIs(t, err, plandomain.ErrInvalidPlan)

	req = validCreateRequest()
	req.RoleToAssign = ""
	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, plandomain.ErrInvalidRole)

	req = validCreateRequest()
	req.AllowsRecurring = false
	req.AllowsOneTime = false
	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, plandomain.ErrNoBillingTypes)

	req = validCreateRequest()
	req.OneTimeDurationDays = 0
	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, plandomain.ErrInvalidDuration)

	req = validCreateRequest()
	req.MonthlyPriceAmount = -1
	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, plandomain.ErrInvalidPrice)
}

func TestUpdatePricesLeavesExistingMembershipsAlone(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	plan, err := svc.Create(ctx, validCreateRequest())
	require.NoError(t, err)

	// Entitlements snapshot the price at grant time.
	m := &membershipdomain.UserMembership{
		ID:                    svc.genID.Generate(),
		UserID:                svc.genID.Generate(),
		MembershipPlanID:      plan.ID,
		FamilyKey:             plan.FamilyKey,
		RoleKey:               plan.RoleToAssign,
		BillingType:           membershipdomain.BillingTypeRecurring,
		BillingInterval:       "monthly",
		Status:                membershipdomain.MembershipStatusActive,
		StartsAt:              svc.clock.Now(),
		OriginalPriceAmount:   1000,
		OriginalPriceCurrency: "USD",
		PaymentID:             uuid.NewString(),
	}
	require.NoError(t, db.Create(m).Error)

	updated, err := svc.UpdatePrices(ctx, plandomain.UpdatePlanPricesRequest{
		PlanID:             plan.ID.String(),
		MonthlyPriceAmount: 1500,
		YearlyPriceAmount:  15000,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1500), updated.MonthlyPriceAmount)

	var reloaded membershipdomain.UserMembership
	require.NoError(t, db.First(&reloaded, "id = ?", m.ID).Error)
	require.Equal(t, int64(1000), reloaded.OriginalPriceAmount)
}

func TestDeleteRejectsReferencedPlan(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	plan, err := svc.Create(ctx, validCreateRequest())
	require.NoError(t, err)

	m := &membershipdomain.UserMembership{
		ID:                    svc.genID.Generate(),
		UserID:                svc.genID.Generate(),
		MembershipPlanID:      plan.ID,
		FamilyKey:             plan.FamilyKey,
		RoleKey:               plan.RoleToAssign,
		BillingType:           membershipdomain.BillingTypeOneTime,
		BillingInterval:       "monthly",
		Status:                membershipdomain.MembershipStatusActive,
		StartsAt:              svc.clock.Now(),
		OriginalPriceAmount:   1000,
		OriginalPriceCurrency: "USD",
		PaymentID:             uuid.NewString(),
	}
	require.NoError(t, db.Create(m).Error)

	require.ErrorIs(t, svc.Delete(ctx, plan.ID), plandomain.ErrPlanReferenced)

	require.NoError(t, db.Delete(m).Error)
	require.NoError(t, svc.Delete(ctx, plan.ID))

	_, err = svc.GetByID(ctx, plan.ID)
	require.ErrorIs(t, err, plandomain.ErrPlanNotFound)
}

func TestGetBySlug(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreateRequest())
	require.NoError(t, err)

	found, err := svc.GetBySlug(ctx, "gold-tier")
	require.NoError(t, err)
	require.Equal(t, created.ID, found.ID)

	_, err = svc.GetBySlug(ctx, "no-such-plan")
	require.ErrorIs(t, err, plandomain.ErrPlanNotFound)
}
