package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/clavis/internal/clock"
	discountdomain "github.com/smallbiznis/clavis/internal/discount/domain"
	"github.com/smallbiznis/clavis/internal/event"
	eventdomain "github.com/smallbiznis/clavis/internal/event/domain"
	"github.com/smallbiznis/clavis/internal/membership/domain"
	"github.com/smallbiznis/clavis/internal/membership/repository"
	"github.com/smallbiznis/clavis/internal/money"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubPlanSvc struct {
	plans map[snowflake.ID]plandomain.MembershipPlan
}

func (s *stubPlanSvc) Create(context.Context, plandomain.CreatePlanRequest) (plandomain.MembershipPlan, error) {
	return plandomain.MembershipPlan{}, nil
}
func (s *stubPlanSvc) GetByID(_ context.Context, id snowflake.ID) (plandomain.MembershipPlan, error) {
	plan, ok := s.plans[id]
	if !ok {
		return plandomain.MembershipPlan{}, plandomain.ErrPlanNotFound
	}
	return plan, nil
}
func (s *stubPlanSvc) GetBySlug(context.Context, string) (plandomain.MembershipPlan, error) {
	return plandomain.MembershipPlan{}, plandomain.ErrPlanNotFound
}
func (s *stubPlanSvc) List(context.Context) ([]plandomain.MembershipPlan, error) { return nil, nil }
func (s *stubPlanSvc) UpdatePrices(context.Context, plandomain.UpdatePlanPricesRequest) (plandomain.MembershipPlan, error) {
	return plandomain.MembershipPlan{}, nil
}
func (s *stubPlanSvc) Delete(context.Context, snowflake.ID) error { return nil }

type stubDiscountSvc struct {
	application discountdomain.DiscountApplication
	err         error
}

func (s *stubDiscountSvc) Validate(context.Context, string, snowflake.ID, money.Money) (discountdomain.DiscountApplication, error) {
	return s.application, s.err
}
func (s *stubDiscountSvc) Redeem(context.Context, *gorm.DB, snowflake.ID, string) (bool, error) {
	return false, nil
}
func (s *stubDiscountSvc) RedeemByCode(context.Context, *gorm.DB, string, string) (bool, error) {
	return false, nil
}

func newTestService(t *testing.T, plans map[snowflake.ID]plandomain.MembershipPlan, discounts discountdomain.Service) (*Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&domain.UserMembership{},
		&domain.PaymentIntent{},
		&eventdomain.MembershipEvent{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if discounts == nil {
		discounts = &stubDiscountSvc{}
	}

	svc := &Service{
		db:        db,
		log:       zap.NewNop(),
		genID:     node,
		clock:     fake,
		repo:      repository.Provide(),
		plans:     &stubPlanSvc{plans: plans},
		discounts: discounts,
		events:    event.NewWriter(zap.NewNop(), node),
	}
	return svc, db, fake
}

func testPlan(node *snowflake.Node) plandomain.MembershipPlan {
	return plandomain.MembershipPlan{
		ID:                  node.Generate(),
		Name:                "Gold",
		Slug:                "gold",
		FamilyKey:           "premium",
		Currency:            "USD",
		MonthlyPriceAmount:  1000,
		YearlyPriceAmount:   10000,
		OneTimeDurationDays: 30,
		AllowsRecurring:     true,
		AllowsOneTime:       true,
		RoleToAssign:        "gold_member",
	}
}

func seedActiveMembership(t *testing.T, db *gorm.DB, svc *Service, userID snowflake.ID, plan plandomain.MembershipPlan, endsAt *time.Time) *domain.UserMembership {
	t.Helper()
	now := svc.clock.Now()
	m := &domain.UserMembership{
		ID:                    svc.genID.Generate(),
		UserID:                userID,
		MembershipPlanID:      plan.ID,
		FamilyKey:             plan.FamilyKey,
		RoleKey:               plan.RoleToAssign,
		BillingType:           domain.BillingTypeRecurring,
		BillingInterval:       plandomain.IntervalMonthly,
		Status:                domain.MembershipStatusActive,
		StartsAt:              now,
		EndsAt:                endsAt,
		OriginalPriceAmount:   plan.MonthlyPriceAmount,
		OriginalPriceCurrency: plan.Currency,
		PaymentID:             "pay_" + uuid.NewString(),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	require.NoError(t, db.Create(m).Error)
	return m
}

func TestPurchase_CreatesIntentWithPlanPrice(t *testing.T) {
	node, _ := snowflake.NewNode(2)
	plan := testPlan(node)
	svc, db, _ := newTestService(t, map[snowflake.ID]plandomain.MembershipPlan{plan.ID: plan}, nil)

	userID := node.Generate()
	intent, err := svc.Purchase(context.Background(), domain.PurchaseMembershipRequest{
		UserID:          userID,
		PlanID:          plan.ID,
		BillingType:     domain.BillingTypeRecurring,
		BillingInterval: plandomain.IntervalMonthly,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), intent.AmountDue)
	require.Equal(t, "USD", intent.Currency)
	require.Equal(t, userID, intent.PayerID)
	require.Equal(t, userID, intent.BeneficiaryID)
	require.False(t, intent.IsGift)

	stored, err := svc.repo.FindIntentByReference(context.Background(), db, intent.Reference)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestPurchase_AppliesDiscount(t *testing.T) {
	node, _ := snowflake.NewNode(2)
	plan := testPlan(node)
	discounts := &stubDiscountSvc{
		application: discountdomain.DiscountApplication{
			DiscountAmount: money.MustNew(200, "USD"),
			FinalPrice:     money.MustNew(800, "USD"),
		},
	}
	svc, _, _ := newTestService(t, map[snowflake.ID]plandomain.MembershipPlan{plan.ID: plan}, discounts)

	code := "SAVE20"
	intent, err := svc.Purchase(context.Background(), domain.PurchaseMembershipRequest{
		UserID:          node.Generate(),
		PlanID:          plan.ID,
		BillingType:     domain.BillingTypeRecurring,
		BillingInterval: plandomain.IntervalMonthly,
		DiscountCode:    &code,
	})
	require.NoError(t, err)
	require.Equal(t, int64(800), intent.AmountDue)
	require.Equal(t, &code, intent.DiscountCode)
}

func TestPurchase_RejectsDisallowedBillingType(t *testing.T) {
	node, _ := snowflake.NewNode(2)
	plan := testPlan(node)
	plan.AllowsOneTime = false
	svc, _, _ := newTestService(t, map[snowflake.ID]plandomain.MembershipPlan{plan.ID: plan}, nil)

	_, err := svc.Purchase(context.Background(), domain.PurchaseMembershipRequest{
		UserID:          node.Generate(),
		PlanID:          plan.ID,
		BillingType:     domain.BillingTypeOneTime,
		BillingInterval: plandomain.IntervalMonthly,
	})
	require.ErrorIs(t, err, domain.ErrBillingTypeNotAllowed)
}

func TestGift_ForcesOneTimeBilling(t *testing.T) {
	node, _ := snowflake.NewNode(2)
	plan := testPlan(node)
	svc, _, _ := newTestService(t, map[snowflake.ID]plandomain.MembershipPlan{plan.ID: plan}, nil)

	intent, err := svc.Gift(context.Background(), domain.GiftMembershipRequest{
		GifterUserID:    node.Generate(),
		RecipientUserID: node.Generate(),
		PlanID:          plan.ID,
		BillingInterval: plandomain.IntervalMonthly,
	})
	require.NoError(t, err)
	require.True(t, intent.IsGift)
	require.Equal(t, domain.BillingTypeOneTime, intent.BillingType)
	require.NotEqual(t, intent.PayerID, intent.BeneficiaryID)
}

func TestGift_RejectsSelfGift(t *testing.T) {
	node, _ := snowflake.NewNode(2)
	plan := testPlan(node)
	svc, _, _ := newTestService(t, map[snowflake.ID]plandomain.MembershipPlan{plan.ID: plan}, nil)

	userID := node.Generate()
	_, err := svc.Gift(context.Background(), domain.GiftMembershipRequest{
		GifterUserID:    userID,
		RecipientUserID: userID,
		PlanID:          plan.ID,
	})
	require.ErrorIs(t, err, domain.ErrSelfGift)
}

func TestGift_RejectsAlreadyEntitledRecipient(t *testing.T) {
	node, _ := snowflake.NewNode(2)
	plan := testPlan(node)
	svc, db, _ := newTestService(t, map[snowflake.ID]plandomain.MembershipPlan{plan.ID: plan}, nil)

	recipient := node.Generate()
	seedActiveMembership(t, db, svc, recipient, plan, nil)

	_, err := svc.Gift(context.Background(), domain.GiftMembershipRequest{
		GifterUserID:    node.Generate(),
		RecipientUserID: recipient,
		PlanID:          plan.ID,
	})
	require.ErrorIs(t, err, domain.ErrAlreadyEntitled)
}

func TestUpgrade_PricesAgainstRemainingValue(t *testing.T) {
	node, _ := snowflake.NewNode(2)
	basic := testPlan(node)
	gold := testPlan(node)
	gold.ID = node.Generate()
	gold.MonthlyPriceAmount = 2000
	plans := map[snowflake.ID]plandomain.MembershipPlan{basic.ID: basic, gold.ID: gold}
	svc, db, fake := newTestService(t, plans, nil)

	userID := node.Generate()
	endsAt := fake.Now().Add(15 * 24 * time.Hour)
	current := seedActiveMembership(t, db, svc, userID, basic, &endsAt)

	intent, err := svc.Upgrade(context.Background(), domain.UpgradeMembershipRequest{
		UserID:       userID,
		TargetPlanID: gold.ID,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1500), intent.AmountDue)
	require.Equal(t, &current.ID, intent.UpgradeFromID)
	require.Equal(t, gold.ID, intent.MembershipPlanID)
}

func TestUpgrade_RequiresActiveMembership(t *testing.T) {
	node, _ := snowflake.NewNode(2)
	plan := testPlan(node)
	svc, _, _ := newTestService(t, map[snowflake.ID]plandomain.MembershipPlan{plan.ID: plan}, nil)

	_, err := svc.Upgrade(context.Background(), domain.UpgradeMembershipRequest{
		UserID:       node.Generate(),
		TargetPlanID: plan.ID,
	})
	require.ErrorIs(t, err, domain.ErrNothingToUpgrade)
}

func TestUpgrade_RejectsSamePlan(t *testing.T) {
	node, _ := snowflake.NewNode(2)
	plan := testPlan(node)
	svc, db, _ := newTestService(t, map[snowflake.ID]plandomain.MembershipPlan{plan.ID: plan}, nil)

	userID := node.Generate()
	seedActiveMembership(t, db, svc, userID, plan, nil)

	_, err := svc.Upgrade(context.Background(), domain.UpgradeMembershipRequest{
		UserID:       userID,
		TargetPlanID: plan.ID,
	})
	require.ErrorIs(t, err, domain.ErrUpgradeSamePlan)
}

func TestTransition_ActiveToCancelled(t *testing.T) {
	node, _ := snowflake.NewNode(2)
	plan := testPlan(node)
	svc, db, fake := newTestService(t, map[snowflake.ID]plandomain.MembershipPlan{plan.ID: plan}, nil)

	m := seedActiveMembership(t, db, svc, node.Generate(), plan, nil)
	reason := domain.ReasonUserRequested
	require.NoError(t, svc.Transition(context.Background(), db, m, domain.MembershipStatusCancelled, &reason, fake.Now()))
	require.Equal(t, domain.MembershipStatusCancelled, m.Status)
	require.NotNil(t, m.CancelledAt)

	var stored domain.UserMembership
	require.NoError(t, db.First(&stored, "id = ?", m.ID).Error)
	require.Equal(t, domain.MembershipStatusCancelled, stored.Status)
	require.Equal(t, &reason, stored.CancellationReason)
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	node, _ := snowflake.NewNode(2)
	plan := testPlan(node)
	svc, db, fake := newTestService(t, map[snowflake.ID]plandomain.MembershipPlan{plan.ID: plan}, nil)

	reason := domain.ReasonUserRequested
	for _, terminal := range []domain.MembershipStatus{domain.MembershipStatusCancelled, domain.MembershipStatusExpired} {
		m := seedActiveMembership(t, db, svc, node.Generate(), plan, nil)
		m.Status = terminal

		err := svc.Transition(context.Background(), db, m, domain.MembershipStatusActive, nil, fake.Now())
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
		err = svc.Transition(context.Background(), db, m, domain.MembershipStatusCancelled, &reason, fake.Now())
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
	}
}

func TestTransition_CancelRequiresReason(t *testing.T) {
	node, _ := snowflake.NewNode(2)
	plan := testPlan(node)
	svc, db, fake := newTestService(t, map[snowflake.ID]plandomain.MembershipPlan{plan.ID: plan}, nil)

	m := seedActiveMembership(t, db, svc, node.Generate(), plan, nil)
	err := svc.Transition(context.Background(), db, m, domain.MembershipStatusCancelled, nil, fake.Now())
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancel_EmitsRevokedEvent(t *testing.T) {
	node, _ := snowflake.NewNode(2)
	plan := testPlan(node)
	svc, db, _ := newTestService(t, map[snowflake.ID]plandomain.MembershipPlan{plan.ID: plan}, nil)

	userID := node.Generate()
	m := seedActiveMembership(t, db, svc, userID, plan, nil)

	require.NoError(t, svc.Cancel(context.Background(), domain.CancelMembershipRequest{
		UserID:       userID,
		MembershipID: m.ID,
	}))

	var events []eventdomain.MembershipEvent
	require.NoError(t, db.Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, eventdomain.TopicMembershipRevoked, events[0].EventType)
	require.Equal(t, string(domain.ReasonUserRequested), events[0].Payload["reason"])
}

func TestCancel_RejectsForeignMembership(t *testing.T) {
	node, _ := snowflake.NewNode(2)
	plan := testPlan(node)
	svc, db, _ := newTestService(t, map[snowflake.ID]plandomain.MembershipPlan{plan.ID: plan}, nil)

	m := seedActiveMembership(t, db, svc, node.Generate(), plan, nil)
	err := svc.Cancel(context.Background(), domain.CancelMembershipRequest{
		UserID:       node.Generate(),
		MembershipID: m.ID,
	})
	require.ErrorIs(t, err, domain.ErrNotOwner)
}
