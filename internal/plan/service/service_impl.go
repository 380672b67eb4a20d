package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	gosimpleslug "github.com/gosimple/slug"
	"github.com/smallbiznis/clavis/internal/clock"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  plandomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  plandomain.Repository
}

func NewService(p ServiceParam) plandomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req plandomain.CreatePlanRequest) (plandomain.MembershipPlan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return plandomain.MembershipPlan{}, plandomain.ErrInvalidPlan
	}
	if strings.TrimSpace(req.Currency) == "" || req.MonthlyPriceAmount < 0 || req.YearlyPriceAmount < 0 {
		return plandomain.MembershipPlan{}, plandomain.ErrInvalidPrice
	}
	if strings.TrimSpace(req.RoleToAssign) == "" {
		return plandomain.MembershipPlan{}, plandomain.ErrInvalidRole
	}
	if !req.AllowsRecurring && !req.AllowsOneTime {
		return plandomain.MembershipPlan{}, plandomain.ErrNoBillingTypes
	}
	if req.AllowsOneTime && req.OneTimeDurationDays <= 0 {
		return plandomain.MembershipPlan{}, plandomain.ErrInvalidDuration
	}

	planSlug := strings.TrimSpace(req.Slug)
	if planSlug == "" {
		planSlug = gosimpleslug.Make(name)
	}
	familyKey := strings.TrimSpace(req.FamilyKey)
	if familyKey == "" {
		familyKey = planSlug
	}

	existing, err := s.repo.FindBySlug(ctx, s.db, planSlug)
	if err != nil {
		return plandomain.MembershipPlan{}, err
	}
	if existing != nil {
		return plandomain.MembershipPlan{}, plandomain.ErrDuplicateSlug
	}

	now := s.clock.Now()
	plan := plandomain.MembershipPlan{
		ID:                  s.genID.Generate(),
		Name:                name,
		Slug:                planSlug,
		FamilyKey:           familyKey,
		Currency:            strings.ToUpper(strings.TrimSpace(req.Currency)),
		MonthlyPriceAmount:  req.MonthlyPriceAmount,
		YearlyPriceAmount:   req.YearlyPriceAmount,
		OneTimeDurationDays: req.OneTimeDurationDays,
		AllowsRecurring:     req.AllowsRecurring,
		AllowsOneTime:       req.AllowsOneTime,
		RoleToAssign:        strings.TrimSpace(req.RoleToAssign),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.repo.Insert(ctx, s.db, &plan); err != nil {
		return plandomain.MembershipPlan{}, err
	}

	s.log.Info("membership plan created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("slug", plan.Slug),
	)
	return plan, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (plandomain.MembershipPlan, error) {
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return plandomain.MembershipPlan{}, err
	}
	if plan == nil {
		return plandomain.MembershipPlan{}, plandomain.ErrPlanNotFound
	}
	return *plan, nil
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (plandomain.MembershipPlan, error) {
	plan, err := s.repo.FindBySlug(ctx, s.db, strings.TrimSpace(slug))
	if err != nil {
		return plandomain.MembershipPlan{}, err
	}
	if plan == nil {
		return plandomain.MembershipPlan{}, plandomain.ErrPlanNotFound
	}
	return *plan, nil
}

func (s *Service) List(ctx context.Context) ([]plandomain.MembershipPlan, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) UpdatePrices(ctx context.Context, req plandomain.UpdatePlanPricesRequest) (plandomain.MembershipPlan, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(req.PlanID))
	if err != nil || id == 0 {
		return plandomain.MembershipPlan{}, plandomain.ErrInvalidPlan
	}
	if req.MonthlyPriceAmount < 0 || req.YearlyPriceAmount < 0 {
		return plandomain.MembershipPlan{}, plandomain.ErrInvalidPrice
	}

	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return plandomain.MembershipPlan{}, err
	}
	if plan == nil {
		return plandomain.MembershipPlan{}, plandomain.ErrPlanNotFound
	}

	plan.MonthlyPriceAmount = req.MonthlyPriceAmount
	plan.YearlyPriceAmount = req.YearlyPriceAmount
	plan.UpdatedAt = s.clock.Now()

	if err := s.repo.UpdatePrices(ctx, s.db, plan); err != nil {
		return plandomain.MembershipPlan{}, err
	}
	return *plan, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if plan == nil {
		return plandomain.ErrPlanNotFound
	}

	referenced, err := s.repo.CountMemberships(ctx, s.db, id)
	if err != nil {
		return err
	}
	if referenced > 0 {
		return plandomain.ErrPlanReferenced
	}

	return s.repo.Delete(ctx, s.db, id)
}
