package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *plandomain.MembershipPlan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO membership_plans (
			id, name, slug, family_key, currency, monthly_price_amount, yearly_price_amount,
			one_time_duration_days, allows_recurring, allows_one_time, role_to_assign,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.Name,
		plan.Slug,
		plan.FamilyKey,
		plan.Currency,
		plan.MonthlyPriceAmount,
		plan.YearlyPriceAmount,
		plan.OneTimeDurationDays,
		plan.AllowsRecurring,
		plan.AllowsOneTime,
		plan.RoleToAssign,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

const planColumns = `id, name, slug, family_key, currency, monthly_price_amount, yearly_price_amount,
	 one_time_duration_days, allows_recurring, allows_one_time, role_to_assign, created_at, updated_at`

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*plandomain.MembershipPlan, error) {
	var plan plandomain.MembershipPlan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM membership_plans WHERE id = ?`,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*plandomain.MembershipPlan, error) {
	var plan plandomain.MembershipPlan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM membership_plans WHERE slug = ?`,
		slug,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]plandomain.MembershipPlan, error) {
	var plans []plandomain.MembershipPlan
	err := db.WithContext(ctx).Raw(
		`SELECT ` + planColumns + ` FROM membership_plans ORDER BY created_at ASC`,
	).Scan(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) UpdatePrices(ctx context.Context, db *gorm.DB, plan *plandomain.MembershipPlan) error {
	return db.WithContext(ctx).Exec(
		`UPDATE membership_plans
		 SET monthly_price_amount = ?, yearly_price_amount = ?, updated_at = ?
		 WHERE id = ?`,
		plan.MonthlyPriceAmount,
		plan.YearlyPriceAmount,
		plan.UpdatedAt,
		plan.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM membership_plans WHERE id = ?`,
		id,
	).Error
}

func (r *repo) CountMemberships(ctx context.Context, db *gorm.DB, planID snowflake.ID) (int64, error) {
	var count int64
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM user_memberships WHERE membership_plan_id = ?`,
		planID,
	).Scan(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
