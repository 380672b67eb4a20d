package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrPlanNotFound       = errors.New("plan_not_found")
	ErrInvalidPlan        = errors.New("invalid_plan")
	ErrInvalidInterval    = errors.New("invalid_billing_interval")
	ErrInvalidPrice       = errors.New("invalid_price")
	ErrInvalidRole        = errors.New("invalid_role")
	ErrPlanReferenced     = errors.New("plan_referenced_by_memberships")
	ErrDuplicateSlug      = errors.New("duplicate_plan_slug")
	ErrInvalidDuration    = errors.New("invalid_duration_days")
	ErrNoBillingTypes     = errors.New("plan_allows_no_billing_types")
)

type CreatePlanRequest struct {
	Name                string `json:"name"`
	Slug                string `json:"slug,omitempty"`
	FamilyKey           string `json:"family_key,omitempty"`
	Currency            string `json:"currency"`
	MonthlyPriceAmount  int64  `json:"monthly_price_amount"`
	YearlyPriceAmount   int64  `json:"yearly_price_amount"`
	OneTimeDurationDays int    `json:"one_time_duration_days"`
	AllowsRecurring     bool   `json:"allows_recurring"`
	AllowsOneTime       bool   `json:"allows_one_time"`
	RoleToAssign        string `json:"role_to_assign"`
}

type UpdatePlanPricesRequest struct {
	PlanID             string `json:"plan_id"`
	MonthlyPriceAmount int64  `json:"monthly_price_amount"`
	YearlyPriceAmount  int64  `json:"yearly_price_amount"`
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (MembershipPlan, error)
	GetByID(ctx context.Context, id snowflake.ID) (MembershipPlan, error)
	GetBySlug(ctx context.Context, slug string) (MembershipPlan, error)
	List(ctx context.Context) ([]MembershipPlan, error)
	// UpdatePrices is the only mutation allowed while memberships reference
	// the plan; entitlements hold their own price snapshot.
	UpdatePrices(ctx context.Context, req UpdatePlanPricesRequest) (MembershipPlan, error)
	Delete(ctx context.Context, id snowflake.ID) error
}
