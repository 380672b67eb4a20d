package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
)

type planResponse struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Slug                string `json:"slug"`
	FamilyKey           string `json:"family_key"`
	Currency            string `json:"currency"`
	MonthlyPriceAmount  int64  `json:"monthly_price_amount"`
	YearlyPriceAmount   int64  `json:"yearly_price_amount"`
	OneTimeDurationDays int    `json:"one_time_duration_days"`
	AllowsRecurring     bool   `json:"allows_recurring"`
	AllowsOneTime       bool   `json:"allows_one_time"`
	RoleToAssign        string `json:"role_to_assign"`
	CreatedAt           string `json:"created_at"`
}

func toPlanResponse(p plandomain.MembershipPlan) planResponse {
	return planResponse{
		ID:                  p.ID.String(),
		Name:                p.Name,
		Slug:                p.Slug,
		FamilyKey:           p.FamilyKey,
		Currency:            p.Currency,
		MonthlyPriceAmount:  p.MonthlyPriceAmount,
		YearlyPriceAmount:   p.YearlyPriceAmount,
		OneTimeDurationDays: p.OneTimeDurationDays,
		AllowsRecurring:     p.AllowsRecurring,
		AllowsOneTime:       p.AllowsOneTime,
		RoleToAssign:        p.RoleToAssign,
		CreatedAt:           p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req plandomain.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.planSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toPlanResponse(plan)})
}

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.planSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, toPlanResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetPlanByID accepts either a numeric id or a slug.
func (s *Server) GetPlanByID(c *gin.Context) {
	ref := strings.TrimSpace(c.Param("id"))

	var plan plandomain.MembershipPlan
	var err error
	if id, parseErr := snowflake.ParseString(ref); parseErr == nil {
		plan, err = s.planSvc.GetByID(c.Request.Context(), id)
	} else {
		plan, err = s.planSvc.GetBySlug(c.Request.Context(), ref)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toPlanResponse(plan)})
}

func (s *Server) UpdatePlanPrices(c *gin.Context) {
	var req struct {
		MonthlyPriceAmount int64 `json:"monthly_price_amount"`
		YearlyPriceAmount  int64 `json:"yearly_price_amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.planSvc.UpdatePrices(c.Request.Context(), plandomain.UpdatePlanPricesRequest{
		PlanID:             strings.TrimSpace(c.Param("id")),
		MonthlyPriceAmount: req.MonthlyPriceAmount,
		YearlyPriceAmount:  req.YearlyPriceAmount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toPlanResponse(plan)})
}

func (s *Server) DeletePlan(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.planSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, newValidationError(name, "invalid_"+name, "invalid "+name)
	}
	return id, nil
}
