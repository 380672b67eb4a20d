package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	membershipdomain "github.com/smallbiznis/clavis/internal/membership/domain"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
)

type paymentIntentResponse struct {
	ID              string  `json:"id"`
	Reference       string  `json:"reference"`
	PayerID         string  `json:"payer_id"`
	BeneficiaryID   string  `json:"beneficiary_id"`
	PlanID          string  `json:"plan_id"`
	BillingType     string  `json:"billing_type"`
	BillingInterval string  `json:"billing_interval"`
	AmountDue       int64   `json:"amount_due"`
	Currency        string  `json:"currency"`
	DiscountCode    *string `json:"discount_code,omitempty"`
	IsGift          bool    `json:"is_gift"`
}

func toIntentResponse(intent *membershipdomain.PaymentIntent) paymentIntentResponse {
	return paymentIntentResponse{
		ID:              intent.ID.String(),
		Reference:       intent.Reference,
		PayerID:         intent.PayerID.String(),
		BeneficiaryID:   intent.BeneficiaryID.String(),
		PlanID:          intent.MembershipPlanID.String(),
		BillingType:     string(intent.BillingType),
		BillingInterval: string(intent.BillingInterval),
		AmountDue:       intent.AmountDue,
		Currency:        intent.Currency,
		DiscountCode:    intent.DiscountCode,
		IsGift:          intent.IsGift,
	}
}

type membershipResponse struct {
	ID                 string  `json:"id"`
	UserID             string  `json:"user_id"`
	GiftedByUserID     *string `json:"gifted_by_user_id,omitempty"`
	PlanID             string  `json:"plan_id"`
	FamilyKey          string  `json:"family_key"`
	RoleKey            string  `json:"role_key"`
	BillingType        string  `json:"billing_type"`
	BillingInterval    string  `json:"billing_interval"`
	Status             string  `json:"status"`
	StartsAt           string  `json:"starts_at"`
	EndsAt             *string `json:"ends_at,omitempty"`
	CancellationReason *string `json:"cancellation_reason,omitempty"`
	GiftMessage        *string `json:"gift_message,omitempty"`
}

func toMembershipResponse(m *membershipdomain.UserMembership) membershipResponse {
	resp := membershipResponse{
		ID:              m.ID.String(),
		UserID:          m.UserID.String(),
		PlanID:          m.MembershipPlanID.String(),
		FamilyKey:       m.FamilyKey,
		RoleKey:         m.RoleKey,
		BillingType:     string(m.BillingType),
		BillingInterval: string(m.BillingInterval),
		Status:          string(m.Status),
		StartsAt:        m.StartsAt.UTC().Format(time.RFC3339),
		GiftMessage:     m.GiftMessage,
	}
	if m.GiftedByUserID != nil {
		gifter := m.GiftedByUserID.String()
		resp.GiftedByUserID = &gifter
	}
	if m.EndsAt != nil {
		ends := m.EndsAt.UTC().Format(time.RFC3339)
		resp.EndsAt = &ends
	}
	if m.CancellationReason != nil {
		reason := string(*m.CancellationReason)
		resp.CancellationReason = &reason
	}
	return resp
}

type purchaseMembershipRequest struct {
	UserID          string  `json:"user_id"`
	PlanID          string  `json:"plan_id"`
	BillingType     string  `json:"billing_type"`
	BillingInterval string  `json:"billing_interval"`
	DiscountCode    *string `json:"discount_code"`
}

func (s *Server) PurchaseMembership(c *gin.Context) {
	var req purchaseMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseIDField(req.UserID, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	planID, err := parseIDField(req.PlanID, "plan_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	intent, err := s.membershipSvc.Purchase(c.Request.Context(), membershipdomain.PurchaseMembershipRequest{
		UserID:          userID,
		PlanID:          planID,
		BillingType:     membershipdomain.BillingType(strings.TrimSpace(req.BillingType)),
		BillingInterval: plandomain.BillingInterval(strings.TrimSpace(req.BillingInterval)),
		DiscountCode:    req.DiscountCode,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toIntentResponse(intent)})
}

type giftMembershipRequest struct {
	GifterUserID    string  `json:"gifter_user_id"`
	RecipientUserID string  `json:"recipient_user_id"`
	PlanID          string  `json:"plan_id"`
	BillingInterval string  `json:"billing_interval"`
	DiscountCode    *string `json:"discount_code"`
	GiftMessage     *string `json:"gift_message"`
}

func (s *Server) GiftMembership(c *gin.Context) {
	var req giftMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	gifterID, err := parseIDField(req.GifterUserID, "gifter_user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	recipientID, err := parseIDField(req.RecipientUserID, "recipient_user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	planID, err := parseIDField(req.PlanID, "plan_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	intent, err := s.membershipSvc.Gift(c.Request.Context(), membershipdomain.GiftMembershipRequest{
		GifterUserID:    gifterID,
		RecipientUserID: recipientID,
		PlanID:          planID,
		BillingInterval: plandomain.BillingInterval(strings.TrimSpace(req.BillingInterval)),
		DiscountCode:    req.DiscountCode,
		GiftMessage:     req.GiftMessage,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toIntentResponse(intent)})
}

type upgradeMembershipRequest struct {
	UserID       string `json:"user_id"`
	TargetPlanID string `json:"target_plan_id"`
}

func (s *Server) UpgradeMembership(c *gin.Context) {
	req, err := bindUpgradeRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	intent, err := s.membershipSvc.Upgrade(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toIntentResponse(intent)})
}

func (s *Server) QuoteUpgrade(c *gin.Context) {
	req, err := bindUpgradeRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	quote, err := s.membershipSvc.QuoteUpgrade(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"current_membership_id": quote.CurrentMembershipID.String(),
		"remaining_value":       quote.RemainingValue.Amount,
		"upgrade_price":         quote.UpgradePrice.Amount,
		"currency":              quote.UpgradePrice.Currency,
	}})
}

func bindUpgradeRequest(c *gin.Context) (membershipdomain.UpgradeMembershipRequest, error) {
	var req upgradeMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return membershipdomain.UpgradeMembershipRequest{}, invalidRequestError()
	}

	userID, err := parseIDField(req.UserID, "user_id")
	if err != nil {
		return membershipdomain.UpgradeMembershipRequest{}, err
	}
	planID, err := parseIDField(req.TargetPlanID, "target_plan_id")
	if err != nil {
		return membershipdomain.UpgradeMembershipRequest{}, err
	}

	return membershipdomain.UpgradeMembershipRequest{
		UserID:       userID,
		TargetPlanID: planID,
	}, nil
}

func (s *Server) CancelMembership(c *gin.Context) {
	membershipID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, err := parseIDField(req.UserID, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.membershipSvc.Cancel(c.Request.Context(), membershipdomain.CancelMembershipRequest{
		UserID:       userID,
		MembershipID: membershipID,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) GetMembershipByID(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	m, err := s.membershipSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toMembershipResponse(m)})
}

func (s *Server) ListUserMemberships(c *gin.Context) {
	userID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	memberships, err := s.membershipSvc.ListActiveForUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := make([]membershipResponse, 0, len(memberships))
	for i := range memberships {
		resp = append(resp, toMembershipResponse(&memberships[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListUserRoles(c *gin.Context) {
	userID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	roles, err := s.roleSvc.RolesForUser(userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": roles})
}

func parseIDField(raw, field string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return id, nil
}
