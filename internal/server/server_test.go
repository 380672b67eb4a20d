package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/clavis/internal/clock"
	"github.com/smallbiznis/clavis/internal/event"
	eventdomain "github.com/smallbiznis/clavis/internal/event/domain"
	membershipdomain "github.com/smallbiznis/clavis/internal/membership/domain"
	membershiprepo "github.com/smallbiznis/clavis/internal/membership/repository"
	membershipservice "github.com/smallbiznis/clavis/internal/membership/service"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
	planrepo "github.com/smallbiznis/clavis/internal/plan/repository"
	planservice "github.com/smallbiznis/clavis/internal/plan/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type serverEnv struct {
	server *Server
	db     *gorm.DB
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&plandomain.MembershipPlan{},
		&membershipdomain.UserMembership{},
		&membershipdomain.PaymentIntent{},
		&eventdomain.MembershipEvent{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	planSvc := planservice.NewService(planservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  planrepo.Provide(),
	})
	membershipSvc := membershipservice.NewService(membershipservice.ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fake,
		Repo:   membershiprepo.Provide(),
		Plans:  planSvc,
		Events: event.NewWriter(zap.NewNop(), node),
	})

	srv := &Server{
		engine:        NewEngine(),
		log:           zap.NewNop(),
		planSvc:       planSvc,
		membershipSvc: membershipSvc,
	}
	srv.registerAPIRoutes()

	return &serverEnv{server: srv, db: db}
}

func (e *serverEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func createPlanPayload() map[string]any {
	return map[string]any{
		"name":                   "Gold",
		"currency":               "USD",
		"monthly_price_amount":   1000,
		"yearly_price_amount":    10000,
		"one_time_duration_days": 30,
		"allows_recurring":       true,
		"allows_one_time":        true,
		"role_to_assign":         "gold_member",
	}
}

func TestCreateAndFetchPlan(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/api/plans", createPlanPayload())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decodeData(t, rec)
	require.Equal(t, "gold", created["slug"])
	planID := created["id"].(string)

	rec = env.do(t, http.MethodGet, "/api/plans/"+planID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Gold", decodeData(t, rec)["name"])

	rec = env.do(t, http.MethodGet, "/api/plans/gold", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, planID, decodeData(t, rec)["id"])
}

func TestGetUnknownPlanReturnsNotFound(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodGet, "/api/plans/no-such-plan", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurchaseCreatesPaymentIntent(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/api/plans", createPlanPayload())
	require.Equal(t, http.StatusOK, rec.Code)
	planID := decodeData(t, rec)["id"].(string)

	rec = env.do(t, http.MethodPost, "/api/memberships/purchase", map[string]any{
		"user_id":          "1001",
		"plan_id":          planID,
		"billing_type":     "recurring",
		"billing_interval": "monthly",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	intent := decodeData(t, rec)
	require.Equal(t, float64(1000), intent["amount_due"])
	require.Equal(t, "USD", intent["currency"])
	require.NotEmpty(t, intent["reference"])
}

func TestPurchaseWithBadIntervalReturnsValidationError(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/api/plans", createPlanPayload())
	require.Equal(t, http.StatusOK, rec.Code)
	planID := decodeData(t, rec)["id"].(string)

	rec = env.do(t, http.MethodPost, "/api/memberships/purchase", map[string]any{
		"user_id":          "1001",
		"plan_id":          planID,
		"billing_type":     "recurring",
		"billing_interval": "weekly",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurchaseWithMalformedUserIDReturnsValidationError(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/api/memberships/purchase", map[string]any{
		"user_id":          "not-a-number",
		"plan_id":          "1",
		"billing_type":     "recurring",
		"billing_interval": "monthly",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope struct {
		Error errorPayload `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "validation_error", envelope.Error.Type)
	require.Equal(t, "user_id", envelope.Error.Errors[0].Field)
}

func TestCancelForeignMembershipReturnsForbidden(t *testing.T) {
	env := newServerEnv(t)

	owner := snowflake.ID(1001)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	m := &membershipdomain.UserMembership{
		ID:                    node.Generate(),
		UserID:                owner,
		MembershipPlanID:      node.Generate(),
		FamilyKey:             "premium",
		RoleKey:               "gold_member",
		BillingType:           membershipdomain.BillingTypeRecurring,
		BillingInterval:       "monthly",
		Status:                membershipdomain.MembershipStatusActive,
		StartsAt:              time.Now().UTC(),
		OriginalPriceAmount:   1000,
		OriginalPriceCurrency: "USD",
		PaymentID:             uuid.NewString(),
	}
	require.NoError(t, env.db.Create(m).Error)

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/memberships/%s/cancel", m.ID), map[string]any{
		"user_id": "9999",
	})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}
