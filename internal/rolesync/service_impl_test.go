package rolesync

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/clavis/internal/config"
	"github.com/smallbiznis/clavis/internal/event"
	eventdomain "github.com/smallbiznis/clavis/internal/event/domain"
	membershipdomain "github.com/smallbiznis/clavis/internal/membership/domain"
	membershiprepo "github.com/smallbiznis/clavis/internal/membership/repository"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestSync(t *testing.T, policy config.RolePolicy) (*Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&membershipdomain.UserMembership{},
		&eventdomain.MembershipEvent{},
	))

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:             db,
		Log:            zap.NewNop(),
		Enforcer:       enforcer,
		MembershipRepo: membershiprepo.Provide(),
		Policies:       config.NewStaticRolePolicyHolder(policy),
	})
	return svc, db, node
}

func seedMembership(t *testing.T, db *gorm.DB, node *snowflake.Node, userID snowflake.ID, roleKey string, status membershipdomain.MembershipStatus) *membershipdomain.UserMembership {
	t.Helper()
	now := time.Now().UTC()
	m := &membershipdomain.UserMembership{
		ID:                    node.Generate(),
		UserID:                userID,
		MembershipPlanID:      node.Generate(),
		FamilyKey:             "premium",
		RoleKey:               roleKey,
		BillingType:           membershipdomain.BillingTypeRecurring,
		BillingInterval:       plandomain.IntervalMonthly,
		Status:                status,
		StartsAt:              now,
		OriginalPriceAmount:   1000,
		OriginalPriceCurrency: "USD",
		PaymentID:             "pay_" + uuid.NewString(),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	require.NoError(t, db.Create(m).Error)
	return m
}

func TestReconcile_GrantsMembershipAndBaseRoles(t *testing.T) {
	svc, db, node := newTestSync(t, config.RolePolicy{BaseRole: "member"})

	userID := node.Generate()
	seedMembership(t, db, node, userID, "gold_member", membershipdomain.MembershipStatusActive)

	require.NoError(t, svc.Reconcile(context.Background(), userID))

	roles, err := svc.RolesForUser(userID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"member", "gold_member"}, roles)
}

func TestReconcile_RemovesRoleAfterRevocation(t *testing.T) {
	svc, db, node := newTestSync(t, config.RolePolicy{BaseRole: "member"})

	userID := node.Generate()
	m := seedMembership(t, db, node, userID, "gold_member", membershipdomain.MembershipStatusActive)
	require.NoError(t, svc.Reconcile(context.Background(), userID))

	reason := membershipdomain.ReasonChargebackRefund
	now := time.Now().UTC()
	require.NoError(t, db.Exec(
		`UPDATE user_memberships SET status = ?, cancellation_reason = ?, cancelled_at = ? WHERE id = ?`,
		membershipdomain.MembershipStatusCancelled, reason, now, m.ID,
	).Error)

	require.NoError(t, svc.Reconcile(context.Background(), userID))

	roles, err := svc.RolesForUser(userID)
	require.NoError(t, err)
	require.Equal(t, []string{"member"}, roles)
}

func TestReconcile_BaseRoleSurvivesWithNoMemberships(t *testing.T) {
	svc, _, node := newTestSync(t, config.RolePolicy{BaseRole: "member"})

	userID := node.Generate()
	require.NoError(t, svc.Reconcile(context.Background(), userID))
	require.NoError(t, svc.Reconcile(context.Background(), userID))

	roles, err := svc.RolesForUser(userID)
	require.NoError(t, err)
	require.Equal(t, []string{"member"}, roles)
}

func TestReconcile_ProtectedRolesAreNeverRemoved(t *testing.T) {
	svc, _, node := newTestSync(t, config.RolePolicy{
		BaseRole:       "member",
		ProtectedRoles: []string{"moderator"},
	})

	userID := node.Generate()
	subject := "user:" + userID.String()
	_, err := svc.enforcer.AddGroupingPolicy(subject, "role:moderator")
	require.NoError(t, err)

	require.NoError(t, svc.Reconcile(context.Background(), userID))

	roles, err := svc.RolesForUser(userID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"member", "moderator"}, roles)
}

func TestConsumer_ProcessPendingStampsEvents(t *testing.T) {
	svc, db, node := newTestSync(t, config.RolePolicy{BaseRole: "member"})
	stripForUpdateCallbacks(t, db)

	userID := node.Generate()
	seedMembership(t, db, node, userID, "gold_member", membershipdomain.MembershipStatusActive)

	writer := event.NewWriter(zap.NewNop(), node)
	require.NoError(t, writer.Append(context.Background(), db, eventdomain.TopicMembershipPurchased, "captured:pay_1",
		map[string]any{"user_id": userID.String()}))

	consumer := NewConsumer(ConsumerParams{DB: db, Log: zap.NewNop(), Svc: svc})
	require.NoError(t, consumer.ProcessPending(context.Background()))

	roles, err := svc.RolesForUser(userID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"member", "gold_member"}, roles)

	var pending int64
	require.NoError(t, db.Model(&eventdomain.MembershipEvent{}).
		Where("role_synced_at IS NULL").Count(&pending).Error)
	require.Zero(t, pending)

	// Second pass finds nothing to do.
	require.NoError(t, consumer.ProcessPending(context.Background()))
}

func stripForUpdateCallbacks(t *testing.T, db *gorm.DB) {
	t.Helper()
	strip := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if !strings.Contains(sql, "FOR UPDATE") {
			return
		}
		newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
		newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
		d.Statement.SQL.Reset()
		d.Statement.SQL.WriteString(newSQL)
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", strip))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", strip))
}
