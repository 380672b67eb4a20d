// Package rolesync reconciles entitlement-derived roles against the role
// store.
package rolesync

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/clavis/internal/config"
	membershipdomain "github.com/smallbiznis/clavis/internal/membership/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const rolePrefix = "role:"

var ErrInvalidUser = errors.New("invalid_user")

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Enforcer       *casbin.SyncedEnforcer
	MembershipRepo membershipdomain.Repository
	Policies       *config.RolePolicyHolder
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	enforcer       *casbin.SyncedEnforcer
	membershipRepo membershipdomain.Repository
	policies       *config.RolePolicyHolder
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) *Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("rolesync.service"),
		enforcer:       p.Enforcer,
		membershipRepo: p.MembershipRepo,
		policies:       p.Policies,
	}
}

// Reconcile rebuilds a user's role assignments from their active
// entitlements. The desired set is the base role plus the role key of every
// active membership; anything else is removed unless the policy protects it.
// Reconciling from current state rather than applying event deltas means a
// replayed or out-of-order event converges to the same result.
func (s *Service) Reconcile(ctx context.Context, userID snowflake.ID) error {
	if userID == 0 {
		return ErrInvalidUser
	}
	subject := "user:" + userID.String()

	memberships, err := s.membershipRepo.ListActiveForUser(ctx, s.db, userID)
	if err != nil {
		return err
	}

	policy := s.policies.Current()
	desired := map[string]struct{}{
		roleName(policy.BaseRole): {},
	}
	for _, m := range memberships {
		if strings.TrimSpace(m.RoleKey) == "" {
			continue
		}
		desired[roleName(m.RoleKey)] = struct{}{}
	}

	current, err := s.enforcer.GetRolesForUser(subject)
	if err != nil {
		return err
	}
	assigned := map[string]struct{}{}
	for _, role := range current {
		assigned[role] = struct{}{}
	}

	for role := range desired {
		if _, ok := assigned[role]; ok {
			continue
		}
		if _, err := s.enforcer.AddGroupingPolicy(subject, role); err != nil {
			return err
		}
		s.log.Info("role granted",
			zap.String("user_id", userID.String()),
			zap.String("role", role),
		)
	}

	for _, role := range current {
		if _, ok := desired[role]; ok {
			continue
		}
		if policy.IsProtected(strings.TrimPrefix(role, rolePrefix)) {
			continue
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(subject, role); err != nil {
			return err
		}
		s.log.Info("role removed",
			zap.String("user_id", userID.String()),
			zap.String("role", role),
		)
	}

	return nil
}

// RolesForUser returns the user's assigned role keys, without the prefix.
func (s *Service) RolesForUser(userID snowflake.ID) ([]string, error) {
	roles, err := s.enforcer.GetRolesForUser("user:" + userID.String())
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		out = append(out, strings.TrimPrefix(role, rolePrefix))
	}
	return out, nil
}

// HasRole reports whether the user currently holds the role key.
func (s *Service) HasRole(userID snowflake.ID, roleKey string) (bool, error) {
	return s.enforcer.HasGroupingPolicy("user:"+userID.String(), roleName(roleKey))
}

func roleName(roleKey string) string {
	return rolePrefix + strings.ToLower(strings.TrimSpace(roleKey))
}
