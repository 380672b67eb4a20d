package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RolePolicy controls how entitlement-derived roles are reconciled.
type RolePolicy struct {
	// BaseRole is the floor access level granted at account creation.
	// It is never removed by role synchronization.
	BaseRole string `mapstructure:"baseRole"`
	// ProtectedRoles are additional roles the synchronizer must never touch.
	ProtectedRoles []string `mapstructure:"protectedRoles"`
}

func DefaultRolePolicy() RolePolicy {
	return RolePolicy{
		BaseRole: "member",
	}
}

func (p RolePolicy) IsProtected(role string) bool {
	if strings.EqualFold(role, p.BaseRole) {
		return true
	}
	for _, protected := range p.ProtectedRoles {
		if strings.EqualFold(role, protected) {
			return true
		}
	}
	return false
}

// RolePolicyHolder keeps the current policy behind an atomic.Value so config
// file changes apply without a restart.
type RolePolicyHolder struct {
	current atomic.Value // holds RolePolicy
}

func NewRolePolicyHolder(log *zap.Logger) (*RolePolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("roles")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/clavis")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CLAVIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultRolePolicy()
		v.SetDefault("roles.baseRole", defaults.BaseRole)
		v.SetDefault("roles.protectedRoles", defaults.ProtectedRoles)
	}

	holder := &RolePolicyHolder{}
	if err := holder.reload(v); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		if err := holder.reload(v); err != nil {
			log.Warn("role policy reload failed", zap.Error(err))
		}
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticRolePolicyHolder returns a holder pinned to one policy, with no
// file watching. Used where hot reload is unwanted.
func NewStaticRolePolicyHolder(policy RolePolicy) *RolePolicyHolder {
	if strings.TrimSpace(policy.BaseRole) == "" {
		policy.BaseRole = DefaultRolePolicy().BaseRole
	}
	holder := &RolePolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *RolePolicyHolder) Current() RolePolicy {
	value, ok := h.current.Load().(RolePolicy)
	if !ok {
		return DefaultRolePolicy()
	}
	return value
}

func (h *RolePolicyHolder) reload(v *viper.Viper) error {
	var policy RolePolicy
	if err := v.UnmarshalKey("roles", &policy); err != nil {
		return err
	}
	if strings.TrimSpace(policy.BaseRole) == "" {
		policy.BaseRole = DefaultRolePolicy().BaseRole
	}
	h.current.Store(policy)
	return nil
}
