// Package domain contains the membership event outbox.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	TopicMembershipPurchased = "membership.purchased"
	TopicMembershipGifted    = "membership.gifted"
	TopicMembershipUpgraded  = "membership.upgraded"
	TopicMembershipRevoked   = "membership.revoked"
	TopicMembershipExpired   = "membership.expired"
)

// MembershipEvent is an outbox row written in the same transaction as the
// state change it describes. DedupeKey keeps re-emission idempotent under
// at-least-once processing.
//
// Downstream consumers (role sync, notifications) each track their own
// completion marker so one slow consumer never starves another.
type MembershipEvent struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	EventType    string            `gorm:"type:text;not null;index"`
	Payload      datatypes.JSONMap `gorm:"type:jsonb;not null"`
	DedupeKey    *string           `gorm:"type:text;uniqueIndex:ux_membership_event_dedupe"`
	RoleSyncedAt *time.Time        `gorm:"index"`
	NotifiedAt   *time.Time        `gorm:"index"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MembershipEvent) TableName() string { return "membership_events" }
