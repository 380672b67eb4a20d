package rolesync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/clavis/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const batchSize = 50

type ConsumerParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Svc        *Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Consumer drains the outbox for role synchronization. Each claimed event
// reconciles the affected user and stamps role_synced_at; rows that fail stay
// unstamped and are retried on the next poll.
type Consumer struct {
	db         *gorm.DB
	log        *zap.Logger
	svc        *Service
	obsMetrics *obsmetrics.Metrics
}

func NewConsumer(p ConsumerParams) *Consumer {
	return &Consumer{
		db:         p.DB,
		log:        p.Log.Named("rolesync.consumer"),
		svc:        p.Svc,
		obsMetrics: p.ObsMetrics,
	}
}

type eventRow struct {
	ID        snowflake.ID   `gorm:"column:id"`
	EventType string         `gorm:"column:event_type"`
	Payload   datatypes.JSON `gorm:"column:payload"`
}

type eventPayload struct {
	UserID string `json:"user_id"`
}

func (c *Consumer) ProcessPending(ctx context.Context) error {
	now := time.Now().UTC()
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var events []eventRow
		err := tx.WithContext(ctx).Raw(
			`SELECT id, event_type, payload FROM membership_events
			 WHERE role_synced_at IS NULL
			 ORDER BY created_at ASC
			 LIMIT ?
			 FOR UPDATE SKIP LOCKED`,
			batchSize,
		).Scan(&events).Error
		if err != nil {
			return err
		}

		for _, event := range events {
			if err := c.processEvent(ctx, tx, event, now); err != nil {
				c.log.Error("role sync failed",
					zap.Error(err),
					zap.String("event_id", event.ID.String()),
					zap.String("event_type", event.EventType),
				)
				c.obsMetrics.RecordRoleSync(ctx, "error")
			}
		}
		return nil
	})
}

func (c *Consumer) processEvent(ctx context.Context, tx *gorm.DB, event eventRow, now time.Time) error {
	var payload eventPayload
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		return err
	}
	userID, err := snowflake.ParseString(payload.UserID)
	if err != nil || userID == 0 {
		return ErrInvalidUser
	}

	if err := c.svc.Reconcile(ctx, userID); err != nil {
		return err
	}

	if err := tx.WithContext(ctx).Exec(
		`UPDATE membership_events SET role_synced_at = ? WHERE id = ?`,
		now,
		event.ID,
	).Error; err != nil {
		return err
	}

	c.obsMetrics.RecordRoleSync(ctx, "ok")
	return nil
}
