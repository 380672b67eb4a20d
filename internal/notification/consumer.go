package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/clavis/internal/event/domain"
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
	Sinks      []Sink `group:"notification_sinks"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Consumer drains the outbox for notification delivery, independently of
// role synchronization: each consumer stamps its own completion column.
type Consumer struct {
	db         *gorm.DB
	log        *zap.Logger
	sinks      []Sink
	obsMetrics *obsmetrics.Metrics
}

func NewConsumer(p ConsumerParams) *Consumer {
	sinks := make([]Sink, 0, len(p.Sinks))
	for _, sink := range p.Sinks {
		if sink != nil {
			sinks = append(sinks, sink)
		}
	}
	return &Consumer{
		db:         p.DB,
		log:        p.Log.Named("notification.consumer"),
		sinks:      sinks,
		obsMetrics: p.ObsMetrics,
	}
}

type eventRow struct {
	ID        snowflake.ID   `gorm:"column:id"`
	EventType string         `gorm:"column:event_type"`
	Payload   datatypes.JSON `gorm:"column:payload"`
}

type eventPayload struct {
	UserID         string `json:"user_id"`
	GiftedByUserID string `json:"gifted_by_user_id"`
	IsGift         bool   `json:"is_gift"`
	Reason         string `json:"reason"`
	GiftMessage    string `json:"gift_message"`
}

func (c *Consumer) ProcessPending(ctx context.Context) error {
	now := time.Now().UTC()
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var events []eventRow
		err := tx.WithContext(ctx).Raw(
			`SELECT id, event_type, payload FROM membership_events
			 WHERE notified_at IS NULL
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
				c.log.Error("notification delivery failed",
					zap.Error(err),
					zap.String("event_id", event.ID.String()),
					zap.String("event_type", event.EventType),
				)
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

	// Delivery is best-effort per sink: a broken sink must not hold the event
	// open, or healthy sinks would redeliver it on every poll.
	for _, msg := range renderMessages(event.EventType, payload) {
		for _, sink := range c.sinks {
			if err := sink.Deliver(ctx, msg); err != nil {
				c.log.Error("sink delivery failed",
					zap.Error(err),
					zap.String("sink", sink.Name()),
					zap.String("event_id", event.ID.String()),
					zap.String("event_type", event.EventType),
				)
				continue
			}
			c.obsMetrics.RecordNotification(ctx, sink.Name(), event.EventType)
		}
	}

	return tx.WithContext(ctx).Exec(
		`UPDATE membership_events SET notified_at = ? WHERE id = ?`,
		now,
		event.ID,
	).Error
}

// renderMessages produces one message per affected party. Gift grants and
// gift revocations address both the recipient and the gifter.
func renderMessages(eventType string, payload eventPayload) []Message {
	userID, err := snowflake.ParseString(payload.UserID)
	if err != nil || userID == 0 {
		return nil
	}

	var gifterID snowflake.ID
	if payload.GiftedByUserID != "" {
		if parsed, err := snowflake.ParseString(payload.GiftedByUserID); err == nil {
			gifterID = parsed
		}
	}

	switch eventType {
	case eventdomain.TopicMembershipPurchased:
		return []Message{{
			UserID:    userID,
			EventType: eventType,
			Subject:   "Your membership is active",
			Body:      "Thanks for your purchase. Your membership is now active.",
		}}
	case eventdomain.TopicMembershipGifted:
		messages := []Message{{
			UserID:    userID,
			EventType: eventType,
			Subject:   "You've received a gift membership",
			Body:      giftBody(payload.GiftMessage),
		}}
		if gifterID != 0 {
			messages = append(messages, Message{
				UserID:    gifterID,
				EventType: eventType,
				Subject:   "Your gift was delivered",
				Body:      "The membership you gifted has been activated.",
			})
		}
		return messages
	case eventdomain.TopicMembershipUpgraded:
		return []Message{{
			UserID:    userID,
			EventType: eventType,
			Subject:   "Your membership upgrade is complete",
			Body:      "Your membership has been upgraded. The new benefits are available now.",
		}}
	case eventdomain.TopicMembershipRevoked:
		messages := []Message{{
			UserID:    userID,
			EventType: eventType,
			Subject:   "Your membership has been cancelled",
			Body:      "Your membership is no longer active.",
		}}
		if payload.IsGift && gifterID != 0 {
			messages = append(messages, Message{
				UserID:    gifterID,
				EventType: eventType,
				Subject:   "A membership you gifted was cancelled",
				Body:      "The membership you gifted is no longer active.",
			})
		}
		return messages
	case eventdomain.TopicMembershipExpired:
		return []Message{{
			UserID:    userID,
			EventType: eventType,
			Subject:   "Your membership has expired",
			Body:      "Your membership period has ended. Renew any time to restore your benefits.",
		}}
	default:
		return nil
	}
}

func giftBody(message string) string {
	body := "Someone gifted you a membership. It is active now."
	if message != "" {
		body += "\n\nTheir message: " + message
	}
	return body
}
