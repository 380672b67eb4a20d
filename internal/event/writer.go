// Package event appends domain events to the transactional outbox.
package event

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var Module = fx.Module("event",
	fx.Provide(NewWriter),
)

type Writer struct {
	log   *zap.Logger
	genID *snowflake.Node
}

func NewWriter(log *zap.Logger, genID *snowflake.Node) *Writer {
	return &Writer{
		log:   log.Named("event.writer"),
		genID: genID,
	}
}

// Append writes one event inside the caller's transaction. A duplicate
// dedupe key means the event was already emitted for this trigger; that is
// treated as success so retried orchestrations converge.
func (w *Writer) Append(ctx context.Context, tx *gorm.DB, eventType, dedupeKey string, payload map[string]any) error {
	var keyPtr *string
	if dedupeKey != "" {
		keyPtr = &dedupeKey
	}

	err := tx.WithContext(ctx).Exec(
		`INSERT INTO membership_events (id, event_type, payload, dedupe_key, created_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		w.genID.Generate(),
		eventType,
		datatypes.JSONMap(payload),
		keyPtr,
	).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			w.log.Debug("event already emitted",
				zap.String("event_type", eventType),
				zap.String("dedupe_key", dedupeKey),
			)
			return nil
		}
		return err
	}
	return nil
}
