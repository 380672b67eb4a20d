package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/clock"
	"github.com/smallbiznis/clavis/internal/event"
	eventdomain "github.com/smallbiznis/clavis/internal/event/domain"
	membershipdomain "github.com/smallbiznis/clavis/internal/membership/domain"
	obsmetrics "github.com/smallbiznis/clavis/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_sweeper_config")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Memberships membershipdomain.Service
	Events      *event.Writer
	Config      Config              `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

// Sweeper closes out memberships whose paid period has ended. It claims
// due rows under FOR UPDATE SKIP LOCKED so concurrent replicas never expire
// the same row twice, and open-ended memberships (ends_at NULL) are never
// touched.
type Sweeper struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	memberships membershipdomain.Service
	events      *event.Writer
	cfg         Config
	obsMetrics  *obsmetrics.Metrics
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Memberships == nil || p.Events == nil {
		return nil, ErrInvalidConfig
	}

	return &Sweeper{
		db:          p.DB,
		log:         p.Log.Named("sweeper"),
		clock:       p.Clock,
		memberships: p.Memberships,
		events:      p.Events,
		cfg:         p.Config.withDefaults(),
		obsMetrics:  p.ObsMetrics,
	}, nil
}

const dueMembershipColumns = `id, user_id, gifted_by_user_id, membership_plan_id, family_key, role_key,
billing_type, billing_interval, status, starts_at, ends_at,
original_price_amount, original_price_currency, payment_id,
cancellation_reason, cancelled_at, gift_message, created_at, updated_at`

// RunOnce expires every membership whose ends_at has passed. Candidates are
// claimed in one short transaction, then each row gets its own transaction
// with a locked re-check, so one failure never poisons the batch: the row is
// logged, skipped, and re-selected on the next sweep.
func (s *Sweeper) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	now := s.clock.Now()
	due, err := s.fetchDue(ctx, now)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.log.Warn("sweep timed out", zap.Duration("timeout", s.cfg.JobTimeout), zap.Error(err))
			return nil
		}
		return fmt.Errorf("expire_memberships: %w", err)
	}

	expired := 0
	for i := range due {
		if err := s.expireOne(ctx, due[i].ID, now); err != nil {
			s.log.Error("failed to expire membership",
				zap.String("membership_id", due[i].ID.String()),
				zap.Error(err),
			)
			continue
		}
		expired++
	}
	if expired > 0 {
		s.obsMetrics.RecordExpiration(ctx, int64(expired))
		s.log.Info("expired memberships", zap.Int("count", expired))
	}
	return nil
}

func (s *Sweeper) fetchDue(ctx context.Context, now time.Time) ([]membershipdomain.UserMembership, error) {
	var due []membershipdomain.UserMembership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.WithContext(ctx).Raw(
			`SELECT `+dueMembershipColumns+`
			 FROM user_memberships
			 WHERE status = ?
			   AND ends_at IS NOT NULL
			   AND ends_at <= ?
			 ORDER BY ends_at ASC, id ASC
			 LIMIT ?
			 FOR UPDATE SKIP LOCKED`,
			membershipdomain.MembershipStatusActive,
			now,
			s.cfg.BatchSize,
		).Scan(&due).Error
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

func (s *Sweeper) expireOne(ctx context.Context, id snowflake.ID, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.lockMembership(ctx, tx, id)
		if err != nil {
			return err
		}
		// The claim lock is gone by now; skip rows another worker settled.
		if m == nil || m.Status != membershipdomain.MembershipStatusActive {
			return nil
		}
		if m.EndsAt == nil || m.EndsAt.After(now) {
			return nil
		}
		return s.transitionExpired(ctx, tx, m, now)
	})
}

func (s *Sweeper) lockMembership(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*membershipdomain.UserMembership, error) {
	var m membershipdomain.UserMembership
	err := tx.WithContext(ctx).Raw(
		`SELECT `+dueMembershipColumns+`
		 FROM user_memberships
		 WHERE id = ?
		 FOR UPDATE`,
		id,
	).Scan(&m).Error
	if err != nil {
		return nil, err
	}
	if m.ID == 0 {
		return nil, nil
	}
	return &m, nil
}

func (s *Sweeper) transitionExpired(ctx context.Context, tx *gorm.DB, m *membershipdomain.UserMembership, now time.Time) error {
	if err := s.memberships.Transition(ctx, tx, m, membershipdomain.MembershipStatusExpired, nil, now); err != nil {
		return err
	}

	payload := map[string]any{
		"membership_id": m.ID.String(),
		"user_id":       m.UserID.String(),
		"plan_id":       m.MembershipPlanID.String(),
		"family_key":    m.FamilyKey,
		"is_gift":       m.IsGift(),
	}
	if m.GiftedByUserID != nil {
		payload["gifted_by_user_id"] = m.GiftedByUserID.String()
	}
	return s.events.Append(ctx, tx, eventdomain.TopicMembershipExpired, "expired:"+m.ID.String(), payload)
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
