package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/membership/domain"
	"gorm.io/gorm"
)

type repo struct{}

// Provide returns the membership repository implementation.
func Provide() domain.Repository { return &repo{} }

const membershipColumns = `id, user_id, gifted_by_user_id, membership_plan_id, family_key, role_key,
billing_type, billing_interval, status, starts_at, ends_at,
original_price_amount, original_price_currency, payment_id,
cancellation_reason, cancelled_at, gift_message, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, m *domain.UserMembership) error {
	return db.WithContext(ctx).Create(m).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.UserMembership, error) {
	var m domain.UserMembership
	err := db.WithContext(ctx).
		Raw(`SELECT `+membershipColumns+` FROM user_memberships WHERE id = ?`, id).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repo) FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*domain.UserMembership, error) {
	var m domain.UserMembership
	err := db.WithContext(ctx).
		Raw(`SELECT `+membershipColumns+` FROM user_memberships WHERE payment_id = ?`, paymentID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repo) FindActiveForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, familyKey string) (*domain.UserMembership, error) {
	return r.findActive(ctx, db, userID, familyKey, "")
}

func (r *repo) FindActiveForUserForUpdate(ctx context.Context, tx *gorm.DB, userID snowflake.ID, familyKey string) (*domain.UserMembership, error) {
	return r.findActive(ctx, tx, userID, familyKey, " FOR UPDATE")
}

func (r *repo) findActive(ctx context.Context, db *gorm.DB, userID snowflake.ID, familyKey, suffix string) (*domain.UserMembership, error) {
	var m domain.UserMembership
	err := db.WithContext(ctx).
		Raw(`SELECT `+membershipColumns+`
FROM user_memberships
WHERE user_id = ? AND family_key = ? AND status = ?`+suffix,
			userID, familyKey, domain.MembershipStatusActive).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repo) ListActiveForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]domain.UserMembership, error) {
	var out []domain.UserMembership
	err := db.WithContext(ctx).
		Raw(`SELECT `+membershipColumns+`
FROM user_memberships
WHERE user_id = ? AND status = ?
ORDER BY created_at ASC`, userID, domain.MembershipStatusActive).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) UpdateLifecycle(ctx context.Context, tx *gorm.DB, m *domain.UserMembership) error {
	m.UpdatedAt = time.Now().UTC()
	return tx.WithContext(ctx).
		Exec(`UPDATE user_memberships
SET status = ?, cancellation_reason = ?, cancelled_at = ?, ends_at = ?, updated_at = ?
WHERE id = ?`,
			m.Status, m.CancellationReason, m.CancelledAt, m.EndsAt, m.UpdatedAt, m.ID).
		Error
}

func (r *repo) InsertIntent(ctx context.Context, db *gorm.DB, intent *domain.PaymentIntent) error {
	return db.WithContext(ctx).Create(intent).Error
}

func (r *repo) FindIntentByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := db.WithContext(ctx).
		Raw(`SELECT id, reference, payer_id, beneficiary_id, membership_plan_id,
billing_type, billing_interval, amount_due, currency, discount_code,
is_gift, gift_message, upgrade_from_id, created_at
FROM payment_intents WHERE reference = ?`, reference).
		First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}
