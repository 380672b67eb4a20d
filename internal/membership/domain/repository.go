package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, m *UserMembership) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UserMembership, error)
	FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*UserMembership, error)
	FindActiveForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, familyKey string) (*UserMembership, error)
	// FindActiveForUserForUpdate locks the active row for the duration of the
	// caller's transaction so concurrent captures serialize per user+family.
	FindActiveForUserForUpdate(ctx context.Context, tx *gorm.DB, userID snowflake.ID, familyKey string) (*UserMembership, error)
	ListActiveForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]UserMembership, error)
	UpdateLifecycle(ctx context.Context, tx *gorm.DB, m *UserMembership) error

	InsertIntent(ctx context.Context, db *gorm.DB, intent *PaymentIntent) error
	FindIntentByReference(ctx context.Context, db *gorm.DB, reference string) (*PaymentIntent, error)
}
