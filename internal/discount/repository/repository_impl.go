package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	discountdomain "github.com/smallbiznis/clavis/internal/discount/domain"
	"github.com/smallbiznis/clavis/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() discountdomain.Repository {
	return &repo{}
}

func (r *repo) FindByCode(ctx context.Context, conn *gorm.DB, code string) (*discountdomain.MembershipDiscount, error) {
	var discount discountdomain.MembershipDiscount
	err := conn.WithContext(ctx).Raw(
		`SELECT id, code, discount_type, discount_value, membership_plan_id, max_uses,
		 used_count, expires_at, created_at, updated_at
		 FROM membership_discounts WHERE code = ?`,
		code,
	).Scan(&discount).Error
	if err != nil {
		return nil, err
	}
	if discount.ID == 0 {
		return nil, nil
	}
	return &discount, nil
}

// InsertRedemption returns false without error when the (discount, payment)
// pair was already recorded.
func (r *repo) InsertRedemption(ctx context.Context, conn *gorm.DB, redemption *discountdomain.DiscountRedemption) (bool, error) {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO discount_redemptions (id, discount_id, payment_id, redeemed_at)
		 VALUES (?, ?, ?, ?)`,
		redemption.ID,
		redemption.DiscountID,
		redemption.PaymentID,
		redemption.RedeemedAt,
	).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repo) IncrementUsedCount(ctx context.Context, conn *gorm.DB, discountID snowflake.ID) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE membership_discounts
		 SET used_count = used_count + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		discountID,
	).Error
}
