// Package seed bootstraps a development catalog so a fresh install has
// something to purchase against.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	discountdomain "github.com/smallbiznis/clavis/internal/discount/domain"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
	"gorm.io/gorm"
)

// EnsureDevCatalog creates a small plan family and a sample discount code
// when the catalog is empty. Safe to call on every startup.
func EnsureDevCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.WithContext(ctx).Model(&plandomain.MembershipPlan{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now().UTC()
		plans := []plandomain.MembershipPlan{
			{
				ID:                  node.Generate(),
				Name:                "Silver",
				Slug:                "silver",
				FamilyKey:           "premium",
				Currency:            "USD",
				MonthlyPriceAmount:  500,
				YearlyPriceAmount:   5000,
				OneTimeDurationDays: 30,
				AllowsRecurring:     true,
				AllowsOneTime:       true,
				RoleToAssign:        "silver_member",
				CreatedAt:           now,
				UpdatedAt:           now,
			},
			{
				ID:                  node.Generate(),
				Name:                "Gold",
				Slug:                "gold",
				FamilyKey:           "premium",
				Currency:            "USD",
				MonthlyPriceAmount:  1000,
				YearlyPriceAmount:   10000,
				OneTimeDurationDays: 30,
				AllowsRecurring:     true,
				AllowsOneTime:       true,
				RoleToAssign:        "gold_member",
				CreatedAt:           now,
				UpdatedAt:           now,
			},
		}
		if err := tx.WithContext(ctx).Create(&plans).Error; err != nil {
			return err
		}

		discount := discountdomain.MembershipDiscount{
			ID:            node.Generate(),
			Code:          "WELCOME10",
			DiscountType:  discountdomain.DiscountTypePercentage,
			DiscountValue: 10,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return tx.WithContext(ctx).Create(&discount).Error
	})
}
