package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	depositdomain "github.com/smallbiznis/cashstation/internal/deposit/domain"
	productdomain "github.com/smallbiznis/cashstation/internal/product/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type defaultProduct struct {
	code        string
	name        string
	category    productdomain.Category
	depositType depositdomain.DepositType
}

// Forecourt products every station sells. POS routing for oil and
// engine_oil is implied by the deposit type.
var defaultProducts = []defaultProduct{
	{code: "fuel", name: "Fuel", category: productdomain.CategoryGoods, depositType: depositdomain.DepositTypeOil},
	{code: "engine-oil", name: "Engine oil", category: productdomain.CategoryGoods, depositType: depositdomain.DepositTypeEngineOil},
	{code: "coffee", name: "Coffee", category: productdomain.CategoryGoods, depositType: depositdomain.DepositTypeCoffeeShop},
	{code: "convenience", name: "Convenience store", category: productdomain.CategoryGoods, depositType: depositdomain.DepositTypeConvenientStore},
	{code: "car-rental", name: "Car rental", category: productdomain.CategoryRental, depositType: depositdomain.DepositTypeRental},
}

// EnsureDefaultProducts inserts the forecourt catalog. Existing codes are
// left untouched so staff edits survive restarts.
func EnsureDefaultProducts(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, item := range defaultProducts {
			product := productdomain.Product{
				ID:          node.Generate().Int64(),
				Code:        item.code,
				Name:        item.name,
				Category:    string(item.category),
				DepositType: string(item.depositType),
				Active:      true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			err := tx.WithContext(ctx).
				Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
				Create(&product).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}
