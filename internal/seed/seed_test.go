package seed

import (
	"testing"

	"github.com/glebarez/sqlite"
	productdomain "github.com/smallbiznis/cashstation/internal/product/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEnsureDefaultProductsIsIdempotent(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&productdomain.Product{}))

	require.NoError(t, EnsureDefaultProducts(db))
	require.NoError(t, db.Model(&productdomain.Product{}).
		Where("code = ?", "fuel").
		Update("name", "Fuel (pump 1-8)").Error)
	require.NoError(t, EnsureDefaultProducts(db))

	var count int64
	require.NoError(t, db.Model(&productdomain.Product{}).Count(&count).Error)
	assert.Equal(t, int64(len(defaultProducts)), count)

	var fuel productdomain.Product
	require.NoError(t, db.Where("code = ?", "fuel").First(&fuel).Error)
	assert.Equal(t, "Fuel (pump 1-8)", fuel.Name)
	assert.Equal(t, "oil", fuel.DepositType)
}

func TestEnsureDefaultProductsRequiresDB(t *testing.T) {
	assert.Error(t, EnsureDefaultProducts(nil))
}
