package domain

import (
	"time"

	"gorm.io/datatypes"
)

type Category string

const (
	CategoryGoods  Category = "goods"
	CategoryRental Category = "rental"
)

type Product struct {
	ID          int64             `json:"id" gorm:"primaryKey"`
	Code        string            `json:"code" gorm:"type:varchar(64);not null;uniqueIndex:ux_products_code"`
	Name        string            `json:"name" gorm:"type:text;not null"`
	Category    string            `json:"category" gorm:"type:varchar(16);not null;default:goods"`
	DepositType string            `json:"deposit_type" gorm:"type:varchar(32);not null"`
	PosRelated  *bool             `json:"pos_related,omitempty"`
	Active      bool              `json:"active" gorm:"not null;default:true"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:json"`
	CreatedAt   time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "products" }
