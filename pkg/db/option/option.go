package option

import (
	"strings"

	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before it is executed.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type sortOption struct {
	column string
	desc   bool
}

func (o sortOption) Apply(db *gorm.DB) *gorm.DB {
	if o.column == "" {
		return db
	}
	dir := "ASC"
	if o.desc {
		dir = "DESC"
	}
	return db.Order(o.column + " " + dir)
}

// WithQuerySortBy validates sortBy against the allowed columns. Unknown
// columns fall back to created_at; orderBy defaults to descending.
func WithQuerySortBy(sortBy, orderBy string, allowed map[string]bool) QueryOption {
	column := strings.ToLower(strings.TrimSpace(sortBy))
	if !allowed[column] {
		column = "created_at"
	}
	return sortOption{
		column: column,
		desc:   !strings.EqualFold(strings.TrimSpace(orderBy), "asc"),
	}
}

type limitOption int

func (o limitOption) Apply(db *gorm.DB) *gorm.DB {
	if o <= 0 {
		return db
	}
	return db.Limit(int(o))
}

func WithLimit(limit int) QueryOption {
	return limitOption(limit)
}
