package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashstation/pkg/db/pagination"
	"gorm.io/datatypes"
)

type Type string

const (
	TypeGeneral  Type = "general"
	TypeChange   Type = "change"
	TypeExpense  Type = "expense"
	TypeTransfer Type = "transfer"
)

func ParseType(value string) (Type, bool) {
	t := Type(strings.ToLower(strings.TrimSpace(value)))
	if t == "" {
		return TypeGeneral, true
	}
	switch t {
	case TypeGeneral, TypeChange, TypeExpense, TypeTransfer:
		return t, true
	}
	return "", false
}

// GloryStatus tracks the cash-out on the recycler.
type GloryStatus string

const (
	GloryStatusPending   GloryStatus = "pending"
	GloryStatusDispensed GloryStatus = "dispensed"
	GloryStatusCollected GloryStatus = "collected"
	GloryStatusFailed    GloryStatus = "failed"
)

// CanMoveTo reports whether a manual status update is allowed.
func (s GloryStatus) CanMoveTo(next GloryStatus) bool {
	switch s {
	case GloryStatusPending:
		return next == GloryStatusDispensed || next == GloryStatusFailed
	case GloryStatusDispensed:
		return next == GloryStatusCollected || next == GloryStatusFailed
	}
	return false
}

type Withdrawal struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	Reference     string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_withdrawals_reference" json:"reference"`
	TerminalID    string          `gorm:"type:varchar(64);not null;index" json:"terminal_id"`
	Type          string          `gorm:"type:varchar(16);not null;index" json:"type"`
	StaffID       string          `gorm:"type:varchar(64);not null" json:"staff_id"`
	Reason        string          `gorm:"type:text" json:"reason,omitempty"`
	Amount        decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	AmountMinor   int64           `gorm:"not null" json:"amount_minor"`
	Plan          datatypes.JSON  `gorm:"type:json" json:"plan,omitempty"`
	GloryStatus   string          `gorm:"type:varchar(16);not null;index" json:"glory_status"`
	TransactionID *string         `gorm:"type:varchar(64)" json:"transaction_id,omitempty"`
	LastError     *string         `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt     time.Time       `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null" json:"updated_at"`
}

func (Withdrawal) TableName() string { return "withdrawals" }

type CreateRequest struct {
	Type    string `json:"type"`
	Amount  string `json:"amount"`
	StaffID string `json:"staff_id"`
	Reason  string `json:"reason"`
}

type UpdateStatusRequest struct {
	ID      string `json:"-"`
	Status  string `json:"status"`
	StaffID string `json:"staff_id"`
	Note    string `json:"note"`
}

type ListRequest struct {
	pagination.Pagination
	Type        string
	GloryStatus string
	StartAt     *time.Time
	EndAt       *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Withdrawals []Withdrawal `json:"withdrawals"`
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Type        string
	GloryStatus string
	StartAt     *time.Time
	EndAt       *time.Time
	Cursor      *Cursor
	Limit       int
}

type StatusUpdate struct {
	GloryStatus   string
	TransactionID *string
	LastError     *string
	UpdatedAt     time.Time
}
