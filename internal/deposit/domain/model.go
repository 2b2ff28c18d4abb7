package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	"github.com/smallbiznis/cashstation/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Transaction is one finalized cash movement. Rows are never deleted.
type Transaction struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	TransactionID string            `gorm:"type:varchar(64);not null;uniqueIndex:ux_cash_transactions_txid" json:"transaction_id"`
	SessionID     string            `gorm:"type:varchar(32);not null" json:"session_id"`
	TerminalID    string            `gorm:"type:varchar(64);not null;index" json:"terminal_id"`
	StaffID       string            `gorm:"type:varchar(64);not null;index" json:"staff_id"`
	Mode          string            `gorm:"type:varchar(16);not null" json:"mode"`
	DepositType   string            `gorm:"type:varchar(32);not null;index" json:"deposit_type"`
	ProductCode   *string           `gorm:"type:varchar(64)" json:"product_code,omitempty"`
	Amount        decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"amount"`
	AmountMinor   int64             `gorm:"not null" json:"amount_minor"`
	Breakdown     datatypes.JSON    `gorm:"type:json" json:"breakdown,omitempty"`
	IsPosRelated  bool              `gorm:"not null;default:false" json:"is_pos_related"`
	PosStatus     string            `gorm:"type:varchar(16);not null;index" json:"pos_status"`
	PosAttempts   int               `gorm:"not null;default:0" json:"pos_attempts"`
	PosResponse   datatypes.JSONMap `gorm:"type:json" json:"pos_response,omitempty"`
	PosLastError  *string           `gorm:"type:text" json:"pos_last_error,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updated_at"`
}

func (Transaction) TableName() string { return "cash_transactions" }

// FinalizeRequest carries a finished session into the audit store.
type FinalizeRequest struct {
	TransactionID string
	SessionID     string
	Mode          string
	StaffID       string
	AmountMinor   int64
	Breakdown     []denomdomain.Line
	DepositType   DepositType
	ProductCode   *string
}

type ListRequest struct {
	pagination.Pagination
	DepositType string
	PosStatus   string
	StaffID     string
	StartAt     *time.Time
	EndAt       *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Transactions []Transaction `json:"transactions"`
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	DepositType string
	PosStatus   string
	StaffID     string
	StartAt     *time.Time
	EndAt       *time.Time
	Cursor      *Cursor
	Limit       int
}

type PosUpdate struct {
	PosStatus    string
	PosResponse  datatypes.JSONMap
	PosLastError *string
	UpdatedAt    time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tx *Transaction) error
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*Transaction, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Transaction, error)
	// RecordPosAttempt stores a POS result and increments pos_attempts.
	RecordPosAttempt(ctx context.Context, db *gorm.DB, transactionID string, update PosUpdate) error
}

type Service interface {
	Finalize(ctx context.Context, req FinalizeRequest) (*Transaction, error)
	Get(ctx context.Context, id string) (*Transaction, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	RetryPos(ctx context.Context, id string) (*Transaction, error)
	RetryPending(ctx context.Context) (int, error)
}

var (
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidDepositType    = errors.New("invalid_deposit_type")
	ErrInvalidStaff          = errors.New("invalid_staff")
	ErrNotFound              = errors.New("transaction_not_found")
	ErrInvalidID             = errors.New("invalid_id")
	ErrInvalidPageToken      = errors.New("invalid_page_token")
	ErrNotRetryable          = errors.New("transaction_not_retryable")
	ErrTransactionIDConflict = errors.New("transaction_id_conflict")
)
