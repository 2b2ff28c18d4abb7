package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, w *Withdrawal) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Withdrawal, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Withdrawal, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Withdrawal, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, update StatusUpdate) error
}

type Service interface {
	// Create plans the amount over the current inventory, pays it out and
	// records the withdrawal together with its cash transaction.
	Create(ctx context.Context, req CreateRequest) (*Withdrawal, error)
	Get(ctx context.Context, id string) (*Withdrawal, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*Withdrawal, error)
}

var (
	ErrInvalidType       = errors.New("invalid_withdrawal_type")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidStaff      = errors.New("invalid_staff")
	ErrInvalidStatus     = errors.New("invalid_glory_status")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
	ErrNotFound          = errors.New("withdrawal_not_found")
)
