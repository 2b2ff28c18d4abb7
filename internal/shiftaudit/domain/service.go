package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, a *Audit) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Audit, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Audit, error)
	// Latest returns the most recent audit of the given type, any type when
	// auditType is empty.
	Latest(ctx context.Context, db *gorm.DB, terminalID string, auditType AuditType) (*Audit, error)
	// UnlinkedShifts returns close-shift audits after since that no end of
	// day has claimed yet.
	UnlinkedShifts(ctx context.Context, db *gorm.DB, terminalID string, since *time.Time) ([]*Audit, error)
	LinkShifts(ctx context.Context, db *gorm.DB, eodID snowflake.ID, shiftIDs []snowflake.ID) error
	// AggregateTransactions groups cash transactions created in (from, to].
	AggregateTransactions(ctx context.Context, db *gorm.DB, terminalID string, from *time.Time, to time.Time) ([]Aggregate, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Audit, error)
	UpdateState(ctx context.Context, db *gorm.DB, id snowflake.ID, update StateUpdate) error
}

type Service interface {
	// Current previews the open shift without writing anything.
	Current(ctx context.Context) (Preview, error)
	// CloseShift flushes the POS queue and records the shift totals.
	CloseShift(ctx context.Context, req CloseRequest) (*Audit, error)
	// EndOfDay closes the final shift of the day and rolls up every shift
	// since the previous end of day.
	EndOfDay(ctx context.Context, req EndOfDayRequest) (*Audit, error)
	Get(ctx context.Context, id string) (*Audit, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Confirm(ctx context.Context, req ReviewRequest) (*Audit, error)
	Reconcile(ctx context.Context, req ReviewRequest) (*Audit, error)
}

var (
	ErrInvalidStaff      = errors.New("invalid_staff")
	ErrInvalidAuditType  = errors.New("invalid_audit_type")
	ErrInvalidState      = errors.New("invalid_audit_state")
	ErrInvalidTransition = errors.New("invalid_audit_transition")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
	ErrNotFound          = errors.New("shift_audit_not_found")
	ErrPendingPos        = errors.New("pending_pos_transactions")
)

// PendingError reports POS deliveries that are still outstanding when a
// period is closed. It matches ErrPendingPos.
type PendingError struct {
	Count int
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%d pos transactions still pending", e.Count)
}

func (e *PendingError) Is(target error) bool {
	return target == ErrPendingPos
}
