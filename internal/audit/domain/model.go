package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem ActorType = "system"
	ActorTypeStaff  ActorType = "staff"
)

// Actions recorded by the cash flows.
const (
	ActionSessionStarted       = "session.started"
	ActionSessionConfirmed     = "session.confirmed"
	ActionSessionCancelled     = "session.cancelled"
	ActionSessionRefunded      = "session.refunded"
	ActionDispenseFailed       = "session.dispense_failed"
	ActionInterventionResolved = "session.intervention_resolved"
	ActionPayoutDispensed      = "session.payout_dispensed"
	ActionDepositFinalized     = "deposit.finalized"
	ActionPosDispatched        = "pos.dispatched"
	ActionPosRetried           = "pos.retried"
	ActionWithdrawalCreated    = "withdrawal.created"
	ActionWithdrawalStatus     = "withdrawal.status_changed"
	ActionProductCreated       = "product.created"
	ActionProductUpdated       = "product.updated"
	ActionStaffRoleAssigned    = "staff_role.assigned"
	ActionShiftClosed          = "shift.closed"
	ActionEndOfDay             = "shift.end_of_day"
	ActionShiftConfirmed       = "shift.confirmed"
	ActionShiftReconciled      = "shift.reconciled"
)

type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	TerminalID string            `gorm:"type:varchar(64);index" json:"terminal_id"`
	ActorType  string            `gorm:"type:varchar(32);not null" json:"actor_type"`
	ActorID    *string           `gorm:"type:varchar(64)" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:varchar(64);not null;index" json:"action"`
	TargetType string            `gorm:"type:varchar(64);not null" json:"target_type"`
	TargetID   *string           `gorm:"type:varchar(128);index" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
