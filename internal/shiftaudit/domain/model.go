package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashstation/pkg/db/pagination"
	"gorm.io/datatypes"
)

type AuditType string

const (
	AuditTypeCloseShift AuditType = "close_shift"
	AuditTypeEndOfDay   AuditType = "end_of_day"
)

func ParseAuditType(value string) (AuditType, bool) {
	t := AuditType(strings.ToLower(strings.TrimSpace(value)))
	switch t {
	case "", AuditTypeCloseShift, AuditTypeEndOfDay:
		return t, true
	}
	return "", false
}

// State is the review status of a closed period.
type State string

const (
	StateDraft       State = "draft"
	StateConfirmed   State = "confirmed"
	StateReconciled  State = "reconciled"
	StateDiscrepancy State = "discrepancy"
)

// Audit is the record written when a shift or the business day is closed.
// An end-of-day audit covers its own final shift plus every shift closed
// since the previous end of day.
type Audit struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	Reference        string          `gorm:"type:varchar(32);not null;uniqueIndex:ux_shift_audits_reference" json:"reference"`
	TerminalID       string          `gorm:"type:varchar(64);not null;index" json:"terminal_id"`
	AuditType        string          `gorm:"type:varchar(16);not null;index" json:"audit_type"`
	State            string          `gorm:"type:varchar(16);not null;index" json:"state"`
	ShiftNumber      int             `gorm:"not null" json:"shift_number"`
	StaffID          string          `gorm:"type:varchar(64);not null" json:"staff_id"`
	PosShiftID       *string         `gorm:"type:varchar(64)" json:"pos_shift_id,omitempty"`
	PeriodStart      *time.Time      `json:"period_start,omitempty"`
	CloseTime        time.Time       `gorm:"not null;index" json:"close_time"`
	PreviousEODID    *snowflake.ID   `gorm:"column:previous_eod_id" json:"previous_eod_id,omitempty"`
	ParentEODID      *snowflake.ID   `gorm:"column:parent_eod_id;index" json:"parent_eod_id,omitempty"`
	TransactionCount int             `gorm:"not null;default:0" json:"transaction_count"`
	Total            decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total"`
	TotalMinor       int64           `gorm:"not null" json:"total_minor"`
	WithdrawalMinor  int64           `gorm:"not null;default:0" json:"withdrawal_minor"`
	ByType           datatypes.JSON  `gorm:"type:json" json:"by_type,omitempty"`
	PosCount         int             `gorm:"not null;default:0" json:"pos_count"`
	PosTotalMinor    int64           `gorm:"not null;default:0" json:"pos_total_minor"`
	PendingPosCount  int             `gorm:"not null;default:0" json:"pending_pos_count"`
	PosReportedMinor *int64          `json:"pos_reported_minor,omitempty"`
	PosDiffMinor     int64           `gorm:"column:pos_difference_minor;not null;default:0" json:"pos_difference_minor"`

	ShiftCount       int            `gorm:"not null;default:0" json:"shift_count,omitempty"`
	EODByType        datatypes.JSON `gorm:"column:eod_by_type;type:json" json:"eod_by_type,omitempty"`
	EODTotalMinor    int64          `gorm:"column:eod_total_minor;not null;default:0" json:"eod_total_minor,omitempty"`
	EODPosTotalMinor int64          `gorm:"column:eod_pos_total_minor;not null;default:0" json:"eod_pos_total_minor,omitempty"`
	CollectedMinor   *int64         `json:"collected_minor,omitempty"`
	ReserveKeptMinor *int64         `json:"reserve_kept_minor,omitempty"`
	// ExpectedMinor is the cash the recycler should hold for the day:
	// deposits minus exchanges and withdrawals.
	ExpectedMinor  int64 `gorm:"column:collection_expected_minor;not null;default:0" json:"collection_expected_minor"`
	CollectionDiff int64 `gorm:"column:collection_difference_minor;not null;default:0" json:"collection_difference_minor"`

	Notes               string    `gorm:"type:text" json:"notes,omitempty"`
	ReconciliationNotes string    `gorm:"type:text" json:"reconciliation_notes,omitempty"`
	CreatedAt           time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time `gorm:"not null" json:"updated_at"`

	Shifts []Audit `gorm:"-" json:"shifts,omitempty"`
}

func (Audit) TableName() string { return "shift_audits" }

// TypeTotals decodes ByType. A missing column decodes to an empty map.
func (a Audit) TypeTotals() (map[string]int64, error) {
	return decodeTotals(a.ByType)
}

func (a Audit) EODTypeTotals() (map[string]int64, error) {
	return decodeTotals(a.EODByType)
}

func decodeTotals(raw datatypes.JSON) (map[string]int64, error) {
	out := map[string]int64{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Aggregate is one group of cash transactions inside a period.
type Aggregate struct {
	DepositType  string
	IsPosRelated bool
	PosStatus    string
	Count        int
	SumMinor     int64
}

// Totals summarises the cash transactions of one period.
type Totals struct {
	TransactionCount int              `json:"transaction_count"`
	TotalMinor       int64            `json:"total_minor"`
	WithdrawalMinor  int64            `json:"withdrawal_minor"`
	ByType           map[string]int64 `json:"by_type"`
	PosCount         int              `json:"pos_count"`
	PosTotalMinor    int64            `json:"pos_total_minor"`
	PendingPosCount  int              `json:"pending_pos_count"`
}

// Preview is the running state of the shift that is currently open.
type Preview struct {
	TerminalID  string     `json:"terminal_id"`
	ShiftNumber int        `json:"shift_number"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	AsOf        time.Time  `json:"as_of"`
	Totals      Totals     `json:"totals"`
}

type CloseRequest struct {
	StaffID          string `json:"staff_id"`
	PosShiftID       string `json:"pos_shift_id"`
	PosReportedMinor *int64 `json:"pos_reported_minor"`
	Notes            string `json:"notes"`
	// Force closes the period even when POS deliveries are still pending.
	Force bool `json:"force"`
}

type EndOfDayRequest struct {
	CloseRequest
	CollectedMinor   *int64 `json:"collected_minor"`
	ReserveKeptMinor *int64 `json:"reserve_kept_minor"`
}

type ReviewRequest struct {
	ID      string `json:"-"`
	StaffID string `json:"staff_id"`
	Notes   string `json:"notes"`
}

type ListRequest struct {
	pagination.Pagination
	AuditType string
	State     string
	StartAt   *time.Time
	EndAt     *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Audits []Audit `json:"audits"`
}

type Cursor struct {
	ID        snowflake.ID
	CloseTime time.Time
}

type ListFilter struct {
	TerminalID  string
	AuditType   string
	State       string
	ParentEODID *snowflake.ID
	StartAt     *time.Time
	EndAt       *time.Time
	Cursor      *Cursor
	Limit       int
}

type StateUpdate struct {
	State               string
	ReconciliationNotes *string
	UpdatedAt           time.Time
}
