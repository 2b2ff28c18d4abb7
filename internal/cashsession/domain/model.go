package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	depositdomain "github.com/smallbiznis/cashstation/internal/deposit/domain"
	devicedomain "github.com/smallbiznis/cashstation/internal/device/domain"
	"github.com/smallbiznis/cashstation/internal/money"
)

type State string

const (
	StateIdle       State = "idle"
	StateOpening    State = "opening"
	StateReady      State = "ready"
	StateCounting   State = "counting"
	StateEscrow     State = "escrow"
	StateFinalizing State = "finalizing"
	StateSettling   State = "settling"
	StateCancelling State = "cancelling"
	StateDispensing State = "dispensing"
	StateCollecting State = "collecting"
	StateClosed     State = "closed"
)

// AllStates lists every state, used for the one-hot session gauge.
var AllStates = []string{
	string(StateIdle), string(StateOpening), string(StateReady), string(StateCounting),
	string(StateEscrow), string(StateFinalizing), string(StateSettling), string(StateCancelling),
	string(StateDispensing), string(StateCollecting), string(StateClosed),
}

// Polled reports whether the device is polled in this state.
func (s State) Polled() bool {
	switch s {
	case StateOpening, StateReady, StateCounting, StateEscrow, StateCollecting:
		return true
	}
	return false
}

// Active reports whether the state blocks a new session.
func (s State) Active() bool {
	return s != StateIdle && s != StateClosed
}

type Purpose string

const (
	PurposeDeposit    Purpose = "deposit"
	PurposeExchange   Purpose = "exchange"
	PurposeWithdrawal Purpose = "withdrawal"
)

type Session struct {
	ID                string             `json:"id"`
	Mode              devicedomain.Mode  `json:"mode"`
	Purpose           Purpose            `json:"purpose"`
	State             State              `json:"state"`
	LiveMinor         int64              `json:"live_minor"`
	FinalMinor        *int64             `json:"final_minor,omitempty"`
	Breakdown         []denomdomain.Line `json:"breakdown,omitempty"`
	Payout            *denomdomain.Plan  `json:"payout,omitempty"`
	MachineStateCode  int                `json:"machine_state_code"`
	MachineState      string             `json:"machine_state"`
	StaffID           string             `json:"staff_id,omitempty"`
	TransactionID     string             `json:"transaction_id,omitempty"`
	StartedAt         *time.Time         `json:"started_at,omitempty"`
	EndedAt           *time.Time         `json:"ended_at,omitempty"`
	NeedsIntervention bool               `json:"needs_intervention"`
	LastError         string             `json:"last_error,omitempty"`
}

func (s Session) LiveAmount() decimal.Decimal {
	return money.FromMinor(s.LiveMinor)
}

func (s Session) FinalAmount() (decimal.Decimal, bool) {
	if s.FinalMinor == nil {
		return decimal.Zero, false
	}
	return money.FromMinor(*s.FinalMinor), true
}

type StartRequest struct {
	Purpose Purpose
	StaffID string
}

type FinalizeRequest struct {
	TransactionID string
	DepositType   depositdomain.DepositType
	StaffID       string
	ProductCode   *string
}

type PayoutRequest struct {
	StaffID string
	Plan    denomdomain.Plan
	Purpose Purpose
}

type Controller interface {
	// Start opens a cash-in session on the recycler.
	Start(ctx context.Context, req StartRequest) (Session, error)
	Current() Session
	Poll(ctx context.Context) (Session, error)
	Confirm(ctx context.Context, id string) (Session, error)
	Cancel(ctx context.Context, id string) (Session, error)
	FinalizeDeposit(ctx context.Context, id string, req FinalizeRequest) (*depositdomain.Transaction, error)
	// Payout dispenses the exchange of a settling session.
	Payout(ctx context.Context, id string, req PayoutRequest) (Session, error)
	// StartPayout opens a cash-out session and dispenses the plan.
	StartPayout(ctx context.Context, req PayoutRequest) (Session, error)
	ResolveIntervention(ctx context.Context, id, staffID, note string) (Session, error)
	Shutdown(ctx context.Context) error
}

var (
	ErrDeviceUnavailable = errors.New("device_unavailable")
	ErrSessionBusy       = errors.New("session_busy")
	ErrInvalidState      = errors.New("invalid_state")
	ErrDispenseFailed    = errors.New("dispense_failed")
	ErrSessionNotFound   = errors.New("session_not_found")
	ErrInvalidPlan       = errors.New("invalid_plan")
	ErrInvalidPurpose    = errors.New("invalid_purpose")
	ErrInvalidStaff      = errors.New("invalid_staff")
	ErrNothingCounted    = errors.New("nothing_counted")
	// ErrRecordFailed means the cash left the machine but the transaction
	// row could not be written. The session is returned alongside it.
	ErrRecordFailed = errors.New("record_failed")
	// ErrNeedsIntervention is returned for commands on a session left open
	// after a failed dispense. It matches ErrInvalidState.
	ErrNeedsIntervention = &interventionError{}
)

type interventionError struct{}

func (e *interventionError) Error() string { return "needs_staff_intervention" }

func (e *interventionError) Is(target error) bool { return target == ErrInvalidState }
