package domain

import (
	"context"
	"errors"
	"fmt"

	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
)

// SessionID is the recycler session used by the terminal. The device runs
// one session at a time.
const SessionID = "1"

type Mode string

const (
	ModeCashIn  Mode = "cash_in"
	ModeCashOut Mode = "cash_out"
)

// Status is one poll of the recycler.
type Status struct {
	Code         StatusCode
	CountedMinor int64
	Counted      []denomdomain.Line
}

// Device ids reported by the recycler.
const (
	DeviceNotes = 1
	DeviceCoins = 2
)

// Unit status values reported per denomination.
const (
	UnitStatusNG   = 0
	UnitStatusWarn = 1
	UnitStatusOK   = 2
)

type InventoryItem struct {
	ValueMinor int64            `json:"value_minor"`
	Kind       denomdomain.Kind `json:"kind"`
	Quantity   int64            `json:"qty"`
	Capacity   int64            `json:"capacity"`
	UnitStatus int              `json:"status"`
}

// Dispensable reports whether the unit can pay out.
func (i InventoryItem) Dispensable() bool {
	return i.Quantity > 0 && (i.UnitStatus == UnitStatusWarn || i.UnitStatus == UnitStatusOK)
}

type Inventory struct {
	Currency string          `json:"currency"`
	Notes    []InventoryItem `json:"notes"`
	Coins    []InventoryItem `json:"coins"`
}

func (inv Inventory) Items() []InventoryItem {
	out := make([]InventoryItem, 0, len(inv.Notes)+len(inv.Coins))
	out = append(out, inv.Notes...)
	return append(out, inv.Coins...)
}

// Stock returns the dispensable quantity per denomination.
func (inv Inventory) Stock() denomdomain.Stock {
	stock := denomdomain.Stock{}
	for _, item := range inv.Items() {
		if item.Dispensable() {
			stock[item.ValueMinor] += item.Quantity
		}
	}
	return stock
}

func (inv Inventory) TotalMinor() int64 {
	var total int64
	for _, item := range inv.Items() {
		total += item.ValueMinor * item.Quantity
	}
	return total
}

// Adapter is the cash recycler as seen by the session controller.
type Adapter interface {
	Open(ctx context.Context, sessionID string, mode Mode) error
	Status(ctx context.Context, sessionID string) (Status, error)
	End(ctx context.Context, sessionID string) error
	Cancel(ctx context.Context, sessionID string) error
	Dispense(ctx context.Context, sessionID string, notes, coins []denomdomain.Line) error
	Inventory(ctx context.Context, sessionID string) (Inventory, error)
}

var (
	// ErrUnavailable wraps transport failures: timeouts, refused
	// connections, 5xx responses and malformed bodies.
	ErrUnavailable = errors.New("device_unavailable")
	// ErrRejected wraps well-formed responses with a failing result code.
	ErrRejected = errors.New("device_rejected")
)

// ResultError carries the device result code of a rejected operation.
type ResultError struct {
	Op   string
	Code ResultCode
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Code, int(e.Code))
}

func (e *ResultError) Unwrap() error {
	return ErrRejected
}
