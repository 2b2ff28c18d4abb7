package domain

import (
	"context"
	"errors"

	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
)

type Level string

const (
	LevelOK          Level = "ok"
	LevelLow         Level = "low"
	LevelHigh        Level = "high"
	LevelUnavailable Level = "unavailable"
)

// Unit is one denomination cassette with its warning thresholds.
type Unit struct {
	ValueMinor   int64            `json:"value_minor"`
	Value        string           `json:"value"`
	Kind         denomdomain.Kind `json:"kind"`
	Quantity     int64            `json:"qty"`
	AmountMinor  int64            `json:"amount_minor"`
	Capacity     int64            `json:"capacity"`
	WarnLow      int64            `json:"warn_low"`
	WarnHigh     int64            `json:"warn_high"`
	DeviceStatus int              `json:"device_status"`
	Available    bool             `json:"available"`
	Level        Level            `json:"level"`
}

type Totals struct {
	NotesMinor int64 `json:"notes_minor"`
	CoinsMinor int64 `json:"coins_minor"`
	GrandMinor int64 `json:"grand_minor"`
}

type Snapshot struct {
	Currency string `json:"currency"`
	Notes    []Unit `json:"notes"`
	Coins    []Unit `json:"coins"`
	Totals   Totals `json:"totals"`
}

func (s Snapshot) Units() []Unit {
	out := make([]Unit, 0, len(s.Notes)+len(s.Coins))
	out = append(out, s.Notes...)
	return append(out, s.Coins...)
}

// Stock is the dispensable quantity per denomination.
func (s Snapshot) Stock() denomdomain.Stock {
	stock := denomdomain.Stock{}
	for _, unit := range s.Units() {
		if unit.Available {
			stock[unit.ValueMinor] += unit.Quantity
		}
	}
	return stock
}

type Service interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	RefreshGauges(ctx context.Context) (Snapshot, error)
}

var ErrInventoryUnavailable = errors.New("inventory_unavailable")
