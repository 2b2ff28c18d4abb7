package domain

import (
	"errors"
	"sort"
)

type Kind string

const (
	KindNote Kind = "note"
	KindCoin Kind = "coin"
)

// Denomination is one physical unit the recycler handles, in minor units.
type Denomination struct {
	ValueMinor int64 `json:"value_minor"`
	Kind       Kind  `json:"kind"`
}

// Ladder lists denominations strictly descending by value.
type Ladder []Denomination

// NewLadder builds a ladder from note and coin face values in major units.
func NewLadder(notes, coins []int64, minorPerMajor int64) Ladder {
	ladder := make(Ladder, 0, len(notes)+len(coins))
	for _, v := range notes {
		ladder = append(ladder, Denomination{ValueMinor: v * minorPerMajor, Kind: KindNote})
	}
	for _, v := range coins {
		ladder = append(ladder, Denomination{ValueMinor: v * minorPerMajor, Kind: KindCoin})
	}
	sort.SliceStable(ladder, func(i, j int) bool { return ladder[i].ValueMinor > ladder[j].ValueMinor })
	return ladder
}

// KindOf returns the kind of a value on the ladder.
func (l Ladder) KindOf(valueMinor int64) (Kind, bool) {
	for _, d := range l {
		if d.ValueMinor == valueMinor {
			return d.Kind, true
		}
	}
	return "", false
}

// Stock maps a denomination value (minor units) to units on hand.
type Stock map[int64]int64

// Line is a quantity of one denomination.
type Line struct {
	ValueMinor int64 `json:"value_minor"`
	Quantity   int64 `json:"qty"`
}

func (l Line) TotalMinor() int64 {
	return l.ValueMinor * l.Quantity
}

func SumLines(lines []Line) int64 {
	var total int64
	for _, line := range lines {
		total += line.TotalMinor()
	}
	return total
}

// Plan is the result of decomposing a requested amount into denominations.
// DispensedMinor + ShortageMinor always equals RequestedMinor.
type Plan struct {
	RequestedMinor int64  `json:"requested_minor"`
	Notes          []Line `json:"notes"`
	Coins          []Line `json:"coins"`
	DispensedMinor int64  `json:"dispensed_minor"`
	ShortageMinor  int64  `json:"shortage_minor"`
	// Degraded marks a refund plan derived from the total because no
	// per-denomination breakdown was recorded.
	Degraded bool `json:"degraded,omitempty"`
}

func (p Plan) Exact() bool {
	return p.ShortageMinor == 0
}

// Lines returns notes then coins, each descending.
func (p Plan) Lines() []Line {
	out := make([]Line, 0, len(p.Notes)+len(p.Coins))
	out = append(out, p.Notes...)
	return append(out, p.Coins...)
}

// RequireExact returns ErrInsufficientStock when the plan cannot cover the
// full amount.
func (p Plan) RequireExact() error {
	if p.ShortageMinor > 0 {
		return ErrInsufficientStock
	}
	return nil
}

var (
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInsufficientStock = errors.New("insufficient_stock")
	ErrEmptyLadder       = errors.New("empty_ladder")
)
