// Package engine decomposes amounts into note and coin units under physical
// stock limits. All arithmetic is in integer minor units.
package engine

import (
	"fmt"

	"github.com/smallbiznis/cashstation/internal/denomination/domain"
)

// DefaultSearchBudget bounds the exact search fallback in visited nodes.
const DefaultSearchBudget = 1 << 20

type Engine struct {
	ladder domain.Ladder
	budget int
}

func New(ladder domain.Ladder) *Engine {
	return &Engine{ladder: ladder, budget: DefaultSearchBudget}
}

// WithBudget returns a copy of the engine with a different search budget.
// A budget of zero disables the exact search.
func (e *Engine) WithBudget(budget int) *Engine {
	clone := *e
	clone.budget = budget
	return &clone
}

func (e *Engine) Ladder() domain.Ladder {
	return e.ladder
}

// Decompose splits target over the ladder without exceeding stock.
//
// The primary pass is bounded greedy: walk the ladder descending and take
// min(remaining/value, stock) of each unit. Greedy is not optimal under
// stock limits (60 over {50:1, 20:3} leaves 10 short although 3x20 is
// exact), so a shortfall triggers a larger-first exhaustive search. The
// search explores greedy's path first, which keeps its preference for large
// units whenever greedy already succeeds. If no exact decomposition exists,
// or the search budget runs out, the greedy plan is returned with its
// shortage.
func (e *Engine) Decompose(target int64, stock domain.Stock) domain.Plan {
	if target <= 0 {
		return e.build(0, make([]int64, len(e.ladder)))
	}

	counts := e.greedy(target, stock)
	plan := e.build(target, counts)
	if plan.ShortageMinor == 0 || e.budget <= 0 {
		return plan
	}

	if exact, ok := e.search(target, stock); ok {
		return e.build(target, exact)
	}
	return plan
}

// DecomposeUnbounded is greedy over the ladder with unlimited stock.
func (e *Engine) DecomposeUnbounded(target int64) domain.Plan {
	if target <= 0 {
		return e.build(0, make([]int64, len(e.ladder)))
	}
	counts := make([]int64, len(e.ladder))
	remaining := target
	for i, d := range e.ladder {
		counts[i] = remaining / d.ValueMinor
		remaining -= counts[i] * d.ValueMinor
	}
	return e.build(target, counts)
}

// DecomposeForRefund returns the recorded deposit breakdown unchanged so the
// customer receives exactly the units inserted. Stock is not consulted. When
// nothing was recorded, or the recorded lines do not add up to a positive
// totalMinor, the plan falls back to unbounded greedy of totalMinor and is
// marked Degraded.
func (e *Engine) DecomposeForRefund(recorded []domain.Line, totalMinor int64) domain.Plan {
	var notes, coins []domain.Line
	for _, line := range recorded {
		if line.Quantity <= 0 || line.ValueMinor <= 0 {
			continue
		}
		kind, ok := e.ladder.KindOf(line.ValueMinor)
		if !ok {
			kind = e.guessKind(line.ValueMinor)
		}
		if kind == domain.KindCoin {
			coins = append(coins, line)
		} else {
			notes = append(notes, line)
		}
	}
	sum := domain.SumLines(notes) + domain.SumLines(coins)
	if len(notes)+len(coins) == 0 || (totalMinor > 0 && sum != totalMinor) {
		plan := e.DecomposeUnbounded(totalMinor)
		plan.Degraded = true
		return plan
	}

	plan := domain.Plan{
		RequestedMinor: sum,
		Notes:          nonNil(notes),
		Coins:          nonNil(coins),
		DispensedMinor: sum,
	}
	mustBalance(plan)
	return plan
}

func (e *Engine) greedy(target int64, stock domain.Stock) []int64 {
	counts := make([]int64, len(e.ladder))
	remaining := target
	for i, d := range e.ladder {
		if remaining <= 0 {
			break
		}
		use := remaining / d.ValueMinor
		if avail := available(stock, d.ValueMinor); use > avail {
			use = avail
		}
		counts[i] = use
		remaining -= use * d.ValueMinor
	}
	return counts
}

// search is a depth-first, larger-units-first search for an exact
// decomposition. It prunes branches whose remaining amount exceeds the
// capacity of the smaller units or is not a multiple of their gcd.
func (e *Engine) search(target int64, stock domain.Stock) ([]int64, bool) {
	n := len(e.ladder)
	capacity := make([]int64, n+1)
	divisor := make([]int64, n+1)
	for i := n - 1; i >= 0; i-- {
		v := e.ladder[i].ValueMinor
		capacity[i] = capacity[i+1] + v*available(stock, v)
		if available(stock, v) > 0 {
			divisor[i] = gcd(divisor[i+1], v)
		} else {
			divisor[i] = divisor[i+1]
		}
	}

	counts := make([]int64, n)
	budget := e.budget

	var visit func(i int, remaining int64) bool
	visit = func(i int, remaining int64) bool {
		if remaining == 0 {
			return true
		}
		if i == n || budget <= 0 {
			return false
		}
		budget--
		if remaining > capacity[i] || divisor[i] == 0 || remaining%divisor[i] != 0 {
			return false
		}
		v := e.ladder[i].ValueMinor
		use := remaining / v
		if avail := available(stock, v); use > avail {
			use = avail
		}
		for ; use >= 0; use-- {
			counts[i] = use
			if visit(i+1, remaining-use*v) {
				return true
			}
		}
		counts[i] = 0
		return false
	}

	if visit(0, target) {
		return counts, true
	}
	return nil, false
}

func (e *Engine) build(target int64, counts []int64) domain.Plan {
	plan := domain.Plan{
		RequestedMinor: target,
		Notes:          []domain.Line{},
		Coins:          []domain.Line{},
	}
	for i, d := range e.ladder {
		if counts[i] <= 0 {
			continue
		}
		line := domain.Line{ValueMinor: d.ValueMinor, Quantity: counts[i]}
		if d.Kind == domain.KindCoin {
			plan.Coins = append(plan.Coins, line)
		} else {
			plan.Notes = append(plan.Notes, line)
		}
		plan.DispensedMinor += line.TotalMinor()
	}
	plan.ShortageMinor = target - plan.DispensedMinor
	mustBalance(plan)
	return plan
}

// guessKind classifies values missing from the ladder: anything at or above
// the smallest configured note is treated as a note.
func (e *Engine) guessKind(valueMinor int64) domain.Kind {
	smallestNote := int64(-1)
	for _, d := range e.ladder {
		if d.Kind == domain.KindNote {
			smallestNote = d.ValueMinor
		}
	}
	if smallestNote > 0 && valueMinor >= smallestNote {
		return domain.KindNote
	}
	return domain.KindCoin
}

func mustBalance(plan domain.Plan) {
	if plan.DispensedMinor+plan.ShortageMinor != plan.RequestedMinor || plan.ShortageMinor < 0 {
		panic(fmt.Sprintf("denomination plan out of balance: requested=%d dispensed=%d shortage=%d",
			plan.RequestedMinor, plan.DispensedMinor, plan.ShortageMinor))
	}
}

func available(stock domain.Stock, value int64) int64 {
	if q := stock[value]; q > 0 {
		return q
	}
	return 0
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func nonNil(lines []domain.Line) []domain.Line {
	if lines == nil {
		return []domain.Line{}
	}
	return lines
}
