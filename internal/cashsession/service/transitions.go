package service

import (
	"github.com/smallbiznis/cashstation/internal/cashsession/domain"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	devicedomain "github.com/smallbiznis/cashstation/internal/device/domain"
)

// nextCashInState maps a polled machine code onto the cash-in states.
func nextCashInState(current domain.State, code devicedomain.StatusCode, liveMinor int64) domain.State {
	switch code {
	case devicedomain.StatusWaitingInsertion, devicedomain.StatusWaitingDepositEnd:
		if liveMinor > 0 {
			return domain.StateEscrow
		}
		return domain.StateReady
	case devicedomain.StatusIdle, devicedomain.StatusInitializing:
		return current
	default:
		return domain.StateCounting
	}
}

// normalizePlan rebuilds a payout plan from its lines against the ladder so
// notes and coins land on the right side. Every line must name a ladder
// denomination and the lines must add up to amountMinor exactly.
func normalizePlan(ladder denomdomain.Ladder, lines []denomdomain.Line, amountMinor int64) (denomdomain.Plan, error) {
	plan := denomdomain.Plan{RequestedMinor: amountMinor}
	merged := map[int64]int64{}
	for _, line := range lines {
		if line.Quantity < 0 {
			return denomdomain.Plan{}, domain.ErrInvalidPlan
		}
		if line.Quantity == 0 {
			continue
		}
		if _, ok := ladder.KindOf(line.ValueMinor); !ok {
			return denomdomain.Plan{}, domain.ErrInvalidPlan
		}
		merged[line.ValueMinor] += line.Quantity
	}
	for _, d := range ladder {
		qty := merged[d.ValueMinor]
		if qty == 0 {
			continue
		}
		line := denomdomain.Line{ValueMinor: d.ValueMinor, Quantity: qty}
		if d.Kind == denomdomain.KindCoin {
			plan.Coins = append(plan.Coins, line)
		} else {
			plan.Notes = append(plan.Notes, line)
		}
		plan.DispensedMinor += line.TotalMinor()
	}
	if amountMinor <= 0 || plan.DispensedMinor != amountMinor {
		return denomdomain.Plan{}, domain.ErrInvalidPlan
	}
	return plan, nil
}

func cloneLines(lines []denomdomain.Line) []denomdomain.Line {
	if len(lines) == 0 {
		return nil
	}
	return append([]denomdomain.Line(nil), lines...)
}
