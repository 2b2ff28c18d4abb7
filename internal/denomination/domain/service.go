package domain

import "context"

type Service interface {
	// ComputePlan decomposes amountMinor over the given stock. It is pure
	// with respect to its inputs.
	ComputePlan(ctx context.Context, amountMinor int64, stock Stock) (Plan, error)
	// RefundPlan reverses a recorded deposit breakdown exactly.
	RefundPlan(ctx context.Context, recorded []Line, totalMinor int64) Plan
	Ladder() Ladder
}
