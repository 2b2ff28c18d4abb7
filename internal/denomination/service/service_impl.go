package service

import (
	"context"

	"github.com/smallbiznis/cashstation/internal/config"
	"github.com/smallbiznis/cashstation/internal/denomination/domain"
	"github.com/smallbiznis/cashstation/internal/denomination/engine"
	"github.com/smallbiznis/cashstation/internal/money"
	"github.com/smallbiznis/cashstation/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Config  *config.DenominationConfigHolder
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	cfg     *config.DenominationConfigHolder
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		log:     p.Log.Named("denomination.service"),
		cfg:     p.Config,
		metrics: p.Metrics,
	}
}

// Ladder reads the current ladder so config reloads apply to the next plan.
func (s *Service) Ladder() domain.Ladder {
	cfg := s.cfg.Get()
	return domain.NewLadder(cfg.Notes, cfg.Coins, money.MinorPerMajor)
}

func (s *Service) ComputePlan(ctx context.Context, amountMinor int64, stock domain.Stock) (domain.Plan, error) {
	if amountMinor < 0 {
		return domain.Plan{}, domain.ErrInvalidAmount
	}
	ladder := s.Ladder()
	if len(ladder) == 0 {
		return domain.Plan{}, domain.ErrEmptyLadder
	}

	plan := engine.New(ladder).Decompose(amountMinor, stock)
	if plan.ShortageMinor > 0 {
		s.log.Info("plan has shortage",
			zap.Int64("requested_minor", plan.RequestedMinor),
			zap.Int64("shortage_minor", plan.ShortageMinor),
		)
		s.metrics.RecordShortage(ctx, plan.ShortageMinor)
	}
	return plan, nil
}

func (s *Service) RefundPlan(ctx context.Context, recorded []domain.Line, totalMinor int64) domain.Plan {
	plan := engine.New(s.Ladder()).DecomposeForRefund(recorded, totalMinor)
	if plan.Degraded {
		s.log.Warn("refund breakdown unusable, using greedy of total",
			zap.Int64("total_minor", totalMinor),
			zap.Int64("breakdown_minor", domain.SumLines(recorded)),
		)
	}
	return plan
}
