package fleetmetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/cashstation/internal/clock"
	"github.com/smallbiznis/cashstation/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPushInterval = 5 * time.Minute

var Module = fx.Module("fleet.metrics",
	fx.Provide(NewPusher),
	fx.Provide(func(cfg config.Config, pusher Pusher, clk clock.Clock, logger *zap.Logger) *Fleet {
		if !cfg.Cloud.Metrics.Enabled || pusher == nil {
			return nil
		}
		loc, err := time.LoadLocation("Asia/Bangkok")
		if err != nil {
			loc = time.UTC
		}
		return New(prometheus.DefaultGatherer, pusher, cfg.AppVersion, loc, clk, logger)
	}),
	fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, f *Fleet, logger *zap.Logger, db *gorm.DB) {
		if f == nil {
			return
		}
		if logger == nil {
			logger = zap.NewNop()
		}
		logger = logger.Named("fleetmetrics")

		interval := cfg.Cloud.Metrics.Interval
		if interval <= 0 {
			interval = defaultPushInterval
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				logger.Info("starting fleet metrics worker", zap.Duration("interval", interval))
				go func() {
					defer close(done)
					ticker := f.clock.NewTicker(interval)
					defer ticker.Stop()

					pushOnce(ctx, f, db, logger)
					for {
						select {
						case <-ticker.C():
							pushOnce(ctx, f, db, logger)
						case <-ctx.Done():
							logger.Info("stopping fleet metrics worker")
							return
						}
					}
				}()
				return nil
			},
			OnStop: func(stopCtx context.Context) error {
				cancel()
				select {
				case <-done:
				case <-stopCtx.Done():
				}
				return nil
			},
		})
	}),
)

func pushOnce(ctx context.Context, f *Fleet, db *gorm.DB, logger *zap.Logger) {
	f.Refresh(ctx, db)
	if err := f.Push(ctx); err != nil {
		logger.Warn("fleet metrics push failed", zap.Error(err))
	}
}
