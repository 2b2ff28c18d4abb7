package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashstation/internal/config"
	devicedomain "github.com/smallbiznis/cashstation/internal/device/domain"
	"github.com/smallbiznis/cashstation/internal/inventory/domain"
	"github.com/smallbiznis/cashstation/internal/money"
	"github.com/smallbiznis/cashstation/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	Device       devicedomain.Adapter
	Denomination *config.DenominationConfigHolder
	Metrics      *metrics.CashMetrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	device  devicedomain.Adapter
	cfg     *config.DenominationConfigHolder
	metrics *metrics.CashMetrics
}

func New(p Params) domain.Service {
	return &Service{
		log:     p.Log.Named("inventory.service"),
		device:  p.Device,
		cfg:     p.Denomination,
		metrics: p.Metrics,
	}
}

func (s *Service) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	inv, err := s.device.Inventory(ctx, devicedomain.SessionID)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %w", domain.ErrInventoryUnavailable, err)
	}
	return Build(inv, s.cfg.Get()), nil
}

// RefreshGauges reads the recycler and publishes per-denomination gauges.
func (s *Service) RefreshGauges(ctx context.Context) (domain.Snapshot, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if s.metrics == nil {
		return snapshot, nil
	}
	for _, unit := range snapshot.Units() {
		s.metrics.SetInventory(string(unit.Kind), unit.ValueMinor, unit.Quantity, gaugeLevel(unit.Level))
		if unit.Level != domain.LevelOK {
			s.log.Info("inventory level",
				zap.String("kind", string(unit.Kind)),
				zap.String("value", unit.Value),
				zap.Int64("qty", unit.Quantity),
				zap.String("level", string(unit.Level)),
			)
		}
	}
	return snapshot, nil
}

// Build derives availability and warning levels from a device inventory.
// A capacity reported by the device wins over the configured one.
func Build(inv devicedomain.Inventory, cfg config.DenominationConfig) domain.Snapshot {
	snapshot := domain.Snapshot{Currency: inv.Currency}
	if snapshot.Currency == "" {
		snapshot.Currency = cfg.Currency
	}
	for _, item := range inv.Notes {
		unit := buildUnit(item, cfg)
		snapshot.Notes = append(snapshot.Notes, unit)
		snapshot.Totals.NotesMinor += unit.AmountMinor
	}
	for _, item := range inv.Coins {
		unit := buildUnit(item, cfg)
		snapshot.Coins = append(snapshot.Coins, unit)
		snapshot.Totals.CoinsMinor += unit.AmountMinor
	}
	snapshot.Totals.GrandMinor = snapshot.Totals.NotesMinor + snapshot.Totals.CoinsMinor
	return snapshot
}

func buildUnit(item devicedomain.InventoryItem, cfg config.DenominationConfig) domain.Unit {
	capacity := item.Capacity
	if capacity <= 0 {
		capacity = cfg.CapacityFor(item.ValueMinor / money.MinorPerMajor)
	}
	if capacity <= 0 {
		capacity = 100
	}

	unit := domain.Unit{
		ValueMinor:   item.ValueMinor,
		Value:        money.FormatMajor(item.ValueMinor),
		Kind:         item.Kind,
		Quantity:     item.Quantity,
		AmountMinor:  item.ValueMinor * item.Quantity,
		Capacity:     capacity,
		WarnLow:      threshold(capacity, cfg.WarnLowPct),
		WarnHigh:     threshold(capacity, cfg.WarnHighPct),
		DeviceStatus: item.UnitStatus,
		Available:    item.Dispensable(),
	}

	switch {
	case item.UnitStatus == devicedomain.UnitStatusNG:
		unit.Level = domain.LevelUnavailable
	case unit.Quantity <= unit.WarnLow:
		unit.Level = domain.LevelLow
	case unit.Quantity >= unit.WarnHigh:
		unit.Level = domain.LevelHigh
	default:
		unit.Level = domain.LevelOK
	}
	return unit
}

// threshold is ceil(capacity * pct).
func threshold(capacity int64, pct float64) int64 {
	return decimal.NewFromInt(capacity).Mul(decimal.NewFromFloat(pct)).Ceil().IntPart()
}

func gaugeLevel(level domain.Level) int {
	switch level {
	case domain.LevelLow:
		return metrics.InventoryLevelLow
	case domain.LevelHigh:
		return metrics.InventoryLevelHigh
	case domain.LevelUnavailable:
		return metrics.InventoryLevelDown
	default:
		return metrics.InventoryLevelOK
	}
}
