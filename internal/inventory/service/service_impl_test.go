package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/cashstation/internal/config"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	devicedomain "github.com/smallbiznis/cashstation/internal/device/domain"
	"github.com/smallbiznis/cashstation/internal/device/simulator"
	"github.com/smallbiznis/cashstation/internal/inventory/domain"
	"github.com/smallbiznis/cashstation/internal/inventory/service"
	"github.com/smallbiznis/cashstation/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildThresholdsAndAvailability(t *testing.T) {
	cfg := config.DefaultDenominationConfig()
	inv := devicedomain.Inventory{
		Currency: "THB",
		Notes: []devicedomain.InventoryItem{
			{ValueMinor: 100000, Kind: denomdomain.KindNote, Quantity: 10, UnitStatus: devicedomain.UnitStatusOK},
			{ValueMinor: 50000, Kind: denomdomain.KindNote, Quantity: 95, Capacity: 105, UnitStatus: devicedomain.UnitStatusWarn},
			{ValueMinor: 10000, Kind: denomdomain.KindNote, Quantity: 40, UnitStatus: devicedomain.UnitStatusNG},
		},
		Coins: []devicedomain.InventoryItem{
			{ValueMinor: 1000, Kind: denomdomain.KindCoin, Quantity: 0, UnitStatus: devicedomain.UnitStatusOK},
			{ValueMinor: 500, Kind: denomdomain.KindCoin, Quantity: 50, UnitStatus: devicedomain.UnitStatusOK},
		},
	}

	snapshot := service.Build(inv, cfg)

	require.Len(t, snapshot.Notes, 3)
	thousand := snapshot.Notes[0]
	assert.Equal(t, int64(100), thousand.Capacity)
	assert.Equal(t, int64(10), thousand.WarnLow)
	assert.Equal(t, int64(90), thousand.WarnHigh)
	assert.Equal(t, domain.LevelLow, thousand.Level)
	assert.True(t, thousand.Available)
	assert.Equal(t, "1000.00", thousand.Value)

	fiveHundred := snapshot.Notes[1]
	assert.Equal(t, int64(11), fiveHundred.WarnLow, "ceil(105*0.10)")
	assert.Equal(t, int64(95), fiveHundred.WarnHigh, "ceil(105*0.90)")
	assert.Equal(t, domain.LevelHigh, fiveHundred.Level)

	assert.Equal(t, domain.LevelUnavailable, snapshot.Notes[2].Level)
	assert.False(t, snapshot.Notes[2].Available)

	assert.False(t, snapshot.Coins[0].Available)
	assert.Equal(t, int64(200), snapshot.Coins[1].Capacity)
	assert.Equal(t, domain.LevelOK, snapshot.Coins[1].Level)

	assert.Equal(t, denomdomain.Stock{100000: 10, 50000: 95, 500: 50}, snapshot.Stock())
	assert.Equal(t, int64(1000000+4750000+400000), snapshot.Totals.NotesMinor)
	assert.Equal(t, int64(25000), snapshot.Totals.CoinsMinor)
	assert.Equal(t, snapshot.Totals.NotesMinor+snapshot.Totals.CoinsMinor, snapshot.Totals.GrandMinor)
}

func TestRefreshGaugesPublishesUnits(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	ladder := denomdomain.NewLadder([]int64{1000}, []int64{10}, 100)
	svc := service.New(service.Params{
		Log:          zap.NewNop(),
		Device:       simulator.New(simulator.Filled(ladder, 30, 100)),
		Denomination: config.NewStaticDenominationConfigHolder(config.DefaultDenominationConfig()),
		Metrics:      metrics.Cash(),
	})

	snapshot, err := svc.RefreshGauges(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot.Units(), 2)

	count, err := testutil.GatherAndCount(registry, "cashstation_inventory_units")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSnapshotWrapsDeviceError(t *testing.T) {
	sim := simulator.New(devicedomain.Inventory{})
	sim.Fail("inventory", devicedomain.ErrUnavailable)
	svc := service.New(service.Params{
		Log:          zap.NewNop(),
		Device:       sim,
		Denomination: config.NewStaticDenominationConfigHolder(config.DefaultDenominationConfig()),
	})

	_, err := svc.Snapshot(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInventoryUnavailable))
	assert.True(t, errors.Is(err, devicedomain.ErrUnavailable))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	metrics.ResetCashMetricsForTest()
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		metrics.ResetCashMetricsForTest()
	}
}
