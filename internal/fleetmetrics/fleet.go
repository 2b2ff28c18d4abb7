package fleetmetrics

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/cashstation/internal/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StationPrefix selects the station gauges from the process registry.
const StationPrefix = "cashstation_"

// Fleet owns the fleet-only gauges and pushes them with the station gauges.
type Fleet struct {
	registry       *prometheus.Registry
	gatherer       prometheus.Gatherer
	pusher         Pusher
	log            *zap.Logger
	clock          clock.Clock
	location       *time.Location
	info           *prometheus.GaugeVec
	memory         prometheus.Gauge
	depositsToday  prometheus.Gauge
	amountToday    prometheus.Gauge
	lastPushStatus prometheus.Gauge
}

// New builds the fleet collector. source supplies the station gauges,
// usually prometheus.DefaultGatherer.
func New(source prometheus.Gatherer, pusher Pusher, version string, loc *time.Location, clk clock.Clock, log *zap.Logger) *Fleet {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	if loc == nil {
		loc = time.UTC
	}
	registry := prometheus.NewRegistry()

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cashstation_fleet_info",
		Help: "Constant 1 labelled with the running build.",
	}, []string{"version"})
	memory := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cashstation_fleet_memory_bytes",
		Help: "Memory obtained from the OS by the station process.",
	})
	depositsToday := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cashstation_fleet_transactions_today",
		Help: "Finalized cash transactions since local midnight.",
	})
	amountToday := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cashstation_fleet_amount_today_minor",
		Help: "Sum of finalized amounts since local midnight, in minor units.",
	})
	lastPush := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cashstation_fleet_last_push_success",
		Help: "1 when the previous fleet push succeeded.",
	})
	registry.MustRegister(info, memory, depositsToday, amountToday, lastPush)
	info.WithLabelValues(strings.TrimSpace(version)).Set(1)

	gatherers := prometheus.Gatherers{registry}
	if source != nil {
		gatherers = append(gatherers, prefixGatherer{source: source, prefix: StationPrefix})
	}

	return &Fleet{
		registry:       registry,
		gatherer:       gatherers,
		pusher:         pusher,
		log:            log.Named("fleetmetrics"),
		clock:          clk,
		location:       loc,
		info:           info,
		memory:         memory,
		depositsToday:  depositsToday,
		amountToday:    amountToday,
		lastPushStatus: lastPush,
	}
}

// Gatherer exposes everything a push would send.
func (f *Fleet) Gatherer() prometheus.Gatherer {
	if f == nil {
		return nil
	}
	return f.gatherer
}

// Refresh updates the fleet gauges from the process and the transaction store.
func (f *Fleet) Refresh(ctx context.Context, db *gorm.DB) {
	if f == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	f.memory.Set(float64(m.Sys))

	if db == nil {
		return
	}
	now := f.clock.Now().In(f.location)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, f.location)

	var row struct {
		Count int64
		Total int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS count, COALESCE(SUM(amount_minor), 0) AS total
		FROM cash_transactions
		WHERE created_at >= ?`,
		midnight.UTC(),
	).Scan(&row).Error
	if err != nil {
		f.log.Warn("failed to count today's transactions", zap.Error(err))
		return
	}
	f.depositsToday.Set(float64(row.Count))
	f.amountToday.Set(float64(row.Total))
}

// Push sends the gathered metrics. A nil pusher is a no-op.
func (f *Fleet) Push(ctx context.Context) error {
	if f == nil || f.pusher == nil {
		return nil
	}
	err := f.pusher.Push(ctx, f.gatherer)
	if err != nil {
		f.lastPushStatus.Set(0)
		return err
	}
	f.lastPushStatus.Set(1)
	return nil
}

type prefixGatherer struct {
	source prometheus.Gatherer
	prefix string
}

func (g prefixGatherer) Gather() ([]*dto.MetricFamily, error) {
	families, err := g.source.Gather()
	out := make([]*dto.MetricFamily, 0, len(families))
	for _, family := range families {
		if strings.HasPrefix(family.GetName(), g.prefix) {
			out = append(out, family)
		}
	}
	return out, err
}
