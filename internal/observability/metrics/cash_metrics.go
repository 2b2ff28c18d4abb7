package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CashMetrics exposes station state gauges scraped from /metrics and pushed
// to the fleet collector.
type CashMetrics struct {
	inventoryUnits    *prometheus.GaugeVec
	inventoryLevel    *prometheus.GaugeVec
	posQueueDepth     prometheus.Gauge
	sessionState      *prometheus.GaugeVec
	needsIntervention prometheus.Gauge
}

// Inventory level values reported by SetInventoryLevel.
const (
	InventoryLevelOK   = 0
	InventoryLevelLow  = 1
	InventoryLevelHigh = 2
	InventoryLevelDown = 3
)

var (
	cashMetricsOnce sync.Once
	cashMetrics     *CashMetrics
)

func Cash() *CashMetrics {
	return CashWithConfig(Config{})
}

func CashWithConfig(cfg Config) *CashMetrics {
	cashMetricsOnce.Do(func() {
		cashMetrics = newCashMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return cashMetrics
}

func ResetCashMetricsForTest() {
	cashMetricsOnce = sync.Once{}
	cashMetrics = nil
}

func newCashMetrics(registerer prometheus.Registerer, cfg Config) *CashMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	inventoryUnits := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "cashstation_inventory_units",
		Help:        "Units held by the recycler per denomination.",
		ConstLabels: labels,
	}, []string{"kind", "value"})
	inventoryLevel := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "cashstation_inventory_level",
		Help:        "Stock level per denomination: 0 ok, 1 low, 2 high, 3 unavailable.",
		ConstLabels: labels,
	}, []string{"kind", "value"})
	posQueueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "cashstation_pos_queue_depth",
		Help:        "POS deposits waiting for retry.",
		ConstLabels: labels,
	})
	sessionState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "cashstation_session_state",
		Help:        "1 for the current cash session state, 0 otherwise.",
		ConstLabels: labels,
	}, []string{"state"})
	needsIntervention := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "cashstation_session_needs_intervention",
		Help:        "1 while a failed dispense is waiting for staff.",
		ConstLabels: labels,
	})

	registerer.MustRegister(inventoryUnits, inventoryLevel, posQueueDepth, sessionState, needsIntervention)

	return &CashMetrics{
		inventoryUnits:    inventoryUnits,
		inventoryLevel:    inventoryLevel,
		posQueueDepth:     posQueueDepth,
		sessionState:      sessionState,
		needsIntervention: needsIntervention,
	}
}

func (m *CashMetrics) SetInventory(kind string, valueMinor int64, units int64, level int) {
	if m == nil {
		return
	}
	value := strconv.FormatInt(valueMinor, 10)
	m.inventoryUnits.WithLabelValues(kind, value).Set(float64(units))
	m.inventoryLevel.WithLabelValues(kind, value).Set(float64(level))
}

func (m *CashMetrics) SetPosQueueDepth(depth int64) {
	if m == nil {
		return
	}
	m.posQueueDepth.Set(float64(depth))
}

// SetSessionState flips the state gauge so exactly one state reads 1.
func (m *CashMetrics) SetSessionState(current string, all []string) {
	if m == nil {
		return
	}
	for _, state := range all {
		v := 0.0
		if state == current {
			v = 1
		}
		m.sessionState.WithLabelValues(state).Set(v)
	}
}

func (m *CashMetrics) SetNeedsIntervention(flag bool) {
	if m == nil {
		return
	}
	v := 0.0
	if flag {
		v = 1
	}
	m.needsIntervention.Set(v)
}
