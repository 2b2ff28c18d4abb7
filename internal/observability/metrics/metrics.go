package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes cash-handling instruments.
type Metrics struct {
	sessionsStarted       metric.Int64Counter
	sessionTransitions    metric.Int64Counter
	depositsFinalized     metric.Int64Counter
	posDispatches         metric.Int64Counter
	dispenses             metric.Int64Counter
	denominationShortfall metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "cashstation"
	}
	meter := provider.Meter(name)

	sessionsStarted, err := meter.Int64Counter("cashstation_sessions_started_total")
	if err != nil {
		return nil, err
	}
	sessionTransitions, err := meter.Int64Counter("cashstation_session_transitions_total")
	if err != nil {
		return nil, err
	}
	depositsFinalized, err := meter.Int64Counter("cashstation_deposits_finalized_total")
	if err != nil {
		return nil, err
	}
	posDispatches, err := meter.Int64Counter("cashstation_pos_dispatch_total")
	if err != nil {
		return nil, err
	}
	dispenses, err := meter.Int64Counter("cashstation_dispense_total")
	if err != nil {
		return nil, err
	}
	shortfall, err := meter.Int64Counter("cashstation_denomination_shortage_minor_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		sessionsStarted:       sessionsStarted,
		sessionTransitions:    sessionTransitions,
		depositsFinalized:     depositsFinalized,
		posDispatches:         posDispatches,
		dispenses:             dispenses,
		denominationShortfall: shortfall,
	}, nil
}

func (m *Metrics) RecordSessionStarted(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("mode", strings.TrimSpace(mode)))
	m.sessionsStarted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordSessionTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	)
	m.sessionTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordDepositFinalized(ctx context.Context, depositType, posStatus string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("deposit_type", depositType),
		attribute.String("pos_status", posStatus),
	)
	m.depositsFinalized.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordPosDispatch(ctx context.Context, vendor, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("vendor", vendor),
		attribute.String("outcome", outcome),
	)
	m.posDispatches.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDispense counts device dispense attempts; reason is "payout", "refund" or "withdrawal".
func (m *Metrics) RecordDispense(ctx context.Context, reason string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	attrs := FilterAttributes(
		attribute.String("reason", reason),
		attribute.String("result", result),
	)
	m.dispenses.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordShortage(ctx context.Context, shortageMinor int64) {
	if m == nil || shortageMinor <= 0 {
		return
	}
	m.denominationShortfall.Add(ctx, shortageMinor)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"mode":         {},
	"from":         {},
	"to":           {},
	"deposit_type": {},
	"pos_status":   {},
	"vendor":       {},
	"outcome":      {},
	"reason":       {},
	"result":       {},
	"route":        {},
	"method":       {},
	"status_code":  {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
