package fleetmetrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/cashstation/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewPusherDisabledOrMisconfigured(t *testing.T) {
	cases := map[string]config.CloudMetricsConfig{
		"disabled":         {Enabled: false, Exporter: exporterPrometheusRemoteWrite, Endpoint: "http://x"},
		"missing exporter": {Enabled: true, Endpoint: "http://x"},
		"missing endpoint": {Enabled: true, Exporter: exporterPrometheusRemoteWrite},
		"unknown exporter": {Enabled: true, Exporter: "statsd", Endpoint: "http://x"},
		"bad url":          {Enabled: true, Exporter: exporterPrometheusRemoteWrite, Endpoint: "::nope"},
	}
	for name, metricsCfg := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Config{Cloud: config.CloudConfig{Metrics: metricsCfg}}
			assert.Nil(t, NewPusher(cfg, zap.NewNop()))
		})
	}
}

func TestNewPusherSelectsExporter(t *testing.T) {
	cfg := config.Config{AppName: "cashstation", StationID: "S1", TerminalID: "T1"}
	cfg.Cloud.Metrics = config.CloudMetricsConfig{Enabled: true, Exporter: exporterPrometheusRemoteWrite, Endpoint: "http://collector/api/v1/write"}
	_, ok := NewPusher(cfg, nil).(*RemoteWritePusher)
	assert.True(t, ok)

	cfg.Cloud.Metrics.Exporter = exporterPrometheusPushgateway
	gw, ok := NewPusher(cfg, nil).(*PushgatewayPusher)
	require.True(t, ok)
	assert.Equal(t, "cashstation", gw.job)
	assert.Equal(t, "S1", gw.grouping["station"])
	assert.Equal(t, "T1", gw.grouping["terminal"])
}

func TestRemoteWritePusherSendsSnappyProtobuf(t *testing.T) {
	var got prompb.WriteRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, got.Unmarshal(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	units := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "cashstation_inventory_units"}, []string{"kind", "value"})
	registry.MustRegister(units)
	units.WithLabelValues("note", "100000").Set(12)

	pusher := NewRemoteWritePusher(srv.URL, "secret", map[string]string{"station": "S1", "terminal": "T1"})
	pusher.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	require.NoError(t, pusher.Push(context.Background(), registry))

	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	require.Len(t, got.Timeseries, 1)
	series := got.Timeseries[0]
	assert.Equal(t, []prompb.Label{
		{Name: "__name__", Value: "cashstation_inventory_units"},
		{Name: "kind", Value: "note"},
		{Name: "station", Value: "S1"},
		{Name: "terminal", Value: "T1"},
		{Name: "value", Value: "100000"},
	}, series.Labels)
	require.Len(t, series.Samples, 1)
	assert.Equal(t, 12.0, series.Samples[0].Value)
	assert.Equal(t, int64(1_700_000_000_000), series.Samples[0].Timestamp)
}

func TestRemoteWritePusherReportsRejectedPush(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "cashstation_pos_queue_depth"})
	registry.MustRegister(gauge)
	gauge.Set(3)

	err := NewRemoteWritePusher(srv.URL, "", nil).Push(context.Background(), registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestBuildRemoteWriteSeriesSkipsHistogramsAndKeepsOwnLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cashstation_dispense_total"}, []string{"station"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "cashstation_latency_seconds"})
	registry.MustRegister(counter, histogram)
	counter.WithLabelValues("override").Add(2)
	histogram.Observe(0.5)

	families, err := registry.Gather()
	require.NoError(t, err)

	series := buildRemoteWriteSeries(families, map[string]string{"station": "S1", "empty": " "}, 10)
	require.Len(t, series, 1)
	assert.Equal(t, []prompb.Label{
		{Name: "__name__", Value: "cashstation_dispense_total"},
		{Name: "station", Value: "override"},
	}, series[0].Labels)
	assert.Equal(t, 2.0, series[0].Samples[0].Value)
}
