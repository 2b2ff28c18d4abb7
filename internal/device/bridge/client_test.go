package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/cashstation/internal/config"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	"github.com/smallbiznis/cashstation/internal/device/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Params{
		Config: config.DeviceConfig{BaseURL: srv.URL, User: "gs-01", Timeout: time.Second},
	})
}

func TestStatusParsesCountedFaceValues(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fcc/api/v1/cash-in/status", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("session_id"))
		_, _ = w.Write([]byte(`{"state":3,"counted":{"by_fv":{"10000":2,"50000":1,"junk":4},"thb":70000}}`))
	})

	status, err := client.Status(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingInsertion, status.Code)
	assert.Equal(t, int64(70000), status.CountedMinor)
	assert.Equal(t, []denomdomain.Line{
		{ValueMinor: 50000, Quantity: 1},
		{ValueMinor: 10000, Quantity: 2},
	}, status.Counted)
}

func TestStartSendsUserAndSession(t *testing.T) {
	var got sessionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fcc/api/v1/cash-in/start", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"session_id":"1","result":{}}`))
	})

	require.NoError(t, client.Open(context.Background(), "1", domain.ModeCashIn))
	assert.Equal(t, sessionRequest{User: "gs-01", SessionID: "1"}, got)
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"FAILED","error":"connection refused"}`))
	})

	err := client.End(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnavailable))
}

func TestTimeoutIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.End(ctx, "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCancelFailureCarriesResultCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"status":"FAILED","result_code":"22"}`))
	})

	err := client.Cancel(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRejected))
	var resultErr *domain.ResultError
	require.True(t, errors.As(err, &resultErr))
	assert.Equal(t, domain.ResultSessionTimeout, resultErr.Code)
}

func TestDispenseAcceptsCode10(t *testing.T) {
	var got dispenseRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fcc/api/v1/cash-out/execute", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"FAILED","result_code":"10","session_id":"1"}`))
	})

	err := client.Dispense(context.Background(), "1",
		[]denomdomain.Line{{ValueMinor: 50000, Quantity: 2}},
		[]denomdomain.Line{{ValueMinor: 1000, Quantity: 0}, {ValueMinor: 500, Quantity: 1}},
	)
	require.NoError(t, err)
	assert.Equal(t, "THB", got.Currency)
	assert.Equal(t, []dispenseUnit{{Value: 50000, Quantity: 2}}, got.Notes)
	assert.Equal(t, []dispenseUnit{{Value: 500, Quantity: 1}}, got.Coins)
}

func TestInventorySplitsDevices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fcc/api/v1/cash/inventory", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"result_code":"0","currency":"THB",
			"notes":[{"value":100000,"qty":3,"device":1,"status":2},{"value":50000,"qty":0,"device":1,"status":2}],
			"coins":[{"value":1000,"qty":12,"device":2,"status":0}]
		}`))
	})

	inv, err := client.Inventory(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, inv.Notes, 2)
	require.Len(t, inv.Coins, 1)
	assert.Equal(t, denomdomain.KindCoin, inv.Coins[0].Kind)
	assert.Equal(t, denomdomain.Stock{100000: 3}, inv.Stock())
	assert.Equal(t, int64(312000), inv.TotalMinor())
}
