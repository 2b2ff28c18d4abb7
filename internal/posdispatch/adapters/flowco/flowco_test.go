package flowco

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/cashstation/internal/posdispatch/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHTTPAdapter(t *testing.T, handler http.HandlerFunc) domain.Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	adapter, err := NewHTTPFactory().NewAdapter(domain.AdapterConfig{
		BaseURL:      srv.URL,
		Timeout:      200 * time.Millisecond,
		TerminalID:   "T01",
		SourceSystem: "cashstation",
	})
	require.NoError(t, err)
	return adapter
}

func TestHTTPSendPostsDeposit(t *testing.T) {
	var got map[string]any
	adapter := newHTTPAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/POS/Deposit", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"transaction_id":"DEP-1","status":"OK","discription":"saved","time_stamp":"2026-10-17 10:00:00"}`))
	})

	code := "oil-5w30"
	resp, err := adapter.Send(context.Background(), domain.Deposit{
		TransactionID: "DEP-1",
		StaffID:       "S-1",
		AmountMinor:   65050,
		ProductCode:   &code,
	})
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Status)
	assert.Equal(t, "saved", resp.Description)
	assert.Equal(t, "DEP-1", got["transaction_id"])
	assert.Equal(t, 650.5, got["amount"])
	assert.Equal(t, "T01", got["terminal_id"])
	assert.Equal(t, "oil-5w30", got["product_code"])
}

func TestHTTPRejectionIsAnAnswer(t *testing.T) {
	adapter := newHTTPAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"transaction_id":"DEP-1","status":"ERROR","description":"unknown staff"}`))
	})

	resp, err := adapter.Send(context.Background(), domain.Deposit{TransactionID: "DEP-1"})
	require.NoError(t, err)
	assert.Equal(t, "ERROR", resp.Status)
	assert.Equal(t, "unknown staff", resp.Description)
}

func TestHTTPTransportFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
		"malformed": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		},
		"timeout": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			adapter := newHTTPAdapter(t, handler)
			_, err := adapter.Send(context.Background(), domain.Deposit{TransactionID: "DEP-1"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrTransport))
		})
	}
}

func TestHTTPFactoryRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPFactory().NewAdapter(domain.AdapterConfig{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestTCPRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	received := make(chan command, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadBytes('\n')
		var cmd command
		_ = json.Unmarshal(line, &cmd)
		received <- cmd
		_, _ = conn.Write([]byte(`{"transaction_id":"DEP-2","status":"OK","description":"done"}` + "\n"))
	}()

	adapter, err := NewTCPFactory().NewAdapter(domain.AdapterConfig{TCPAddr: ln.Addr().String(), Timeout: time.Second})
	require.NoError(t, err)

	resp, err := adapter.Send(context.Background(), domain.Deposit{TransactionID: "DEP-2", AmountMinor: 100000})
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Status)

	cmd := <-received
	assert.Equal(t, "Deposit", cmd.Command)
}

func TestTCPRefusedIsTransport(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	adapter, err := NewTCPFactory().NewAdapter(domain.AdapterConfig{TCPAddr: addr, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	_, err = adapter.Send(context.Background(), domain.Deposit{TransactionID: "DEP-3"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransport))
}
