package flowco

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/cashstation/internal/observability/tracing"
	"github.com/smallbiznis/cashstation/internal/posdispatch/domain"
	"go.opentelemetry.io/otel/propagation"
)

const VendorHTTP = "flowco_http"

type HTTPFactory struct{}

func NewHTTPFactory() *HTTPFactory {
	return &HTTPFactory{}
}

func (f *HTTPFactory) Vendor() string {
	return VendorHTTP
}

func (f *HTTPFactory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, domain.ErrInvalidConfig
	}
	client := cfg.HTTP
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPAdapter{
		baseURL:      baseURL,
		terminalID:   cfg.TerminalID,
		sourceSystem: cfg.SourceSystem,
		client:       client,
	}, nil
}

type HTTPAdapter struct {
	baseURL      string
	terminalID   string
	sourceSystem string
	client       *http.Client
}

func (a *HTTPAdapter) Vendor() string {
	return VendorHTTP
}

func (a *HTTPAdapter) Send(ctx context.Context, deposit domain.Deposit) (*domain.Response, error) {
	if deposit.TerminalID == "" {
		deposit.TerminalID = a.terminalID
	}
	return a.post(ctx, "deposit", "/POS/Deposit", newDepositPayload(deposit))
}

func (a *HTTPAdapter) Heartbeat(ctx context.Context) (*domain.Response, error) {
	return a.post(ctx, "heartbeat", "/POS/HeartBeat", heartbeatPayload{
		SourceSystem:  a.sourceSystem,
		POSTerminalID: a.terminalID,
	})
}

// post treats any parseable reply as an answer, including 4xx replies
// carrying status ERROR. Everything else is a transport failure.
func (a *HTTPAdapter) post(ctx context.Context, op, path string, payload any) (*domain.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	tracing.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, domain.TransportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.TransportError(op, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, domain.TransportError(op, fmt.Errorf("http %d", resp.StatusCode))
	}

	parsed, err := parseReply(raw)
	if err != nil {
		return nil, domain.TransportError(op, fmt.Errorf("http %d: %w", resp.StatusCode, err))
	}
	return parsed, nil
}
