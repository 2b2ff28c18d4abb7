// Package bridge talks to the recycler's REST bridge (the FCC gateway that
// fronts the device's SOAP interface).
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/cashstation/internal/config"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	"github.com/smallbiznis/cashstation/internal/device/domain"
	"github.com/smallbiznis/cashstation/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const apiPrefix = "/fcc/api/v1"

type Params struct {
	Config   config.DeviceConfig
	Currency string
	Log      *zap.Logger
	HTTP     *http.Client
}

type Client struct {
	baseURL  string
	user     string
	currency string
	http     *http.Client
	log      *zap.Logger
}

func New(p Params) *Client {
	httpClient := p.HTTP
	if httpClient == nil {
		timeout := p.Config.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = "THB"
	}
	return &Client{
		baseURL:  strings.TrimRight(p.Config.BaseURL, "/") + apiPrefix,
		user:     p.Config.User,
		currency: currency,
		http:     httpClient,
		log:      log.Named("device.bridge"),
	}
}

type sessionRequest struct {
	User      string `json:"user,omitempty"`
	SessionID string `json:"session_id"`
}

type resultResponse struct {
	Status     string `json:"status"`
	ResultCode string `json:"result_code"`
	Error      string `json:"error"`
}

// Open starts a deposit for cash_in. Cash-out has no start call on the
// bridge, so it only verifies the device answers its status probe.
func (c *Client) Open(ctx context.Context, sessionID string, mode domain.Mode) error {
	if mode == domain.ModeCashOut {
		var out resultResponse
		code, err := c.do(ctx, "open", http.MethodGet, "/status?session_id="+url.QueryEscape(sessionID), nil, &out)
		if err != nil {
			return err
		}
		return checkResult("open", code, out, "0")
	}
	_, err := c.do(ctx, "open", http.MethodPost, "/cash-in/start", sessionRequest{User: c.user, SessionID: sessionID}, nil)
	return err
}

type statusResponse struct {
	State   *int `json:"state"`
	Counted *struct {
		ByFV  map[string]int64 `json:"by_fv"`
		Total int64            `json:"thb"`
	} `json:"counted"`
}

func (c *Client) Status(ctx context.Context, sessionID string) (domain.Status, error) {
	var out statusResponse
	if _, err := c.do(ctx, "status", http.MethodGet, "/cash-in/status?session_id="+url.QueryEscape(sessionID), nil, &out); err != nil {
		return domain.Status{}, err
	}
	if out.State == nil {
		return domain.Status{}, fmt.Errorf("%w: status response without state", domain.ErrUnavailable)
	}

	status := domain.Status{Code: domain.StatusCode(*out.State)}
	if out.Counted != nil {
		status.CountedMinor = out.Counted.Total
		for fv, qty := range out.Counted.ByFV {
			value, err := strconv.ParseInt(fv, 10, 64)
			if err != nil || value <= 0 || qty <= 0 {
				continue
			}
			status.Counted = append(status.Counted, denomdomain.Line{ValueMinor: value, Quantity: qty})
		}
		sortLinesDesc(status.Counted)
	}
	return status, nil
}

func (c *Client) End(ctx context.Context, sessionID string) error {
	_, err := c.do(ctx, "end", http.MethodPost, "/cash-in/end", sessionRequest{User: c.user, SessionID: sessionID}, nil)
	return err
}

func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	var out resultResponse
	code, err := c.do(ctx, "cancel", http.MethodPost, "/cash-in/cancel", sessionRequest{SessionID: sessionID}, &out)
	if err != nil {
		return err
	}
	return checkResult("cancel", code, out, "0")
}

type dispenseUnit struct {
	Value    int64 `json:"value"`
	Quantity int64 `json:"qty"`
}

type dispenseRequest struct {
	SessionID string         `json:"session_id"`
	Currency  string         `json:"currency"`
	Notes     []dispenseUnit `json:"notes"`
	Coins     []dispenseUnit `json:"coins"`
}

func (c *Client) Dispense(ctx context.Context, sessionID string, notes, coins []denomdomain.Line) error {
	req := dispenseRequest{
		SessionID: sessionID,
		Currency:  c.currency,
		Notes:     toUnits(notes),
		Coins:     toUnits(coins),
	}
	var out resultResponse
	code, err := c.do(ctx, "dispense", http.MethodPost, "/cash-out/execute", req, &out)
	if err != nil {
		return err
	}
	return checkResult("dispense", code, out, "0", "10")
}

type inventoryUnit struct {
	Value    int64 `json:"value"`
	Quantity int64 `json:"qty"`
	Device   int   `json:"device"`
	Status   int   `json:"status"`
	Capacity int64 `json:"capacity"`
}

type inventoryResponse struct {
	ResultCode *string         `json:"result_code"`
	Currency   string          `json:"currency"`
	Notes      []inventoryUnit `json:"notes"`
	Coins      []inventoryUnit `json:"coins"`
}

func (c *Client) Inventory(ctx context.Context, sessionID string) (domain.Inventory, error) {
	var out inventoryResponse
	if _, err := c.do(ctx, "inventory", http.MethodGet, "/cash/inventory?session_id="+url.QueryEscape(sessionID), nil, &out); err != nil {
		return domain.Inventory{}, err
	}
	if out.ResultCode != nil && *out.ResultCode != "0" {
		// 207 responses still carry usable counts; log and keep them.
		c.log.Warn("inventory returned non-zero result", zap.String("result_code", *out.ResultCode))
	}

	inv := domain.Inventory{
		Currency: out.Currency,
		Notes:    make([]domain.InventoryItem, 0, len(out.Notes)),
		Coins:    make([]domain.InventoryItem, 0, len(out.Coins)),
	}
	if inv.Currency == "" {
		inv.Currency = c.currency
	}
	for _, unit := range append(append([]inventoryUnit(nil), out.Notes...), out.Coins...) {
		item := domain.InventoryItem{
			ValueMinor: unit.Value,
			Quantity:   unit.Quantity,
			Capacity:   unit.Capacity,
			UnitStatus: unit.Status,
		}
		if unit.Device == domain.DeviceCoins {
			item.Kind = denomdomain.KindCoin
			inv.Coins = append(inv.Coins, item)
		} else {
			item.Kind = denomdomain.KindNote
			inv.Notes = append(inv.Notes, item)
		}
	}
	return inv, nil
}

// do performs one request. Transport failures, 5xx without a result code and
// undecodable bodies are reported as domain.ErrUnavailable. The HTTP status is
// returned so callers can interpret bridge-level FAILED responses.
func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) (int, error) {
	ctx, span := tracing.Start(ctx, "device."+op, attribute.String("device.op", op))
	var err error
	defer func() { tracing.End(span, err) }()

	var reader io.Reader
	if body != nil {
		payload, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			err = marshalErr
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, reqErr := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if reqErr != nil {
		err = reqErr
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	resp, doErr := c.http.Do(req)
	if doErr != nil {
		err = fmt.Errorf("%w: %s: %w", domain.ErrUnavailable, op, doErr)
		return 0, err
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		err = fmt.Errorf("%w: %s: read body: %w", domain.ErrUnavailable, op, readErr)
		return resp.StatusCode, err
	}

	var envelope resultResponse
	_ = json.Unmarshal(raw, &envelope)

	switch {
	case resp.StatusCode == http.StatusBadGateway && envelope.ResultCode != "":
		// The bridge reached the device and it answered with a failing code.
	case resp.StatusCode >= http.StatusInternalServerError:
		err = fmt.Errorf("%w: %s: http %d %s", domain.ErrUnavailable, op, resp.StatusCode, strings.TrimSpace(envelope.Error))
		return resp.StatusCode, err
	case resp.StatusCode >= http.StatusBadRequest:
		err = fmt.Errorf("%w: %s: http %d %s", domain.ErrRejected, op, resp.StatusCode, strings.TrimSpace(envelope.Error))
		return resp.StatusCode, err
	}

	if out != nil && len(raw) > 0 {
		if decodeErr := json.Unmarshal(raw, out); decodeErr != nil {
			err = fmt.Errorf("%w: %s: decode: %w", domain.ErrUnavailable, op, decodeErr)
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func checkResult(op string, httpStatus int, out resultResponse, okCodes ...string) error {
	if strings.EqualFold(out.Status, "OK") {
		return nil
	}
	for _, ok := range okCodes {
		if out.ResultCode == ok {
			return nil
		}
	}
	if out.ResultCode == "" {
		if httpStatus == http.StatusOK && out.Status == "" {
			return nil
		}
		return fmt.Errorf("%w: %s: status %q without result code", domain.ErrUnavailable, op, out.Status)
	}
	code, err := strconv.Atoi(out.ResultCode)
	if err != nil {
		return fmt.Errorf("%w: %s: result code %q", domain.ErrUnavailable, op, out.ResultCode)
	}
	return &domain.ResultError{Op: op, Code: domain.ResultCode(code)}
}

func toUnits(lines []denomdomain.Line) []dispenseUnit {
	out := make([]dispenseUnit, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		out = append(out, dispenseUnit{Value: line.ValueMinor, Quantity: line.Quantity})
	}
	return out
}

func sortLinesDesc(lines []denomdomain.Line) {
	sort.Slice(lines, func(i, j int) bool { return lines[i].ValueMinor > lines[j].ValueMinor })
}

var _ domain.Adapter = (*Client)(nil)
