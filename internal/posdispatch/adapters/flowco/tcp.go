package flowco

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/smallbiznis/cashstation/internal/posdispatch/domain"
)

const VendorTCP = "flowco_tcp"

type TCPFactory struct{}

func NewTCPFactory() *TCPFactory {
	return &TCPFactory{}
}

func (f *TCPFactory) Vendor() string {
	return VendorTCP
}

func (f *TCPFactory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	addr := strings.TrimSpace(cfg.TCPAddr)
	if addr == "" {
		return nil, domain.ErrInvalidConfig
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TCPAdapter{
		addr:         addr,
		timeout:      timeout,
		terminalID:   cfg.TerminalID,
		sourceSystem: cfg.SourceSystem,
	}, nil
}

// TCPAdapter sends one newline-terminated JSON command per connection and
// reads one line back.
type TCPAdapter struct {
	addr         string
	timeout      time.Duration
	terminalID   string
	sourceSystem string
}

type command struct {
	Command string `json:"command"`
	Data    any    `json:"data"`
}

func (a *TCPAdapter) Vendor() string {
	return VendorTCP
}

func (a *TCPAdapter) Send(ctx context.Context, deposit domain.Deposit) (*domain.Response, error) {
	if deposit.TerminalID == "" {
		deposit.TerminalID = a.terminalID
	}
	return a.roundTrip(ctx, "deposit", command{Command: "Deposit", Data: newDepositPayload(deposit)})
}

func (a *TCPAdapter) Heartbeat(ctx context.Context) (*domain.Response, error) {
	return a.roundTrip(ctx, "heartbeat", command{Command: "HeartBeat", Data: heartbeatPayload{
		SourceSystem:  a.sourceSystem,
		POSTerminalID: a.terminalID,
	}})
}

func (a *TCPAdapter) roundTrip(ctx context.Context, op string, cmd command) (*domain.Response, error) {
	line, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: a.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", a.addr)
	if err != nil {
		return nil, domain.TransportError(op, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(a.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, domain.TransportError(op, err)
	}

	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, domain.TransportError(op, err)
	}

	reader := bufio.NewReader(conn)
	answer, err := reader.ReadBytes('\n')
	if err != nil && len(answer) == 0 {
		return nil, domain.TransportError(op, err)
	}

	parsed, err := parseReply(answer)
	if err != nil {
		return nil, domain.TransportError(op, err)
	}
	return parsed, nil
}
