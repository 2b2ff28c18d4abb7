package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	auditdomain "github.com/smallbiznis/cashstation/internal/audit/domain"
	"github.com/smallbiznis/cashstation/internal/cashsession/domain"
	"github.com/smallbiznis/cashstation/internal/clock"
	"github.com/smallbiznis/cashstation/internal/config"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	depositdomain "github.com/smallbiznis/cashstation/internal/deposit/domain"
	devicedomain "github.com/smallbiznis/cashstation/internal/device/domain"
	"github.com/smallbiznis/cashstation/internal/devicelock"
	obscontext "github.com/smallbiznis/cashstation/internal/observability/context"
	"github.com/smallbiznis/cashstation/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lc           fx.Lifecycle `optional:"true"`
	Log          *zap.Logger
	Cfg          config.Config
	Device       devicedomain.Adapter
	Denomination denomdomain.Service
	Finalizer    depositdomain.Service
	Locker       *devicelock.Locker   `optional:"true"`
	Clock        clock.Clock          `optional:"true"`
	Metrics      *metrics.Metrics     `optional:"true"`
	Cash         *metrics.CashMetrics `optional:"true"`
	Audit        auditdomain.Service  `optional:"true"`
}

// Controller owns the single recycler session of the terminal. Every command
// and every poll runs under mu, device calls included, so a poll never
// observes a half-applied transition.
type Controller struct {
	mu sync.Mutex

	log       *zap.Logger
	device    devicedomain.Adapter
	denom     denomdomain.Service
	finalizer depositdomain.Service
	locker    *devicelock.Locker
	clock     clock.Clock
	metrics   *metrics.Metrics
	cash      *metrics.CashMetrics
	audit     auditdomain.Service

	terminalID string
	timeout    time.Duration
	interval   time.Duration

	session      domain.Session
	lease        devicelock.Lease
	poller       *poller
	pollGen      uint64
	pollFailures int
}

func New(p Params) domain.Controller {
	c := &Controller{
		log:        p.Log.Named("cashsession.controller"),
		device:     p.Device,
		denom:      p.Denomination,
		finalizer:  p.Finalizer,
		locker:     p.Locker,
		clock:      p.Clock,
		metrics:    p.Metrics,
		cash:       p.Cash,
		audit:      p.Audit,
		terminalID: p.Cfg.TerminalID,
		timeout:    p.Cfg.Device.Timeout,
		interval:   p.Cfg.Device.PollInterval,
		session:    domain.Session{ID: devicedomain.SessionID, State: domain.StateIdle},
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.interval <= 0 {
		c.interval = time.Second
	}
	c.cash.SetSessionState(string(domain.StateIdle), domain.AllStates)
	if p.Lc != nil {
		p.Lc.Append(fx.Hook{OnStop: c.Shutdown})
	}
	return c
}

func (c *Controller) Current() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Controller) Start(ctx context.Context, req domain.StartRequest) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State.Active() {
		return c.snapshot(), domain.ErrSessionBusy
	}
	purpose := req.Purpose
	if purpose == "" {
		purpose = domain.PurposeDeposit
	}
	if purpose != domain.PurposeDeposit && purpose != domain.PurposeExchange {
		return c.snapshot(), domain.ErrInvalidPurpose
	}

	if err := c.acquire(ctx); err != nil {
		return c.snapshot(), err
	}

	dctx, cancel := c.deviceCtx(ctx)
	err := c.device.Open(dctx, devicedomain.SessionID, devicedomain.ModeCashIn)
	cancel()
	if err != nil {
		c.release(ctx)
		c.session.LastError = err.Error()
		c.log.Warn("open cash-in failed", zap.Error(err))
		return c.snapshot(), fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
	}

	now := c.clock.Now()
	c.session = domain.Session{
		ID:        devicedomain.SessionID,
		Mode:      devicedomain.ModeCashIn,
		Purpose:   purpose,
		State:     domain.StateIdle,
		StaffID:   strings.TrimSpace(req.StaffID),
		StartedAt: &now,
	}
	c.pollFailures = 0
	c.transition(ctx, domain.StateOpening)
	c.metrics.RecordSessionStarted(ctx, string(devicedomain.ModeCashIn))
	c.record(ctx, auditdomain.ActionSessionStarted, map[string]any{
		"mode":    string(devicedomain.ModeCashIn),
		"purpose": string(purpose),
	})
	c.startPolling()
	return c.snapshot(), nil
}

// Poll reads the device once and applies the result. It is a no-op outside
// the polled states.
func (c *Controller) Poll(ctx context.Context) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.State.Polled() {
		return c.snapshot(), nil
	}
	err := c.pollLocked(ctx)
	return c.snapshot(), err
}

// Confirm ends the cash-in. A device failure leaves the session untouched
// so the cashier can confirm again.
func (c *Controller) Confirm(ctx context.Context, id string) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(id, domain.StateReady, domain.StateEscrow); err != nil {
		return c.snapshot(), err
	}
	if c.session.LiveMinor <= 0 {
		return c.snapshot(), domain.ErrNothingCounted
	}

	dctx, cancel := c.deviceCtx(ctx)
	err := c.device.End(dctx, devicedomain.SessionID)
	cancel()
	if err != nil {
		c.session.LastError = err.Error()
		c.log.Warn("end cash-in failed", zap.Error(err))
		return c.snapshot(), fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
	}

	c.stopPolling()
	final := c.session.LiveMinor
	c.session.FinalMinor = &final
	c.session.LastError = ""
	next := domain.StateFinalizing
	if c.session.Purpose == domain.PurposeExchange {
		next = domain.StateSettling
	}
	c.transition(ctx, next)
	c.record(ctx, auditdomain.ActionSessionConfirmed, map[string]any{
		"amount_minor": final,
		"purpose":      string(c.session.Purpose),
	})
	return c.snapshot(), nil
}

// Cancel returns the escrow while cash is still held, or refunds the
// recorded breakdown once it has been stored.
func (c *Controller) Cancel(ctx context.Context, id string) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(id, domain.StateReady, domain.StateEscrow, domain.StateSettling); err != nil {
		return c.snapshot(), err
	}

	if c.session.State == domain.StateSettling {
		return c.refundLocked(ctx)
	}

	dctx, cancel := c.deviceCtx(ctx)
	err := c.device.Cancel(dctx, devicedomain.SessionID)
	cancel()
	if err != nil {
		c.session.LastError = err.Error()
		c.log.Warn("cancel cash-in failed", zap.Error(err))
		return c.snapshot(), fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
	}
	c.record(ctx, auditdomain.ActionSessionCancelled, map[string]any{
		"live_minor": c.session.LiveMinor,
	})
	c.closeLocked(ctx)
	return c.snapshot(), nil
}

func (c *Controller) refundLocked(ctx context.Context) (domain.Session, error) {
	var total int64
	if c.session.FinalMinor != nil {
		total = *c.session.FinalMinor
	}
	plan := c.denom.RefundPlan(ctx, c.session.Breakdown, total)
	c.transition(ctx, domain.StateCancelling)

	if !plan.Exact() {
		err := fmt.Errorf("refund short by %d", plan.ShortageMinor)
		c.intervene(ctx, "refund", err)
		return c.snapshot(), fmt.Errorf("%w: %w", domain.ErrDispenseFailed, err)
	}
	if err := c.dispense(ctx, plan, "refund"); err != nil {
		c.intervene(ctx, "refund", err)
		return c.snapshot(), fmt.Errorf("%w: %w", domain.ErrDispenseFailed, err)
	}

	c.session.Payout = &plan
	c.record(ctx, auditdomain.ActionSessionRefunded, map[string]any{
		"amount_minor": plan.DispensedMinor,
		"degraded":     plan.Degraded,
	})
	c.transition(ctx, domain.StateCollecting)
	c.startPolling()
	return c.snapshot(), nil
}

func (c *Controller) FinalizeDeposit(ctx context.Context, id string, req domain.FinalizeRequest) (*depositdomain.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(id, domain.StateFinalizing); err != nil {
		return nil, err
	}
	switch req.DepositType {
	case depositdomain.DepositTypeExchangeCash, depositdomain.DepositTypeWithdrawal:
		return nil, depositdomain.ErrInvalidDepositType
	}
	staffID := strings.TrimSpace(req.StaffID)
	if staffID == "" {
		staffID = c.session.StaffID
	}

	tx, err := c.finalizer.Finalize(ctx, depositdomain.FinalizeRequest{
		TransactionID: req.TransactionID,
		SessionID:     c.session.ID,
		Mode:          string(c.session.Mode),
		StaffID:       staffID,
		AmountMinor:   *c.session.FinalMinor,
		Breakdown:     cloneLines(c.session.Breakdown),
		DepositType:   req.DepositType,
		ProductCode:   req.ProductCode,
	})
	if err != nil {
		return nil, err
	}
	c.session.TransactionID = tx.TransactionID
	c.closeLocked(ctx)
	return tx, nil
}

// Payout dispenses the exchange plan of a settling session and records the
// exchange. The plan must pay out exactly the confirmed amount.
func (c *Controller) Payout(ctx context.Context, id string, req domain.PayoutRequest) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(id, domain.StateSettling); err != nil {
		return c.snapshot(), err
	}
	staffID := strings.TrimSpace(req.StaffID)
	if staffID == "" {
		staffID = c.session.StaffID
	}
	if staffID == "" {
		return c.snapshot(), domain.ErrInvalidStaff
	}
	final := *c.session.FinalMinor
	plan, err := normalizePlan(c.denom.Ladder(), req.Plan.Lines(), final)
	if err != nil {
		return c.snapshot(), err
	}

	c.transition(ctx, domain.StateDispensing)
	if err := c.dispense(ctx, plan, "exchange"); err != nil {
		c.intervene(ctx, "exchange", err)
		return c.snapshot(), fmt.Errorf("%w: %w", domain.ErrDispenseFailed, err)
	}
	c.session.Payout = &plan
	c.record(ctx, auditdomain.ActionPayoutDispensed, map[string]any{
		"amount_minor": plan.DispensedMinor,
		"purpose":      string(domain.PurposeExchange),
	})

	tx, err := c.finalizer.Finalize(ctx, depositdomain.FinalizeRequest{
		SessionID:   c.session.ID,
		Mode:        string(c.session.Mode),
		StaffID:     staffID,
		AmountMinor: final,
		Breakdown:   cloneLines(c.session.Breakdown),
		DepositType: depositdomain.DepositTypeExchangeCash,
	})
	var recordErr error
	if err != nil {
		// The cash is already out; the session carries on to collection.
		c.session.LastError = err.Error()
		c.log.Error("record exchange failed", zap.Error(err), zap.Int64("amount_minor", final))
		recordErr = fmt.Errorf("%w: %w", domain.ErrRecordFailed, err)
	} else {
		c.session.TransactionID = tx.TransactionID
	}

	c.transition(ctx, domain.StateCollecting)
	c.startPolling()
	return c.snapshot(), recordErr
}

// StartPayout opens a cash-out session and dispenses the plan in one step.
// The returned session is meaningful even when the dispense fails.
func (c *Controller) StartPayout(ctx context.Context, req domain.PayoutRequest) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State.Active() {
		return c.snapshot(), domain.ErrSessionBusy
	}
	staffID := strings.TrimSpace(req.StaffID)
	if staffID == "" {
		return c.snapshot(), domain.ErrInvalidStaff
	}
	if err := req.Plan.RequireExact(); err != nil {
		return c.snapshot(), err
	}
	plan, err := normalizePlan(c.denom.Ladder(), req.Plan.Lines(), req.Plan.DispensedMinor)
	if err != nil {
		return c.snapshot(), err
	}
	purpose := req.Purpose
	if purpose == "" {
		purpose = domain.PurposeWithdrawal
	}

	if err := c.acquire(ctx); err != nil {
		return c.snapshot(), err
	}
	dctx, cancel := c.deviceCtx(ctx)
	err = c.device.Open(dctx, devicedomain.SessionID, devicedomain.ModeCashOut)
	cancel()
	if err != nil {
		c.release(ctx)
		c.session.LastError = err.Error()
		c.log.Warn("open cash-out failed", zap.Error(err))
		return c.snapshot(), fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
	}

	now := c.clock.Now()
	c.session = domain.Session{
		ID:        devicedomain.SessionID,
		Mode:      devicedomain.ModeCashOut,
		Purpose:   purpose,
		State:     domain.StateIdle,
		StaffID:   staffID,
		StartedAt: &now,
	}
	c.pollFailures = 0
	c.metrics.RecordSessionStarted(ctx, string(devicedomain.ModeCashOut))
	c.record(ctx, auditdomain.ActionSessionStarted, map[string]any{
		"mode":         string(devicedomain.ModeCashOut),
		"purpose":      string(purpose),
		"amount_minor": plan.DispensedMinor,
	})
	c.transition(ctx, domain.StateDispensing)

	if err := c.dispense(ctx, plan, string(purpose)); err != nil {
		c.intervene(ctx, string(purpose), err)
		return c.snapshot(), fmt.Errorf("%w: %w", domain.ErrDispenseFailed, err)
	}
	dispensed := plan.DispensedMinor
	c.session.FinalMinor = &dispensed
	c.session.Payout = &plan
	c.record(ctx, auditdomain.ActionPayoutDispensed, map[string]any{
		"amount_minor": dispensed,
		"purpose":      string(purpose),
	})
	c.transition(ctx, domain.StateCollecting)
	c.startPolling()
	return c.snapshot(), nil
}

// ResolveIntervention closes a session left open by a failed dispense once
// staff have reconciled the cash by hand.
func (c *Controller) ResolveIntervention(ctx context.Context, id, staffID, note string) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.TrimSpace(id) != devicedomain.SessionID || c.session.StartedAt == nil {
		return c.snapshot(), domain.ErrSessionNotFound
	}
	if !c.session.NeedsIntervention {
		return c.snapshot(), domain.ErrInvalidState
	}
	staffID = strings.TrimSpace(staffID)
	if staffID == "" {
		return c.snapshot(), domain.ErrInvalidStaff
	}

	c.session.NeedsIntervention = false
	c.cash.SetNeedsIntervention(false)
	c.record(ctx, auditdomain.ActionInterventionResolved, map[string]any{
		"staff_id":   staffID,
		"note":       strings.TrimSpace(note),
		"state":      string(c.session.State),
		"last_error": c.session.LastError,
	})
	c.closeLocked(ctx)
	return c.snapshot(), nil
}

func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	p := c.poller
	c.stopPolling()
	c.release(ctx)
	c.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.Wait(ctx)
}

func (c *Controller) check(id string, allowed ...domain.State) error {
	if strings.TrimSpace(id) != devicedomain.SessionID || c.session.StartedAt == nil {
		return domain.ErrSessionNotFound
	}
	if c.session.NeedsIntervention {
		return domain.ErrNeedsIntervention
	}
	for _, state := range allowed {
		if c.session.State == state {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidState, c.session.State)
}

func (c *Controller) pollTick(ctx context.Context, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.pollGen || !c.session.State.Polled() {
		return
	}
	_ = c.pollLocked(ctx)
}

func (c *Controller) pollLocked(ctx context.Context) error {
	dctx, cancel := c.deviceCtx(ctx)
	status, err := c.device.Status(dctx, devicedomain.SessionID)
	cancel()
	if err != nil {
		c.pollFailures++
		c.session.LastError = err.Error()
		c.log.Warn("poll failed",
			zap.Error(err),
			zap.Int("consecutive_failures", c.pollFailures),
			zap.String("state", string(c.session.State)),
		)
		return fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
	}
	c.pollFailures = 0
	c.applyStatus(ctx, status)
	return nil
}

func (c *Controller) applyStatus(ctx context.Context, status devicedomain.Status) {
	c.session.MachineStateCode = int(status.Code)
	c.session.MachineState = status.Code.String()

	if c.session.State == domain.StateCollecting {
		if status.Code == devicedomain.StatusIdle {
			c.closeLocked(ctx)
		}
		return
	}

	if status.CountedMinor > c.session.LiveMinor {
		c.session.LiveMinor = status.CountedMinor
		c.session.Breakdown = cloneLines(status.Counted)
	} else if status.CountedMinor == c.session.LiveMinor && len(status.Counted) > 0 {
		c.session.Breakdown = cloneLines(status.Counted)
	}
	if status.Code.IsFault() {
		c.log.Warn("device reports fault",
			zap.Int("code", int(status.Code)),
			zap.String("machine_state", status.Code.String()),
		)
	}

	next := nextCashInState(c.session.State, status.Code, c.session.LiveMinor)
	if next != c.session.State {
		c.transition(ctx, next)
	}
}

func (c *Controller) dispense(ctx context.Context, plan denomdomain.Plan, reason string) error {
	dctx, cancel := c.deviceCtx(ctx)
	err := c.device.Dispense(dctx, devicedomain.SessionID, plan.Notes, plan.Coins)
	cancel()
	c.metrics.RecordDispense(ctx, reason, err == nil)
	return err
}

// intervene parks the session until staff resolve it. The lock stays held
// so no other session can drive the device meanwhile.
func (c *Controller) intervene(ctx context.Context, reason string, err error) {
	c.session.NeedsIntervention = true
	c.session.LastError = err.Error()
	c.cash.SetNeedsIntervention(true)
	c.log.Error("dispense failed, staff intervention required",
		zap.String("reason", reason),
		zap.String("state", string(c.session.State)),
		zap.Error(err),
	)
	c.record(ctx, auditdomain.ActionDispenseFailed, map[string]any{
		"reason": reason,
		"error":  err.Error(),
		"state":  string(c.session.State),
	})
}

func (c *Controller) closeLocked(ctx context.Context) {
	now := c.clock.Now()
	c.session.EndedAt = &now
	c.stopPolling()
	c.transition(ctx, domain.StateClosed)
	c.release(ctx)
}

func (c *Controller) transition(ctx context.Context, to domain.State) {
	from := c.session.State
	c.session.State = to
	c.metrics.RecordSessionTransition(ctx, string(from), string(to))
	c.cash.SetSessionState(string(to), domain.AllStates)
	c.log.Debug("session transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int64("live_minor", c.session.LiveMinor),
	)
}

func (c *Controller) startPolling() {
	c.stopPolling()
	c.pollGen++
	gen := c.pollGen
	c.poller = startPoller(c.clock, c.interval, func(ctx context.Context) {
		c.pollTick(ctx, gen)
	})
}

func (c *Controller) stopPolling() {
	if c.poller == nil {
		return
	}
	c.poller.Stop()
	c.poller = nil
	c.pollGen++
}

func (c *Controller) acquire(ctx context.Context) error {
	lease, err := c.locker.Acquire(ctx, c.terminalID)
	if err != nil {
		if errors.Is(err, devicelock.ErrLocked) {
			return domain.ErrSessionBusy
		}
		return fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
	}
	c.lease = lease
	return nil
}

func (c *Controller) release(ctx context.Context) {
	if c.lease.Key == "" {
		return
	}
	if err := c.locker.Release(context.WithoutCancel(ctx), c.lease); err != nil {
		c.log.Warn("release device lock failed", zap.Error(err))
	}
	c.lease = devicelock.Lease{}
}

func (c *Controller) deviceCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Controller) record(ctx context.Context, action string, metadata map[string]any) {
	if c.audit == nil {
		return
	}
	ctx = obscontext.WithSessionID(ctx, c.session.ID)
	if err := c.audit.Record(ctx, action, "session", c.session.ID, metadata); err != nil {
		c.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

func (c *Controller) snapshot() domain.Session {
	s := c.session
	s.Breakdown = cloneLines(c.session.Breakdown)
	if c.session.FinalMinor != nil {
		final := *c.session.FinalMinor
		s.FinalMinor = &final
	}
	if c.session.Payout != nil {
		plan := *c.session.Payout
		plan.Notes = cloneLines(plan.Notes)
		plan.Coins = cloneLines(plan.Coins)
		s.Payout = &plan
	}
	return s
}

var _ domain.Controller = (*Controller)(nil)
