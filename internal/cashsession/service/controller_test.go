package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/cashstation/internal/cashsession/domain"
	"github.com/smallbiznis/cashstation/internal/cashsession/service"
	"github.com/smallbiznis/cashstation/internal/clock"
	"github.com/smallbiznis/cashstation/internal/config"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	denomservice "github.com/smallbiznis/cashstation/internal/denomination/service"
	depositdomain "github.com/smallbiznis/cashstation/internal/deposit/domain"
	devicedomain "github.com/smallbiznis/cashstation/internal/device/domain"
	"github.com/smallbiznis/cashstation/internal/device/simulator"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFinalizer struct {
	mu       sync.Mutex
	requests []depositdomain.FinalizeRequest
	err      error
}

func (f *fakeFinalizer) Finalize(ctx context.Context, req depositdomain.FinalizeRequest) (*depositdomain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &depositdomain.Transaction{
		TransactionID: "DEP-TEST",
		AmountMinor:   req.AmountMinor,
		DepositType:   string(req.DepositType),
	}, nil
}

func (f *fakeFinalizer) Get(ctx context.Context, id string) (*depositdomain.Transaction, error) {
	return nil, depositdomain.ErrNotFound
}

func (f *fakeFinalizer) List(ctx context.Context, req depositdomain.ListRequest) (depositdomain.ListResponse, error) {
	return depositdomain.ListResponse{}, nil
}

func (f *fakeFinalizer) RetryPos(ctx context.Context, id string) (*depositdomain.Transaction, error) {
	return nil, depositdomain.ErrNotRetryable
}

func (f *fakeFinalizer) RetryPending(ctx context.Context) (int, error) {
	return 0, nil
}

type harness struct {
	ctrl      domain.Controller
	sim       *simulator.Simulator
	finalizer *fakeFinalizer
	denom     denomdomain.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithDevice(t, nil)
}

func newHarnessWithDevice(t *testing.T, wrap func(*simulator.Simulator) devicedomain.Adapter) *harness {
	t.Helper()
	denom := denomservice.New(denomservice.Params{
		Log:    zap.NewNop(),
		Config: config.NewStaticDenominationConfigHolder(config.DefaultDenominationConfig()),
	})
	sim := simulator.New(simulator.Filled(denom.Ladder(), 10, 100))
	var device devicedomain.Adapter = sim
	if wrap != nil {
		device = wrap(sim)
	}
	finalizer := &fakeFinalizer{}
	ctrl := service.New(service.Params{
		Log: zap.NewNop(),
		Cfg: config.Config{
			TerminalID: "terminal-1",
			Device: config.DeviceConfig{
				Timeout:      time.Second,
				PollInterval: time.Hour,
			},
		},
		Device:       device,
		Denomination: denom,
		Finalizer:    finalizer,
		Clock:        clock.NewFakeClock(time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)),
	})
	t.Cleanup(func() { _ = ctrl.Shutdown(context.Background()) })
	return &harness{ctrl: ctrl, sim: sim, finalizer: finalizer, denom: denom}
}

// escrow starts a session, feeds lines and polls until the escrow is seen.
func (h *harness) escrow(t *testing.T, purpose domain.Purpose, lines ...denomdomain.Line) domain.Session {
	t.Helper()
	ctx := context.Background()
	_, err := h.ctrl.Start(ctx, domain.StartRequest{Purpose: purpose, StaffID: "staff-7"})
	require.NoError(t, err)
	h.sim.Insert(lines...)
	session, err := h.ctrl.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StateEscrow, session.State)
	return session
}

func TestDepositFlowRentalScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.ctrl.Start(ctx, domain.StartRequest{StaffID: "staff-7"})
	require.NoError(t, err)
	require.Equal(t, domain.StateOpening, session.State)
	require.Equal(t, devicedomain.SessionID, session.ID)

	session, err = h.ctrl.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StateReady, session.State)

	h.sim.Insert(
		denomdomain.Line{ValueMinor: 50000, Quantity: 1},
		denomdomain.Line{ValueMinor: 10000, Quantity: 1},
		denomdomain.Line{ValueMinor: 5000, Quantity: 1},
	)
	session, err = h.ctrl.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StateEscrow, session.State)
	require.Equal(t, int64(65000), session.LiveMinor)
	require.Equal(t, "650", session.LiveAmount().String())

	session, err = h.ctrl.Confirm(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateFinalizing, session.State)
	require.NotNil(t, session.FinalMinor)
	require.Equal(t, int64(65000), *session.FinalMinor)

	tx, err := h.ctrl.FinalizeDeposit(ctx, session.ID, domain.FinalizeRequest{
		DepositType: depositdomain.DepositTypeRental,
	})
	require.NoError(t, err)
	require.Equal(t, "DEP-TEST", tx.TransactionID)

	require.Len(t, h.finalizer.requests, 1)
	req := h.finalizer.requests[0]
	require.Equal(t, int64(65000), req.AmountMinor)
	require.Equal(t, "staff-7", req.StaffID)
	require.Equal(t, "cash_in", req.Mode)
	require.Len(t, req.Breakdown, 3)

	current := h.ctrl.Current()
	require.Equal(t, domain.StateClosed, current.State)
	require.Equal(t, "DEP-TEST", current.TransactionID)
	require.NotNil(t, current.EndedAt)
}

func TestConfirmWhileCountingIsInvalidState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.escrow(t, domain.PurposeDeposit, denomdomain.Line{ValueMinor: 10000, Quantity: 1})

	h.sim.SetCode(devicedomain.StatusCounting)
	session, err := h.ctrl.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StateCounting, session.State)

	_, err = h.ctrl.Confirm(ctx, devicedomain.SessionID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	require.Equal(t, domain.StateCounting, h.ctrl.Current().State)

	_, err = h.ctrl.Cancel(ctx, devicedomain.SessionID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestConfirmDeviceTimeoutLeavesSessionUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.escrow(t, domain.PurposeDeposit, denomdomain.Line{ValueMinor: 10000, Quantity: 2})

	h.sim.Fail("end", errors.Join(devicedomain.ErrUnavailable, context.DeadlineExceeded))
	session, err := h.ctrl.Confirm(ctx, devicedomain.SessionID)
	require.ErrorIs(t, err, domain.ErrDeviceUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, domain.StateEscrow, session.State)
	require.Nil(t, session.FinalMinor)
	require.NotEmpty(t, session.LastError)

	session, err = h.ctrl.Confirm(ctx, devicedomain.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.StateFinalizing, session.State)
	require.Equal(t, int64(20000), *session.FinalMinor)
}

func TestConfirmWithNothingCounted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ctrl.Start(ctx, domain.StartRequest{})
	require.NoError(t, err)
	_, err = h.ctrl.Poll(ctx)
	require.NoError(t, err)

	_, err = h.ctrl.Confirm(ctx, devicedomain.SessionID)
	require.ErrorIs(t, err, domain.ErrNothingCounted)
	require.Equal(t, domain.StateReady, h.ctrl.Current().State)
}

func TestStartWhileActiveIsBusy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ctrl.Start(ctx, domain.StartRequest{})
	require.NoError(t, err)

	_, err = h.ctrl.Start(ctx, domain.StartRequest{})
	require.ErrorIs(t, err, domain.ErrSessionBusy)

	_, err = h.ctrl.StartPayout(ctx, domain.PayoutRequest{StaffID: "staff-7"})
	require.ErrorIs(t, err, domain.ErrSessionBusy)
}

func TestStartOpenFailureStaysIdle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sim.Fail("open", devicedomain.ErrUnavailable)

	session, err := h.ctrl.Start(ctx, domain.StartRequest{})
	require.ErrorIs(t, err, domain.ErrDeviceUnavailable)
	require.Equal(t, domain.StateIdle, session.State)

	session, err = h.ctrl.Start(ctx, domain.StartRequest{})
	require.NoError(t, err)
	require.Equal(t, domain.StateOpening, session.State)
}

func TestStartRejectsUnknownPurpose(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.Start(context.Background(), domain.StartRequest{Purpose: domain.PurposeWithdrawal})
	require.ErrorIs(t, err, domain.ErrInvalidPurpose)
}

func TestCommandsRejectUnknownSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ctrl.Confirm(ctx, devicedomain.SessionID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	h.escrow(t, domain.PurposeDeposit, denomdomain.Line{ValueMinor: 2000, Quantity: 1})
	_, err = h.ctrl.Cancel(ctx, "2")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestPollFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.escrow(t, domain.PurposeDeposit, denomdomain.Line{ValueMinor: 2000, Quantity: 1})

	h.sim.Fail("status", devicedomain.ErrUnavailable)
	session, err := h.ctrl.Poll(ctx)
	require.ErrorIs(t, err, domain.ErrDeviceUnavailable)
	require.Equal(t, domain.StateEscrow, session.State)
	require.Equal(t, int64(2000), session.LiveMinor)
}

type shrinkingDevice struct {
	*simulator.Simulator
	counted int64
}

func (d *shrinkingDevice) Status(ctx context.Context, sessionID string) (devicedomain.Status, error) {
	return devicedomain.Status{Code: devicedomain.StatusWaitingInsertion, CountedMinor: d.counted}, nil
}

func TestLiveAmountNeverDecreases(t *testing.T) {
	var device *shrinkingDevice
	h := newHarnessWithDevice(t, func(sim *simulator.Simulator) devicedomain.Adapter {
		device = &shrinkingDevice{Simulator: sim}
		return device
	})
	ctx := context.Background()
	_, err := h.ctrl.Start(ctx, domain.StartRequest{})
	require.NoError(t, err)

	device.counted = 30000
	session, err := h.ctrl.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(30000), session.LiveMinor)

	device.counted = 10000
	session, err = h.ctrl.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(30000), session.LiveMinor)
	require.Equal(t, domain.StateEscrow, session.State)
}

func TestCancelEscrowReturnsCash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.escrow(t, domain.PurposeDeposit, denomdomain.Line{ValueMinor: 10000, Quantity: 1})

	session, err := h.ctrl.Cancel(ctx, devicedomain.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.StateClosed, session.State)
	require.Contains(t, h.sim.Calls(), "cancel")
	require.Empty(t, h.finalizer.requests)

	_, err = h.ctrl.Start(ctx, domain.StartRequest{})
	require.NoError(t, err)
}

func TestExchangePayoutRecordsExchange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.escrow(t, domain.PurposeExchange, denomdomain.Line{ValueMinor: 100000, Quantity: 1})

	session, err := h.ctrl.Confirm(ctx, devicedomain.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.StateSettling, session.State)

	_, err = h.ctrl.Payout(ctx, devicedomain.SessionID, domain.PayoutRequest{
		Plan: denomdomain.Plan{Notes: []denomdomain.Line{{ValueMinor: 50000, Quantity: 1}}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidPlan)
	require.Equal(t, domain.StateSettling, h.ctrl.Current().State)

	plan, err := h.denom.ComputePlan(ctx, 100000, denomdomain.Stock{50000: 2, 10000: 5})
	require.NoError(t, err)
	require.True(t, plan.Exact())

	session, err = h.ctrl.Payout(ctx, devicedomain.SessionID, domain.PayoutRequest{Plan: plan})
	require.NoError(t, err)
	require.Equal(t, domain.StateCollecting, session.State)
	require.Equal(t, int64(100000), session.Payout.DispensedMinor)

	require.Len(t, h.finalizer.requests, 1)
	require.Equal(t, depositdomain.DepositTypeExchangeCash, h.finalizer.requests[0].DepositType)
	require.Equal(t, int64(100000), h.finalizer.requests[0].AmountMinor)

	session, err = h.ctrl.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StateCollecting, session.State)

	h.sim.TakeCash()
	session, err = h.ctrl.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StateClosed, session.State)
}

func TestExchangePayoutSurfacesRecordFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.escrow(t, domain.PurposeExchange, denomdomain.Line{ValueMinor: 10000, Quantity: 1})
	_, err := h.ctrl.Confirm(ctx, devicedomain.SessionID)
	require.NoError(t, err)

	plan, err := h.denom.ComputePlan(ctx, 10000, denomdomain.Stock{5000: 2})
	require.NoError(t, err)
	h.finalizer.err = errors.New("disk full")

	session, err := h.ctrl.Payout(ctx, devicedomain.SessionID, domain.PayoutRequest{Plan: plan})
	require.ErrorIs(t, err, domain.ErrRecordFailed)
	require.Equal(t, domain.StateCollecting, session.State)
	require.Equal(t, int64(10000), session.Payout.DispensedMinor)
	require.Contains(t, session.LastError, "disk full")
	require.Empty(t, session.TransactionID)
	require.Contains(t, h.sim.Calls(), "dispense")
}

func TestExchangeCancelRefundsRecordedBreakdown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.escrow(t, domain.PurposeExchange,
		denomdomain.Line{ValueMinor: 50000, Quantity: 1},
		denomdomain.Line{ValueMinor: 2000, Quantity: 2},
	)
	_, err := h.ctrl.Confirm(ctx, devicedomain.SessionID)
	require.NoError(t, err)

	session, err := h.ctrl.Cancel(ctx, devicedomain.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCollecting, session.State)
	require.False(t, session.Payout.Degraded)
	require.Equal(t, []denomdomain.Line{
		{ValueMinor: 50000, Quantity: 1},
		{ValueMinor: 2000, Quantity: 2},
	}, session.Payout.Notes)
	require.Empty(t, h.finalizer.requests)
}

// lossyDevice reports the counted total but loses the last breakdown line,
// as a bridge does when it cannot parse a denomination key.
type lossyDevice struct {
	*simulator.Simulator
}

func (d *lossyDevice) Status(ctx context.Context, sessionID string) (devicedomain.Status, error) {
	status, err := d.Simulator.Status(ctx, sessionID)
	if err == nil && len(status.Counted) > 1 {
		status.Counted = status.Counted[:len(status.Counted)-1]
	}
	return status, err
}

func TestExchangeCancelRefundsCountedTotalWhenBreakdownIsShort(t *testing.T) {
	h := newHarnessWithDevice(t, func(sim *simulator.Simulator) devicedomain.Adapter {
		return &lossyDevice{Simulator: sim}
	})
	ctx := context.Background()
	h.escrow(t, domain.PurposeExchange,
		denomdomain.Line{ValueMinor: 100000, Quantity: 1},
		denomdomain.Line{ValueMinor: 2000, Quantity: 1},
	)
	session, err := h.ctrl.Confirm(ctx, devicedomain.SessionID)
	require.NoError(t, err)
	require.Equal(t, int64(102000), *session.FinalMinor)
	require.Equal(t, int64(100000), denomdomain.SumLines(session.Breakdown))

	session, err = h.ctrl.Cancel(ctx, devicedomain.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCollecting, session.State)
	require.True(t, session.Payout.Degraded)
	require.Equal(t, int64(102000), session.Payout.DispensedMinor)
	require.Equal(t, []denomdomain.Line{
		{ValueMinor: 100000, Quantity: 1},
		{ValueMinor: 2000, Quantity: 1},
	}, session.Payout.Notes)
}

func TestRefundDispenseFailureNeedsIntervention(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.escrow(t, domain.PurposeExchange, denomdomain.Line{ValueMinor: 100000, Quantity: 1})
	_, err := h.ctrl.Confirm(ctx, devicedomain.SessionID)
	require.NoError(t, err)

	h.sim.Fail("dispense", &devicedomain.ResultError{Op: "dispense", Code: devicedomain.ResultInnerError})
	session, err := h.ctrl.Cancel(ctx, devicedomain.SessionID)
	require.ErrorIs(t, err, domain.ErrDispenseFailed)
	require.ErrorIs(t, err, devicedomain.ErrRejected)
	require.True(t, session.NeedsIntervention)
	require.Equal(t, domain.StateCancelling, session.State)

	_, err = h.ctrl.Cancel(ctx, devicedomain.SessionID)
	require.ErrorIs(t, err, domain.ErrNeedsIntervention)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = h.ctrl.Start(ctx, domain.StartRequest{})
	require.ErrorIs(t, err, domain.ErrSessionBusy)

	_, err = h.ctrl.ResolveIntervention(ctx, devicedomain.SessionID, "", "counted by hand")
	require.ErrorIs(t, err, domain.ErrInvalidStaff)

	session, err = h.ctrl.ResolveIntervention(ctx, devicedomain.SessionID, "supervisor-1", "counted by hand")
	require.NoError(t, err)
	require.False(t, session.NeedsIntervention)
	require.Equal(t, domain.StateClosed, session.State)
}

func TestStartPayoutDispensesPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.sim.Inventory(ctx, devicedomain.SessionID)
	require.NoError(t, err)
	plan, err := h.denom.ComputePlan(ctx, 123400, inv.Stock())
	require.NoError(t, err)

	session, err := h.ctrl.StartPayout(ctx, domain.PayoutRequest{StaffID: "staff-7", Plan: plan})
	require.NoError(t, err)
	require.Equal(t, devicedomain.ModeCashOut, session.Mode)
	require.Equal(t, domain.PurposeWithdrawal, session.Purpose)
	require.Equal(t, domain.StateCollecting, session.State)
	require.Equal(t, int64(123400), *session.FinalMinor)

	h.sim.TakeCash()
	session, err = h.ctrl.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StateClosed, session.State)
}

func TestStartPayoutRejectsShortPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan, err := h.denom.ComputePlan(ctx, 5000, denomdomain.Stock{2000: 1})
	require.NoError(t, err)

	_, err = h.ctrl.StartPayout(ctx, domain.PayoutRequest{StaffID: "staff-7", Plan: plan})
	require.ErrorIs(t, err, denomdomain.ErrInsufficientStock)
	require.Equal(t, domain.StateIdle, h.ctrl.Current().State)
	require.NotContains(t, h.sim.Calls(), "open")
}

func TestStartPayoutDispenseFailureNeedsIntervention(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan, err := h.denom.ComputePlan(ctx, 10000, denomdomain.Stock{10000: 1})
	require.NoError(t, err)

	h.sim.Fail("dispense", devicedomain.ErrUnavailable)
	session, err := h.ctrl.StartPayout(ctx, domain.PayoutRequest{StaffID: "staff-7", Plan: plan})
	require.ErrorIs(t, err, domain.ErrDispenseFailed)
	require.True(t, session.NeedsIntervention)
	require.Equal(t, domain.StateDispensing, session.State)
}

func TestBackgroundPollerAdvancesState(t *testing.T) {
	denom := denomservice.New(denomservice.Params{
		Log:    zap.NewNop(),
		Config: config.NewStaticDenominationConfigHolder(config.DefaultDenominationConfig()),
	})
	sim := simulator.New(simulator.Filled(denom.Ladder(), 10, 100))
	ctrl := service.New(service.Params{
		Log: zap.NewNop(),
		Cfg: config.Config{Device: config.DeviceConfig{
			Timeout:      time.Second,
			PollInterval: 5 * time.Millisecond,
		}},
		Device:       sim,
		Denomination: denom,
		Finalizer:    &fakeFinalizer{},
	})
	ctx := context.Background()
	_, err := ctrl.Start(ctx, domain.StartRequest{})
	require.NoError(t, err)

	sim.Insert(denomdomain.Line{ValueMinor: 2000, Quantity: 3})
	require.Eventually(t, func() bool {
		return ctrl.Current().State == domain.StateEscrow
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(6000), ctrl.Current().LiveMinor)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, ctrl.Shutdown(shutdownCtx))
}

func TestPollerFollowsInjectedClock(t *testing.T) {
	denom := denomservice.New(denomservice.Params{
		Log:    zap.NewNop(),
		Config: config.NewStaticDenominationConfigHolder(config.DefaultDenominationConfig()),
	})
	sim := simulator.New(simulator.Filled(denom.Ladder(), 10, 100))
	clk := clock.NewFakeClock(time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC))
	ctrl := service.New(service.Params{
		Log: zap.NewNop(),
		Cfg: config.Config{Device: config.DeviceConfig{
			Timeout:      time.Second,
			PollInterval: time.Second,
		}},
		Device:       sim,
		Denomination: denom,
		Finalizer:    &fakeFinalizer{},
		Clock:        clk,
	})
	ctx := context.Background()
	_, err := ctrl.Start(ctx, domain.StartRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, clk.Tickers())

	sim.Insert(denomdomain.Line{ValueMinor: 10000, Quantity: 1})
	require.Never(t, func() bool {
		return ctrl.Current().State != domain.StateOpening
	}, 50*time.Millisecond, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		clk.Advance(time.Second)
		return ctrl.Current().State == domain.StateEscrow
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(10000), ctrl.Current().LiveMinor)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, ctrl.Shutdown(shutdownCtx))
	require.Zero(t, clk.Tickers())
}
