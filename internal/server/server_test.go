package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/cashstation/internal/audit/domain"
	"github.com/smallbiznis/cashstation/internal/authorization"
	cashdomain "github.com/smallbiznis/cashstation/internal/cashsession/domain"
	"github.com/smallbiznis/cashstation/internal/config"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	depositdomain "github.com/smallbiznis/cashstation/internal/deposit/domain"
	inventorydomain "github.com/smallbiznis/cashstation/internal/inventory/domain"
	obscontext "github.com/smallbiznis/cashstation/internal/observability/context"
	posdomain "github.com/smallbiznis/cashstation/internal/posdispatch/domain"
	"github.com/smallbiznis/cashstation/internal/receipt"
	shiftdomain "github.com/smallbiznis/cashstation/internal/shiftaudit/domain"
	withdrawaldomain "github.com/smallbiznis/cashstation/internal/withdrawal/domain"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	cashdomain.Controller
	current    cashdomain.Session
	startReq   cashdomain.StartRequest
	payoutReq  cashdomain.PayoutRequest
	confirmErr error
	payoutErr  error
}

func (f *fakeSessions) Start(ctx context.Context, req cashdomain.StartRequest) (cashdomain.Session, error) {
	f.startReq = req
	f.current = cashdomain.Session{ID: "1", Purpose: req.Purpose, State: cashdomain.StateReady, StaffID: req.StaffID}
	return f.current, nil
}

func (f *fakeSessions) Current() cashdomain.Session {
	return f.current
}

func (f *fakeSessions) Confirm(ctx context.Context, id string) (cashdomain.Session, error) {
	return f.current, f.confirmErr
}

func (f *fakeSessions) Payout(ctx context.Context, id string, req cashdomain.PayoutRequest) (cashdomain.Session, error) {
	f.payoutReq = req
	return f.current, f.payoutErr
}

type fakeDenominations struct {
	denomdomain.Service
	gotAmount int64
	gotStock  denomdomain.Stock
}

func (f *fakeDenominations) ComputePlan(ctx context.Context, amountMinor int64, stock denomdomain.Stock) (denomdomain.Plan, error) {
	f.gotAmount = amountMinor
	f.gotStock = stock
	return denomdomain.Plan{
		RequestedMinor: amountMinor,
		Notes:          []denomdomain.Line{{ValueMinor: amountMinor, Quantity: 1}},
		DispensedMinor: amountMinor,
	}, nil
}

func (f *fakeDenominations) Ladder() denomdomain.Ladder {
	return denomdomain.NewLadder([]int64{1000, 500}, []int64{10, 5}, 100)
}

type fakeInventory struct {
	inventorydomain.Service
	snapshot inventorydomain.Snapshot
}

func (f *fakeInventory) Snapshot(ctx context.Context) (inventorydomain.Snapshot, error) {
	return f.snapshot, nil
}

type fakeDeposits struct {
	depositdomain.Service
	retried []string
}

func (f *fakeDeposits) RetryPos(ctx context.Context, id string) (*depositdomain.Transaction, error) {
	f.retried = append(f.retried, id)
	return &depositdomain.Transaction{TransactionID: id, PosStatus: string(depositdomain.PosStatusOK)}, nil
}

type fakeDispatcher struct {
	posdomain.Dispatcher
	enabled bool
}

func (f *fakeDispatcher) Enabled() bool { return f.enabled }

func (f *fakeDispatcher) Vendor() string { return "ptt" }

func (f *fakeDispatcher) Heartbeat(ctx context.Context) (*posdomain.Response, error) {
	return &posdomain.Response{Status: "ok"}, nil
}

type fakeWithdrawals struct {
	withdrawaldomain.Service
	createErr error
}

func (f *fakeWithdrawals) Create(ctx context.Context, req withdrawaldomain.CreateRequest) (*withdrawaldomain.Withdrawal, error) {
	w := &withdrawaldomain.Withdrawal{Reference: "WD-1", Type: req.Type, StaffID: req.StaffID, GloryStatus: string(withdrawaldomain.GloryStatusPending)}
	if f.createErr != nil {
		w.GloryStatus = string(withdrawaldomain.GloryStatusFailed)
		return w, f.createErr
	}
	return w, nil
}

type fakeShifts struct {
	shiftdomain.Service
	closeReq shiftdomain.CloseRequest
	eodReq   shiftdomain.EndOfDayRequest
	review   shiftdomain.ReviewRequest
	closeErr error
}

func (f *fakeShifts) CloseShift(ctx context.Context, req shiftdomain.CloseRequest) (*shiftdomain.Audit, error) {
	f.closeReq = req
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	return &shiftdomain.Audit{Reference: "SHIFT-26031401", StaffID: req.StaffID, State: string(shiftdomain.StateDraft)}, nil
}

func (f *fakeShifts) EndOfDay(ctx context.Context, req shiftdomain.EndOfDayRequest) (*shiftdomain.Audit, error) {
	f.eodReq = req
	return &shiftdomain.Audit{Reference: "EOD-26031402", StaffID: req.StaffID}, nil
}

func (f *fakeShifts) Reconcile(ctx context.Context, req shiftdomain.ReviewRequest) (*shiftdomain.Audit, error) {
	f.review = req
	return nil, shiftdomain.ErrInvalidTransition
}

func (f *fakeShifts) Get(ctx context.Context, id string) (*shiftdomain.Audit, error) {
	return nil, shiftdomain.ErrNotFound
}

type fakeReceipts struct{}

func (fakeReceipts) ForTransaction(ctx context.Context, id string) (*receipt.Receipt, error) {
	if id != "DEP-1" {
		return nil, depositdomain.ErrNotFound
	}
	return &receipt.Receipt{Filename: "receipt-DEP-1.pdf", Body: []byte("%PDF-1.4")}, nil
}

type fakeAuthz struct {
	allowed map[string]bool
	gotCtx  context.Context
}

func (f *fakeAuthz) Authorize(ctx context.Context, staffID, object, action string) error {
	f.gotCtx = ctx
	if f.allowed[staffID+":"+action] {
		return nil
	}
	return authorization.ErrForbidden
}

func (f *fakeAuthz) AssignRole(ctx context.Context, staffID, role string) error { return nil }

func (f *fakeAuthz) RoleOf(ctx context.Context, staffID string) (string, error) {
	return authorization.RoleCashier, nil
}

type fakeAudit struct {
	auditdomain.Service
	actions []string
}

func (f *fakeAudit) Record(ctx context.Context, action, targetType, targetID string, metadata map[string]any) error {
	f.actions = append(f.actions, action)
	return nil
}

type testServer struct {
	engine      *gin.Engine
	sessions    *fakeSessions
	denom       *fakeDenominations
	inventory   *fakeInventory
	dispatcher  *fakeDispatcher
	withdrawals *fakeWithdrawals
	deposits    *fakeDeposits
	shifts      *fakeShifts
	authz       *fakeAuthz
	audit       *fakeAudit
}

func newTestServer(t *testing.T, authzEnabled bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	ts := &testServer{
		engine:      engine,
		sessions:    &fakeSessions{},
		denom:       &fakeDenominations{},
		inventory:   &fakeInventory{},
		dispatcher:  &fakeDispatcher{},
		withdrawals: &fakeWithdrawals{},
		deposits:    &fakeDeposits{},
		shifts:      &fakeShifts{},
		authz:       &fakeAuthz{allowed: map[string]bool{}},
		audit:       &fakeAudit{},
	}

	cfg := config.Config{}
	cfg.Authz.Enabled = authzEnabled

	NewServer(ServerParams{
		Gin:           engine,
		Cfg:           cfg,
		AuthzSvc:      ts.authz,
		AuditSvc:      ts.audit,
		Sessions:      ts.sessions,
		DenomSvc:      ts.denom,
		InventorySvc:  ts.inventory,
		DepositSvc:    ts.deposits,
		Dispatcher:    ts.dispatcher,
		WithdrawalSvc: ts.withdrawals,
		ShiftSvc:      ts.shifts,
		ReceiptSvc:    fakeReceipts{},
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, staffID string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if staffID != "" {
		req.Header.Set(staffHeader, staffID)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestStartSessionUsesHeaderStaff(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/sessions", map[string]string{"purpose": "exchange"}, "S-7")

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, cashdomain.PurposeExchange, ts.sessions.startReq.Purpose)
	require.Equal(t, "S-7", ts.sessions.startReq.StaffID)
}

func TestStartSessionDefaultsToDeposit(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/sessions", map[string]string{"staff_id": "S-1"}, "")

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, cashdomain.PurposeDeposit, ts.sessions.startReq.Purpose)
	require.Equal(t, "S-1", ts.sessions.startReq.StaffID)
}

func TestConfirmSessionBusyIsConflict(t *testing.T) {
	ts := newTestServer(t, false)
	ts.sessions.confirmErr = cashdomain.ErrSessionBusy

	rec := ts.do(t, http.MethodPost, "/api/sessions/1/confirm", nil, "")

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "session_busy", decodeError(t, rec).Type)
}

func TestPayoutFailureNeedsIntervention(t *testing.T) {
	ts := newTestServer(t, false)
	ts.sessions.payoutErr = errors.Join(cashdomain.ErrDispenseFailed, errors.New("jam"))

	rec := ts.do(t, http.MethodPost, "/api/sessions/1/payout", payoutSessionRequest{
		StaffID: "S-1",
		Notes:   []denomdomain.Line{{ValueMinor: 1000, Quantity: 1}},
	}, "")

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "needs_staff_intervention", decodeError(t, rec).Type)
	require.Equal(t, int64(1000), ts.sessions.payoutReq.Plan.DispensedMinor)
}

func TestPayoutRecordFailureReturnsSession(t *testing.T) {
	ts := newTestServer(t, false)
	ts.sessions.current = cashdomain.Session{ID: "1", State: cashdomain.StateCollecting, LastError: "disk full"}
	ts.sessions.payoutErr = fmt.Errorf("%w: %w", cashdomain.ErrRecordFailed, errors.New("disk full"))

	rec := ts.do(t, http.MethodPost, "/api/sessions/1/payout", payoutSessionRequest{
		StaffID: "S-1",
		Notes:   []denomdomain.Line{{ValueMinor: 1000, Quantity: 1}},
	}, "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp struct {
		Error errorPayload       `json:"error"`
		Data  cashdomain.Session `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "record_failed", resp.Error.Type)
	require.Equal(t, cashdomain.StateCollecting, resp.Data.State)
	require.Equal(t, "disk full", resp.Data.LastError)
}

func TestPayoutWithoutLinesComputesPlanFromInventory(t *testing.T) {
	ts := newTestServer(t, false)
	final := int64(1500)
	ts.sessions.current = cashdomain.Session{ID: "1", State: cashdomain.StateSettling, FinalMinor: &final}
	ts.inventory.snapshot = inventorydomain.Snapshot{
		Notes: []inventorydomain.Unit{
			{ValueMinor: 1000, Quantity: 3, Available: true},
			{ValueMinor: 500, Quantity: 2, Available: false},
		},
	}

	rec := ts.do(t, http.MethodPost, "/api/sessions/1/payout", map[string]string{"staff_id": "S-1"}, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1500), ts.denom.gotAmount)
	require.Equal(t, denomdomain.Stock{1000: 3}, ts.denom.gotStock)
	require.Equal(t, cashdomain.PurposeExchange, ts.sessions.payoutReq.Purpose)
}

func TestFinalizeRejectsUnknownDepositType(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/sessions/1/finalize", map[string]string{
		"transaction_id": "DEP-1",
		"deposit_type":   "lottery",
	}, "S-1")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Equal(t, "validation_error", payload.Type)
	require.Equal(t, "invalid_deposit_type", payload.Errors[0].Code)
}

func TestComputePlanWithExplicitStock(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/denominations/plan", map[string]any{
		"amount": "15.50",
		"stock":  map[string]int64{"1000": 1, "50": 20},
	}, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1550), ts.denom.gotAmount)
	require.Equal(t, denomdomain.Stock{1000: 1, 50: 20}, ts.denom.gotStock)
}

func TestComputePlanRejectsBadStock(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/denominations/plan", map[string]any{
		"amount_minor": 100,
		"stock":        map[string]int64{"abc": 1},
	}, "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_stock", decodeError(t, rec).Errors[0].Code)
}

func TestListDenominations(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/denominations", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []denominationResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 4)
	require.Equal(t, int64(100000), resp.Data[0].ValueMinor)
	require.Equal(t, "1000.00", resp.Data[0].Value)
}

func TestCreateWithdrawalFailureKeepsRecord(t *testing.T) {
	ts := newTestServer(t, false)
	ts.withdrawals.createErr = cashdomain.ErrDispenseFailed

	rec := ts.do(t, http.MethodPost, "/api/withdrawals", map[string]string{"amount": "100", "type": "change"}, "S-2")

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp struct {
		Error errorPayload                `json:"error"`
		Data  withdrawaldomain.Withdrawal `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "needs_staff_intervention", resp.Error.Type)
	require.Equal(t, "WD-1", resp.Data.Reference)
	require.Equal(t, "S-2", resp.Data.StaffID)
}

func TestTransactionReceipt(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/transactions/DEP-1/receipt", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, receipt.ContentType, rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "receipt-DEP-1.pdf")

	rec = ts.do(t, http.MethodGet, "/api/transactions/DEP-2/receipt", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryTransactionPosWithoutLimiter(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/transactions/DEP-9/pos-retry", nil, "S-1")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"DEP-9"}, ts.deposits.retried)
}

func TestPosHeartbeatDisabled(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/pos/heartbeat", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"data":{"enabled":false}}`, rec.Body.String())
}

func TestPosHeartbeatEnabled(t *testing.T) {
	ts := newTestServer(t, false)
	ts.dispatcher.enabled = true

	rec := ts.do(t, http.MethodGet, "/api/pos/heartbeat", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"reachable":true`)
}

func TestAuthorizationEnforcedWhenEnabled(t *testing.T) {
	ts := newTestServer(t, true)
	ts.authz.allowed["S-1:"+authorization.ActionInventoryView] = true

	rec := ts.do(t, http.MethodGet, "/api/denominations", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/denominations", nil, "S-2")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "forbidden", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodGet, "/api/denominations", nil, "S-1")
	require.Equal(t, http.StatusOK, rec.Code)

	actorType, actorID := obscontext.ActorFromContext(ts.authz.gotCtx)
	require.Equal(t, actorTypeStaff, actorType)
	require.Equal(t, "S-1", actorID)
}

func TestAuthorizationSkippedWhenDisabled(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/denominations", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, ts.authz.gotCtx)
}

func TestAssignStaffRoleRecordsAudit(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPut, "/api/staff/S-9/role", map[string]string{"role": "Supervisor"}, "M-1")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"role":"supervisor"`)
	require.Equal(t, []string{auditdomain.ActionStaffRoleAssigned}, ts.audit.actions)
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/nope", nil, "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decodeError(t, rec).Type)
}

func TestParseTimeRangeRejectsInvertedRange(t *testing.T) {
	_, _, err := parseTimeRange("2026-10-02", "", "2026-10-01", "", nil)
	require.Error(t, err)

	start, end, err := parseTimeRange("", "2026-10-01", "", "2026-10-01", nil)
	require.NoError(t, err)
	require.True(t, end.After(*start))
}

func TestCloseShiftParsesMajorAmounts(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/shifts/close", map[string]any{
		"pos_reported": "1250.50",
		"pos_shift_id": "POS-3",
	}, "S-4")

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "S-4", ts.shifts.closeReq.StaffID)
	require.NotNil(t, ts.shifts.closeReq.PosReportedMinor)
	require.Equal(t, int64(125050), *ts.shifts.closeReq.PosReportedMinor)
	require.Equal(t, "POS-3", ts.shifts.closeReq.PosShiftID)

	rec = ts.do(t, http.MethodPost, "/api/shifts/close", map[string]any{"pos_reported": "abc"}, "S-4")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_amount", decodeError(t, rec).Errors[0].Code)
}

func TestCloseShiftPendingPosIsConflict(t *testing.T) {
	ts := newTestServer(t, false)
	ts.shifts.closeErr = &shiftdomain.PendingError{Count: 3}

	rec := ts.do(t, http.MethodPost, "/api/shifts/close", map[string]any{}, "S-4")

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp struct {
		Error   errorPayload `json:"error"`
		Pending int          `json:"pending_pos_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "pending_pos_transactions", resp.Error.Type)
	require.Equal(t, 3, resp.Pending)
}

func TestEndOfDayCarriesCollection(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/shifts/end-of-day", map[string]any{
		"collected":    "8000",
		"reserve_kept": "2000",
		"force":        true,
	}, "S-9")

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "S-9", ts.shifts.eodReq.StaffID)
	require.True(t, ts.shifts.eodReq.Force)
	require.Equal(t, int64(800000), *ts.shifts.eodReq.CollectedMinor)
	require.Equal(t, int64(200000), *ts.shifts.eodReq.ReserveKeptMinor)
}

func TestShiftReviewErrors(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/shifts/SHIFT-26031401/reconcile", map[string]string{"notes": "short 50"}, "S-9")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "SHIFT-26031401", ts.shifts.review.ID)
	require.Equal(t, "S-9", ts.shifts.review.StaffID)
	require.Equal(t, "short 50", ts.shifts.review.Notes)

	rec = ts.do(t, http.MethodGet, "/api/shifts/SHIFT-1", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndOfDayRequiresSupervisor(t *testing.T) {
	ts := newTestServer(t, true)
	ts.authz.allowed["C-1:"+authorization.ActionShiftClose] = true

	rec := ts.do(t, http.MethodPost, "/api/shifts/end-of-day", map[string]any{}, "C-1")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/shifts/close", map[string]any{}, "C-1")
	require.Equal(t, http.StatusCreated, rec.Code)
}
