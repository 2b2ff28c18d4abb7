package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashstation/internal/clock"
	"github.com/smallbiznis/cashstation/internal/config"
	depositdomain "github.com/smallbiznis/cashstation/internal/deposit/domain"
	"github.com/smallbiznis/cashstation/internal/shiftaudit/domain"
	"github.com/smallbiznis/cashstation/internal/shiftaudit/repository"
	"github.com/smallbiznis/cashstation/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stubDeposits counts queue flushes and can settle queued rows on flush.
type stubDeposits struct {
	depositdomain.Service
	db      *gorm.DB
	retries int
	settle  bool
	err     error
}

func (s *stubDeposits) RetryPending(ctx context.Context) (int, error) {
	s.retries++
	if s.err != nil {
		return 0, s.err
	}
	if !s.settle {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&depositdomain.Transaction{}).
		Where("pos_status = ?", string(depositdomain.PosStatusQueued)).
		Update("pos_status", string(depositdomain.PosStatusOK))
	return int(res.RowsAffected), res.Error
}

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	clock    *clock.FakeClock
	deposits *stubDeposits
	node     *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&depositdomain.Transaction{}, &domain.Audit{}))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	// 2026-03-14 09:00 in Bangkok.
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC))
	deposits := &stubDeposits{db: db}
	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Cfg:      config.Config{TerminalID: "T01"},
		GenID:    node,
		Repo:     repository.Provide(),
		Deposits: deposits,
		Clock:    clk,
	})
	return &fixture{svc: svc, db: db, clock: clk, deposits: deposits, node: node}
}

func (f *fixture) addTx(t *testing.T, depositType depositdomain.DepositType, minor int64, posRelated bool, pos depositdomain.PosStatus) {
	t.Helper()
	now := f.clock.Now()
	id := f.node.Generate()
	tx := &depositdomain.Transaction{
		ID:            id,
		TransactionID: fmt.Sprintf("TX-%d", id),
		SessionID:     "S1",
		TerminalID:    "T01",
		StaffID:       "EMP01",
		Mode:          "deposit",
		DepositType:   string(depositType),
		Amount:        decimal.New(minor, -2),
		AmountMinor:   minor,
		IsPosRelated:  posRelated,
		PosStatus:     string(pos),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.db.Create(tx).Error)
}

func int64Ptr(v int64) *int64 { return &v }

func TestCloseShiftTotalsTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.Advance(time.Minute)
	f.addTx(t, depositdomain.DepositTypeOil, 50000, true, depositdomain.PosStatusOK)
	f.addTx(t, depositdomain.DepositTypeOil, 30000, true, depositdomain.PosStatusOK)
	f.addTx(t, depositdomain.DepositTypeCoffeeShop, 12000, false, depositdomain.PosStatusNA)
	f.addTx(t, depositdomain.DepositTypeWithdrawal, 20000, false, depositdomain.PosStatusNA)
	f.clock.Advance(time.Hour)

	a, err := f.svc.CloseShift(ctx, domain.CloseRequest{
		StaffID:          " EMP01 ",
		PosShiftID:       "POS-7",
		PosReportedMinor: int64Ptr(80000),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.deposits.retries)
	assert.Equal(t, "SHIFT-26031401", a.Reference)
	assert.Equal(t, 1, a.ShiftNumber)
	assert.Equal(t, "EMP01", a.StaffID)
	assert.Equal(t, string(domain.StateDraft), a.State)
	assert.Nil(t, a.PeriodStart)
	assert.Equal(t, 4, a.TransactionCount)
	assert.Equal(t, int64(92000), a.TotalMinor)
	assert.Equal(t, "920", a.Total.String())
	assert.Equal(t, int64(20000), a.WithdrawalMinor)
	assert.Equal(t, 2, a.PosCount)
	assert.Equal(t, int64(80000), a.PosTotalMinor)
	assert.Zero(t, a.PosDiffMinor)
	require.NotNil(t, a.PosShiftID)
	assert.Equal(t, "POS-7", *a.PosShiftID)

	byType, err := a.TypeTotals()
	require.NoError(t, err)
	assert.Equal(t, int64(80000), byType["oil"])
	assert.Equal(t, int64(12000), byType["coffee_shop"])
	assert.Equal(t, int64(20000), byType["withdrawal"])

	stored, err := f.svc.Get(ctx, a.Reference)
	require.NoError(t, err)
	assert.Equal(t, a.ID, stored.ID)
}

func TestCloseShiftStartsWhereLastCloseEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.Advance(time.Minute)
	f.addTx(t, depositdomain.DepositTypeRental, 10000, false, depositdomain.PosStatusNA)
	f.clock.Advance(time.Minute)
	first, err := f.svc.CloseShift(ctx, domain.CloseRequest{StaffID: "EMP01"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	f.addTx(t, depositdomain.DepositTypeRental, 4000, false, depositdomain.PosStatusNA)
	f.clock.Advance(time.Minute)

	preview, err := f.svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, preview.ShiftNumber)
	require.NotNil(t, preview.PeriodStart)
	assert.True(t, preview.PeriodStart.Equal(first.CloseTime))
	assert.Equal(t, int64(4000), preview.Totals.TotalMinor)

	second, err := f.svc.CloseShift(ctx, domain.CloseRequest{StaffID: "EMP02"})
	require.NoError(t, err)
	assert.Equal(t, "SHIFT-26031402", second.Reference)
	assert.Equal(t, 1, second.TransactionCount)
	assert.Equal(t, int64(4000), second.TotalMinor)
}

func TestCloseShiftBlocksOnPendingPos(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.Advance(time.Minute)
	f.addTx(t, depositdomain.DepositTypeOil, 50000, true, depositdomain.PosStatusOK)
	f.addTx(t, depositdomain.DepositTypeOil, 25000, true, depositdomain.PosStatusQueued)
	f.clock.Advance(time.Minute)

	_, err := f.svc.CloseShift(ctx, domain.CloseRequest{StaffID: "EMP01"})
	require.ErrorIs(t, err, domain.ErrPendingPos)
	var pending *domain.PendingError
	require.True(t, errors.As(err, &pending))
	assert.Equal(t, 1, pending.Count)

	var count int64
	require.NoError(t, f.db.Model(&domain.Audit{}).Count(&count).Error)
	assert.Zero(t, count)

	a, err := f.svc.CloseShift(ctx, domain.CloseRequest{StaffID: "EMP01", Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, a.PendingPosCount)
	assert.Equal(t, int64(50000), a.PosTotalMinor)
	assert.Equal(t, 2, f.deposits.retries)
}

func TestCloseShiftFlushesQueueBeforeTotals(t *testing.T) {
	f := newFixture(t)
	f.deposits.settle = true
	ctx := context.Background()

	f.clock.Advance(time.Minute)
	f.addTx(t, depositdomain.DepositTypeOil, 25000, true, depositdomain.PosStatusQueued)
	f.clock.Advance(time.Minute)

	a, err := f.svc.CloseShift(ctx, domain.CloseRequest{StaffID: "EMP01"})
	require.NoError(t, err)
	assert.Zero(t, a.PendingPosCount)
	assert.Equal(t, 1, a.PosCount)
	assert.Equal(t, int64(25000), a.PosTotalMinor)
}

func TestCloseShiftRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CloseShift(ctx, domain.CloseRequest{StaffID: "  "})
	require.ErrorIs(t, err, domain.ErrInvalidStaff)

	_, err = f.svc.CloseShift(ctx, domain.CloseRequest{StaffID: "EMP01", PosReportedMinor: int64Ptr(-1)})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.EndOfDay(ctx, domain.EndOfDayRequest{
		CloseRequest:   domain.CloseRequest{StaffID: "EMP01"},
		CollectedMinor: int64Ptr(-100),
	})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Zero(t, f.deposits.retries)
}

func TestEndOfDayRollsUpShifts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.Advance(time.Minute)
	f.addTx(t, depositdomain.DepositTypeOil, 100000, true, depositdomain.PosStatusOK)
	f.clock.Advance(time.Minute)
	first, err := f.svc.CloseShift(ctx, domain.CloseRequest{StaffID: "EMP01"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	f.addTx(t, depositdomain.DepositTypeExchangeCash, 10000, false, depositdomain.PosStatusNA)
	f.addTx(t, depositdomain.DepositTypeWithdrawal, 30000, false, depositdomain.PosStatusNA)
	f.clock.Advance(time.Minute)
	second, err := f.svc.CloseShift(ctx, domain.CloseRequest{StaffID: "EMP02"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	f.addTx(t, depositdomain.DepositTypeEngineOil, 20000, true, depositdomain.PosStatusOK)
	f.clock.Advance(time.Minute)

	eod, err := f.svc.EndOfDay(ctx, domain.EndOfDayRequest{
		CloseRequest:     domain.CloseRequest{StaffID: "EMP03"},
		CollectedMinor:   int64Ptr(80000),
		ReserveKeptMinor: int64Ptr(10000),
	})
	require.NoError(t, err)

	assert.Equal(t, "EOD-26031403", eod.Reference)
	assert.Equal(t, 3, eod.ShiftNumber)
	assert.Equal(t, 3, eod.ShiftCount)
	assert.Equal(t, int64(20000), eod.TotalMinor)
	assert.Equal(t, int64(130000), eod.EODTotalMinor)
	assert.Equal(t, int64(120000), eod.EODPosTotalMinor)
	// 130000 deposits - 10000 exchanged - 30000 withdrawn
	assert.Equal(t, int64(90000), eod.ExpectedMinor)
	assert.Zero(t, eod.CollectionDiff)
	require.Len(t, eod.Shifts, 2)
	assert.Equal(t, first.ID, eod.Shifts[0].ID)
	assert.Equal(t, second.ID, eod.Shifts[1].ID)

	day, err := eod.EODTypeTotals()
	require.NoError(t, err)
	assert.Equal(t, int64(100000), day["oil"])
	assert.Equal(t, int64(20000), day["engine_oil"])
	assert.Equal(t, int64(10000), day["exchange_cash"])

	loaded, err := f.svc.Get(ctx, eod.ID.String())
	require.NoError(t, err)
	require.Len(t, loaded.Shifts, 2)
	assert.Equal(t, first.ID, loaded.Shifts[0].ID)
	require.NotNil(t, loaded.Shifts[1].ParentEODID)
	assert.Equal(t, eod.ID, *loaded.Shifts[1].ParentEODID)

	f.clock.Advance(time.Minute)
	f.addTx(t, depositdomain.DepositTypeOil, 5000, true, depositdomain.PosStatusOK)
	f.clock.Advance(time.Minute)
	next, err := f.svc.CloseShift(ctx, domain.CloseRequest{StaffID: "EMP01"})
	require.NoError(t, err)
	assert.Equal(t, 1, next.ShiftNumber)
	assert.Equal(t, "SHIFT-26031401-2", next.Reference)
	assert.Equal(t, int64(5000), next.TotalMinor)
	require.NotNil(t, next.PreviousEODID)
	assert.Equal(t, eod.ID, *next.PreviousEODID)
}

func TestReconcileFlowsThroughStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.Advance(time.Minute)
	f.addTx(t, depositdomain.DepositTypeOil, 50000, true, depositdomain.PosStatusOK)
	f.clock.Advance(time.Minute)
	balanced, err := f.svc.CloseShift(ctx, domain.CloseRequest{StaffID: "EMP01", PosReportedMinor: int64Ptr(50000)})
	require.NoError(t, err)

	_, err = f.svc.Reconcile(ctx, domain.ReviewRequest{ID: balanced.Reference, StaffID: "SUP01"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	confirmed, err := f.svc.Confirm(ctx, domain.ReviewRequest{ID: balanced.Reference, StaffID: "EMP01"})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StateConfirmed), confirmed.State)

	_, err = f.svc.Confirm(ctx, domain.ReviewRequest{ID: balanced.Reference, StaffID: "EMP01"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	reconciled, err := f.svc.Reconcile(ctx, domain.ReviewRequest{ID: balanced.Reference, StaffID: "SUP01", Notes: "ok"})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StateReconciled), reconciled.State)
	assert.Equal(t, "ok", reconciled.ReconciliationNotes)

	f.clock.Advance(time.Minute)
	f.addTx(t, depositdomain.DepositTypeOil, 30000, true, depositdomain.PosStatusOK)
	f.clock.Advance(time.Minute)
	short, err := f.svc.CloseShift(ctx, domain.CloseRequest{StaffID: "EMP01", PosReportedMinor: int64Ptr(35000)})
	require.NoError(t, err)
	assert.Equal(t, int64(-5000), short.PosDiffMinor)

	_, err = f.svc.Confirm(ctx, domain.ReviewRequest{ID: short.ID.String(), StaffID: "EMP01"})
	require.NoError(t, err)
	flagged, err := f.svc.Reconcile(ctx, domain.ReviewRequest{ID: short.ID.String(), StaffID: "SUP01"})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StateDiscrepancy), flagged.State)

	stored, err := f.svc.Get(ctx, short.Reference)
	require.NoError(t, err)
	assert.Equal(t, string(domain.StateDiscrepancy), stored.State)

	_, err = f.svc.Confirm(ctx, domain.ReviewRequest{ID: "SHIFT-00000000", StaffID: "EMP01"})
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Confirm(ctx, domain.ReviewRequest{ID: short.Reference})
	require.ErrorIs(t, err, domain.ErrInvalidStaff)
}

func TestListPaginatesByCloseTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var refs []string
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		a, err := f.svc.CloseShift(ctx, domain.CloseRequest{StaffID: "EMP01"})
		require.NoError(t, err)
		refs = append(refs, a.Reference)
	}

	page, err := f.svc.List(ctx, domain.ListRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, page.Audits, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, refs[2], page.Audits[0].Reference)
	assert.Equal(t, refs[1], page.Audits[1].Reference)

	rest, err := f.svc.List(ctx, domain.ListRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, rest.Audits, 1)
	assert.Equal(t, refs[0], rest.Audits[0].Reference)
	assert.False(t, rest.HasMore)

	eods, err := f.svc.List(ctx, domain.ListRequest{AuditType: "end_of_day"})
	require.NoError(t, err)
	assert.Empty(t, eods.Audits)

	_, err = f.svc.List(ctx, domain.ListRequest{AuditType: "weekly"})
	require.ErrorIs(t, err, domain.ErrInvalidAuditType)
	_, err = f.svc.List(ctx, domain.ListRequest{State: "lost"})
	require.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = f.svc.List(ctx, domain.ListRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	require.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestSummarizeSeparatesWithdrawals(t *testing.T) {
	totals := Summarize([]domain.Aggregate{
		{DepositType: "oil", IsPosRelated: true, PosStatus: "ok", Count: 2, SumMinor: 70000},
		{DepositType: "oil", IsPosRelated: true, PosStatus: "failed", Count: 1, SumMinor: 5000},
		{DepositType: "deposit_cash", PosStatus: "na", Count: 1, SumMinor: 1000},
		{DepositType: "withdrawal", PosStatus: "na", Count: 1, SumMinor: 9000},
	})
	assert.Equal(t, 5, totals.TransactionCount)
	assert.Equal(t, int64(76000), totals.TotalMinor)
	assert.Equal(t, int64(9000), totals.WithdrawalMinor)
	assert.Equal(t, 2, totals.PosCount)
	assert.Equal(t, int64(70000), totals.PosTotalMinor)
	assert.Equal(t, 1, totals.PendingPosCount)
	assert.Equal(t, int64(75000), totals.ByType["oil"])
}
