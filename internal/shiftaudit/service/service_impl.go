package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/cashstation/internal/audit/domain"
	"github.com/smallbiznis/cashstation/internal/clock"
	"github.com/smallbiznis/cashstation/internal/config"
	depositdomain "github.com/smallbiznis/cashstation/internal/deposit/domain"
	"github.com/smallbiznis/cashstation/internal/money"
	"github.com/smallbiznis/cashstation/internal/shiftaudit/domain"
	"github.com/smallbiznis/cashstation/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	GenID    *snowflake.Node
	Repo     domain.Repository
	Deposits depositdomain.Service
	Clock    clock.Clock         `optional:"true"`
	Audit    auditdomain.Service `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	deposits   depositdomain.Service
	clock      clock.Clock
	audit      auditdomain.Service
	terminalID string
	loc        *time.Location
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	loc, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		loc = time.UTC
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("shiftaudit.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		deposits:   p.Deposits,
		clock:      clk,
		audit:      p.Audit,
		terminalID: p.Cfg.TerminalID,
		loc:        loc,
	}
}

func (s *Service) Current(ctx context.Context) (domain.Preview, error) {
	now := s.clock.Now().UTC()
	start, err := s.periodStart(ctx)
	if err != nil {
		return domain.Preview{}, err
	}
	number, _, err := s.nextShiftNumber(ctx)
	if err != nil {
		return domain.Preview{}, err
	}
	totals, err := s.totals(ctx, start, now)
	if err != nil {
		return domain.Preview{}, err
	}
	return domain.Preview{
		TerminalID:  s.terminalID,
		ShiftNumber: number,
		PeriodStart: start,
		AsOf:        now,
		Totals:      totals,
	}, nil
}

func (s *Service) CloseShift(ctx context.Context, req domain.CloseRequest) (*domain.Audit, error) {
	a, err := s.closePeriod(ctx, req, domain.AuditTypeCloseShift)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, s.db, a); err != nil {
		return nil, err
	}
	s.record(ctx, auditdomain.ActionShiftClosed, a, map[string]any{
		"shift_number":      a.ShiftNumber,
		"total":             money.FormatMajor(a.TotalMinor),
		"pos_total":         money.FormatMajor(a.PosTotalMinor),
		"pending_pos_count": a.PendingPosCount,
	})
	s.log.Info("shift closed",
		zap.String("reference", a.Reference),
		zap.Int("shift_number", a.ShiftNumber),
		zap.Int("transactions", a.TransactionCount),
		zap.String("total", money.FormatMajor(a.TotalMinor)),
	)
	return a, nil
}

func (s *Service) EndOfDay(ctx context.Context, req domain.EndOfDayRequest) (*domain.Audit, error) {
	if negative(req.CollectedMinor) || negative(req.ReserveKeptMinor) {
		return nil, domain.ErrInvalidAmount
	}
	a, err := s.closePeriod(ctx, req.CloseRequest, domain.AuditTypeEndOfDay)
	if err != nil {
		return nil, err
	}

	var since *time.Time
	if a.PreviousEODID != nil {
		prev, err := s.repo.FindByID(ctx, s.db, *a.PreviousEODID)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			since = &prev.CloseTime
		}
	}
	shifts, err := s.repo.UnlinkedShifts(ctx, s.db, s.terminalID, since)
	if err != nil {
		return nil, err
	}

	day, err := a.TypeTotals()
	if err != nil {
		return nil, err
	}
	dayTotal := a.TotalMinor
	dayPos := a.PosTotalMinor
	dayWithdrawn := a.WithdrawalMinor
	ids := make([]snowflake.ID, 0, len(shifts))
	for _, shift := range shifts {
		byType, err := shift.TypeTotals()
		if err != nil {
			return nil, fmt.Errorf("decode shift %s totals: %w", shift.Reference, err)
		}
		for k, v := range byType {
			day[k] += v
		}
		dayTotal += shift.TotalMinor
		dayPos += shift.PosTotalMinor
		dayWithdrawn += shift.WithdrawalMinor
		ids = append(ids, shift.ID)
	}

	raw, err := json.Marshal(day)
	if err != nil {
		return nil, err
	}
	a.EODByType = datatypes.JSON(raw)
	a.EODTotalMinor = dayTotal
	a.EODPosTotalMinor = dayPos
	a.ShiftCount = len(shifts) + 1
	a.ExpectedMinor = dayTotal - day[string(depositdomain.DepositTypeExchangeCash)] - dayWithdrawn
	a.CollectedMinor = req.CollectedMinor
	a.ReserveKeptMinor = req.ReserveKeptMinor
	if req.CollectedMinor != nil {
		held := *req.CollectedMinor
		if req.ReserveKeptMinor != nil {
			held += *req.ReserveKeptMinor
		}
		a.CollectionDiff = held - a.ExpectedMinor
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, a); err != nil {
			return err
		}
		return s.repo.LinkShifts(ctx, tx, a.ID, ids)
	})
	if err != nil {
		return nil, err
	}
	a.Shifts = make([]domain.Audit, 0, len(shifts))
	for _, shift := range shifts {
		shift.ParentEODID = &a.ID
		a.Shifts = append(a.Shifts, *shift)
	}

	s.record(ctx, auditdomain.ActionEndOfDay, a, map[string]any{
		"shift_count":           a.ShiftCount,
		"eod_total":             money.FormatMajor(a.EODTotalMinor),
		"expected":              money.FormatMajor(a.ExpectedMinor),
		"collection_difference": money.FormatMajor(a.CollectionDiff),
	})
	s.log.Info("end of day closed",
		zap.String("reference", a.Reference),
		zap.Int("shift_count", a.ShiftCount),
		zap.String("eod_total", money.FormatMajor(a.EODTotalMinor)),
		zap.String("collection_difference", money.FormatMajor(a.CollectionDiff)),
	)
	return a, nil
}

// closePeriod flushes the POS queue and builds, without storing, the audit
// for the period that ends now.
func (s *Service) closePeriod(ctx context.Context, req domain.CloseRequest, auditType domain.AuditType) (*domain.Audit, error) {
	staffID := strings.TrimSpace(req.StaffID)
	if staffID == "" {
		return nil, domain.ErrInvalidStaff
	}
	if negative(req.PosReportedMinor) {
		return nil, domain.ErrInvalidAmount
	}

	if n, err := s.deposits.RetryPending(ctx); err != nil {
		s.log.Warn("pos retry before close failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("pos retry before close", zap.Int("processed", n))
	}

	now := s.clock.Now().UTC()
	start, err := s.periodStart(ctx)
	if err != nil {
		return nil, err
	}
	totals, err := s.totals(ctx, start, now)
	if err != nil {
		return nil, err
	}
	if totals.PendingPosCount > 0 && !req.Force {
		return nil, &domain.PendingError{Count: totals.PendingPosCount}
	}

	number, prevEOD, err := s.nextShiftNumber(ctx)
	if err != nil {
		return nil, err
	}
	reference, err := s.reference(ctx, auditType, number, now)
	if err != nil {
		return nil, err
	}
	byType, err := json.Marshal(totals.ByType)
	if err != nil {
		return nil, err
	}

	a := &domain.Audit{
		ID:               s.genID.Generate(),
		Reference:        reference,
		TerminalID:       s.terminalID,
		AuditType:        string(auditType),
		State:            string(domain.StateDraft),
		ShiftNumber:      number,
		StaffID:          staffID,
		PosShiftID:       optionalString(req.PosShiftID),
		PeriodStart:      start,
		CloseTime:        now,
		TransactionCount: totals.TransactionCount,
		Total:            money.FromMinor(totals.TotalMinor),
		TotalMinor:       totals.TotalMinor,
		WithdrawalMinor:  totals.WithdrawalMinor,
		ByType:           datatypes.JSON(byType),
		PosCount:         totals.PosCount,
		PosTotalMinor:    totals.PosTotalMinor,
		PendingPosCount:  totals.PendingPosCount,
		PosReportedMinor: req.PosReportedMinor,
		Notes:            strings.TrimSpace(req.Notes),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if prevEOD != nil {
		a.PreviousEODID = &prevEOD.ID
	}
	if req.PosReportedMinor != nil {
		a.PosDiffMinor = totals.PosTotalMinor - *req.PosReportedMinor
	}
	if totals.PendingPosCount > 0 {
		s.log.Warn("closing with pending pos transactions",
			zap.String("reference", reference),
			zap.Int("pending", totals.PendingPosCount),
		)
	}
	return a, nil
}

// periodStart is the close time of the latest audit of any type, nil before
// the first close on this terminal.
func (s *Service) periodStart(ctx context.Context) (*time.Time, error) {
	last, err := s.repo.Latest(ctx, s.db, s.terminalID, "")
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, nil
	}
	start := last.CloseTime
	return &start, nil
}

// nextShiftNumber counts the shifts closed since the previous end of day.
func (s *Service) nextShiftNumber(ctx context.Context) (int, *domain.Audit, error) {
	prevEOD, err := s.repo.Latest(ctx, s.db, s.terminalID, domain.AuditTypeEndOfDay)
	if err != nil {
		return 0, nil, err
	}
	var since *time.Time
	if prevEOD != nil {
		since = &prevEOD.CloseTime
	}
	shifts, err := s.repo.UnlinkedShifts(ctx, s.db, s.terminalID, since)
	if err != nil {
		return 0, nil, err
	}
	return len(shifts) + 1, prevEOD, nil
}

func (s *Service) totals(ctx context.Context, start *time.Time, end time.Time) (domain.Totals, error) {
	rows, err := s.repo.AggregateTransactions(ctx, s.db, s.terminalID, start, end)
	if err != nil {
		return domain.Totals{}, err
	}
	return Summarize(rows), nil
}

// Summarize folds transaction groups into period totals. Withdrawals are
// cash out and are kept apart from the deposit total.
func Summarize(rows []domain.Aggregate) domain.Totals {
	totals := domain.Totals{ByType: map[string]int64{}}
	for _, row := range rows {
		totals.TransactionCount += row.Count
		totals.ByType[row.DepositType] += row.SumMinor
		if row.DepositType == string(depositdomain.DepositTypeWithdrawal) {
			totals.WithdrawalMinor += row.SumMinor
			continue
		}
		totals.TotalMinor += row.SumMinor
		if !row.IsPosRelated {
			continue
		}
		switch depositdomain.PosStatus(row.PosStatus) {
		case depositdomain.PosStatusOK:
			totals.PosCount += row.Count
			totals.PosTotalMinor += row.SumMinor
		case depositdomain.PosStatusQueued, depositdomain.PosStatusFailed:
			totals.PendingPosCount += row.Count
		}
	}
	return totals
}

// reference builds SHIFT-YYMMDDNN or EOD-YYMMDDNN in station time. A second
// close with the same number on the same day gets a numeric suffix.
func (s *Service) reference(ctx context.Context, auditType domain.AuditType, number int, at time.Time) (string, error) {
	prefix := "SHIFT"
	if auditType == domain.AuditTypeEndOfDay {
		prefix = "EOD"
	}
	base := fmt.Sprintf("%s-%s%02d", prefix, at.In(s.loc).Format("060102"), number)
	candidate := base
	for i := 2; ; i++ {
		existing, err := s.repo.FindByReference(ctx, s.db, candidate)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Audit, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrInvalidID
	}
	var (
		a   *domain.Audit
		err error
	)
	if parsed, parseErr := snowflake.ParseString(id); parseErr == nil && parsed != 0 {
		a, err = s.repo.FindByID(ctx, s.db, parsed)
	} else {
		a, err = s.repo.FindByReference(ctx, s.db, id)
	}
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, domain.ErrNotFound
	}
	if a.AuditType == string(domain.AuditTypeEndOfDay) {
		shifts, err := s.repo.List(ctx, s.db, domain.ListFilter{ParentEODID: &a.ID})
		if err != nil {
			return nil, err
		}
		a.Shifts = make([]domain.Audit, 0, len(shifts))
		for i := len(shifts) - 1; i >= 0; i-- {
			a.Shifts = append(a.Shifts, *shifts[i])
		}
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	auditType, ok := domain.ParseAuditType(req.AuditType)
	if !ok {
		return domain.ListResponse{}, domain.ErrInvalidAuditType
	}
	state := strings.ToLower(strings.TrimSpace(req.State))
	switch domain.State(state) {
	case "", domain.StateDraft, domain.StateConfirmed, domain.StateReconciled, domain.StateDiscrepancy:
	default:
		return domain.ListResponse{}, domain.ErrInvalidState
	}

	var cursor *domain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		closeTime, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.Cursor{ID: id, CloseTime: closeTime}
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		TerminalID: s.terminalID,
		AuditType:  string(auditType),
		State:      state,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(item *domain.Audit) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CloseTime.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	resp := domain.ListResponse{Audits: make([]domain.Audit, 0, len(items))}
	for _, item := range items {
		if item != nil {
			resp.Audits = append(resp.Audits, *item)
		}
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// Confirm marks a draft audit as checked by staff.
func (s *Service) Confirm(ctx context.Context, req domain.ReviewRequest) (*domain.Audit, error) {
	staffID := strings.TrimSpace(req.StaffID)
	if staffID == "" {
		return nil, domain.ErrInvalidStaff
	}
	a, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if a.State != string(domain.StateDraft) {
		return nil, domain.ErrInvalidTransition
	}
	if err := s.setState(ctx, a, domain.StateConfirmed, nil); err != nil {
		return nil, err
	}
	s.record(ctx, auditdomain.ActionShiftConfirmed, a, map[string]any{"staff_id": staffID})
	return a, nil
}

// Reconcile settles a confirmed audit. Any POS or collection difference
// moves it to discrepancy instead of reconciled.
func (s *Service) Reconcile(ctx context.Context, req domain.ReviewRequest) (*domain.Audit, error) {
	staffID := strings.TrimSpace(req.StaffID)
	if staffID == "" {
		return nil, domain.ErrInvalidStaff
	}
	a, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if a.State != string(domain.StateConfirmed) {
		return nil, domain.ErrInvalidTransition
	}

	next := domain.StateReconciled
	if hasDiscrepancy(a) {
		next = domain.StateDiscrepancy
	}
	var notes *string
	if n := strings.TrimSpace(req.Notes); n != "" {
		notes = &n
	}
	if err := s.setState(ctx, a, next, notes); err != nil {
		return nil, err
	}
	s.record(ctx, auditdomain.ActionShiftReconciled, a, map[string]any{
		"staff_id": staffID,
		"state":    a.State,
	})
	return a, nil
}

func hasDiscrepancy(a *domain.Audit) bool {
	if a.PosReportedMinor != nil && a.PosDiffMinor != 0 {
		return true
	}
	return a.AuditType == string(domain.AuditTypeEndOfDay) && a.CollectedMinor != nil && a.CollectionDiff != 0
}

func (s *Service) setState(ctx context.Context, a *domain.Audit, state domain.State, notes *string) error {
	update := domain.StateUpdate{
		State:               string(state),
		ReconciliationNotes: notes,
		UpdatedAt:           s.clock.Now().UTC(),
	}
	if err := s.repo.UpdateState(ctx, s.db, a.ID, update); err != nil {
		s.log.Error("update shift audit state failed",
			zap.String("reference", a.Reference),
			zap.String("state", update.State),
			zap.Error(err),
		)
		return err
	}
	a.State = update.State
	if notes != nil {
		a.ReconciliationNotes = *notes
	}
	a.UpdatedAt = update.UpdatedAt
	return nil
}

func (s *Service) record(ctx context.Context, action string, a *domain.Audit, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, action, "shift_audit", a.Reference, metadata); err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

func negative(v *int64) bool {
	return v != nil && *v < 0
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
