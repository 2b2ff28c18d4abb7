package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/cashstation/internal/audit/domain"
	sessiondomain "github.com/smallbiznis/cashstation/internal/cashsession/domain"
	"github.com/smallbiznis/cashstation/internal/config"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	depositdomain "github.com/smallbiznis/cashstation/internal/deposit/domain"
	inventorydomain "github.com/smallbiznis/cashstation/internal/inventory/domain"
	"github.com/smallbiznis/cashstation/internal/money"
	"github.com/smallbiznis/cashstation/internal/observability/metrics"
	"github.com/smallbiznis/cashstation/internal/withdrawal/domain"
	"github.com/smallbiznis/cashstation/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Cfg          config.Config
	GenID        *snowflake.Node
	Repo         domain.Repository
	Controller   sessiondomain.Controller
	Inventory    inventorydomain.Service
	Denomination denomdomain.Service
	Finalizer    depositdomain.Service
	Metrics      *metrics.Metrics    `optional:"true"`
	Audit        auditdomain.Service `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	controller sessiondomain.Controller
	inventory  inventorydomain.Service
	denom      denomdomain.Service
	finalizer  depositdomain.Service
	metrics    *metrics.Metrics
	audit      auditdomain.Service
	terminalID string
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("withdrawal.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		controller: p.Controller,
		inventory:  p.Inventory,
		denom:      p.Denomination,
		finalizer:  p.Finalizer,
		metrics:    p.Metrics,
		audit:      p.Audit,
		terminalID: p.Cfg.TerminalID,
	}
}

// Create returns the stored withdrawal alongside the error when the payout
// fails after the record was written, so callers can show its reference.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Withdrawal, error) {
	wType, ok := domain.ParseType(req.Type)
	if !ok {
		return nil, domain.ErrInvalidType
	}
	amountMinor, err := money.ParseMajor(req.Amount)
	if err != nil || amountMinor <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	staffID := strings.TrimSpace(req.StaffID)
	if staffID == "" {
		return nil, domain.ErrInvalidStaff
	}

	snapshot, err := s.inventory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := s.denom.ComputePlan(ctx, amountMinor, snapshot.Stock())
	if err != nil {
		return nil, err
	}
	if err := plan.RequireExact(); err != nil {
		s.metrics.RecordShortage(ctx, plan.ShortageMinor)
		return nil, fmt.Errorf("%w: short by %s", err, money.FormatMajor(plan.ShortageMinor))
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	w := &domain.Withdrawal{
		ID:          s.genID.Generate(),
		Reference:   "WDR-" + ulid.Make().String(),
		TerminalID:  s.terminalID,
		Type:        string(wType),
		StaffID:     staffID,
		Reason:      strings.TrimSpace(req.Reason),
		Amount:      money.FromMinor(amountMinor),
		AmountMinor: amountMinor,
		Plan:        datatypes.JSON(planJSON),
		GloryStatus: string(domain.GloryStatusPending),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, w); err != nil {
		return nil, err
	}
	s.record(ctx, auditdomain.ActionWithdrawalCreated, w, map[string]any{
		"type":   w.Type,
		"amount": money.FormatMajor(w.AmountMinor),
	})

	session, err := s.controller.StartPayout(ctx, sessiondomain.PayoutRequest{
		StaffID: staffID,
		Plan:    plan,
		Purpose: sessiondomain.PurposeWithdrawal,
	})
	if err != nil {
		s.log.Warn("withdrawal payout failed",
			zap.String("reference", w.Reference),
			zap.String("amount", money.FormatMajor(w.AmountMinor)),
			zap.Error(err),
		)
		if updateErr := s.setStatus(ctx, w, domain.GloryStatusFailed, nil, err); updateErr != nil {
			return w, errors.Join(err, updateErr)
		}
		return w, err
	}

	var (
		transactionID *string
		recordErr     error
	)
	tx, err := s.finalizer.Finalize(ctx, depositdomain.FinalizeRequest{
		TransactionID: w.Reference,
		SessionID:     session.ID,
		Mode:          string(session.Mode),
		StaffID:       staffID,
		AmountMinor:   amountMinor,
		Breakdown:     plan.Lines(),
		DepositType:   depositdomain.DepositTypeWithdrawal,
	})
	if err != nil {
		s.log.Error("record withdrawal transaction failed", zap.String("reference", w.Reference), zap.Error(err))
		recordErr = fmt.Errorf("%w: %w", sessiondomain.ErrRecordFailed, err)
	} else {
		transactionID = &tx.TransactionID
	}

	if err := s.setStatus(ctx, w, domain.GloryStatusDispensed, transactionID, recordErr); err != nil {
		return w, errors.Join(recordErr, err)
	}
	if recordErr != nil {
		return w, recordErr
	}
	s.log.Info("withdrawal dispensed",
		zap.String("reference", w.Reference),
		zap.String("type", w.Type),
		zap.String("amount", money.FormatMajor(w.AmountMinor)),
	)
	return w, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Withdrawal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrInvalidID
	}
	var (
		w   *domain.Withdrawal
		err error
	)
	if parsed, parseErr := snowflake.ParseString(id); parseErr == nil && parsed != 0 {
		w, err = s.repo.FindByID(ctx, s.db, parsed)
	} else {
		w, err = s.repo.FindByReference(ctx, s.db, id)
	}
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, domain.ErrNotFound
	}
	return w, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	var cursor *domain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.Cursor{ID: id, CreatedAt: createdAt}
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		Type:        req.Type,
		GloryStatus: req.GloryStatus,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		Cursor:      cursor,
		Limit:       limit,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(item *domain.Withdrawal) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	resp := domain.ListResponse{Withdrawals: make([]domain.Withdrawal, 0, len(items))}
	for _, item := range items {
		if item != nil {
			resp.Withdrawals = append(resp.Withdrawals, *item)
		}
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// UpdateStatus records what staff observed at the recycler, typically that
// the customer collected the cash.
func (s *Service) UpdateStatus(ctx context.Context, req domain.UpdateStatusRequest) (*domain.Withdrawal, error) {
	next := domain.GloryStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	switch next {
	case domain.GloryStatusPending, domain.GloryStatusDispensed, domain.GloryStatusCollected, domain.GloryStatusFailed:
	default:
		return nil, domain.ErrInvalidStatus
	}
	staffID := strings.TrimSpace(req.StaffID)
	if staffID == "" {
		return nil, domain.ErrInvalidStaff
	}

	w, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if !domain.GloryStatus(w.GloryStatus).CanMoveTo(next) {
		return nil, domain.ErrInvalidTransition
	}

	prev := w.GloryStatus
	if err := s.setStatus(ctx, w, next, nil, nil); err != nil {
		return nil, err
	}
	s.record(ctx, auditdomain.ActionWithdrawalStatus, w, map[string]any{
		"from":     prev,
		"to":       w.GloryStatus,
		"staff_id": staffID,
		"note":     strings.TrimSpace(req.Note),
	})
	return w, nil
}

func (s *Service) setStatus(ctx context.Context, w *domain.Withdrawal, status domain.GloryStatus, transactionID *string, cause error) error {
	update := domain.StatusUpdate{
		GloryStatus:   string(status),
		TransactionID: transactionID,
		UpdatedAt:     time.Now().UTC(),
	}
	if cause != nil {
		msg := cause.Error()
		update.LastError = &msg
	}
	if err := s.repo.UpdateStatus(ctx, s.db, w.ID, update); err != nil {
		s.log.Error("update withdrawal status failed",
			zap.String("reference", w.Reference),
			zap.String("glory_status", update.GloryStatus),
			zap.Error(err),
		)
		return err
	}
	w.GloryStatus = update.GloryStatus
	if transactionID != nil {
		w.TransactionID = transactionID
	}
	w.LastError = update.LastError
	w.UpdatedAt = update.UpdatedAt
	return nil
}

func (s *Service) record(ctx context.Context, action string, w *domain.Withdrawal, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, action, "withdrawal", w.Reference, metadata); err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
