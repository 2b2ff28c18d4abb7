package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/cashstation/internal/audit/domain"
	"github.com/smallbiznis/cashstation/internal/config"
	"github.com/smallbiznis/cashstation/internal/deposit/domain"
	"github.com/smallbiznis/cashstation/internal/money"
	obscontext "github.com/smallbiznis/cashstation/internal/observability/context"
	"github.com/smallbiznis/cashstation/internal/observability/metrics"
	posdomain "github.com/smallbiznis/cashstation/internal/posdispatch/domain"
	productdomain "github.com/smallbiznis/cashstation/internal/product/domain"
	"github.com/smallbiznis/cashstation/pkg/db"
	"github.com/smallbiznis/cashstation/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	GenID      *snowflake.Node
	Repo       domain.Repository
	Dispatcher posdomain.Dispatcher
	Products   productdomain.Service `optional:"true"`
	Metrics    *metrics.Metrics      `optional:"true"`
	Audit      auditdomain.Service   `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	dispatcher posdomain.Dispatcher
	products   productdomain.Service
	metrics    *metrics.Metrics
	audit      auditdomain.Service
	terminalID string
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("deposit.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		dispatcher: p.Dispatcher,
		products:   p.Products,
		metrics:    p.Metrics,
		audit:      p.Audit,
		terminalID: p.Cfg.TerminalID,
	}
}

// Finalize stores the transaction before any POS interaction and never fails
// because of the POS. A replayed transaction id returns the stored row.
func (s *Service) Finalize(ctx context.Context, req domain.FinalizeRequest) (*domain.Transaction, error) {
	if req.AmountMinor <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	depositType, ok := domain.ParseDepositType(string(req.DepositType))
	if !ok {
		return nil, domain.ErrInvalidDepositType
	}
	staffID := strings.TrimSpace(req.StaffID)
	if staffID == "" {
		return nil, domain.ErrInvalidStaff
	}

	transactionID := strings.TrimSpace(req.TransactionID)
	if transactionID == "" {
		transactionID = newTransactionID(depositType)
	}

	existing, err := s.repo.FindByTransactionID(ctx, s.db, transactionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replay(existing, req.AmountMinor)
	}

	productCode := normalizeCode(req.ProductCode)
	isPosRelated := s.isPosRelated(ctx, depositType, productCode)

	breakdown, err := json.Marshal(req.Breakdown)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:            s.genID.Generate(),
		TransactionID: transactionID,
		SessionID:     req.SessionID,
		TerminalID:    s.terminalID,
		StaffID:       staffID,
		Mode:          req.Mode,
		DepositType:   string(depositType),
		ProductCode:   productCode,
		Amount:        money.FromMinor(req.AmountMinor),
		AmountMinor:   req.AmountMinor,
		Breakdown:     datatypes.JSON(breakdown),
		IsPosRelated:  isPosRelated,
		PosStatus:     string(domain.PosStatusNA),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if isPosRelated {
		tx.PosStatus = string(domain.PosStatusQueued)
	}

	if err := s.repo.Insert(ctx, s.db, tx); err != nil {
		if db.IsDuplicateKeyErr(err) {
			stored, findErr := s.repo.FindByTransactionID(ctx, s.db, transactionID)
			if findErr == nil && stored != nil {
				return s.replay(stored, req.AmountMinor)
			}
		}
		return nil, err
	}

	s.log.Info("transaction finalized",
		zap.String("transaction_id", tx.TransactionID),
		zap.String("deposit_type", tx.DepositType),
		zap.String("amount", money.FormatMajor(tx.AmountMinor)),
		zap.Bool("pos_related", tx.IsPosRelated),
	)

	if isPosRelated {
		result := s.dispatcher.Dispatch(ctx, toDeposit(tx))
		s.applyResult(ctx, tx, result)
	}

	s.metrics.RecordDepositFinalized(ctx, tx.DepositType, tx.PosStatus)
	if s.audit != nil {
		_ = s.audit.Record(ctx, auditdomain.ActionDepositFinalized, "transaction", tx.TransactionID, map[string]any{
			"deposit_type": tx.DepositType,
			"amount":       money.FormatMajor(tx.AmountMinor),
			"pos_status":   tx.PosStatus,
			"staff_id":     tx.StaffID,
		})
	}
	return tx, nil
}

func (s *Service) replay(existing *domain.Transaction, amountMinor int64) (*domain.Transaction, error) {
	if existing.AmountMinor != amountMinor {
		return nil, domain.ErrTransactionIDConflict
	}
	s.log.Info("finalize replayed", zap.String("transaction_id", existing.TransactionID))
	return existing, nil
}

// isPosRelated: oil and engine oil always go to the POS; other types only
// when their product opts in.
func (s *Service) isPosRelated(ctx context.Context, depositType domain.DepositType, productCode *string) bool {
	if depositType.AlwaysPosRelated() {
		return true
	}
	if productCode == nil || s.products == nil {
		return false
	}
	product, err := s.products.GetByCode(ctx, *productCode)
	if err != nil {
		if !errors.Is(err, productdomain.ErrNotFound) {
			s.log.Warn("product lookup failed", zap.String("product_code", *productCode), zap.Error(err))
		}
		return false
	}
	return product.Active && product.PosRelated != nil && *product.PosRelated
}

func (s *Service) applyResult(ctx context.Context, tx *domain.Transaction, result posdomain.Result) {
	update := domain.PosUpdate{
		PosStatus:   string(posStatusFor(result.Outcome)),
		PosResponse: responseMap(result),
		UpdatedAt:   time.Now().UTC(),
	}
	if result.Error != "" {
		update.PosLastError = &result.Error
	}

	if err := s.repo.RecordPosAttempt(ctx, s.db, tx.TransactionID, update); err != nil {
		s.log.Error("failed to record pos result",
			zap.String("transaction_id", tx.TransactionID),
			zap.String("pos_status", update.PosStatus),
			zap.Error(err),
		)
		return
	}
	tx.PosStatus = update.PosStatus
	tx.PosResponse = update.PosResponse
	tx.PosLastError = update.PosLastError
	tx.PosAttempts++
	tx.UpdatedAt = update.UpdatedAt
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrInvalidID
	}

	var (
		tx  *domain.Transaction
		err error
	)
	if parsed, parseErr := snowflake.ParseString(id); parseErr == nil && parsed != 0 {
		tx, err = s.repo.FindByID(ctx, s.db, parsed)
	} else {
		tx, err = s.repo.FindByTransactionID(ctx, s.db, id)
	}
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, domain.ErrNotFound
	}
	return tx, nil
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
		DepositType: req.DepositType,
		PosStatus:   req.PosStatus,
		StaffID:     req.StaffID,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		Cursor:      cursor,
		Limit:       limit,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(item *domain.Transaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	resp := domain.ListResponse{Transactions: make([]domain.Transaction, 0, len(items))}
	for _, item := range items {
		if item != nil {
			resp.Transactions = append(resp.Transactions, *item)
		}
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// RetryPos resends a queued or failed transaction on staff request.
func (s *Service) RetryPos(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tx.IsPosRelated {
		return nil, domain.ErrNotRetryable
	}
	switch domain.PosStatus(tx.PosStatus) {
	case domain.PosStatusQueued, domain.PosStatusFailed:
	default:
		return nil, domain.ErrNotRetryable
	}

	if _, actorID := obscontext.ActorFromContext(ctx); actorID != "" {
		s.log.Info("manual pos retry", zap.String("transaction_id", tx.TransactionID), zap.String("actor_id", actorID))
	}
	result := s.dispatcher.Retry(ctx, toDeposit(tx))
	s.applyResult(ctx, tx, result)
	return tx, nil
}

// RetryPending runs one sweep over the POS queue.
func (s *Service) RetryPending(ctx context.Context) (int, error) {
	stats, err := s.dispatcher.ProcessPending(ctx, 0, func(ctx context.Context, transactionID string, result posdomain.Result) error {
		tx, err := s.repo.FindByTransactionID(ctx, s.db, transactionID)
		if err != nil {
			return err
		}
		if tx == nil {
			s.log.Warn("pos job without transaction", zap.String("transaction_id", transactionID))
			return nil
		}
		s.applyResult(ctx, tx, result)
		return nil
	})
	if errors.Is(err, posdomain.ErrDisabled) {
		return 0, nil
	}
	return stats.Processed, err
}

func posStatusFor(outcome posdomain.Outcome) domain.PosStatus {
	switch outcome {
	case posdomain.OutcomeOK:
		return domain.PosStatusOK
	case posdomain.OutcomeFailed:
		return domain.PosStatusFailed
	default:
		return domain.PosStatusQueued
	}
}

func responseMap(result posdomain.Result) datatypes.JSONMap {
	out := datatypes.JSONMap{
		"outcome": string(result.Outcome),
		"at":      result.At.Format(time.RFC3339),
	}
	if result.Response != nil {
		out["status"] = result.Response.Status
		out["description"] = result.Response.Description
		out["time_stamp"] = result.Response.Timestamp
	}
	if result.Error != "" {
		out["error"] = result.Error
	}
	return out
}

func toDeposit(tx *domain.Transaction) posdomain.Deposit {
	return posdomain.Deposit{
		TransactionID: tx.TransactionID,
		StaffID:       tx.StaffID,
		AmountMinor:   tx.AmountMinor,
		ProductCode:   tx.ProductCode,
		TerminalID:    tx.TerminalID,
	}
}

func newTransactionID(depositType domain.DepositType) string {
	prefix := "DEP-"
	switch depositType {
	case domain.DepositTypeExchangeCash:
		prefix = "EXC-"
	case domain.DepositTypeWithdrawal:
		prefix = "WDR-"
	}
	return prefix + ulid.Make().String()
}

func normalizeCode(code *string) *string {
	if code == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*code)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
