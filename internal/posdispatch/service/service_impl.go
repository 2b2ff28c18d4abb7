package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/cashstation/internal/audit/domain"
	"github.com/smallbiznis/cashstation/internal/config"
	"github.com/smallbiznis/cashstation/internal/observability/metrics"
	"github.com/smallbiznis/cashstation/internal/posdispatch/adapters"
	"github.com/smallbiznis/cashstation/internal/posdispatch/domain"
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
	Registry *adapters.Registry
	Metrics  *metrics.Metrics     `optional:"true"`
	Cash     *metrics.CashMetrics `optional:"true"`
	Audit    auditdomain.Service  `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	adapter    domain.Adapter
	vendor     string
	timeout    time.Duration
	maxRetries int
	batchSize  int
	metrics    *metrics.Metrics
	cash       *metrics.CashMetrics
	audit      auditdomain.Service
}

func New(p Params) (domain.Dispatcher, error) {
	posCfg := p.Cfg.POS
	svc := &Service{
		db:         p.DB,
		log:        p.Log.Named("posdispatch.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		vendor:     strings.ToLower(strings.TrimSpace(posCfg.Vendor)),
		timeout:    posCfg.Timeout,
		maxRetries: posCfg.MaxRetries,
		batchSize:  posCfg.BatchSize,
		metrics:    p.Metrics,
		cash:       p.Cash,
		audit:      p.Audit,
	}
	if svc.timeout <= 0 {
		svc.timeout = 5 * time.Second
	}
	if svc.maxRetries <= 0 {
		svc.maxRetries = 5
	}
	if svc.batchSize <= 0 {
		svc.batchSize = 100
	}

	if !posCfg.Enabled {
		svc.log.Info("pos dispatch disabled; pos-related deposits will be queued")
		return svc, nil
	}

	adapter, err := p.Registry.NewAdapter(svc.vendor, domain.AdapterConfig{
		BaseURL:      posCfg.BaseURL,
		TCPAddr:      posCfg.TCPAddr,
		Timeout:      svc.timeout,
		TerminalID:   p.Cfg.TerminalID,
		SourceSystem: posCfg.SourceSystem,
	})
	if err != nil {
		return nil, fmt.Errorf("pos vendor %q: %w", svc.vendor, err)
	}
	svc.adapter = adapter
	return svc, nil
}

func (s *Service) Enabled() bool {
	return s.adapter != nil
}

func (s *Service) Vendor() string {
	return s.vendor
}

// Send makes a single bounded attempt and classifies the outcome: transport
// failures are queued, explicit rejections are failed.
func (s *Service) Send(ctx context.Context, deposit domain.Deposit) domain.Result {
	result := domain.Result{At: time.Now().UTC()}
	if s.adapter == nil {
		result.Outcome = domain.OutcomeQueued
		result.Error = domain.ErrDisabled.Error()
		return result
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.adapter.Send(sendCtx, deposit)
	switch {
	case err != nil:
		result.Outcome = domain.OutcomeQueued
		result.Error = err.Error()
		s.log.Warn("pos unreachable",
			zap.String("transaction_id", deposit.TransactionID),
			zap.String("vendor", s.vendor),
			zap.Error(err),
		)
	case resp.Status == "OK":
		result.Outcome = domain.OutcomeOK
		result.Response = resp
	default:
		result.Outcome = domain.OutcomeFailed
		result.Response = resp
		result.Error = resp.Description
		s.log.Warn("pos rejected deposit",
			zap.String("transaction_id", deposit.TransactionID),
			zap.String("status", resp.Status),
			zap.String("description", resp.Description),
		)
	}

	s.metrics.RecordPosDispatch(ctx, s.vendor, string(result.Outcome))
	return result
}

func (s *Service) Dispatch(ctx context.Context, deposit domain.Deposit) domain.Result {
	result := s.Send(ctx, deposit)
	if result.Outcome == domain.OutcomeQueued {
		if err := s.Enqueue(ctx, deposit, result.Error); err != nil {
			// The transaction still records queued; the sweep cannot see it
			// until someone retries it by hand.
			s.log.Error("failed to enqueue pos job",
				zap.String("transaction_id", deposit.TransactionID),
				zap.Error(err),
			)
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, auditdomain.ActionPosDispatched, "transaction", deposit.TransactionID, map[string]any{
			"vendor":  s.vendor,
			"outcome": string(result.Outcome),
		})
	}
	return result
}

func (s *Service) Enqueue(ctx context.Context, deposit domain.Deposit, reason string) error {
	if strings.TrimSpace(deposit.TransactionID) == "" {
		return errors.New("transaction id is required")
	}
	payload, err := json.Marshal(deposit)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:            s.genID.Generate().Int64(),
		TransactionID: deposit.TransactionID,
		Vendor:        s.vendor,
		Payload:       datatypes.JSON(payload),
		Status:        string(domain.JobStatusPending),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if reason != "" {
		job.LastError = &reason
	}

	inserted, err := s.repo.Enqueue(ctx, s.db, job)
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Debug("pos job already queued", zap.String("transaction_id", deposit.TransactionID))
	}
	s.refreshQueueDepth(ctx)
	return nil
}

func (s *Service) Retry(ctx context.Context, deposit domain.Deposit) domain.Result {
	result := s.Send(ctx, deposit)

	job, err := s.repo.FindByTransactionID(ctx, s.db, deposit.TransactionID)
	if err != nil {
		s.log.Warn("lookup pos job failed", zap.String("transaction_id", deposit.TransactionID), zap.Error(err))
		return result
	}
	if job == nil {
		if result.Outcome == domain.OutcomeQueued {
			if err := s.Enqueue(ctx, deposit, result.Error); err != nil {
				s.log.Error("failed to enqueue pos job", zap.String("transaction_id", deposit.TransactionID), zap.Error(err))
			}
		}
		return result
	}
	if job.Status == string(domain.JobStatusDone) || job.Status == string(domain.JobStatusFailed) || job.Status == string(domain.JobStatusExhausted) {
		if result.Outcome != domain.OutcomeQueued {
			return result
		}
		// A manual retry reopens a settled job.
		job.RetryCount = 0
	}

	job.UpdatedAt = time.Now().UTC()
	switch result.Outcome {
	case domain.OutcomeOK:
		job.Status = string(domain.JobStatusDone)
		job.LastError = nil
	case domain.OutcomeFailed:
		job.Status = string(domain.JobStatusFailed)
		job.LastError = stringPtr(result.Error)
	default:
		job.Status = string(domain.JobStatusRetry)
		job.LastError = stringPtr(result.Error)
	}
	if err := s.repo.UpdateStatus(ctx, s.db, job); err != nil {
		s.log.Warn("update pos job failed", zap.String("transaction_id", deposit.TransactionID), zap.Error(err))
	}
	s.refreshQueueDepth(ctx)

	if s.audit != nil {
		_ = s.audit.Record(ctx, auditdomain.ActionPosRetried, "transaction", deposit.TransactionID, map[string]any{
			"vendor":  s.vendor,
			"outcome": string(result.Outcome),
		})
	}
	return result
}

// ProcessPending retries due jobs oldest first. apply is called for every
// attempted job so the caller can record the latest result.
func (s *Service) ProcessPending(ctx context.Context, limit int, apply domain.ApplyFunc) (domain.SweepStats, error) {
	var stats domain.SweepStats
	if s.adapter == nil {
		return stats, domain.ErrDisabled
	}
	if limit <= 0 || limit > s.batchSize {
		limit = s.batchSize
	}

	jobs, err := s.repo.ListDue(ctx, s.db, s.maxRetries, limit)
	if err != nil {
		return stats, err
	}

	var errs []error
	for i := range jobs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		job := &jobs[i]
		result, err := s.processJob(ctx, job)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		stats.Processed++
		switch {
		case result.Outcome == domain.OutcomeOK:
			stats.Delivered++
		case job.Status == string(domain.JobStatusExhausted):
			stats.Exhausted++
		case result.Outcome == domain.OutcomeFailed:
			stats.Rejected++
		default:
			stats.Retrying++
		}

		if apply != nil {
			if err := apply(ctx, job.TransactionID, result); err != nil {
				errs = append(errs, fmt.Errorf("apply %s: %w", job.TransactionID, err))
			}
		}
	}

	s.refreshQueueDepth(ctx)
	if stats.Processed > 0 {
		s.log.Info("pos retry sweep",
			zap.Int("processed", stats.Processed),
			zap.Int("delivered", stats.Delivered),
			zap.Int("rejected", stats.Rejected),
			zap.Int("retrying", stats.Retrying),
			zap.Int("exhausted", stats.Exhausted),
		)
	}
	return stats, errors.Join(errs...)
}

func (s *Service) processJob(ctx context.Context, job *domain.Job) (domain.Result, error) {
	var deposit domain.Deposit
	if err := json.Unmarshal(job.Payload, &deposit); err != nil {
		return domain.Result{}, fmt.Errorf("decode pos job %d: %w", job.ID, err)
	}

	result := s.Send(ctx, deposit)
	job.UpdatedAt = time.Now().UTC()
	switch result.Outcome {
	case domain.OutcomeOK:
		job.Status = string(domain.JobStatusDone)
		job.LastError = nil
	case domain.OutcomeFailed:
		job.Status = string(domain.JobStatusFailed)
		job.LastError = stringPtr(result.Error)
	default:
		job.RetryCount++
		job.LastError = stringPtr(result.Error)
		if job.RetryCount >= s.maxRetries {
			job.Status = string(domain.JobStatusExhausted)
			s.log.Warn("pos job retries exhausted",
				zap.String("transaction_id", job.TransactionID),
				zap.Int("retry_count", job.RetryCount),
				zap.String("error", result.Error),
			)
		} else {
			job.Status = string(domain.JobStatusRetry)
		}
	}

	if err := s.repo.UpdateStatus(ctx, s.db, job); err != nil {
		return domain.Result{}, fmt.Errorf("update pos job %d: %w", job.ID, err)
	}
	return result, nil
}

func (s *Service) Heartbeat(ctx context.Context) (*domain.Response, error) {
	if s.adapter == nil {
		return nil, domain.ErrDisabled
	}
	hbCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.adapter.Heartbeat(hbCtx)
}

func (s *Service) refreshQueueDepth(ctx context.Context) {
	if s.cash == nil {
		return
	}
	count, err := s.repo.CountOpen(ctx, s.db)
	if err != nil {
		s.log.Debug("count pos queue failed", zap.Error(err))
		return
	}
	s.cash.SetPosQueueDepth(count)
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
