package repository

import (
	"context"

	"github.com/smallbiznis/cashstation/internal/posdispatch/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Enqueue(ctx context.Context, db *gorm.DB, job *domain.Job) (bool, error) {
	if job == nil {
		return false, gorm.ErrInvalidData
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoNothing: true,
		}).
		Create(job)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, maxRetries, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := db.WithContext(ctx).Raw(
		`SELECT id, transaction_id, vendor, payload, status, retry_count, last_error, created_at, updated_at
		 FROM pos_jobs
		 WHERE status IN (?, ?) AND retry_count < ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		string(domain.JobStatusPending),
		string(domain.JobStatusRetry),
		maxRetries,
		limit,
	).Scan(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*domain.Job, error) {
	var job domain.Job
	err := db.WithContext(ctx).Raw(
		`SELECT id, transaction_id, vendor, payload, status, retry_count, last_error, created_at, updated_at
		 FROM pos_jobs WHERE transaction_id = ?`,
		transactionID,
	).Scan(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, job *domain.Job) error {
	if job == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE pos_jobs SET status = ?, retry_count = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		job.Status,
		job.RetryCount,
		job.LastError,
		job.UpdatedAt,
		job.ID,
	).Error
}

func (r *repo) CountOpen(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Job{}).
		Where("status IN ?", []string{string(domain.JobStatusPending), string(domain.JobStatusRetry)}).
		Count(&count).Error
	return count, err
}
