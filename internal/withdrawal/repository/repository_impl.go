package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashstation/internal/withdrawal/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `SELECT id, reference, terminal_id, type, staff_id, reason, amount, amount_minor,
	plan, glory_status, transaction_id, last_error, created_at, updated_at
	FROM withdrawals`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, w *domain.Withdrawal) error {
	if w == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO withdrawals (
			id, reference, terminal_id, type, staff_id, reason, amount, amount_minor,
			plan, glory_status, transaction_id, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID,
		w.Reference,
		w.TerminalID,
		w.Type,
		w.StaffID,
		w.Reason,
		w.Amount,
		w.AmountMinor,
		w.Plan,
		w.GloryStatus,
		w.TransactionID,
		w.LastError,
		w.CreatedAt,
		w.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Withdrawal, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE id = ?`, id)
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Withdrawal, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE reference = ?`, reference)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Withdrawal, error) {
	var w domain.Withdrawal
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&w).Error; err != nil {
		return nil, err
	}
	if w.ID == 0 {
		return nil, nil
	}
	return &w, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Withdrawal, error) {
	var items []*domain.Withdrawal
	stmt := db.WithContext(ctx).Model(&domain.Withdrawal{})

	if t := strings.TrimSpace(filter.Type); t != "" {
		stmt = stmt.Where("type = ?", t)
	}
	if status := strings.TrimSpace(filter.GloryStatus); status != "" {
		stmt = stmt.Where("glory_status = ?", status)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.StatusUpdate) error {
	return db.WithContext(ctx).Exec(
		`UPDATE withdrawals
		 SET glory_status = ?, transaction_id = COALESCE(?, transaction_id), last_error = ?, updated_at = ?
		 WHERE id = ?`,
		update.GloryStatus,
		update.TransactionID,
		update.LastError,
		update.UpdatedAt,
		id,
	).Error
}
