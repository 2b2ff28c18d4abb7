package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashstation/internal/deposit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `SELECT id, transaction_id, session_id, terminal_id, staff_id, mode, deposit_type,
	product_code, amount, amount_minor, breakdown, is_pos_related, pos_status, pos_attempts,
	pos_response, pos_last_error, created_at, updated_at
	FROM cash_transactions`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tx *domain.Transaction) error {
	if tx == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO cash_transactions (
			id, transaction_id, session_id, terminal_id, staff_id, mode, deposit_type,
			product_code, amount, amount_minor, breakdown, is_pos_related, pos_status,
			pos_attempts, pos_response, pos_last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.TransactionID,
		tx.SessionID,
		tx.TerminalID,
		tx.StaffID,
		tx.Mode,
		tx.DepositType,
		tx.ProductCode,
		tx.Amount,
		tx.AmountMinor,
		tx.Breakdown,
		tx.IsPosRelated,
		tx.PosStatus,
		tx.PosAttempts,
		tx.PosResponse,
		tx.PosLastError,
		tx.CreatedAt,
		tx.UpdatedAt,
	).Error
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*domain.Transaction, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE transaction_id = ?`, transactionID)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE id = ?`, id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&tx).Error; err != nil {
		return nil, err
	}
	if tx.ID == 0 {
		return nil, nil
	}
	return &tx, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Transaction, error) {
	var items []*domain.Transaction
	stmt := db.WithContext(ctx).Model(&domain.Transaction{})

	if depositType := strings.TrimSpace(filter.DepositType); depositType != "" {
		stmt = stmt.Where("deposit_type = ?", depositType)
	}
	if posStatus := strings.TrimSpace(filter.PosStatus); posStatus != "" {
		stmt = stmt.Where("pos_status = ?", posStatus)
	}
	if staffID := strings.TrimSpace(filter.StaffID); staffID != "" {
		stmt = stmt.Where("staff_id = ?", staffID)
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

func (r *repo) RecordPosAttempt(ctx context.Context, db *gorm.DB, transactionID string, update domain.PosUpdate) error {
	return db.WithContext(ctx).Exec(
		`UPDATE cash_transactions
		 SET pos_status = ?, pos_response = ?, pos_last_error = ?, pos_attempts = pos_attempts + 1, updated_at = ?
		 WHERE transaction_id = ?`,
		update.PosStatus,
		update.PosResponse,
		update.PosLastError,
		update.UpdatedAt,
		transactionID,
	).Error
}
