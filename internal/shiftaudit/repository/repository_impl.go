package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashstation/internal/shiftaudit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, a *domain.Audit) error {
	if a == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Omit("Shifts").Create(a).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Audit, error) {
	return r.findOne(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Audit, error) {
	return r.findOne(db.WithContext(ctx).Where("reference = ?", reference))
}

func (r *repo) Latest(ctx context.Context, db *gorm.DB, terminalID string, auditType domain.AuditType) (*domain.Audit, error) {
	stmt := db.WithContext(ctx).Where("terminal_id = ?", terminalID)
	if auditType != "" {
		stmt = stmt.Where("audit_type = ?", string(auditType))
	}
	return r.findOne(stmt.Order("close_time desc, id desc"))
}

func (r *repo) findOne(stmt *gorm.DB) (*domain.Audit, error) {
	var items []*domain.Audit
	if err := stmt.Limit(1).Find(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func (r *repo) UnlinkedShifts(ctx context.Context, db *gorm.DB, terminalID string, since *time.Time) ([]*domain.Audit, error) {
	var items []*domain.Audit
	stmt := db.WithContext(ctx).
		Where("terminal_id = ? AND audit_type = ? AND parent_eod_id IS NULL", terminalID, string(domain.AuditTypeCloseShift))
	if since != nil {
		stmt = stmt.Where("close_time > ?", since.UTC())
	}
	if err := stmt.Order("close_time asc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) LinkShifts(ctx context.Context, db *gorm.DB, eodID snowflake.ID, shiftIDs []snowflake.ID) error {
	if len(shiftIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE shift_audits SET parent_eod_id = ?, updated_at = ? WHERE id IN ? AND parent_eod_id IS NULL`,
		eodID,
		time.Now().UTC(),
		shiftIDs,
	).Error
}

func (r *repo) AggregateTransactions(ctx context.Context, db *gorm.DB, terminalID string, from *time.Time, to time.Time) ([]domain.Aggregate, error) {
	query := `SELECT deposit_type, is_pos_related, pos_status,
		COUNT(*) AS count, COALESCE(SUM(amount_minor), 0) AS sum_minor
		FROM cash_transactions
		WHERE terminal_id = ? AND created_at <= ?`
	args := []any{terminalID, to.UTC()}
	if from != nil {
		query += ` AND created_at > ?`
		args = append(args, from.UTC())
	}
	query += ` GROUP BY deposit_type, is_pos_related, pos_status
		ORDER BY deposit_type, pos_status`

	var rows []domain.Aggregate
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Audit, error) {
	var items []*domain.Audit
	stmt := db.WithContext(ctx).Model(&domain.Audit{})

	if id := strings.TrimSpace(filter.TerminalID); id != "" {
		stmt = stmt.Where("terminal_id = ?", id)
	}
	if t := strings.TrimSpace(filter.AuditType); t != "" {
		stmt = stmt.Where("audit_type = ?", t)
	}
	if state := strings.TrimSpace(filter.State); state != "" {
		stmt = stmt.Where("state = ?", state)
	}
	if filter.ParentEODID != nil {
		stmt = stmt.Where("parent_eod_id = ?", *filter.ParentEODID)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("close_time >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("close_time <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(close_time < ?) OR (close_time = ? AND id < ?)",
			filter.Cursor.CloseTime,
			filter.Cursor.CloseTime,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("close_time desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateState(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.StateUpdate) error {
	return db.WithContext(ctx).Exec(
		`UPDATE shift_audits
		 SET state = ?, reconciliation_notes = COALESCE(?, reconciliation_notes), updated_at = ?
		 WHERE id = ?`,
		update.State,
		update.ReconciliationNotes,
		update.UpdatedAt,
		id,
	).Error
}
