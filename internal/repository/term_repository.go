package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/msms-dev/msms-api/internal/models"
)

// termRegistryLockKey scopes the advisory lock serializing overlap checks
// against concurrent term inserts and edits.
const termRegistryLockKey = 7201

const termColumns = "id, start_date, end_date, created_at, updated_at"

// TermRepository handles persistence for school terms.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository instantiates a term repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

func (r *TermRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListAll returns every registered term ordered by start date.
func (r *TermRepository) ListAll(ctx context.Context) ([]models.SchoolTerm, error) {
	query := fmt.Sprintf("SELECT %s FROM school_terms ORDER BY start_date ASC", termColumns)
	var terms []models.SchoolTerm
	if err := r.db.SelectContext(ctx, &terms, query); err != nil {
		return nil, fmt.Errorf("list school terms: %w", err)
	}
	return terms, nil
}

// FindByID loads a term by identifier.
func (r *TermRepository) FindByID(ctx context.Context, id int64) (*models.SchoolTerm, error) {
	query := fmt.Sprintf("SELECT %s FROM school_terms WHERE id = $1", termColumns)
	var term models.SchoolTerm
	if err := r.db.GetContext(ctx, &term, query, id); err != nil {
		return nil, err
	}
	return &term, nil
}

// AcquireRegistryLock takes the transaction-scoped advisory lock that
// serializes registry writes. Must be called on a transaction.
func (r *TermRepository) AcquireRegistryLock(ctx context.Context, exec sqlx.ExtContext) error {
	if _, err := r.exec(exec).ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, termRegistryLockKey); err != nil {
		return fmt.Errorf("acquire term registry lock: %w", err)
	}
	return nil
}

// ExistsOverlapping reports whether any term other than excludeID intersects
// the closed interval [start, end]. Touching boundaries count as overlap.
func (r *TermRepository) ExistsOverlapping(ctx context.Context, exec sqlx.ExtContext, start, end time.Time, excludeID int64) (bool, error) {
	const query = `SELECT 1 FROM school_terms WHERE start_date <= $2 AND end_date >= $1 AND id <> $3 LIMIT 1`
	var exists int
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, start, end, excludeID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check term overlap: %w", err)
	}
	return true, nil
}

// Create inserts a new term record.
func (r *TermRepository) Create(ctx context.Context, exec sqlx.ExtContext, term *models.SchoolTerm) error {
	now := time.Now().UTC()
	if term.CreatedAt.IsZero() {
		term.CreatedAt = now
	}
	term.UpdatedAt = now

	const query = `
INSERT INTO school_terms (start_date, end_date, created_at, updated_at)
VALUES ($1, $2, $3, $4)
RETURNING id`
	if err := sqlx.GetContext(ctx, r.exec(exec), &term.ID, query, term.StartDate, term.EndDate, term.CreatedAt, term.UpdatedAt); err != nil {
		return fmt.Errorf("create school term: %w", err)
	}
	return nil
}

// Update modifies an existing term's interval.
func (r *TermRepository) Update(ctx context.Context, exec sqlx.ExtContext, term *models.SchoolTerm) error {
	term.UpdatedAt = time.Now().UTC()
	const query = `UPDATE school_terms SET start_date = $1, end_date = $2, updated_at = $3 WHERE id = $4`
	result, err := r.exec(exec).ExecContext(ctx, query, term.StartDate, term.EndDate, term.UpdatedAt, term.ID)
	if err != nil {
		return fmt.Errorf("update school term: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("school term rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a term permanently.
func (r *TermRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM school_terms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete school term: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("school term rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
