package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/msms-dev/msms-api/internal/models"
)

const requestColumns = "id, student_id, num_of_lessons, days_between_lessons, lesson_duration_mins, availability, notes, fulfilled, created_at, updated_at"

// RequestRepository persists student lesson requests.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository instantiates a request repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns lesson requests matching provided filters.
func (r *RequestRepository) List(ctx context.Context, filter models.LessonRequestFilter) ([]models.LessonRequest, int, error) {
	base := "FROM lesson_requests WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.StudentID != nil {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, *filter.StudentID)
	}
	if filter.Fulfilled != nil {
		conditions = append(conditions, fmt.Sprintf("fulfilled = $%d", len(args)+1))
		args = append(args, *filter.Fulfilled)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at %s LIMIT %d OFFSET %d", requestColumns, base, order, size, offset)

	var requests []models.LessonRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list lesson requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count lesson requests: %w", err)
	}

	return requests, total, nil
}

// FindByID loads a lesson request by identifier.
func (r *RequestRepository) FindByID(ctx context.Context, id int64) (*models.LessonRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM lesson_requests WHERE id = $1", requestColumns)
	var request models.LessonRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// Create inserts a new lesson request.
func (r *RequestRepository) Create(ctx context.Context, request *models.LessonRequest) error {
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now

	const query = `
INSERT INTO lesson_requests (student_id, num_of_lessons, days_between_lessons, lesson_duration_mins, availability, notes, fulfilled, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`
	if err := r.db.GetContext(ctx, &request.ID, query,
		request.StudentID, request.NumOfLessons, request.DaysBetweenLessons, request.LessonDurationMins,
		request.Availability, request.Notes, request.Fulfilled, request.CreatedAt, request.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create lesson request: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of a pending request.
func (r *RequestRepository) Update(ctx context.Context, request *models.LessonRequest) error {
	request.UpdatedAt = time.Now().UTC()
	const query = `
UPDATE lesson_requests
SET num_of_lessons = $1, days_between_lessons = $2, lesson_duration_mins = $3, availability = $4, notes = $5, updated_at = $6
WHERE id = $7`
	result, err := r.db.ExecContext(ctx, query,
		request.NumOfLessons, request.DaysBetweenLessons, request.LessonDurationMins,
		request.Availability, request.Notes, request.UpdatedAt, request.ID,
	)
	if err != nil {
		return fmt.Errorf("update lesson request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("lesson request rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkFulfilled flips the request into its terminal state. The WHERE clause
// guards the single pending -> fulfilled transition.
func (r *RequestRepository) MarkFulfilled(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	const query = `UPDATE lesson_requests SET fulfilled = TRUE, updated_at = $1 WHERE id = $2 AND fulfilled = FALSE`
	result, err := r.exec(exec).ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark request fulfilled: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("lesson request rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a lesson request.
func (r *RequestRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM lesson_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete lesson request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("lesson request rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
