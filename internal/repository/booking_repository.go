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

const bookingColumns = "id, student_id, teacher_id, num_of_lessons, days_between_lessons, lesson_duration_mins, description, created_at, updated_at"

// BookingRepository persists booking headers. Lesson and invoice rows are
// owned by their own repositories; the booking service spans all three with a
// single transaction.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository instantiates a booking repository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns bookings matching provided filters.
func (r *BookingRepository) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error) {
	base := "FROM bookings WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.StudentID != nil {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, *filter.StudentID)
	}
	if filter.TeacherID != nil {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, *filter.TeacherID)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"created_at":     true,
		"num_of_lessons": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", bookingColumns, base, sortBy, order, size, offset)

	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	return bookings, total, nil
}

// FindByID loads a booking by identifier.
func (r *BookingRepository) FindByID(ctx context.Context, id int64) (*models.Booking, error) {
	query := fmt.Sprintf("SELECT %s FROM bookings WHERE id = $1", bookingColumns)
	var booking models.Booking
	if err := r.db.GetContext(ctx, &booking, query, id); err != nil {
		return nil, err
	}
	return &booking, nil
}

// Create inserts a booking header and assigns its generated id.
func (r *BookingRepository) Create(ctx context.Context, exec sqlx.ExtContext, booking *models.Booking) error {
	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now

	const query = `
INSERT INTO bookings (student_id, teacher_id, num_of_lessons, days_between_lessons, lesson_duration_mins, description, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`
	if err := sqlx.GetContext(ctx, r.exec(exec), &booking.ID, query,
		booking.StudentID, booking.TeacherID, booking.NumOfLessons, booking.DaysBetweenLessons,
		booking.LessonDurationMins, booking.Description, booking.CreatedAt, booking.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

// Update rewrites a booking's cadence parameters.
func (r *BookingRepository) Update(ctx context.Context, exec sqlx.ExtContext, booking *models.Booking) error {
	booking.UpdatedAt = time.Now().UTC()
	const query = `
UPDATE bookings
SET teacher_id = $1, num_of_lessons = $2, days_between_lessons = $3, lesson_duration_mins = $4, description = $5, updated_at = $6
WHERE id = $7`
	result, err := r.exec(exec).ExecContext(ctx, query,
		booking.TeacherID, booking.NumOfLessons, booking.DaysBetweenLessons,
		booking.LessonDurationMins, booking.Description, booking.UpdatedAt, booking.ID,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("booking rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a booking. Lessons and the invoice cascade at the storage
// layer.
func (r *BookingRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	result, err := r.exec(exec).ExecContext(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("booking rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
