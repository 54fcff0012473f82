package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/msms-dev/msms-api/internal/models"
)

const lessonColumns = "id, booking_id, name, lesson_date, start_time, description, created_at"

// LessonRepository persists generated lesson occurrences.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository instantiates a lesson repository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

func (r *LessonRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListByBooking returns a booking's lessons in date order.
func (r *LessonRepository) ListByBooking(ctx context.Context, bookingID int64) ([]models.Lesson, error) {
	query := fmt.Sprintf("SELECT %s FROM lessons WHERE booking_id = $1 ORDER BY lesson_date ASC", lessonColumns)
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, bookingID); err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return lessons, nil
}

// InsertBatch stores every generated lesson for a booking.
func (r *LessonRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, lessons []models.Lesson) error {
	if len(lessons) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()

	const query = `
INSERT INTO lessons (booking_id, name, lesson_date, start_time, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`
	for i := range lessons {
		if lessons[i].CreatedAt.IsZero() {
			lessons[i].CreatedAt = now
		}
		if err := sqlx.GetContext(ctx, target, &lessons[i].ID, query,
			lessons[i].BookingID, lessons[i].Name, lessons[i].Date,
			lessons[i].StartTime, lessons[i].Description, lessons[i].CreatedAt,
		); err != nil {
			return fmt.Errorf("insert lesson: %w", err)
		}
	}
	return nil
}

// DeleteByBooking removes every lesson owned by a booking, ahead of a full
// regeneration.
func (r *LessonRepository) DeleteByBooking(ctx context.Context, exec sqlx.ExtContext, bookingID int64) error {
	if _, err := r.exec(exec).ExecContext(ctx, `DELETE FROM lessons WHERE booking_id = $1`, bookingID); err != nil {
		return fmt.Errorf("delete lessons: %w", err)
	}
	return nil
}

// CountInRange returns how many lessons fall inside the closed date range.
// Used to block deletion of a term that still hosts lessons.
func (r *LessonRepository) CountInRange(ctx context.Context, start, end time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM lessons WHERE lesson_date >= $1 AND lesson_date <= $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, start, end); err != nil {
		return 0, fmt.Errorf("count lessons in range: %w", err)
	}
	return count, nil
}
