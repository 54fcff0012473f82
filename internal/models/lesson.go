package models

import "time"

// Lesson is one concrete scheduled occurrence generated from a booking's
// cadence. Date always falls strictly inside a registered school term.
type Lesson struct {
	ID          int64     `db:"id" json:"id"`
	BookingID   int64     `db:"booking_id" json:"booking_id"`
	Name        string    `db:"name" json:"name"`
	Date        time.Time `db:"lesson_date" json:"date"`
	StartTime   string    `db:"start_time" json:"start_time"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
