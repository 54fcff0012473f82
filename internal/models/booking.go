package models

import "time"

// Booking represents a confirmed lesson arrangement between a student and a
// teacher. Every booking owns exactly one invoice and the set of lessons
// generated from its cadence.
type Booking struct {
	ID                 int64     `db:"id" json:"id"`
	StudentID          int64     `db:"student_id" json:"student_id"`
	TeacherID          int64     `db:"teacher_id" json:"teacher_id"`
	NumOfLessons       int       `db:"num_of_lessons" json:"num_of_lessons"`
	DaysBetweenLessons int       `db:"days_between_lessons" json:"days_between_lessons"`
	LessonDurationMins int       `db:"lesson_duration_mins" json:"lesson_duration_mins"`
	Description        string    `db:"description" json:"description"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// BookingDetail joins the booking with its invoice and generated lessons.
type BookingDetail struct {
	Booking
	Invoice *Invoice `json:"invoice,omitempty"`
	Lessons []Lesson `json:"lessons,omitempty"`
}

// BookingFilter defines filters supported by booking list endpoints.
type BookingFilter struct {
	StudentID *int64
	TeacherID *int64
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
