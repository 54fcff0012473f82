package models

import (
	"strings"
	"time"
)

// Weekday codes accepted in a lesson request's availability field.
var Weekdays = []string{"MON", "TUE", "WED", "THU", "FRI", "SAT", "SUN"}

// LessonRequest is a student-submitted cadence request awaiting fulfillment
// into a booking by an administrator. Fulfilled is terminal once set.
type LessonRequest struct {
	ID                 int64     `db:"id" json:"id"`
	StudentID          int64     `db:"student_id" json:"student_id"`
	NumOfLessons       int       `db:"num_of_lessons" json:"num_of_lessons"`
	DaysBetweenLessons int       `db:"days_between_lessons" json:"days_between_lessons"`
	LessonDurationMins int       `db:"lesson_duration_mins" json:"lesson_duration_mins"`
	Availability       string    `db:"availability" json:"availability"`
	Notes              string    `db:"notes" json:"notes"`
	Fulfilled          bool      `db:"fulfilled" json:"fulfilled"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// ValidAvailability reports whether the comma-joined availability string is a
// subset of the weekday code set. The empty string is allowed.
func ValidAvailability(availability string) bool {
	if availability == "" {
		return true
	}
	valid := make(map[string]struct{}, len(Weekdays))
	for _, day := range Weekdays {
		valid[day] = struct{}{}
	}
	for _, code := range strings.Split(availability, ",") {
		if _, ok := valid[strings.TrimSpace(code)]; !ok {
			return false
		}
	}
	return true
}

// LessonRequestFilter defines filters supported by request list endpoints.
type LessonRequestFilter struct {
	StudentID *int64
	Fulfilled *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
