package models

import "time"

// SchoolTerm models a date interval during which lessons may be scheduled.
// Terms are stored date-only; the time component of StartDate and EndDate is
// always midnight UTC.
type SchoolTerm struct {
	ID        int64     `db:"id" json:"id"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Overlaps reports whether the closed intervals of two terms intersect.
// Touching boundaries count as an overlap, so adjacent terms must leave at
// least one day between them.
func (t SchoolTerm) Overlaps(other SchoolTerm) bool {
	return !t.StartDate.After(other.EndDate) && !t.EndDate.Before(other.StartDate)
}

// Contains reports whether the date falls strictly inside the term. Boundary
// days are reserved and never hold lessons.
func (t SchoolTerm) Contains(date time.Time) bool {
	d := Midnight(date)
	return t.StartDate.Before(d) && t.EndDate.After(d)
}

// TermContaining returns the first term that contains the date, or nil when
// the date falls outside every term.
func TermContaining(terms []SchoolTerm, date time.Time) *SchoolTerm {
	for i := range terms {
		if terms[i].Contains(date) {
			return &terms[i]
		}
	}
	return nil
}

// Midnight truncates a timestamp to its UTC calendar day.
func Midnight(ts time.Time) time.Time {
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
