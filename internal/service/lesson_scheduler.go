package service

import (
	"fmt"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/msms-dev/msms-api/internal/models"
	"github.com/msms-dev/msms-api/pkg/config"
	appErrors "github.com/msms-dev/msms-api/pkg/errors"
)

// LessonScheduler expands a booking's cadence into dated lesson occurrences
// constrained to the school-term calendar. Generation is a pure computation
// over the booking and the term set; persistence belongs to the caller.
type LessonScheduler struct {
	maxAdvances  int
	earliestHour int
	latestHour   int
	pickHour     func(lo, hi int) int
	logger       *zap.Logger
}

// NewLessonScheduler builds a scheduler from configuration. The start-hour
// draw can be overridden in tests via WithHourPicker.
func NewLessonScheduler(cfg config.SchedulerConfig, logger *zap.Logger) *LessonScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAdvances := cfg.MaxDateAdvances
	if maxAdvances <= 0 {
		maxAdvances = 1024
	}
	earliest, latest := cfg.EarliestStartHour, cfg.LatestStartHour
	if earliest <= 0 {
		earliest = 9
	}
	if latest < earliest {
		latest = earliest
	}
	return &LessonScheduler{
		maxAdvances:  maxAdvances,
		earliestHour: earliest,
		latestHour:   latest,
		pickHour: func(lo, hi int) int {
			return lo + rand.Intn(hi-lo+1)
		},
		logger: logger,
	}
}

// WithHourPicker substitutes the start-hour draw, pinning schedules in tests.
func (s *LessonScheduler) WithHourPicker(pick func(lo, hi int) int) *LessonScheduler {
	s.pickHour = pick
	return s
}

// Generate produces exactly booking.NumOfLessons occurrences spaced by the
// cadence interval. The candidate date seeds at the earliest term's start
// plus one interval and advances by the interval on every attempt; dates not
// strictly inside any term are skipped without counting. The loop aborts
// once the total number of advances exceeds the configured bound.
func (s *LessonScheduler) Generate(booking models.Booking, terms []models.SchoolTerm, studentName, teacherName string) ([]models.Lesson, error) {
	if len(terms) == 0 {
		return nil, appErrors.Clone(appErrors.ErrSchedulingExhausted, "no school terms are registered")
	}

	sorted := make([]models.SchoolTerm, len(terms))
	copy(sorted, terms)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartDate.Before(sorted[j].StartDate)
	})

	startHour := s.pickHour(s.earliestHour, s.latestHour)
	startTime := fmt.Sprintf("%02d:00", startHour)

	candidate := models.Midnight(sorted[0].StartDate).AddDate(0, 0, booking.DaysBetweenLessons)

	lessons := make([]models.Lesson, 0, booking.NumOfLessons)
	advances := 0
	for len(lessons) < booking.NumOfLessons {
		if advances > s.maxAdvances {
			s.logger.Warn("lesson scheduling exhausted",
				zap.Int64("booking_id", booking.ID),
				zap.Int("placed", len(lessons)),
				zap.Int("wanted", booking.NumOfLessons),
				zap.Int("advances", advances),
			)
			return nil, appErrors.ErrSchedulingExhausted
		}

		if models.TermContaining(sorted, candidate) != nil {
			lessons = append(lessons, models.Lesson{
				BookingID:   booking.ID,
				Name:        lessonName(studentName, teacherName, booking.ID, len(lessons)),
				Date:        candidate,
				StartTime:   startTime,
				Description: booking.Description,
			})
		}

		candidate = candidate.AddDate(0, 0, booking.DaysBetweenLessons)
		advances++
	}

	return lessons, nil
}

func lessonName(studentName, teacherName string, bookingID int64, index int) string {
	return fmt.Sprintf("%s & %s - lesson %d.%d", studentName, teacherName, bookingID, index)
}
