package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/msms-dev/msms-api/internal/models"
	"github.com/msms-dev/msms-api/internal/repository"
	appErrors "github.com/msms-dev/msms-api/pkg/errors"
)

type bookingRepository interface {
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error)
	FindByID(ctx context.Context, id int64) (*models.Booking, error)
	Create(ctx context.Context, exec sqlx.ExtContext, booking *models.Booking) error
	Update(ctx context.Context, exec sqlx.ExtContext, booking *models.Booking) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error
}

type lessonRepository interface {
	ListByBooking(ctx context.Context, bookingID int64) ([]models.Lesson, error)
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, lessons []models.Lesson) error
	DeleteByBooking(ctx context.Context, exec sqlx.ExtContext, bookingID int64) error
}

type bookingTermReader interface {
	ListAll(ctx context.Context) ([]models.SchoolTerm, error)
}

type bookingUserReader interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	IsChild(ctx context.Context, childID, parentID int64) (bool, error)
}

type bookingInvoicer interface {
	CreateForBooking(ctx context.Context, exec sqlx.ExtContext, booking models.Booking) (*models.Invoice, error)
	UpdateForBooking(ctx context.Context, exec sqlx.ExtContext, booking models.Booking) (*models.Invoice, error)
	GetForBooking(ctx context.Context, bookingID int64) (*models.Invoice, error)
}

type lessonGenerator interface {
	Generate(booking models.Booking, terms []models.SchoolTerm, studentName, teacherName string) ([]models.Lesson, error)
}

type bookingMetrics interface {
	RecordBookingCreated(lessonCount int)
	RecordSchedulingExhausted()
}

type fulfillmentRepository interface {
	FindByID(ctx context.Context, id int64) (*models.LessonRequest, error)
	MarkFulfilled(ctx context.Context, exec sqlx.ExtContext, id int64) error
}

// CreateBookingRequest describes payload for confirming a lesson arrangement.
type CreateBookingRequest struct {
	StudentID          int64  `json:"student_id" validate:"required,gt=0"`
	TeacherID          int64  `json:"teacher_id" validate:"required,gt=0"`
	NumOfLessons       int    `json:"num_of_lessons" validate:"required,min=1"`
	DaysBetweenLessons int    `json:"days_between_lessons" validate:"omitempty,min=1"`
	LessonDurationMins int    `json:"lesson_duration_mins" validate:"omitempty,min=15"`
	Description        string `json:"description" validate:"max=500"`
}

// UpdateBookingRequest rewrites a booking's cadence. Lessons regenerate in
// full and the invoice price tracks the new parameters.
type UpdateBookingRequest struct {
	TeacherID          int64  `json:"teacher_id" validate:"required,gt=0"`
	NumOfLessons       int    `json:"num_of_lessons" validate:"required,min=1"`
	DaysBetweenLessons int    `json:"days_between_lessons" validate:"required,min=1"`
	LessonDurationMins int    `json:"lesson_duration_mins" validate:"required,min=15"`
	Description        string `json:"description" validate:"max=500"`
}

// FulfillRequestPayload converts a pending lesson request into a booking.
// Cadence fields default to the request's own values when omitted.
type FulfillRequestPayload struct {
	TeacherID          int64  `json:"teacher_id" validate:"required,gt=0"`
	NumOfLessons       int    `json:"num_of_lessons" validate:"omitempty,min=1"`
	DaysBetweenLessons int    `json:"days_between_lessons" validate:"omitempty,min=1"`
	LessonDurationMins int    `json:"lesson_duration_mins" validate:"omitempty,min=15"`
	Description        string `json:"description" validate:"max=500"`
}

// BookingService is the transactional boundary for confirming lessons.
// Every mutating operation spans the booking header, the invoice and the
// lesson set in one transaction; any failure rolls the whole unit back.
type BookingService struct {
	bookings  bookingRepository
	lessons   lessonRepository
	terms     bookingTermReader
	users     bookingUserReader
	invoices  bookingInvoicer
	requests  fulfillmentRepository
	scheduler lessonGenerator
	tx        txProvider
	metrics   bookingMetrics
	validator *validator.Validate
	logger    *zap.Logger
}

// NewBookingService wires the booking aggregate.
func NewBookingService(
	bookings bookingRepository,
	lessons lessonRepository,
	terms bookingTermReader,
	users bookingUserReader,
	invoices bookingInvoicer,
	requests fulfillmentRepository,
	scheduler lessonGenerator,
	tx txProvider,
	validate *validator.Validate,
	logger *zap.Logger,
) *BookingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingService{
		bookings:  bookings,
		lessons:   lessons,
		terms:     terms,
		users:     users,
		invoices:  invoices,
		requests:  requests,
		scheduler: scheduler,
		tx:        tx,
		validator: validate,
		logger:    logger,
	}
}

// WithMetrics attaches booking instrumentation.
func (s *BookingService) WithMetrics(m bookingMetrics) *BookingService {
	s.metrics = m
	return s
}

// List returns paginated bookings. Students only see their own bookings and
// parents see a selected child's.
func (s *BookingService) List(ctx context.Context, actor *models.JWTClaims, filter models.BookingFilter) ([]models.Booking, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleStudent:
		filter.StudentID = &actor.UserID
	case models.RoleParent:
		if filter.StudentID == nil {
			return nil, nil, errSelectChild("studentId")
		}
		if err := authorizeStudent(ctx, s.users, actor, *filter.StudentID); err != nil {
			return nil, nil, err
		}
	}

	bookings, total, err := s.bookings.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bookings")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}

	return bookings, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads a booking together with its invoice and lessons. Non-staff
// callers must own the booking or be the student's guardian.
func (s *BookingService) Get(ctx context.Context, actor *models.JWTClaims, id int64) (*models.BookingDetail, error) {
	booking, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}
	if err := authorizeStudent(ctx, s.users, actor, booking.StudentID); err != nil {
		return nil, err
	}
	return s.detail(ctx, *booking)
}

// Create persists a booking header, attaches its invoice and materializes
// every lesson as one atomic unit.
func (s *BookingService) Create(ctx context.Context, req CreateBookingRequest) (*models.BookingDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}

	booking := models.Booking{
		StudentID:          req.StudentID,
		TeacherID:          req.TeacherID,
		NumOfLessons:       req.NumOfLessons,
		DaysBetweenLessons: defaultInt(req.DaysBetweenLessons, 7),
		LessonDurationMins: defaultInt(req.LessonDurationMins, 60),
		Description:        req.Description,
	}

	return s.createBooking(ctx, booking, 0)
}

// Update rewrites cadence parameters, recomputes the invoice price and
// regenerates the full lesson set.
func (s *BookingService) Update(ctx context.Context, id int64, req UpdateBookingRequest) (*models.BookingDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}

	existing, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}

	student, teacher, err := s.participants(ctx, existing.StudentID, req.TeacherID)
	if err != nil {
		return nil, err
	}

	terms, err := s.terms.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school terms")
	}

	booking := *existing
	booking.TeacherID = req.TeacherID
	booking.NumOfLessons = req.NumOfLessons
	booking.DaysBetweenLessons = req.DaysBetweenLessons
	booking.LessonDurationMins = req.LessonDurationMins
	booking.Description = req.Description

	lessons, err := s.scheduler.Generate(booking, terms, student.FullName(), teacher.FullName())
	if err != nil {
		return nil, err
	}

	var invoice *models.Invoice
	err = s.runInTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.bookings.Update(ctx, tx, &booking); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update booking")
		}
		if invoice, err = s.invoices.UpdateForBooking(ctx, tx, booking); err != nil {
			return err
		}
		if err := s.lessons.DeleteByBooking(ctx, tx, booking.ID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to discard lessons")
		}
		if err := s.lessons.InsertBatch(ctx, tx, lessons); err != nil {
			if repository.IsUniqueViolation(err) {
				return appErrors.Clone(appErrors.ErrConflict, "lesson name already in use")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store lessons")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &models.BookingDetail{Booking: booking, Invoice: invoice, Lessons: lessons}, nil
}

// Delete removes a booking; its lessons and invoice cascade with it.
func (s *BookingService) Delete(ctx context.Context, id int64) error {
	return s.runInTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.bookings.Delete(ctx, tx, id); err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "booking not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete booking")
		}
		return nil
	})
}

// FulfillRequest atomically creates a booking from a pending lesson request
// and flips the request into its terminal fulfilled state. Either both
// happen or neither does.
func (s *BookingService) FulfillRequest(ctx context.Context, requestID int64, payload FulfillRequestPayload) (*models.BookingDetail, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fulfillment payload")
	}

	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson request")
	}
	if request.Fulfilled {
		return nil, appErrors.ErrRequestFulfilled
	}

	booking := models.Booking{
		StudentID:          request.StudentID,
		TeacherID:          payload.TeacherID,
		NumOfLessons:       defaultInt(payload.NumOfLessons, request.NumOfLessons),
		DaysBetweenLessons: defaultInt(payload.DaysBetweenLessons, request.DaysBetweenLessons),
		LessonDurationMins: defaultInt(payload.LessonDurationMins, request.LessonDurationMins),
		Description:        payload.Description,
	}
	if booking.Description == "" {
		booking.Description = request.Notes
	}

	return s.createBooking(ctx, booking, request.ID)
}

// createBooking runs the shared create path; when fulfillRequestID is
// non-zero the request flip joins the same transaction.
func (s *BookingService) createBooking(ctx context.Context, booking models.Booking, fulfillRequestID int64) (*models.BookingDetail, error) {
	student, teacher, err := s.participants(ctx, booking.StudentID, booking.TeacherID)
	if err != nil {
		return nil, err
	}

	terms, err := s.terms.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school terms")
	}

	var (
		invoice *models.Invoice
		lessons []models.Lesson
	)
	err = s.runInTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.bookings.Create(ctx, tx, &booking); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create booking")
		}

		if invoice, err = s.invoices.CreateForBooking(ctx, tx, booking); err != nil {
			return err
		}

		if lessons, err = s.scheduler.Generate(booking, terms, student.FullName(), teacher.FullName()); err != nil {
			return err
		}
		if err := s.lessons.InsertBatch(ctx, tx, lessons); err != nil {
			if repository.IsUniqueViolation(err) {
				return appErrors.Clone(appErrors.ErrConflict, "lesson name already in use")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store lessons")
		}

		if fulfillRequestID != 0 {
			if err := s.requests.MarkFulfilled(ctx, tx, fulfillRequestID); err != nil {
				if err == sql.ErrNoRows {
					return appErrors.ErrRequestFulfilled
				}
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark request fulfilled")
			}
		}
		return nil
	})
	if err != nil {
		if s.metrics != nil && appErrors.Is(err, appErrors.ErrSchedulingExhausted) {
			s.metrics.RecordSchedulingExhausted()
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordBookingCreated(len(lessons))
	}

	return &models.BookingDetail{Booking: booking, Invoice: invoice, Lessons: lessons}, nil
}

func (s *BookingService) detail(ctx context.Context, booking models.Booking) (*models.BookingDetail, error) {
	detail := &models.BookingDetail{Booking: booking}

	lessons, err := s.lessons.ListByBooking(ctx, booking.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lessons")
	}
	detail.Lessons = lessons

	invoice, err := s.invoices.GetForBooking(ctx, booking.ID)
	if err != nil {
		if !appErrors.Is(err, appErrors.ErrNotFound) {
			return nil, err
		}
	} else {
		detail.Invoice = invoice
	}

	return detail, nil
}

// participants loads and role-checks both sides of a booking.
func (s *BookingService) participants(ctx context.Context, studentID, teacherID int64) (*models.User, *models.User, error) {
	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "booking owner must be a student")
	}

	teacher, err := s.users.FindByID(ctx, teacherID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if teacher.Role != models.RoleTeacher {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "assigned user must be a teacher")
	}

	return student, teacher, nil
}

func (s *BookingService) runInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin booking transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit booking transaction")
	}
	return nil
}

func defaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}
