package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/msms-dev/msms-api/internal/models"
	appErrors "github.com/msms-dev/msms-api/pkg/errors"
)

type requestRepository interface {
	List(ctx context.Context, filter models.LessonRequestFilter) ([]models.LessonRequest, int, error)
	FindByID(ctx context.Context, id int64) (*models.LessonRequest, error)
	Create(ctx context.Context, request *models.LessonRequest) error
	Update(ctx context.Context, request *models.LessonRequest) error
	Delete(ctx context.Context, id int64) error
}

type requestUserReader interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	IsChild(ctx context.Context, childID, parentID int64) (bool, error)
}

// LessonRequestPayload is the student-facing cadence request. Days and
// duration fall back to weekly one-hour lessons when omitted.
type LessonRequestPayload struct {
	StudentID          int64  `json:"student_id" validate:"required,gt=0"`
	NumOfLessons       int    `json:"num_of_lessons" validate:"required,min=1"`
	DaysBetweenLessons int    `json:"days_between_lessons" validate:"omitempty,min=1"`
	LessonDurationMins int    `json:"lesson_duration_mins" validate:"omitempty,min=15"`
	Availability       string `json:"availability" validate:"max=30"`
	Notes              string `json:"notes" validate:"max=500"`
}

// RequestService manages the lesson request queue that administrators work
// through when arranging bookings.
type RequestService struct {
	repo      requestRepository
	users     requestUserReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRequestService creates a RequestService.
func NewRequestService(repo requestRepository, users requestUserReader, validate *validator.Validate, logger *zap.Logger) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{repo: repo, users: users, validator: validate, logger: logger}
}

// List returns paginated lesson requests. Students only see their own
// requests and parents see a selected child's.
func (s *RequestService) List(ctx context.Context, actor *models.JWTClaims, filter models.LessonRequestFilter) ([]models.LessonRequest, *models.Pagination, error) {
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

	requests, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lesson requests")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}

	return requests, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single lesson request the actor is allowed to see.
func (s *RequestService) Get(ctx context.Context, actor *models.JWTClaims, id int64) (*models.LessonRequest, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeStudent(ctx, s.users, actor, request.StudentID); err != nil {
		return nil, err
	}
	return request, nil
}

func (s *RequestService) load(ctx context.Context, id int64) (*models.LessonRequest, error) {
	request, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson request")
	}
	return request, nil
}

// Create records a new pending lesson request. Students may only request for
// themselves and parents only for a linked child.
func (s *RequestService) Create(ctx context.Context, actor *models.JWTClaims, payload LessonRequestPayload) (*models.LessonRequest, error) {
	if actor != nil && actor.Role == models.RoleStudent {
		payload.StudentID = actor.UserID
	}
	if err := s.validate(payload); err != nil {
		return nil, err
	}
	if err := authorizeStudent(ctx, s.users, actor, payload.StudentID); err != nil {
		return nil, err
	}

	student, err := s.users.FindByID(ctx, payload.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lesson requests belong to students")
	}

	request := &models.LessonRequest{
		StudentID:          payload.StudentID,
		NumOfLessons:       payload.NumOfLessons,
		DaysBetweenLessons: defaultInt(payload.DaysBetweenLessons, 7),
		LessonDurationMins: defaultInt(payload.LessonDurationMins, 60),
		Availability:       payload.Availability,
		Notes:              payload.Notes,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lesson request")
	}
	return request, nil
}

// Update edits a pending request. Fulfilled requests are frozen.
func (s *RequestService) Update(ctx context.Context, actor *models.JWTClaims, id int64, payload LessonRequestPayload) (*models.LessonRequest, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeStudent(ctx, s.users, actor, request.StudentID); err != nil {
		return nil, err
	}
	payload.StudentID = request.StudentID
	if err := s.validate(payload); err != nil {
		return nil, err
	}
	if request.Fulfilled {
		return nil, appErrors.ErrRequestFulfilled
	}

	request.NumOfLessons = payload.NumOfLessons
	request.DaysBetweenLessons = defaultInt(payload.DaysBetweenLessons, 7)
	request.LessonDurationMins = defaultInt(payload.LessonDurationMins, 60)
	request.Availability = payload.Availability
	request.Notes = payload.Notes

	if err := s.repo.Update(ctx, request); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lesson request")
	}
	return request, nil
}

// Delete withdraws a pending request. Fulfilled requests stay on record.
func (s *RequestService) Delete(ctx context.Context, actor *models.JWTClaims, id int64) error {
	request, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := authorizeStudent(ctx, s.users, actor, request.StudentID); err != nil {
		return err
	}
	if request.Fulfilled {
		return appErrors.ErrRequestFulfilled
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "lesson request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete lesson request")
	}
	return nil
}

func (s *RequestService) validate(payload LessonRequestPayload) error {
	if err := s.validator.Struct(payload); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson request payload")
	}
	if !models.ValidAvailability(payload.Availability) {
		return appErrors.Clone(appErrors.ErrValidation, "availability must be a comma-separated list of weekday codes")
	}
	return nil
}
