package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/msms-dev/msms-api/internal/models"
	appErrors "github.com/msms-dev/msms-api/pkg/errors"
)

type termRepository interface {
	ListAll(ctx context.Context) ([]models.SchoolTerm, error)
	FindByID(ctx context.Context, id int64) (*models.SchoolTerm, error)
	AcquireRegistryLock(ctx context.Context, exec sqlx.ExtContext) error
	ExistsOverlapping(ctx context.Context, exec sqlx.ExtContext, start, end time.Time, excludeID int64) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, term *models.SchoolTerm) error
	Update(ctx context.Context, exec sqlx.ExtContext, term *models.SchoolTerm) error
	Delete(ctx context.Context, id int64) error
}

type termLessonCounter interface {
	CountInRange(ctx context.Context, start, end time.Time) (int, error)
}

type termCalendarCache interface {
	GetTerms(ctx context.Context) ([]models.SchoolTerm, bool)
	SetTerms(ctx context.Context, terms []models.SchoolTerm)
	Invalidate(ctx context.Context)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// TermRequest carries the date interval for creating or editing a term.
type TermRequest struct {
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

// TermService maintains the authoritative set of non-overlapping school
// terms. Overlap validation runs under a registry-scoped advisory lock so two
// concurrent submissions for intersecting ranges cannot both succeed.
type TermService struct {
	repo      termRepository
	lessons   termLessonCounter
	cache     termCalendarCache
	tx        txProvider
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTermService creates a new term service instance.
func NewTermService(repo termRepository, lessons termLessonCounter, cache termCalendarCache, tx txProvider, validate *validator.Validate, logger *zap.Logger) *TermService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermService{repo: repo, lessons: lessons, cache: cache, tx: tx, validator: validate, logger: logger}
}

// List returns the full term calendar in start-date order, served from cache
// when available.
func (s *TermService) List(ctx context.Context) ([]models.SchoolTerm, error) {
	if s.cache != nil {
		if terms, ok := s.cache.GetTerms(ctx); ok {
			return terms, nil
		}
	}
	terms, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list school terms")
	}
	if s.cache != nil {
		s.cache.SetTerms(ctx, terms)
	}
	return terms, nil
}

// FindContaining returns the first term strictly containing the date, or a
// not-found error when the date lands outside every term.
func (s *TermService) FindContaining(ctx context.Context, date time.Time) (*models.SchoolTerm, error) {
	terms, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	term := models.TermContaining(terms, date)
	if term == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no school term contains that date")
	}
	return term, nil
}

// Get returns a term by ID.
func (s *TermService) Get(ctx context.Context, id int64) (*models.SchoolTerm, error) {
	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "school term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school term")
	}
	return term, nil
}

// Create registers a new term after interval and overlap validation.
func (s *TermService) Create(ctx context.Context, req TermRequest) (*models.SchoolTerm, error) {
	term, err := s.validated(req)
	if err != nil {
		return nil, err
	}

	if err := s.writeSerialized(ctx, term, 0, func(tx *sqlx.Tx) error {
		return s.repo.Create(ctx, tx, term)
	}); err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	return term, nil
}

// Update edits a term's interval, excluding the term itself from the overlap
// check.
func (s *TermService) Update(ctx context.Context, id int64, req TermRequest) (*models.SchoolTerm, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	term, err := s.validated(req)
	if err != nil {
		return nil, err
	}
	term.ID = existing.ID
	term.CreatedAt = existing.CreatedAt

	if err := s.writeSerialized(ctx, term, id, func(tx *sqlx.Tx) error {
		return s.repo.Update(ctx, tx, term)
	}); err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	return term, nil
}

// Delete removes a term. A term still hosting scheduled lessons cannot be
// removed; existing lessons are never retroactively invalidated.
func (s *TermService) Delete(ctx context.Context, id int64) error {
	term, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	count, err := s.lessons.CountInRange(ctx, term.StartDate, term.EndDate)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check term lessons")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "term has lessons scheduled within it")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "school term not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete school term")
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	return nil
}

func (s *TermService) validated(req TermRequest) (*models.SchoolTerm, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}

	start := models.Midnight(req.StartDate)
	end := models.Midnight(req.EndDate)
	if start.After(end) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date must not be after end_date")
	}

	return &models.SchoolTerm{StartDate: start, EndDate: end}, nil
}

// writeSerialized runs the overlap check and the registry write inside one
// transaction holding the registry advisory lock.
func (s *TermService) writeSerialized(ctx context.Context, term *models.SchoolTerm, excludeID int64, write func(tx *sqlx.Tx) error) error {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin term transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.repo.AcquireRegistryLock(ctx, tx); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock term registry")
	}

	overlaps, err := s.repo.ExistsOverlapping(ctx, tx, term.StartDate, term.EndDate, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check term overlap")
	}
	if overlaps {
		return appErrors.Clone(appErrors.ErrValidation, "term overlaps an existing school term")
	}

	if err := write(tx); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store school term")
	}

	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit term transaction")
	}
	return nil
}
