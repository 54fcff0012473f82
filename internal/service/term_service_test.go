package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msms-dev/msms-api/internal/models"
	appErrors "github.com/msms-dev/msms-api/pkg/errors"
)

type mockTermRepo struct {
	terms       map[int64]models.SchoolTerm
	overlap     bool
	lockCalls   int
	excludeSeen int64
	created     *models.SchoolTerm
	updated     *models.SchoolTerm
	deleted     int64
}

func (m *mockTermRepo) ListAll(ctx context.Context) ([]models.SchoolTerm, error) {
	var list []models.SchoolTerm
	for _, term := range m.terms {
		list = append(list, term)
	}
	return list, nil
}

func (m *mockTermRepo) FindByID(ctx context.Context, id int64) (*models.SchoolTerm, error) {
	if term, ok := m.terms[id]; ok {
		return &term, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTermRepo) AcquireRegistryLock(ctx context.Context, exec sqlx.ExtContext) error {
	m.lockCalls++
	return nil
}

func (m *mockTermRepo) ExistsOverlapping(ctx context.Context, exec sqlx.ExtContext, start, end time.Time, excludeID int64) (bool, error) {
	m.excludeSeen = excludeID
	return m.overlap, nil
}

func (m *mockTermRepo) Create(ctx context.Context, exec sqlx.ExtContext, term *models.SchoolTerm) error {
	term.ID = 1
	m.created = term
	return nil
}

func (m *mockTermRepo) Update(ctx context.Context, exec sqlx.ExtContext, term *models.SchoolTerm) error {
	m.updated = term
	return nil
}

func (m *mockTermRepo) Delete(ctx context.Context, id int64) error {
	m.deleted = id
	return nil
}

type mockLessonCounter struct {
	count int
}

func (m *mockLessonCounter) CountInRange(ctx context.Context, start, end time.Time) (int, error) {
	return m.count, nil
}

type mockCalendarCache struct {
	terms        []models.SchoolTerm
	hit          bool
	invalidated  int
	storedCounts []int
}

func (m *mockCalendarCache) GetTerms(ctx context.Context) ([]models.SchoolTerm, bool) {
	return m.terms, m.hit
}

func (m *mockCalendarCache) SetTerms(ctx context.Context, terms []models.SchoolTerm) {
	m.storedCounts = append(m.storedCounts, len(terms))
}

func (m *mockCalendarCache) Invalidate(ctx context.Context) {
	m.invalidated++
}

func newTermFixture(t *testing.T, repo *mockTermRepo, lessons *mockLessonCounter, cache *mockCalendarCache) (*TermService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTermService(repo, lessons, cache, sqlx.NewDb(db, "sqlmock"), nil, nil), mock
}

func TestTermServiceCreate(t *testing.T) {
	repo := &mockTermRepo{}
	svc, mock := newTermFixture(t, repo, &mockLessonCounter{}, &mockCalendarCache{})
	mock.ExpectBegin()
	mock.ExpectCommit()

	term, err := svc.Create(context.Background(), TermRequest{
		StartDate: time.Date(2022, 9, 1, 8, 15, 0, 0, time.UTC),
		EndDate:   day(2022, 10, 21),
	})
	require.NoError(t, err)

	assert.Equal(t, day(2022, 9, 1), term.StartDate, "dates are normalized to midnight")
	assert.Equal(t, 1, repo.lockCalls)
	assert.NotNil(t, repo.created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermServiceCreateRejectsOverlap(t *testing.T) {
	repo := &mockTermRepo{overlap: true}
	cache := &mockCalendarCache{}
	svc, mock := newTermFixture(t, repo, &mockLessonCounter{}, cache)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), TermRequest{
		StartDate: day(2022, 9, 1),
		EndDate:   day(2022, 10, 21),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Nil(t, repo.created)
	assert.Zero(t, cache.invalidated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermServiceCreateRejectsInvertedInterval(t *testing.T) {
	svc, _ := newTermFixture(t, &mockTermRepo{}, &mockLessonCounter{}, &mockCalendarCache{})

	_, err := svc.Create(context.Background(), TermRequest{
		StartDate: day(2022, 10, 21),
		EndDate:   day(2022, 9, 1),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestTermServiceUpdateExcludesSelfFromOverlapCheck(t *testing.T) {
	repo := &mockTermRepo{terms: map[int64]models.SchoolTerm{
		7: {ID: 7, StartDate: day(2022, 9, 1), EndDate: day(2022, 10, 21)},
	}}
	svc, mock := newTermFixture(t, repo, &mockLessonCounter{}, &mockCalendarCache{})
	mock.ExpectBegin()
	mock.ExpectCommit()

	term, err := svc.Update(context.Background(), 7, TermRequest{
		StartDate: day(2022, 9, 1),
		EndDate:   day(2022, 10, 28),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), term.ID)
	assert.Equal(t, int64(7), repo.excludeSeen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermServiceDeleteBlockedByLessons(t *testing.T) {
	repo := &mockTermRepo{terms: map[int64]models.SchoolTerm{
		7: {ID: 7, StartDate: day(2022, 9, 1), EndDate: day(2022, 10, 21)},
	}}
	svc, _ := newTermFixture(t, repo, &mockLessonCounter{count: 3}, &mockCalendarCache{})

	err := svc.Delete(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))
	assert.Zero(t, repo.deleted)
}

func TestTermServiceDelete(t *testing.T) {
	repo := &mockTermRepo{terms: map[int64]models.SchoolTerm{
		7: {ID: 7, StartDate: day(2022, 9, 1), EndDate: day(2022, 10, 21)},
	}}
	cache := &mockCalendarCache{}
	svc, _ := newTermFixture(t, repo, &mockLessonCounter{}, cache)

	require.NoError(t, svc.Delete(context.Background(), 7))
	assert.Equal(t, int64(7), repo.deleted)
	assert.Equal(t, 1, cache.invalidated)
}

func TestTermServiceListUsesCache(t *testing.T) {
	cached := []models.SchoolTerm{{ID: 1, StartDate: day(2022, 9, 1), EndDate: day(2022, 10, 21)}}
	cache := &mockCalendarCache{terms: cached, hit: true}
	svc, _ := newTermFixture(t, &mockTermRepo{}, &mockLessonCounter{}, cache)

	terms, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cached, terms)
	assert.Empty(t, cache.storedCounts)
}

func TestTermServiceListFillsCacheOnMiss(t *testing.T) {
	repo := &mockTermRepo{terms: map[int64]models.SchoolTerm{
		1: {ID: 1, StartDate: day(2022, 9, 1), EndDate: day(2022, 10, 21)},
	}}
	cache := &mockCalendarCache{}
	svc, _ := newTermFixture(t, repo, &mockLessonCounter{}, cache)

	terms, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, terms, 1)
	assert.Equal(t, []int{1}, cache.storedCounts)
}

func TestTermServiceFindContaining(t *testing.T) {
	repo := &mockTermRepo{terms: map[int64]models.SchoolTerm{
		1: {ID: 1, StartDate: day(2022, 9, 1), EndDate: day(2022, 10, 21)},
	}}
	svc, _ := newTermFixture(t, repo, &mockLessonCounter{}, &mockCalendarCache{})

	term, err := svc.FindContaining(context.Background(), day(2022, 9, 8))
	require.NoError(t, err)
	assert.Equal(t, int64(1), term.ID)

	_, err = svc.FindContaining(context.Background(), day(2022, 9, 1))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	_, err = svc.FindContaining(context.Background(), day(2023, 1, 15))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
