package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msms-dev/msms-api/internal/models"
	appErrors "github.com/msms-dev/msms-api/pkg/errors"
)

type mockRequestRepo struct {
	requests   map[int64]models.LessonRequest
	listFilter models.LessonRequestFilter
	created    *models.LessonRequest
	updated    *models.LessonRequest
	deleted    int64
}

func (m *mockRequestRepo) List(ctx context.Context, filter models.LessonRequestFilter) ([]models.LessonRequest, int, error) {
	m.listFilter = filter
	var list []models.LessonRequest
	for _, r := range m.requests {
		list = append(list, r)
	}
	return list, len(list), nil
}

func (m *mockRequestRepo) FindByID(ctx context.Context, id int64) (*models.LessonRequest, error) {
	if r, ok := m.requests[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRequestRepo) Create(ctx context.Context, request *models.LessonRequest) error {
	request.ID = 1
	m.created = request
	return nil
}

func (m *mockRequestRepo) Update(ctx context.Context, request *models.LessonRequest) error {
	m.updated = request
	return nil
}

func (m *mockRequestRepo) Delete(ctx context.Context, id int64) error {
	m.deleted = id
	return nil
}

func newRequestFixture(repo *mockRequestRepo) *RequestService {
	users := &mockUserReader{users: map[int64]models.User{
		5: {ID: 5, FirstName: "Alice", LastName: "Smith", Role: models.RoleStudent, ParentID: ptrInt64(3)},
		2: {ID: 2, FirstName: "Bob", LastName: "Jones", Role: models.RoleTeacher},
	}}
	return NewRequestService(repo, users, nil, nil)
}

func TestRequestCreateAppliesDefaults(t *testing.T) {
	repo := &mockRequestRepo{}
	svc := newRequestFixture(repo)

	request, err := svc.Create(context.Background(), adminActor(), LessonRequestPayload{
		StudentID:    5,
		NumOfLessons: 3,
		Availability: "MON,WED",
	})
	require.NoError(t, err)
	assert.Equal(t, 7, request.DaysBetweenLessons)
	assert.Equal(t, 60, request.LessonDurationMins)
	assert.False(t, request.Fulfilled)
}

func TestRequestCreateRejectsBadAvailability(t *testing.T) {
	svc := newRequestFixture(&mockRequestRepo{})

	_, err := svc.Create(context.Background(), adminActor(), LessonRequestPayload{
		StudentID:    5,
		NumOfLessons: 3,
		Availability: "MON,FUNDAY",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestRequestCreateRejectsNonStudent(t *testing.T) {
	svc := newRequestFixture(&mockRequestRepo{})

	_, err := svc.Create(context.Background(), adminActor(), LessonRequestPayload{
		StudentID:    2,
		NumOfLessons: 3,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestRequestUpdateFrozenWhenFulfilled(t *testing.T) {
	repo := &mockRequestRepo{requests: map[int64]models.LessonRequest{
		4: {ID: 4, StudentID: 5, NumOfLessons: 3, Fulfilled: true},
	}}
	svc := newRequestFixture(repo)

	_, err := svc.Update(context.Background(), adminActor(), 4, LessonRequestPayload{StudentID: 5, NumOfLessons: 5})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrRequestFulfilled))
	assert.Nil(t, repo.updated)
}

func TestRequestDeleteFrozenWhenFulfilled(t *testing.T) {
	repo := &mockRequestRepo{requests: map[int64]models.LessonRequest{
		4: {ID: 4, StudentID: 5, NumOfLessons: 3, Fulfilled: true},
	}}
	svc := newRequestFixture(repo)

	err := svc.Delete(context.Background(), adminActor(), 4)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrRequestFulfilled))
	assert.Zero(t, repo.deleted)
}

func TestRequestUpdatePending(t *testing.T) {
	repo := &mockRequestRepo{requests: map[int64]models.LessonRequest{
		4: {ID: 4, StudentID: 5, NumOfLessons: 3, DaysBetweenLessons: 7, LessonDurationMins: 60},
	}}
	svc := newRequestFixture(repo)

	request, err := svc.Update(context.Background(), adminActor(), 4, LessonRequestPayload{
		StudentID:          5,
		NumOfLessons:       5,
		DaysBetweenLessons: 14,
		LessonDurationMins: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, request.NumOfLessons)
	assert.Equal(t, 14, request.DaysBetweenLessons)
	assert.NotNil(t, repo.updated)
}

func TestRequestCreatePinsStudentToCaller(t *testing.T) {
	repo := &mockRequestRepo{}
	svc := newRequestFixture(repo)

	request, err := svc.Create(context.Background(), studentActor(5), LessonRequestPayload{
		StudentID:    99,
		NumOfLessons: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), request.StudentID)
}

func TestRequestCreateParentForLinkedChildOnly(t *testing.T) {
	repo := &mockRequestRepo{}
	svc := newRequestFixture(repo)

	request, err := svc.Create(context.Background(), parentActor(3), LessonRequestPayload{
		StudentID:    5,
		NumOfLessons: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), request.StudentID)

	_, err = svc.Create(context.Background(), parentActor(8), LessonRequestPayload{
		StudentID:    5,
		NumOfLessons: 3,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestRequestListScopedToCaller(t *testing.T) {
	repo := &mockRequestRepo{}
	svc := newRequestFixture(repo)

	_, _, err := svc.List(context.Background(), studentActor(5), models.LessonRequestFilter{})
	require.NoError(t, err)
	require.NotNil(t, repo.listFilter.StudentID)
	assert.Equal(t, int64(5), *repo.listFilter.StudentID)

	_, _, err = svc.List(context.Background(), parentActor(3), models.LessonRequestFilter{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestRequestMutationsForbiddenForOtherStudent(t *testing.T) {
	repo := &mockRequestRepo{requests: map[int64]models.LessonRequest{
		4: {ID: 4, StudentID: 5, NumOfLessons: 3, DaysBetweenLessons: 7, LessonDurationMins: 60},
	}}
	svc := newRequestFixture(repo)

	_, err := svc.Update(context.Background(), studentActor(6), 4, LessonRequestPayload{StudentID: 5, NumOfLessons: 5})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	assert.Nil(t, repo.updated)

	err = svc.Delete(context.Background(), studentActor(6), 4)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	assert.Zero(t, repo.deleted)

	_, err = svc.Get(context.Background(), parentActor(3), 4)
	require.NoError(t, err)

	err = svc.Delete(context.Background(), studentActor(5), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), repo.deleted)
}
