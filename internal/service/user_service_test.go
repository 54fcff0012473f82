package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/msms-dev/msms-api/internal/models"
	appErrors "github.com/msms-dev/msms-api/pkg/errors"
)

type mockUserRepo struct {
	users     map[int64]models.User
	created   *models.User
	createErr error
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var list []models.User
	for _, u := range m.users {
		list = append(list, u)
	}
	return list, len(list), nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) ListChildren(ctx context.Context, parentID int64) ([]models.User, error) {
	var children []models.User
	for _, u := range m.users {
		if u.ParentID != nil && *u.ParentID == parentID {
			children = append(children, u)
		}
	}
	return children, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	user.ID = 7
	m.created = user
	return nil
}

func TestUserRegister(t *testing.T) {
	repo := &mockUserRepo{}
	svc := NewUserService(repo, nil, nil)

	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:     "alice@example.com",
		Password:  "correct horse",
		FirstName: "Alice",
		LastName:  "Smith",
		Role:      "STUDENT",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RoleStudent, user.Role)
	assert.True(t, user.Active)
	assert.NotEqual(t, "correct horse", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correct horse")))
}

func TestUserRegisterRejectsPrivilegedRole(t *testing.T) {
	svc := NewUserService(&mockUserRepo{}, nil, nil)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:     "mallory@example.com",
		Password:  "correct horse",
		FirstName: "Mallory",
		LastName:  "Gray",
		Role:      "ADMIN",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	repo := &mockUserRepo{createErr: &pq.Error{Code: "23505"}}
	svc := NewUserService(repo, nil, nil)

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:     "alice@example.com",
		Password:  "correct horse",
		FirstName: "Alice",
		LastName:  "Smith",
		Role:      "TEACHER",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestUserGetNotFound(t *testing.T) {
	svc := NewUserService(&mockUserRepo{}, nil, nil)

	_, err := svc.Get(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestUserRegisterChild(t *testing.T) {
	repo := &mockUserRepo{}
	svc := NewUserService(repo, nil, nil)

	child, err := svc.RegisterChild(context.Background(), 3, RegisterChildRequest{
		Email:      "kid@example.com",
		Password:   "correct horse",
		FirstName:  "Casey",
		LastName:   "Doe",
		SchoolName: "Hillside Primary",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RoleStudent, child.Role, "children are always student accounts")
	require.NotNil(t, child.ParentID)
	assert.Equal(t, int64(3), *child.ParentID)
}

func TestUserChildrenListsLinkedAccounts(t *testing.T) {
	parentID := int64(3)
	repo := &mockUserRepo{users: map[int64]models.User{
		5: {ID: 5, Role: models.RoleStudent, ParentID: &parentID},
		6: {ID: 6, Role: models.RoleStudent},
	}}
	svc := NewUserService(repo, nil, nil)

	children, err := svc.Children(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, int64(5), children[0].ID)
}
