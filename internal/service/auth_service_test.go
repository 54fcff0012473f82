package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/msms-dev/msms-api/internal/models"
	"github.com/msms-dev/msms-api/pkg/config"
	appErrors "github.com/msms-dev/msms-api/pkg/errors"
)

type mockAuthRepo struct {
	byEmail map[string]models.User
	byID    map[int64]models.User
	newHash string
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := m.byEmail[email]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := m.byID[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	m.newHash = passwordHash
	return nil
}

func authFixture(t *testing.T) (*AuthService, *mockAuthRepo) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	user := models.User{
		ID:           5,
		Email:        "alice@example.com",
		PasswordHash: string(hash),
		FirstName:    "Alice",
		LastName:     "Smith",
		Role:         models.RoleStudent,
		Active:       true,
	}
	repo := &mockAuthRepo{
		byEmail: map[string]models.User{user.Email: user},
		byID:    map[int64]models.User{user.ID: user},
	}
	cfg := config.JWTConfig{Secret: "test-secret", Expiration: time.Hour, Issuer: "msms-api"}
	return NewAuthService(repo, nil, nil, cfg), repo
}

func TestAuthLoginAndValidate(t *testing.T) {
	svc, _ := authFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(5), resp.User.ID)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(5), claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
	assert.Equal(t, "msms-api", claims.Issuer)
}

func TestAuthLoginWrongPassword(t *testing.T) {
	svc, _ := authFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "alice@example.com",
		Password: "battery staple",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestAuthLoginUnknownEmail(t *testing.T) {
	svc, _ := authFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "nobody@example.com",
		Password: "whatever",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestAuthValidateRejectsForgedToken(t *testing.T) {
	svc, _ := authFixture(t)
	other := NewAuthService(&mockAuthRepo{}, nil, nil, config.JWTConfig{Secret: "other-secret", Expiration: time.Hour})

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)

	_, err = other.ValidateToken(resp.AccessToken)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestAuthChangePassword(t *testing.T) {
	svc, repo := authFixture(t)

	err := svc.ChangePassword(context.Background(), 5, ChangePasswordRequest{
		OldPassword: "correct horse",
		NewPassword: "battery staple",
	})
	require.NoError(t, err)
	require.NotEmpty(t, repo.newHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.newHash), []byte("battery staple")))
}

func TestAuthChangePasswordWrongOld(t *testing.T) {
	svc, repo := authFixture(t)

	err := svc.ChangePassword(context.Background(), 5, ChangePasswordRequest{
		OldPassword: "battery staple",
		NewPassword: "new password",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	assert.Empty(t, repo.newHash)
}
