package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/campushub/approval-api/internal/models"
	appErrors "github.com/campushub/approval-api/pkg/errors"
)

type stubUserRepo struct {
	users   map[string]*models.User
	tokens  map[string]*models.RefreshToken
	logs    []models.AuditLog
	revoked []string
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{
		users:  make(map[string]*models.User),
		tokens: make(map[string]*models.RefreshToken),
	}
}

func (s *stubUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *stubUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (s *stubUserRepo) UpdateLastLogin(context.Context, string, time.Time) error { return nil }

func (s *stubUserRepo) UpdatePassword(context.Context, string, string, time.Time) error { return nil }

func (s *stubUserRepo) RevokeUserRefreshTokens(_ context.Context, userID string) error {
	s.revoked = append(s.revoked, userID)
	return nil
}

func (s *stubUserRepo) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	s.tokens[token.Token] = token
	return nil
}

func (s *stubUserRepo) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := s.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (s *stubUserRepo) RevokeRefreshToken(_ context.Context, id string, revokedAt time.Time) error {
	for _, rt := range s.tokens {
		if rt.ID == id {
			rt.Revoked = true
			rt.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (s *stubUserRepo) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, *log)
	return nil
}

func newTestAuthService(repo *stubUserRepo) *AuthService {
	return NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "approval-api-test",
	})
}

func seedUser(t *testing.T, repo *stubUserRepo, role models.UserRole) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{
		ID:           "user-1",
		Email:        "rita@example.edu",
		PasswordHash: string(hash),
		FullName:     "Rita Registrar",
		Role:         role,
		Active:       true,
	}
	repo.users[user.ID] = user
	return user
}

func TestLoginIssuesTokens(t *testing.T) {
	repo := newStubUserRepo()
	seedUser(t, repo, models.RoleRegistrar)
	svc := newTestAuthService(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "rita@example.edu", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, models.RoleRegistrar, res.User.Role)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleRegistrar, claims.Role)

	require.Len(t, repo.logs, 1)
	assert.Equal(t, models.AuditActionLogin, repo.logs[0].Action)
}

func TestLoginWrongPassword(t *testing.T) {
	repo := newStubUserRepo()
	seedUser(t, repo, models.RoleRegistrar)
	svc := newTestAuthService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "rita@example.edu", Password: "wrong"})
	require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestLoginInactiveAccount(t *testing.T) {
	repo := newStubUserRepo()
	user := seedUser(t, repo, models.RoleRegistrar)
	user.Active = false
	svc := newTestAuthService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "rita@example.edu", Password: "secret123"})
	require.ErrorIs(t, err, appErrors.ErrInactiveAccount)
}

func TestRefreshRotatesToken(t *testing.T) {
	repo := newStubUserRepo()
	seedUser(t, repo, models.RoleRegistrar)
	svc := newTestAuthService(repo)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "rita@example.edu", Password: "secret123"})
	require.NoError(t, err)

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, login.RefreshToken, res.RefreshToken)

	// The used refresh token is revoked and cannot be replayed.
	assert.True(t, repo.tokens[login.RefreshToken].Revoked)
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestAuthService(newStubUserRepo())

	_, err := svc.ValidateToken("not-a-token")
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
