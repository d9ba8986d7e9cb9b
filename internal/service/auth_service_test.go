package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/E1venking/Kuleli-English-Centre/internal/repository"
)

type memUserRepo struct {
	users map[string]*repository.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*repository.User)}
}

func (r *memUserRepo) Create(ctx context.Context, user *repository.User) error {
	user.ID = uuid.New()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.users[user.Email] = user
	return nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	return r.users[email], nil
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	svc := NewAuthService(newMemUserRepo(), "test-secret")
	ctx := context.Background()

	registered, err := svc.Register(ctx, RegisterReq{
		Email:       "Student@Example.com",
		Password:    "correct horse",
		DisplayName: "Deniz",
	})
	require.NoError(t, err)
	assert.Equal(t, "student@example.com", registered.User.Email)
	assert.NotEmpty(t, registered.Token)

	userID, err := svc.ValidateToken(registered.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID.String(), userID)

	logged, err := svc.Login(ctx, LoginReq{Email: "student@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, logged.User.ID)
}

func TestRegisterValidation(t *testing.T) {
	svc := NewAuthService(newMemUserRepo(), "test-secret")
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterReq{Email: "not-an-email", Password: "long enough"})
	require.Error(t, err)

	_, err = svc.Register(ctx, RegisterReq{Email: "a@b.com", Password: "short"})
	require.Error(t, err)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := NewAuthService(newMemUserRepo(), "test-secret")
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterReq{Email: "a@b.com", Password: "long enough"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterReq{Email: "a@b.com", Password: "long enough"})
	require.Error(t, err)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := NewAuthService(newMemUserRepo(), "test-secret")
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterReq{Email: "a@b.com", Password: "long enough"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, LoginReq{Email: "a@b.com", Password: "wrong password"})
	require.Error(t, err)

	_, err = svc.Login(ctx, LoginReq{Email: "nobody@b.com", Password: "long enough"})
	require.Error(t, err)
}

func TestValidateTokenRejectsForgery(t *testing.T) {
	svc := NewAuthService(newMemUserRepo(), "test-secret")
	other := NewAuthService(newMemUserRepo(), "other-secret")
	ctx := context.Background()

	registered, err := other.Register(ctx, RegisterReq{Email: "a@b.com", Password: "long enough"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(registered.Token)
	require.Error(t, err)

	_, err = svc.ValidateToken("not.a.token")
	require.Error(t, err)
}
