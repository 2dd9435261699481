package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"realsync/api/internal/models"
	"realsync/api/internal/repository"
	"realsync/api/internal/security"
)

const testPassword = "longenough1"

type fakeUsers struct {
	mu          sync.Mutex
	byID        map[string]models.User
	seq         int
	createErr   error
	lastLoginAt map[string]time.Time
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		byID:        make(map[string]models.User),
		lastLoginAt: make(map[string]time.Time),
	}
}

func (f *fakeUsers) Create(_ context.Context, user models.User) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return models.User{}, f.createErr
	}
	for _, u := range f.byID {
		if u.Email == user.Email {
			return models.User{}, repository.ErrEmailTaken
		}
	}
	f.seq++
	if user.ID == "" {
		user.ID = fmt.Sprintf("user-%d", f.seq)
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	f.byID[user.ID] = user
	return user, nil
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.LastLoginAt = &at
	f.byID[id] = u
	f.lastLoginAt[id] = at
	return nil
}

func (f *fakeUsers) SetActive(_ context.Context, id string, active bool) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	u.IsActive = active
	f.byID[id] = u
	return u, nil
}

func (f *fakeUsers) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []models.AuditEvent
	err    error
}

func (f *fakeAudit) Record(_ context.Context, event models.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) actions() []models.AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AuditAction, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Action)
	}
	return out
}

type authFixture struct {
	svc      *AuthService
	users    *fakeUsers
	audit    *fakeAudit
	sessions *repository.RefreshSessionRepository
	tokens   *security.TokenIssuer
	redis    *miniredis.Miniredis
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tokens := security.NewTokenIssuer(security.TokenConfig{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    720 * time.Hour,
		Issuer:        "realsync-auth",
	})
	users := newFakeUsers()
	audit := &fakeAudit{}
	sessions := repository.NewRefreshSessionRepository(client)

	return &authFixture{
		svc:      NewAuthService(users, sessions, audit, tokens, bcrypt.MinCost, nil, zerolog.Nop()),
		users:    users,
		audit:    audit,
		sessions: sessions,
		tokens:   tokens,
		redis:    mr,
	}
}

// seedUser stores a user whose password is testPassword.
func (f *authFixture) seedUser(t *testing.T, email string, role models.Role, agencyID *string, active bool) models.User {
	t.Helper()
	hash, err := security.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)
	user, err := f.users.Create(context.Background(), models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
		AgencyID:     agencyID,
		IsActive:     active,
	})
	require.NoError(t, err)
	return user
}

func (f *authFixture) register(t *testing.T, email string, role models.Role) AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{
		Email:     email,
		Password:  testPassword,
		FirstName: "Ana",
		LastName:  "Quispe",
		Role:      role,
	}, RequestMeta{IPAddress: "10.0.0.1", UserAgent: "go-test"})
	require.NoError(t, err)
	return res
}

var errStoreDown = errors.New("store down")
