package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"realsync/api/internal/metrics"
	"realsync/api/internal/models"
	"realsync/api/internal/repository"
	"realsync/api/internal/security"
)

var (
	ErrDuplicateEmail           = errors.New("user with this email already exists")
	ErrInvalidRole              = errors.New("invalid role")
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrAccountDeactivated       = errors.New("account is deactivated")
	ErrMissingToken             = errors.New("refresh token is required")
	ErrInvalidOrExpiredToken    = errors.New("invalid or expired token")
	ErrTokenRevokedOrSuperseded = errors.New("invalid refresh token")
	ErrUserNotFoundOrInactive   = errors.New("user not found or inactive")
	ErrUserNotFound             = errors.New("user not found")
	ErrInsufficientPermissions  = errors.New("insufficient permissions")
	ErrSelfDeactivation         = errors.New("cannot deactivate your own account")
)

type UserStore interface {
	Create(ctx context.Context, user models.User) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) (models.User, error)
}

// RefreshSessionStore holds the id of the single live refresh token per user.
type RefreshSessionStore interface {
	Save(ctx context.Context, userID string, tokenID string, ttl time.Duration) error
	Get(ctx context.Context, userID string) (string, error)
	Rotate(ctx context.Context, userID string, expectedID string, newID string, ttl time.Duration) error
	Delete(ctx context.Context, userID string) error
}

type AuditRecorder interface {
	Record(ctx context.Context, event models.AuditEvent) error
}

type AuthService struct {
	users      UserStore
	sessions   RefreshSessionStore
	audit      AuditRecorder
	tokens     *security.TokenIssuer
	bcryptCost int
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

func NewAuthService(
	users UserStore,
	sessions RefreshSessionStore,
	audit AuditRecorder,
	tokens *security.TokenIssuer,
	bcryptCost int,
	m *metrics.Metrics,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:      users,
		sessions:   sessions,
		audit:      audit,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// RequestMeta describes the caller for the audit trail.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type AuthResult struct {
	User models.Profile `json:"user"`
	TokenPair
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      models.Role
	Phone     *string
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput, meta RequestMeta) (AuthResult, error) {
	email := normalizeEmail(input.Email)
	if !input.Role.Valid() {
		return AuthResult{}, ErrInvalidRole
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		s.metrics.AuthEvent("register", "duplicate_email")
		return AuthResult{}, ErrDuplicateEmail
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return AuthResult{}, err
	}

	passwordHash, err := security.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.Create(ctx, models.User{
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Phone:        input.Phone,
		Role:         input.Role,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			s.metrics.AuthEvent("register", "duplicate_email")
			return AuthResult{}, ErrDuplicateEmail
		}
		return AuthResult{}, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}

	s.record(ctx, models.AuditRegister, &user.ID, meta, map[string]any{"role": user.Role})
	s.metrics.AuthEvent("register", "success")
	s.log.Info().Str("user_id", user.ID).Str("role", user.Role.String()).Msg("user registered")

	return AuthResult{User: user.Profile(), TokenPair: pair}, nil
}

type LoginInput struct {
	Email    string
	Password string
}

// Login never tells an unknown email apart from a wrong password. Only a
// caller who knows the password learns that the account is deactivated.
func (s *AuthService) Login(ctx context.Context, input LoginInput, meta RequestMeta) (AuthResult, error) {
	email := normalizeEmail(input.Email)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, err
		}
		security.CheckPassword(input.Password, nil)
		s.loginFailed(ctx, nil, email, "unknown_email", meta)
		return AuthResult{}, ErrInvalidCredentials
	}

	if !security.CheckPassword(input.Password, user.PasswordHash) {
		s.loginFailed(ctx, &user.ID, email, "wrong_password", meta)
		return AuthResult{}, ErrInvalidCredentials
	}

	if !user.IsActive {
		s.loginFailed(ctx, &user.ID, email, "deactivated", meta)
		return AuthResult{}, ErrAccountDeactivated
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return AuthResult{}, fmt.Errorf("update last login: %w", err)
	}
	user.LastLoginAt = &now

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}

	s.record(ctx, models.AuditLogin, &user.ID, meta, nil)
	s.metrics.AuthEvent("login", "success")

	return AuthResult{User: user.Profile(), TokenPair: pair}, nil
}

// RefreshTokens exchanges the current refresh token for a new pair. The old
// refresh token stops working; access tokens already issued live until they expire.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string, meta RequestMeta) (TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenPair{}, ErrMissingToken
	}

	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		s.metrics.AuthEvent("refresh", "invalid_token")
		return TokenPair{}, ErrInvalidOrExpiredToken
	}

	storedID, err := s.sessions.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			s.metrics.AuthEvent("refresh", "revoked")
			return TokenPair{}, ErrTokenRevokedOrSuperseded
		}
		return TokenPair{}, err
	}
	if storedID != claims.ID {
		s.metrics.AuthEvent("refresh", "superseded")
		return TokenPair{}, ErrTokenRevokedOrSuperseded
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return TokenPair{}, ErrUserNotFoundOrInactive
		}
		return TokenPair{}, err
	}
	if !user.IsActive {
		return TokenPair{}, ErrUserNotFoundOrInactive
	}

	access, err := s.tokens.IssueAccess(user)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return TokenPair{}, err
	}

	if err := s.sessions.Rotate(ctx, user.ID, claims.ID, refresh.ID, s.tokens.RefreshTTL()); err != nil {
		if errors.Is(err, repository.ErrSessionSuperseded) {
			s.metrics.AuthEvent("refresh", "superseded")
			return TokenPair{}, ErrTokenRevokedOrSuperseded
		}
		return TokenPair{}, err
	}

	s.record(ctx, models.AuditTokenRefresh, &user.ID, meta, nil)
	s.metrics.AuthEvent("refresh", "success")

	return TokenPair{AccessToken: access.Token, RefreshToken: refresh.Token}, nil
}

// Logout revokes the user's refresh token. Calling it again is harmless.
func (s *AuthService) Logout(ctx context.Context, userID string, meta RequestMeta) error {
	if err := s.sessions.Delete(ctx, userID); err != nil {
		return err
	}
	s.record(ctx, models.AuditLogout, &userID, meta, nil)
	s.metrics.AuthEvent("logout", "success")
	return nil
}

func (s *AuthService) WhoAmI(ctx context.Context, userID string) (models.Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.Profile{}, ErrUserNotFound
		}
		return models.Profile{}, err
	}
	return user.Profile(), nil
}

// SetUserActive lets an agency admin deactivate or reactivate a member of the
// same agency. Deactivation also revokes the member's refresh token.
func (s *AuthService) SetUserActive(ctx context.Context, actor security.Identity, targetID string, active bool, meta RequestMeta) (models.Profile, error) {
	if actor.Role != models.RoleAdminAgency {
		return models.Profile{}, ErrInsufficientPermissions
	}
	if !active && actor.UserID == targetID {
		return models.Profile{}, ErrSelfDeactivation
	}

	admin, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.Profile{}, ErrUserNotFoundOrInactive
		}
		return models.Profile{}, err
	}
	if !admin.IsActive {
		return models.Profile{}, ErrUserNotFoundOrInactive
	}

	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.Profile{}, ErrUserNotFound
		}
		return models.Profile{}, err
	}
	if !sameAgency(admin, target) {
		return models.Profile{}, ErrInsufficientPermissions
	}

	updated, err := s.users.SetActive(ctx, target.ID, active)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.Profile{}, ErrUserNotFound
		}
		return models.Profile{}, err
	}

	action := models.AuditActivate
	if !active {
		action = models.AuditDeactivate
		if err := s.sessions.Delete(ctx, target.ID); err != nil {
			return models.Profile{}, err
		}
	}

	s.recordEvent(ctx, models.AuditEvent{
		UserID:     &admin.ID,
		Action:     action,
		EntityType: models.AuditEntityUser,
		EntityID:   &updated.ID,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	s.log.Info().
		Str("actor_id", admin.ID).
		Str("user_id", updated.ID).
		Bool("active", active).
		Msg("user activation changed")

	return updated.Profile(), nil
}

func (s *AuthService) issuePair(ctx context.Context, user models.User) (TokenPair, error) {
	access, err := s.tokens.IssueAccess(user)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.sessions.Save(ctx, user.ID, refresh.ID, s.tokens.RefreshTTL()); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access.Token, RefreshToken: refresh.Token}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, userID *string, email string, reason string, meta RequestMeta) {
	s.record(ctx, models.AuditLoginFailed, userID, meta, map[string]any{
		"email":  email,
		"reason": reason,
	})
	s.metrics.AuthEvent("login", reason)
}

func (s *AuthService) record(ctx context.Context, action models.AuditAction, userID *string, meta RequestMeta, metadata map[string]any) {
	s.recordEvent(ctx, models.AuditEvent{
		UserID:     userID,
		Action:     action,
		EntityType: models.AuditEntityUser,
		EntityID:   userID,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		Metadata:   metadata,
	})
}

// recordEvent is best effort: a failed audit write is logged and swallowed.
func (s *AuthService) recordEvent(ctx context.Context, event models.AuditEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("action", string(event.Action)).Msg("audit write failed")
	}
}

func sameAgency(a, b models.User) bool {
	return a.AgencyID != nil && b.AgencyID != nil && *a.AgencyID == *b.AgencyID
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
