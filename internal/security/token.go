package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"realsync/api/internal/ids"
	"realsync/api/internal/models"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is what an access token proves about its bearer.
type Identity struct {
	UserID string
	Email  string
	Role   models.Role
}

type AccessClaims struct {
	UserID    string      `json:"userId"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	TokenType string      `json:"tokenType"`
	jwt.RegisteredClaims
}

func (c AccessClaims) Identity() Identity {
	return Identity{UserID: c.UserID, Email: c.Email, Role: c.Role}
}

type RefreshClaims struct {
	UserID    string `json:"userId"`
	TokenType string `json:"tokenType"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// IssuedToken is a signed token and the id it carries in its jti claim.
type IssuedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

type TokenIssuer struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenIssuer(cfg TokenConfig) *TokenIssuer {
	return &TokenIssuer{cfg: cfg, now: time.Now}
}

func (t *TokenIssuer) AccessTTL() time.Duration {
	return t.cfg.AccessTTL
}

func (t *TokenIssuer) RefreshTTL() time.Duration {
	return t.cfg.RefreshTTL
}

func (t *TokenIssuer) IssueAccess(user models.User) (IssuedToken, error) {
	now := t.now()
	id := ids.New()
	exp := now.Add(t.cfg.AccessTTL)
	claims := AccessClaims{
		UserID:           user.ID,
		Email:            user.Email,
		Role:             user.Role,
		TokenType:        TokenTypeAccess,
		RegisteredClaims: t.registered(user.ID, id, now, exp),
	}
	return t.sign(claims, t.cfg.AccessSecret, id, exp)
}

func (t *TokenIssuer) IssueRefresh(userID string) (IssuedToken, error) {
	now := t.now()
	id := ids.New()
	exp := now.Add(t.cfg.RefreshTTL)
	claims := RefreshClaims{
		UserID:           userID,
		TokenType:        TokenTypeRefresh,
		RegisteredClaims: t.registered(userID, id, now, exp),
	}
	return t.sign(claims, t.cfg.RefreshSecret, id, exp)
}

func (t *TokenIssuer) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := t.parse(tokenStr, claims, t.cfg.AccessSecret); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess || claims.UserID == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (t *TokenIssuer) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := t.parse(tokenStr, claims, t.cfg.RefreshSecret); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh || claims.UserID == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (t *TokenIssuer) registered(subject, id string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    t.cfg.Issuer,
		Subject:   subject,
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (t *TokenIssuer) sign(claims jwt.Claims, secret string, id string, exp time.Time) (IssuedToken, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign jwt: %w", err)
	}
	return IssuedToken{Token: signed, ID: id, ExpiresAt: exp}, nil
}

func (t *TokenIssuer) parse(tokenStr string, claims jwt.Claims, secret string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
