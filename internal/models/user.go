package models

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleOwner       Role = "OWNER"
	RoleBuyer       Role = "BUYER"
	RoleAgent       Role = "AGENT"
	RoleCoAgent     Role = "CO_AGENT"
	RoleAdminAgency Role = "ADMIN_AGENCY"
)

// Roles lists every role in declaration order.
var Roles = []Role{RoleOwner, RoleBuyer, RoleAgent, RoleCoAgent, RoleAdminAgency}

// ParseRole converts s into a Role. Anything outside the closed set is an error.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

func (r Role) String() string {
	return string(r)
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// User is the credential store record. PasswordHash is nil for accounts that
// authenticate through an external provider.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	FirstName    string
	LastName     string
	Phone        *string
	Role         Role
	AgencyID     *string
	AvatarURL    *string
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the sanitized view of a User returned to clients.
type Profile struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Phone       *string    `json:"phone"`
	Role        Role       `json:"role"`
	AgencyID    *string    `json:"agency_id"`
	AvatarURL   *string    `json:"avatar_url"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (u User) Profile() Profile {
	return Profile{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Phone:       u.Phone,
		Role:        u.Role,
		AgencyID:    u.AgencyID,
		AvatarURL:   u.AvatarURL,
		IsActive:    u.IsActive,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}
