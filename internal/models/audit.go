package models

import "time"

type AuditAction string

const (
	AuditRegister     AuditAction = "REGISTER"
	AuditLogin        AuditAction = "LOGIN"
	AuditLoginFailed  AuditAction = "LOGIN_FAILED"
	AuditTokenRefresh AuditAction = "TOKEN_REFRESH"
	AuditLogout       AuditAction = "LOGOUT"
	AuditDeactivate   AuditAction = "DEACTIVATE"
	AuditActivate     AuditAction = "ACTIVATE"
)

const AuditEntityUser = "User"

type AuditEvent struct {
	ID         string
	UserID     *string
	Action     AuditAction
	EntityType string
	EntityID   *string
	IPAddress  string
	UserAgent  string
	Metadata   map[string]any
	CreatedAt  time.Time
}
