package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Audit event names
const (
	AuditEventLogin                  = "user.login"
	AuditEventLoginFailed            = "user.login_failed"
	AuditEventLockout                = "user.lockout"
	AuditEventRegister               = "user.register"
	AuditEventLogout                 = "user.logout"
	AuditEventLogoutAll              = "user.logout_all"
	AuditEventTokenRefresh           = "user.token_refresh"
	AuditEventPasswordResetRequested = "user.password_reset_requested"
	AuditEventPasswordReset          = "user.password_reset"
	AuditEventEmailVerified          = "user.email_verified"
	AuditEventRequestCreated         = "approval.request_created"
	AuditEventActionRecorded         = "approval.action_recorded"
	AuditEventRequestCancelled       = "approval.request_cancelled"
)

// AuditLog is an append-only record of a security or workflow event. UserID is
// nullable because some events happen pre-authentication.
type AuditLog struct {
	ID        string
	UserID    *string
	Event     string
	Detail    AuditDetail
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// AuditDetail holds additional structured context for audit events
type AuditDetail map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (ad *AuditDetail) Scan(value interface{}) error {
	if value == nil {
		*ad = make(AuditDetail)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*ad = AuditDetail(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (ad AuditDetail) Value() (driver.Value, error) {
	if ad == nil {
		return nil, nil
	}
	return json.Marshal(ad)
}
