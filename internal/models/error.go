package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountLocked     = errors.New("account is temporarily locked")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Approval engine errors
	ErrInvalidTransition = errors.New("invalid approval transition")
	ErrWorkflowInactive  = errors.New("workflow is not active")
	ErrWorkflowEmpty     = errors.New("workflow has no steps")
	ErrDuplicateStep     = errors.New("step order already exists in workflow")
)
