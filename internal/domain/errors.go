package domain

import "errors"

var (
	ErrNotAuthorized           = errors.New("not authorized")
	ErrSessionNotFound         = errors.New("session not found")
	ErrSessionAlreadyCompleted = errors.New("session already completed")
	// ErrSchedulingConflict is returned when a guarded insert lost a race.
	// Callers treat it as a successful no-op.
	ErrSchedulingConflict = errors.New("scheduling conflict")
	// ErrAgentInvocationFailed is retryable; nothing was persisted.
	ErrAgentInvocationFailed = errors.New("agent invocation failed")
	ErrProfileMergeFailed    = errors.New("profile merge failed")
	// ErrTurnConflict means another turn committed first; retry the request.
	ErrTurnConflict         = errors.New("turn conflict")
	ErrEmployeeNotFound     = errors.New("employee not found")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrUnknownAgent         = errors.New("unknown agent")
)

// IsRetryable reports whether the caller should simply try again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAgentInvocationFailed) || errors.Is(err, ErrTurnConflict)
}
