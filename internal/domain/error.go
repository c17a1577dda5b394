package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidExecContext  = errors.New("invalid execution context")

	// Billing errors
	ErrInvalidPlan        = errors.New("invalid plan")
	ErrVerificationFailed = errors.New("event verification failed")
	ErrMalformedEvent     = errors.New("malformed provider event")
	ErrOrphanEvent        = errors.New("provider event matches no entitlement record")
	ErrPersistence        = errors.New("persistence failure")
	ErrProvider           = errors.New("payment provider error")

	// ErrAlreadyApplied is not a failure: the event (or reset window) was applied before.
	ErrAlreadyApplied = errors.New("event already applied")
)

// IsRetryable reports whether the caller should try again later (and, for webhooks,
// whether the provider should redeliver).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrProvider)
}
