package turnstile

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("turnstile: not found")
	ErrInvalidInput = errors.New("turnstile: invalid input")

	// Plan errors
	ErrPlanNotFound         = errors.New("turnstile: plan not found")
	ErrDuplicateName        = errors.New("turnstile: name already in use")
	ErrDefaultPlanProtected = errors.New("turnstile: default plan cannot be deleted")
	ErrPlanInUse            = errors.New("turnstile: plan still has subscribers")

	// Permission errors
	ErrPermissionNotFound = errors.New("turnstile: permission not found")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("turnstile: subscription not found")
	ErrSubscriptionExists   = errors.New("turnstile: subscription already exists")

	// Access errors
	ErrUnauthorized    = errors.New("turnstile: user has no subscription")
	ErrForbidden       = errors.New("turnstile: access denied")
	ErrAPINotPermitted = fmt.Errorf("%w: api not permitted by plan", ErrForbidden)
	ErrQuotaExceeded   = fmt.Errorf("%w: usage limit exceeded", ErrForbidden)

	// ErrUsageNotConsumed is returned by stores when a conditional usage
	// increment matched no row. The engine re-reads and re-evaluates.
	ErrUsageNotConsumed = errors.New("turnstile: usage increment not applied")
	ErrConcurrentUpdate = errors.New("turnstile: concurrent update, retry")

	// Configuration errors
	ErrConfiguration      = errors.New("turnstile: configuration error")
	ErrDefaultPlanMissing = fmt.Errorf("%w: default plan missing", ErrConfiguration)

	// Store errors
	ErrStoreClosed     = errors.New("turnstile: store is closed")
	ErrMigrationFailed = errors.New("turnstile: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("turnstile: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match any ValidationError.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrPermissionNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound)
}

// IsConflict returns true if the error is a uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrSubscriptionExists) ||
		errors.Is(err, ErrDefaultPlanProtected) ||
		errors.Is(err, ErrPlanInUse)
}

// IsInvalid returns true if the error is an input validation failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsUnauthorized returns true if the caller has no subscription.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsForbidden returns true if access was denied by plan or quota.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsConfigurationError returns true for deployment faults such as a
// missing default plan.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate)
}
