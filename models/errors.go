package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidPassphrase the candidate passphrase failed the validation sentence check.
	//
	// Every cryptographic failure of an unlock attempt is reported with this one error.
	ErrInvalidPassphrase = errors.New("incorrect passphrase")

	// ErrAccountLocked the user is locked out. See AccountLockedError.
	ErrAccountLocked = errors.New("account locked")

	// ErrRateLimited the action exceeded its call budget. See RateLimitedError.
	ErrRateLimited = errors.New("too many attempts")

	// ErrUseAfterZero read of a secret buffer after it was zeroed
	ErrUseAfterZero = errors.New("secret buffer used after zero")

	// ErrStoreUnavailable the record store failed; the caller may retry
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrMalformedField the cipher text can not be parsed
	ErrMalformedField = errors.New("malformed encrypted field")

	// ErrDecryptionFailed authenticated decryption rejected the cipher text
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrNotEnrolled the user has no validation record
	ErrNotEnrolled = errors.New("user not enrolled")

	// ErrAlreadyEnrolled the user already has a validation record
	ErrAlreadyEnrolled = errors.New("user already enrolled")

	// ErrSessionLocked the operation needs an unlocked session
	ErrSessionLocked = errors.New("session is locked")
)

// AccountLockedError the user is locked out until a point in time
type AccountLockedError struct {
	// Until lockout expiry
	Until time.Time
	// MinutesLeft remaining lockout rounded up to whole minutes
	MinutesLeft int
}

// Error implements error
func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked, try again in %d minutes", e.MinutesLeft)
}

// Is matches ErrAccountLocked
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RateLimitedError an action category exceeded its call budget
type RateLimitedError struct {
	// Category the action category
	Category string
	// RetryAfter wait time before capacity frees up
	RetryAfter time.Duration
}

// Error implements error
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf(
		"too many attempts for %s, wait %ds", e.Category, int((e.RetryAfter+time.Second-1)/time.Second),
	)
}

// Is matches ErrRateLimited
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
