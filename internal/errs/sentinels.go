// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/service layers.
var (
	// ErrInvalidInput indicates a malformed phone number or a missing required field.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates the requested entity (verification entry, identity, call) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExpired indicates the verification window has elapsed.
	ErrExpired = errors.New("expired")

	// ErrMismatch indicates a wrong verification code; the caller may retry until expiry.
	ErrMismatch = errors.New("code mismatch")

	// ErrUnauthorized indicates an unverified caller attempting a privileged action.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotificationFailed indicates the notification transport reported a failure.
	ErrNotificationFailed = errors.New("notification failed")

	// ErrConflict indicates an identifier collision.
	ErrConflict = errors.New("conflict")

	// ErrRateLimited indicates temporary redemption lock due to repeated failures.
	ErrRateLimited = errors.New("rate limited")
)

// Stable machine-readable categories reported to clients.
const (
	CategoryInvalidInput       = "invalid-input"
	CategoryNotFound           = "not-found"
	CategoryExpired            = "expired"
	CategoryMismatch           = "mismatch"
	CategoryUnauthorized       = "unauthorized"
	CategoryNotificationFailed = "notify-failed"
	CategoryConflict           = "conflict"
	CategoryRateLimited        = "rate-limited"
	CategoryInternal           = "internal"
)

var categories = []struct {
	err error
	cat string
}{
	{ErrInvalidInput, CategoryInvalidInput},
	{ErrNotFound, CategoryNotFound},
	{ErrExpired, CategoryExpired},
	{ErrMismatch, CategoryMismatch},
	{ErrUnauthorized, CategoryUnauthorized},
	{ErrNotificationFailed, CategoryNotificationFailed},
	{ErrConflict, CategoryConflict},
	{ErrRateLimited, CategoryRateLimited},
}

// Category maps err to its stable category. Unknown errors are internal.
func Category(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.cat
		}
	}
	return CategoryInternal
}
