// Package phone validates phone numbers used as endpoint identities.
package phone

import (
	"fmt"
	"regexp"

	"github.com/and161185/callrelay/internal/errs"
)

// e164 accepts an optional leading '+', then 2-15 digits with a nonzero first digit.
var e164 = regexp.MustCompile(`^\+?[1-9][0-9]{1,14}$`)

// Valid reports whether s looks like an E.164 number.
func Valid(s string) bool {
	return e164.MatchString(s)
}

// Validate returns errs.ErrInvalidInput when s is not a valid number.
func Validate(s string) error {
	if !Valid(s) {
		return fmt.Errorf("phone number %q: %w", s, errs.ErrInvalidInput)
	}
	return nil
}
