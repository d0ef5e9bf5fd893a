package phone

import (
	"errors"
	"testing"

	"github.com/and161185/callrelay/internal/errs"
)

func TestValid(t *testing.T) {
	t.Parallel()

	good := []string{"+4798765432", "4711112222", "12", "+123456789012345"}
	for _, s := range good {
		if !Valid(s) {
			t.Fatalf("want %q valid", s)
		}
	}
	bad := []string{"", "+", "1", "+0123", "0123456", "+1234567890123456", "+47 987", "47-98", "abc"}
	for _, s := range bad {
		if Valid(s) {
			t.Fatalf("want %q invalid", s)
		}
	}
}

func TestValidate_WrapsInvalidInput(t *testing.T) {
	t.Parallel()

	if err := Validate("+4798765432"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := Validate("nope"); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}
