package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWriteKeepsSpecificKinds(t *testing.T) {
	nf := NotFound("doubts", "d1")
	if got := Write("update", nf); got != nf {
		t.Fatalf("Write should pass NotFoundError through, got %v", got)
	}

	cause := errors.New("connection reset")
	err := Write("add", cause)
	if !IsWrite(err) {
		t.Fatalf("expected WriteError, got %T", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("WriteError should unwrap to its cause")
	}

	if Write("noop", nil) != nil {
		t.Fatalf("Write(nil) should be nil")
	}
}

func TestAuthCodeOf(t *testing.T) {
	err := fmt.Errorf("sign in: %w", Auth(RateLimited, nil))
	code, ok := AuthCodeOf(err)
	if !ok || code != RateLimited {
		t.Fatalf("expected rate-limited, got %q ok=%v", code, ok)
	}
	if UserMessage(err) != RateLimited.Message() {
		t.Fatalf("unexpected user message: %q", UserMessage(err))
	}
}

func TestParseAuthCode(t *testing.T) {
	if c, ok := ParseAuthCode("email-in-use"); !ok || c != EmailInUse {
		t.Fatalf("ParseAuthCode(email-in-use) = %q, %v", c, ok)
	}
	if _, ok := ParseAuthCode("auth/bogus"); ok {
		t.Fatalf("unknown code must not parse")
	}
}

func TestValidationMessage(t *testing.T) {
	err := Validation(nil, FieldError{Field: "content", Error: "this field is required"})
	if !IsValidation(err) {
		t.Fatalf("expected ValidationError")
	}
	if UserMessage(err) != "this field is required" {
		t.Fatalf("unexpected message %q", UserMessage(err))
	}
}
