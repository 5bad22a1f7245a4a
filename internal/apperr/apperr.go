// Package apperr defines the closed set of error kinds shared by the identity
// provider, the document store and the client components. Collaborator errors are
// mapped into these kinds once, at the boundary.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPermissionDenied is the cause carried by a WriteError when access rules
// reject a mutation, and returned as-is for rejected reads.
var ErrPermissionDenied = errors.New("permission denied")

// AuthCode enumerates identity provider failures.
type AuthCode string

const (
	InvalidCredentialFormat AuthCode = "invalid-credential-format"
	AccountDisabled         AuthCode = "account-disabled"
	AccountNotFound         AuthCode = "account-not-found"
	CredentialMismatch      AuthCode = "credential-mismatch"
	RateLimited             AuthCode = "rate-limited"
	NetworkUnavailable      AuthCode = "network-unavailable"
	EmailInUse              AuthCode = "email-in-use"
	WeakCredential          AuthCode = "weak-credential"
)

var authMessages = map[AuthCode]string{
	InvalidCredentialFormat: "Invalid email address",
	AccountDisabled:         "This account has been disabled",
	AccountNotFound:         "No user found with this email address",
	CredentialMismatch:      "Incorrect password",
	RateLimited:             "Too many attempts. Please try again later",
	NetworkUnavailable:      "Network error. Check your connection and try again",
	EmailInUse:              "This email is already registered",
	WeakCredential:          "Password must be at least 6 characters",
}

// Message returns the user-facing text for the code.
func (c AuthCode) Message() string {
	if m, ok := authMessages[c]; ok {
		return m
	}
	return "Authentication failed"
}

// ParseAuthCode maps a wire string back onto the closed enumeration.
func ParseAuthCode(s string) (AuthCode, bool) {
	c := AuthCode(strings.TrimSpace(s))
	_, ok := authMessages[c]
	return c, ok
}

// AuthError is a credential or account problem, surfaced to the user verbatim
// through Code.Message.
type AuthError struct {
	Code AuthCode
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth: " + string(e.Code)
	}
	return fmt.Sprintf("auth: %s: %v", e.Code, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Auth builds an AuthError for code with an optional cause.
func Auth(code AuthCode, cause error) error {
	return &AuthError{Code: code, Err: cause}
}

// WriteError is a failed mutation (transport or permission). It is reported to
// the user and never retried automatically.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Write wraps err as a WriteError unless it already carries a more specific kind.
func Write(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		we *WriteError
		nf *NotFoundError
		ve *ValidationError
		ae *AuthError
	)
	if errors.As(err, &we) || errors.As(err, &nf) || errors.As(err, &ve) || errors.As(err, &ae) {
		return err
	}
	return &WriteError{Op: op, Err: err}
}

// NotFoundError reports a referenced document that does not exist (or vanished
// between read and write).
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s/%s not found", e.Collection, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(collection, id string) error {
	return &NotFoundError{Collection: collection, ID: id}
}

// FieldError is used to indicate an error with a specific input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is a local precondition failure. It is raised before any
// network call and never sent to the backend.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Field+": "+f.Error)
		}
		return "invalid input: " + strings.Join(parts, "; ")
	}
	return "invalid input"
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validation builds a ValidationError.
func Validation(err error, fields ...FieldError) error {
	return &ValidationError{Err: err, Fields: fields}
}

// AuthCodeOf returns the AuthCode carried by err, if any.
func AuthCodeOf(err error) (AuthCode, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	return "", false
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsWrite reports whether err is (or wraps) a WriteError.
func IsWrite(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}

// UserMessage returns a short text suitable for a toast or inline feedback.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if code, ok := AuthCodeOf(err); ok {
		return code.Message()
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		if len(ve.Fields) > 0 {
			return ve.Fields[0].Error
		}
		return ve.Error()
	}
	if IsNotFound(err) {
		return "This item no longer exists"
	}
	if errors.Is(err, ErrPermissionDenied) {
		return "You are not allowed to do that"
	}
	return "Something went wrong. Please try again"
}
