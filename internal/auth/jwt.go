// Package auth issues and verifies the tokens and password hashes used by the
// identity provider.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/normalize"
)

// Token purposes. Session tokens carry no purpose.
const (
	PurposeSession       = ""
	PurposePasswordReset = "password_reset"
	PurposeVerifyEmail   = "verify_email"
)

// Roles carried by session tokens.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// RoleFor derives the role of an account: teacher iff its normalized email is
// the configured teacher email.
func RoleFor(email, teacherEmail string) string {
	t := normalize.Email(teacherEmail)
	if t != "" && normalize.Email(email) == t {
		return RoleTeacher
	}
	return RoleStudent
}

// ErrWrongPurpose is returned when a token is presented for another use.
var ErrWrongPurpose = errors.New("token purpose mismatch")

// JWTManager signs and validates JWT tokens used by the API.
type JWTManager struct {
	keys      map[string]string // kid -> HMAC secret; "" is the single-key mode
	activeKid string            // kid used for signing new tokens
	duration  time.Duration     // How long session tokens are valid
}

// Subject is the identity a token is issued for.
type Subject struct {
	UserID        string
	Email         string
	Role          string
	EmailVerified bool
}

// Claims is the custom JWT payload.
type Claims struct {
	UserID               string `json:"user_id"`
	Email                string `json:"email"` // normalized at issue time
	Role                 string `json:"role"`
	EmailVerified        bool   `json:"email_verified"`
	Purpose              string `json:"purpose,omitempty"`
	jwt.RegisteredClaims        // Includes ExpiresAt, IssuedAt, etc.
}

// ToSubject returns the identity carried by the claims.
func (c *Claims) ToSubject() Subject {
	return Subject{UserID: c.UserID, Email: c.Email, Role: c.Role, EmailVerified: c.EmailVerified}
}

// NewJWTManager returns a manager signing with a single secret.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		keys:     map[string]string{"": secretKey},
		duration: duration,
	}
}

// NewJWTManagerFromKeys returns a manager that signs with activeKid and
// verifies tokens signed by any of keys, so secrets can be rotated without
// invalidating tokens already issued.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	copied := make(map[string]string, len(keys))
	for k, v := range keys {
		copied[k] = v
	}
	return &JWTManager{keys: copied, activeKid: activeKid, duration: duration}
}

// Duration is the lifetime of session tokens.
func (m *JWTManager) Duration() time.Duration { return m.duration }

// GenerateToken issues a signed session token.
func (m *JWTManager) GenerateToken(sub Subject) (string, time.Time, error) {
	return m.sign(sub, PurposeSession, "", m.duration)
}

// GeneratePurposeToken issues a short-lived token only accepted by
// VerifyPurposeToken with the same purpose. nonce is carried as the token ID
// so the issuer can make the token single-use.
func (m *JWTManager) GeneratePurposeToken(sub Subject, purpose, nonce string, ttl time.Duration) (string, time.Time, error) {
	if purpose == PurposeSession {
		return "", time.Time{}, fmt.Errorf("purpose required")
	}
	return m.sign(sub, purpose, nonce, ttl)
}

func (m *JWTManager) sign(sub Subject, purpose, nonce string, ttl time.Duration) (string, time.Time, error) {
	secret, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, fmt.Errorf("signing key %q not configured", m.activeKid)
	}

	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		UserID:        sub.UserID,
		Email:         normalize.Email(sub.Email),
		Role:          sub.Role,
		EmailVerified: sub.EmailVerified,
		Purpose:       purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	// HS256 (HMAC with SHA-256); the kid header selects the key on verify
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// VerifyToken parses and validates a session token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	return m.VerifyPurposeToken(tokenString, PurposeSession)
}

// VerifyPurposeToken validates a token issued for purpose.
func (m *JWTManager) VerifyPurposeToken(tokenString, purpose string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Security check: ensure token was signed with HMAC (not asymmetric key)
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash for the provided plaintext.
func HashPassword(password string) (string, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedPassword), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(hash, password string) error {
	// CompareHashAndPassword returns nil if password matches hash, error otherwise
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
