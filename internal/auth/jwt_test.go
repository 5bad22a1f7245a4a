package auth

import (
	"errors"
	"testing"
	"time"
)

func TestHashAndCheckPassword(t *testing.T) {
	pwd := "s3cr3t-password"
	hash, err := HashPassword(pwd)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if err := CheckPassword(hash, pwd); err != nil {
		t.Fatalf("CheckPassword failed when password should match: %v", err)
	}

	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Fatal("CheckPassword succeeded when it should have failed")
	}
}

func TestJWTManager_GenerateAndVerify(t *testing.T) {
	m := NewJWTManager("test-secret", 5*time.Minute)

	token, _, err := m.GenerateToken(Subject{UserID: "u1", Email: "test@example.com", Role: "student"})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}

	if claims.Email != "test@example.com" || claims.UserID != "u1" || claims.Role != "student" {
		t.Fatalf("claims mismatch: %+v", claims.ToSubject())
	}
}

func TestJWTManager_NormalizeEmailClaim(t *testing.T) {
	m := NewJWTManager("test-secret", 5*time.Minute)

	token, _, err := m.GenerateToken(Subject{UserID: "u1", Email: "User.Case@Example.COM"})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}

	if claims.Email != "user.case@example.com" {
		t.Fatalf("expected normalized email in claims, got %s", claims.Email)
	}
}

func TestJWTManager_Rotation(t *testing.T) {
	keys := map[string]string{"k1": "secret-one", "k2": "secret-two"}
	m := NewJWTManagerFromKeys(keys, "k2", 5*time.Minute)
	sub := Subject{UserID: "u1", Email: "rot@example.com"}

	tkn2, _, err := m.GenerateToken(sub)
	if err != nil {
		t.Fatalf("GenerateToken (k2) failed: %v", err)
	}
	if _, err := m.VerifyToken(tkn2); err != nil {
		t.Fatalf("VerifyToken (k2) failed: %v", err)
	}

	// a token issued while k1 was active must still verify
	mOld := NewJWTManagerFromKeys(keys, "k1", 5*time.Minute)
	tkn1, _, err := mOld.GenerateToken(sub)
	if err != nil {
		t.Fatalf("GenerateToken (k1) failed: %v", err)
	}
	if _, err := m.VerifyToken(tkn1); err != nil {
		t.Fatalf("VerifyToken (old k1) failed: %v", err)
	}

	// once k1 is retired it no longer verifies
	retired := NewJWTManagerFromKeys(map[string]string{"k2": "secret-two"}, "k2", 5*time.Minute)
	if _, err := retired.VerifyToken(tkn1); err == nil {
		t.Fatal("token signed by retired key should be rejected")
	}
}

func TestJWTManager_PurposeTokens(t *testing.T) {
	m := NewJWTManager("test-secret", 5*time.Minute)
	sub := Subject{UserID: "u1", Email: "a@example.com"}

	reset, _, err := m.GeneratePurposeToken(sub, PurposePasswordReset, "n-1", time.Minute)
	if err != nil {
		t.Fatalf("GeneratePurposeToken failed: %v", err)
	}

	if _, err := m.VerifyToken(reset); !errors.Is(err, ErrWrongPurpose) {
		t.Fatalf("reset token accepted as session token: %v", err)
	}
	if _, err := m.VerifyPurposeToken(reset, PurposeVerifyEmail); !errors.Is(err, ErrWrongPurpose) {
		t.Fatalf("reset token accepted for email verification: %v", err)
	}
	claims, err := m.VerifyPurposeToken(reset, PurposePasswordReset)
	if err != nil {
		t.Fatalf("VerifyPurposeToken failed: %v", err)
	}
	if claims.UserID != "u1" || claims.ID != "n-1" {
		t.Fatalf("unexpected subject %q", claims.UserID)
	}

	if _, _, err := m.GeneratePurposeToken(sub, PurposeSession, "", time.Minute); err == nil {
		t.Fatal("empty purpose should be rejected")
	}
}

func TestJWTManager_Expired(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute)
	token, _, err := m.GenerateToken(Subject{UserID: "u1"})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := m.VerifyToken(token); err == nil {
		t.Fatal("expired token should be rejected")
	}
}

func TestRoleFor(t *testing.T) {
	if RoleFor(" Teacher@School.org", "teacher@school.org") != RoleTeacher {
		t.Fatal("teacher email should map to teacher role")
	}
	if RoleFor("amy@school.org", "teacher@school.org") != RoleStudent {
		t.Fatal("other emails are students")
	}
	if RoleFor("", "") != RoleStudent {
		t.Fatal("unset teacher email never matches")
	}
}
