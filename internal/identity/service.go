package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/auth"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/middleware"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/normalize"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/validate"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// ErrInvalidToken is returned for missing, expired or revoked tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// Limiter throttles credential operations per key.
type Limiter interface {
	Allow(key string) bool
}

// account field names in accounts/{uid}
const (
	fieldEmail         = "email"
	fieldDisplayName   = "displayName"
	fieldPasswordHash  = "passwordHash"
	fieldEmailVerified = "emailVerified"
	fieldDisabled      = "disabled"
	fieldResetNonce    = "resetNonce"
	fieldCreatedAt     = "createdAt"
	fieldPasswordAt    = "passwordChangedAt"
	fieldLastLoginAt   = "lastLoginAt"
)

// Activity types recorded in user_activities.
const (
	ActivitySignIn         = "sign_in"
	ActivityPasswordChange = "password_change"
)

// Options configures a Service.
type Options struct {
	TeacherEmail string
	ResetTTL     time.Duration
	VerifyTTL    time.Duration
	Limiter      Limiter
	Mailer       Mailer
	Logger       *slog.Logger
}

// Service is the server-side identity provider.
type Service struct {
	store        docstore.Store
	tokens       *auth.JWTManager
	limiter      Limiter
	mailer       Mailer
	logger       *slog.Logger
	teacherEmail string
	resetTTL     time.Duration
	verifyTTL    time.Duration
}

var _ Backend = (*Service)(nil)

// NewService returns a Service storing accounts in store.
func NewService(store docstore.Store, tokens *auth.JWTManager, opts Options) *Service {
	s := &Service{
		store:        store,
		tokens:       tokens,
		limiter:      opts.Limiter,
		mailer:       opts.Mailer,
		logger:       opts.Logger,
		teacherEmail: normalize.Email(opts.TeacherEmail),
		resetTTL:     opts.ResetTTL,
		verifyTTL:    opts.VerifyTTL,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.mailer == nil {
		s.mailer = LogMailer{Logger: s.logger}
	}
	if s.resetTTL <= 0 {
		s.resetTTL = time.Hour
	}
	if s.verifyTTL <= 0 {
		s.verifyTTL = 24 * time.Hour
	}
	return s
}

type account struct {
	uid           string
	email         string
	displayName   string
	passwordHash  string
	emailVerified bool
	disabled      bool
	resetNonce    string
}

func accountFromDocument(doc docstore.Document) account {
	return account{
		uid:           doc.ID,
		email:         doc.String(fieldEmail),
		displayName:   doc.String(fieldDisplayName),
		passwordHash:  doc.String(fieldPasswordHash),
		emailVerified: doc.Bool(fieldEmailVerified),
		disabled:      doc.Bool(fieldDisabled),
		resetNonce:    doc.String(fieldResetNonce),
	}
}

func (s *Service) subject(a account) auth.Subject {
	return auth.Subject{
		UserID:        a.uid,
		Email:         a.email,
		Role:          auth.RoleFor(a.email, s.teacherEmail),
		EmailVerified: a.emailVerified,
	}
}

func (s *Service) issue(a account) (Identity, error) {
	sub := s.subject(a)
	token, expiresAt, err := s.tokens.GenerateToken(sub)
	if err != nil {
		return Identity{}, fmt.Errorf("generate token: %w", err)
	}
	return Identity{
		UserID:        sub.UserID,
		Email:         sub.Email,
		DisplayName:   normalize.DisplayName(a.displayName, a.email),
		Role:          sub.Role,
		EmailVerified: sub.EmailVerified,
		Token:         token,
		ExpiresAt:     expiresAt,
	}, nil
}

// checkEmail normalizes email and rejects malformed addresses.
func checkEmail(email string) (string, error) {
	email = normalize.Email(email)
	if err := validate.Field("email", email, "required,email"); err != nil {
		return "", apperr.Auth(apperr.InvalidCredentialFormat, err)
	}
	return email, nil
}

func (s *Service) allow(email string) error {
	if s.limiter != nil && !s.limiter.Allow(middleware.EmailKey(email)) {
		return apperr.Auth(apperr.RateLimited, nil)
	}
	return nil
}

// storeError maps document store failures on the credential path.
func storeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Auth(apperr.NetworkUnavailable, err)
	}
	return err
}

func (s *Service) lookup(ctx context.Context, email string) (account, error) {
	ref, err := s.store.Get(ctx, docstore.AccountEmails, email)
	if err != nil {
		if apperr.IsNotFound(err) {
			return account{}, apperr.Auth(apperr.AccountNotFound, nil)
		}
		return account{}, storeError(err)
	}
	return s.load(ctx, ref.String("uid"))
}

func (s *Service) load(ctx context.Context, uid string) (account, error) {
	doc, err := s.store.Get(ctx, docstore.Accounts, uid)
	if err != nil {
		if apperr.IsNotFound(err) {
			return account{}, apperr.Auth(apperr.AccountNotFound, nil)
		}
		return account{}, storeError(err)
	}
	return accountFromDocument(doc), nil
}

// CreateAccount registers email with password and signs the new account in.
// A verification mail is sent best-effort.
func (s *Service) CreateAccount(ctx context.Context, email, password, displayName string) (Identity, error) {
	email, err := checkEmail(email)
	if err != nil {
		return Identity{}, err
	}
	if len(password) < MinPasswordLength {
		return Identity{}, apperr.Auth(apperr.WeakCredential, nil)
	}
	if err := s.allow(email); err != nil {
		return Identity{}, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}

	uid := uuid.NewString()
	// the email claim is the uniqueness constraint
	if err := s.store.Create(ctx, docstore.AccountEmails, email, map[string]any{"uid": uid}); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return Identity{}, apperr.Auth(apperr.EmailInUse, nil)
		}
		return Identity{}, storeError(err)
	}

	a := account{uid: uid, email: email, displayName: normalize.DisplayName(displayName, email), passwordHash: hash}
	err = s.store.Create(ctx, docstore.Accounts, uid, map[string]any{
		fieldEmail:         a.email,
		fieldDisplayName:   a.displayName,
		fieldPasswordHash:  a.passwordHash,
		fieldEmailVerified: false,
		fieldDisabled:      false,
		fieldCreatedAt:     docstore.ServerTimestamp(),
		fieldPasswordAt:    docstore.ServerTimestamp(),
	})
	if err != nil {
		// release the email so the user can retry
		if derr := s.store.Delete(context.WithoutCancel(ctx), docstore.AccountEmails, email); derr != nil {
			s.logger.Error("release email claim", "email", email, "error", derr)
		}
		return Identity{}, storeError(err)
	}

	s.logger.Info("account created", "user_id", uid, "role", auth.RoleFor(email, s.teacherEmail))
	if err := s.sendVerification(ctx, a); err != nil {
		s.logger.Warn("verification mail failed", "user_id", uid, "error", err)
	}
	return s.issue(a)
}

// SignIn checks the credential and returns a fresh session.
func (s *Service) SignIn(ctx context.Context, email, password string) (Identity, error) {
	email, err := checkEmail(email)
	if err != nil {
		return Identity{}, err
	}
	if err := s.allow(email); err != nil {
		return Identity{}, err
	}

	a, err := s.lookup(ctx, email)
	if err != nil {
		return Identity{}, err
	}
	if a.disabled {
		return Identity{}, apperr.Auth(apperr.AccountDisabled, nil)
	}
	if err := auth.CheckPassword(a.passwordHash, password); err != nil {
		return Identity{}, apperr.Auth(apperr.CredentialMismatch, nil)
	}
	s.touchLogin(ctx, a.uid)
	return s.issue(a)
}

// touchLogin records a sign-in. Failures are logged and never fail the
// sign-in itself.
func (s *Service) touchLogin(ctx context.Context, uid string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Update(ctx, docstore.Accounts, uid, map[string]any{fieldLastLoginAt: docstore.ServerTimestamp()}); err != nil {
		s.logger.Warn("record last login", "user_id", uid, "error", err)
	}
	s.logActivity(ctx, uid, ActivitySignIn)
}

func (s *Service) logActivity(ctx context.Context, uid, activity string) {
	_, err := s.store.Add(ctx, docstore.UserActivities, map[string]any{
		"userId":       uid,
		"activityType": activity,
		"timestamp":    docstore.ServerTimestamp(),
	})
	if err != nil {
		s.logger.Warn("log activity", "user_id", uid, "activity", activity, "error", err)
	}
}

// SendPasswordReset mails a single-use reset token to the account.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	email, err := checkEmail(email)
	if err != nil {
		return err
	}
	if err := s.allow(email); err != nil {
		return err
	}
	a, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}

	nonce := uuid.NewString()
	token, _, err := s.tokens.GeneratePurposeToken(s.subject(a), auth.PurposePasswordReset, nonce, s.resetTTL)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.store.Update(ctx, docstore.Accounts, a.uid, map[string]any{fieldResetNonce: nonce}); err != nil {
		return storeError(err)
	}
	return s.mailer.Send(ctx, Mail{
		To:      a.email,
		Subject: "Reset your password",
		Body:    "Use this code to choose a new password: " + token,
	})
}

// ResetPassword sets a new password using a reset token. Each token works once.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.tokens.VerifyPurposeToken(token, auth.PurposePasswordReset)
	if err != nil {
		return apperr.Auth(apperr.CredentialMismatch, ErrInvalidToken)
	}
	if len(newPassword) < MinPasswordLength {
		return apperr.Auth(apperr.WeakCredential, nil)
	}
	a, err := s.load(ctx, claims.UserID)
	if err != nil {
		return err
	}
	if a.resetNonce == "" || a.resetNonce != claims.ID {
		return apperr.Auth(apperr.CredentialMismatch, ErrInvalidToken)
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = s.store.Update(ctx, docstore.Accounts, a.uid, map[string]any{
		fieldPasswordHash: hash,
		fieldResetNonce:   "",
		fieldPasswordAt:   docstore.ServerTimestamp(),
	})
	return storeError(err)
}

// Reauthenticate confirms the password of the account behind a session token
// and returns a fresh session.
func (s *Service) Reauthenticate(ctx context.Context, token, password string) (Identity, error) {
	a, err := s.confirm(ctx, token, password)
	if err != nil {
		return Identity{}, err
	}
	return s.issue(a)
}

// confirm loads the account behind a session token and checks its password.
func (s *Service) confirm(ctx context.Context, token, password string) (account, error) {
	claims, err := s.tokens.VerifyToken(token)
	if err != nil {
		return account{}, ErrInvalidToken
	}
	a, err := s.load(ctx, claims.UserID)
	if err != nil {
		return account{}, err
	}
	if a.disabled {
		return account{}, apperr.Auth(apperr.AccountDisabled, nil)
	}
	if err := s.allow(a.email); err != nil {
		return account{}, err
	}
	if err := auth.CheckPassword(a.passwordHash, password); err != nil {
		return account{}, apperr.Auth(apperr.CredentialMismatch, nil)
	}
	return a, nil
}

// ChangePassword replaces the password of the account behind a session
// token once its current password is confirmed. Pending reset codes stop
// working. It returns a fresh session.
func (s *Service) ChangePassword(ctx context.Context, token, password, newPassword string) (Identity, error) {
	a, err := s.confirm(ctx, token, password)
	if err != nil {
		return Identity{}, err
	}
	if len(newPassword) < MinPasswordLength {
		return Identity{}, apperr.Auth(apperr.WeakCredential, nil)
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}
	err = s.store.Update(ctx, docstore.Accounts, a.uid, map[string]any{
		fieldPasswordHash: hash,
		fieldResetNonce:   "",
		fieldPasswordAt:   docstore.ServerTimestamp(),
	})
	if err != nil {
		return Identity{}, storeError(err)
	}
	a.passwordHash, a.resetNonce = hash, ""
	s.logger.Info("password changed", "user_id", a.uid)
	s.logActivity(context.WithoutCancel(ctx), a.uid, ActivityPasswordChange)
	return s.issue(a)
}

// DeleteAccount removes the account behind a session token once its password
// is confirmed, together with its profile and presence records. The email
// claim goes last so a half-deleted account can retry.
func (s *Service) DeleteAccount(ctx context.Context, token, password string) error {
	a, err := s.confirm(ctx, token, password)
	if err != nil {
		return err
	}
	steps := []struct{ collection, id string }{
		{docstore.Users, a.uid},
		{docstore.OnlineUsers, a.uid},
		{docstore.Accounts, a.uid},
		{docstore.AccountEmails, a.email},
	}
	for _, st := range steps {
		if err := s.store.Delete(ctx, st.collection, st.id); err != nil {
			return storeError(fmt.Errorf("delete %s/%s: %w", st.collection, st.id, err))
		}
	}
	s.logger.Info("account deleted", "user_id", a.uid)
	return nil
}

// Resume returns the identity behind a still-valid session token, keeping the
// token. It backs remember-me restores.
func (s *Service) Resume(ctx context.Context, token string) (Identity, error) {
	claims, err := s.tokens.VerifyToken(token)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	a, err := s.load(ctx, claims.UserID)
	if err != nil {
		return Identity{}, err
	}
	if a.disabled {
		return Identity{}, apperr.Auth(apperr.AccountDisabled, nil)
	}
	sub := s.subject(a)
	id := Identity{
		UserID:        sub.UserID,
		Email:         sub.Email,
		DisplayName:   normalize.DisplayName(a.displayName, a.email),
		Role:          sub.Role,
		EmailVerified: sub.EmailVerified,
		Token:         token,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// VerifyToken authenticates a request. Tokens of disabled or deleted accounts
// are rejected even before they expire.
func (s *Service) VerifyToken(ctx context.Context, token string) (auth.Subject, error) {
	claims, err := s.tokens.VerifyToken(token)
	if err != nil {
		return auth.Subject{}, ErrInvalidToken
	}
	a, err := s.load(ctx, claims.UserID)
	if err != nil {
		if _, ok := apperr.AuthCodeOf(err); ok {
			return auth.Subject{}, ErrInvalidToken
		}
		return auth.Subject{}, err
	}
	if a.disabled {
		return auth.Subject{}, apperr.Auth(apperr.AccountDisabled, nil)
	}
	return s.subject(a), nil
}

// SendEmailVerification mails a verification token to the account.
func (s *Service) SendEmailVerification(ctx context.Context, uid string) error {
	a, err := s.load(ctx, uid)
	if err != nil {
		return err
	}
	if a.emailVerified {
		return nil
	}
	return s.sendVerification(ctx, a)
}

func (s *Service) sendVerification(ctx context.Context, a account) error {
	token, _, err := s.tokens.GeneratePurposeToken(s.subject(a), auth.PurposeVerifyEmail, "", s.verifyTTL)
	if err != nil {
		return fmt.Errorf("generate verification token: %w", err)
	}
	return s.mailer.Send(ctx, Mail{
		To:      a.email,
		Subject: "Verify your email",
		Body:    "Use this code to verify your email address: " + token,
	})
}

// VerifyEmail marks the account behind a verification token as verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	claims, err := s.tokens.VerifyPurposeToken(token, auth.PurposeVerifyEmail)
	if err != nil {
		return ErrInvalidToken
	}
	err = s.store.Update(ctx, docstore.Accounts, claims.UserID, map[string]any{fieldEmailVerified: true})
	if apperr.IsNotFound(err) {
		return apperr.Auth(apperr.AccountNotFound, nil)
	}
	return storeError(err)
}

// SetDisabled enables or disables an account. Disabled accounts cannot sign
// in and their outstanding tokens stop verifying.
func (s *Service) SetDisabled(ctx context.Context, uid string, disabled bool) error {
	err := s.store.Update(ctx, docstore.Accounts, uid, map[string]any{fieldDisabled: disabled})
	if apperr.IsNotFound(err) {
		return apperr.Auth(apperr.AccountNotFound, nil)
	}
	if err == nil {
		s.logger.Info("account disabled state changed", "user_id", uid, "disabled", disabled)
	}
	return storeError(err)
}
