package identity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/auth"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/middleware"
)

const teacherEmail = "teacher@school.org"

type outbox struct {
	mu   sync.Mutex
	mail []Mail
}

func (o *outbox) Send(_ context.Context, m Mail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mail = append(o.mail, m)
	return nil
}

// lastToken extracts the code from the newest mail with subject.
func (o *outbox) lastToken(t *testing.T, subject string) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.mail) - 1; i >= 0; i-- {
		if o.mail[i].Subject == subject {
			body := o.mail[i].Body
			return body[strings.LastIndex(body, " ")+1:]
		}
	}
	t.Fatalf("no %q mail sent", subject)
	return ""
}

func newService(t *testing.T, limiter Limiter) (*Service, *outbox) {
	t.Helper()
	box := &outbox{}
	svc := NewService(docstore.NewMemory(), auth.NewJWTManager("test-secret", time.Hour), Options{
		TeacherEmail: teacherEmail,
		Limiter:      limiter,
		Mailer:       box,
	})
	return svc, box
}

func codeOf(err error) apperr.AuthCode {
	code, _ := apperr.AuthCodeOf(err)
	return code
}

func TestCreateAccountAndSignIn(t *testing.T) {
	ctx := context.Background()
	svc, box := newService(t, nil)

	id, err := svc.CreateAccount(ctx, " Amy@School.org ", "secret1", "")
	require.NoError(t, err)
	assert.Equal(t, "amy@school.org", id.Email)
	assert.Equal(t, "amy", id.DisplayName)
	assert.Equal(t, auth.RoleStudent, id.Role)
	assert.NotEmpty(t, id.Token)
	assert.Len(t, box.mail, 1, "verification mail sent on sign-up")

	signedIn, err := svc.SignIn(ctx, "amy@school.org", "secret1")
	require.NoError(t, err)
	assert.Equal(t, id.UserID, signedIn.UserID)

	sub, err := svc.VerifyToken(ctx, signedIn.Token)
	require.NoError(t, err)
	assert.Equal(t, id.UserID, sub.UserID)

	teacher, err := svc.CreateAccount(ctx, teacherEmail, "secret1", "Ms T")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleTeacher, teacher.Role)
	assert.Equal(t, "Ms T", teacher.DisplayName)
}

func TestAuthErrorCodes(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)
	_, err := svc.CreateAccount(ctx, "amy@school.org", "secret1", "Amy")
	require.NoError(t, err)

	_, err = svc.CreateAccount(ctx, "not-an-email", "secret1", "")
	assert.Equal(t, apperr.InvalidCredentialFormat, codeOf(err))

	_, err = svc.CreateAccount(ctx, "bob@school.org", "12345", "")
	assert.Equal(t, apperr.WeakCredential, codeOf(err))

	_, err = svc.CreateAccount(ctx, "AMY@school.org", "secret1", "")
	assert.Equal(t, apperr.EmailInUse, codeOf(err))

	_, err = svc.SignIn(ctx, "nobody@school.org", "secret1")
	assert.Equal(t, apperr.AccountNotFound, codeOf(err))

	_, err = svc.SignIn(ctx, "amy@school.org", "wrong-password")
	assert.Equal(t, apperr.CredentialMismatch, codeOf(err))
}

func TestDisabledAccount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)
	id, err := svc.CreateAccount(ctx, "amy@school.org", "secret1", "Amy")
	require.NoError(t, err)

	require.NoError(t, svc.SetDisabled(ctx, id.UserID, true))

	_, err = svc.SignIn(ctx, "amy@school.org", "secret1")
	assert.Equal(t, apperr.AccountDisabled, codeOf(err))
	_, err = svc.VerifyToken(ctx, id.Token)
	assert.Equal(t, apperr.AccountDisabled, codeOf(err), "outstanding tokens stop verifying")

	err = svc.SetDisabled(ctx, "missing", true)
	assert.Equal(t, apperr.AccountNotFound, codeOf(err))
}

func TestRateLimitedSignIn(t *testing.T) {
	ctx := context.Background()
	limiter := middleware.NewLimiterStore(1, 2, time.Hour)
	defer limiter.Stop()
	svc, _ := newService(t, limiter)

	_, err := svc.CreateAccount(ctx, "amy@school.org", "secret1", "")
	require.NoError(t, err)
	_, err = svc.SignIn(ctx, "amy@school.org", "secret1")
	require.NoError(t, err)
	_, err = svc.SignIn(ctx, "Amy@school.org", "secret1")
	assert.Equal(t, apperr.RateLimited, codeOf(err))
}

func TestPasswordResetIsSingleUse(t *testing.T) {
	ctx := context.Background()
	svc, box := newService(t, nil)
	_, err := svc.CreateAccount(ctx, "amy@school.org", "secret1", "")
	require.NoError(t, err)

	require.NoError(t, svc.SendPasswordReset(ctx, "amy@school.org"))
	token := box.lastToken(t, "Reset your password")

	assert.Equal(t, apperr.WeakCredential, codeOf(svc.ResetPassword(ctx, token, "123")))
	require.NoError(t, svc.ResetPassword(ctx, token, "new-secret"))
	assert.Equal(t, apperr.CredentialMismatch, codeOf(svc.ResetPassword(ctx, token, "other-secret")))

	_, err = svc.SignIn(ctx, "amy@school.org", "secret1")
	assert.Equal(t, apperr.CredentialMismatch, codeOf(err))
	_, err = svc.SignIn(ctx, "amy@school.org", "new-secret")
	assert.NoError(t, err)

	err = svc.SendPasswordReset(ctx, "nobody@school.org")
	assert.Equal(t, apperr.AccountNotFound, codeOf(err))
}

func TestEmailVerification(t *testing.T) {
	ctx := context.Background()
	svc, box := newService(t, nil)
	id, err := svc.CreateAccount(ctx, "amy@school.org", "secret1", "")
	require.NoError(t, err)
	assert.False(t, id.EmailVerified)

	require.NoError(t, svc.SendEmailVerification(ctx, id.UserID))
	token := box.lastToken(t, "Verify your email")

	// a verification token is not a session token
	_, err = svc.VerifyToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, svc.VerifyEmail(ctx, token))
	again, err := svc.SignIn(ctx, "amy@school.org", "secret1")
	require.NoError(t, err)
	assert.True(t, again.EmailVerified)
}

func TestReauthenticateAndResume(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)
	id, err := svc.CreateAccount(ctx, "amy@school.org", "secret1", "Amy")
	require.NoError(t, err)

	_, err = svc.Reauthenticate(ctx, id.Token, "wrong")
	assert.Equal(t, apperr.CredentialMismatch, codeOf(err))
	fresh, err := svc.Reauthenticate(ctx, id.Token, "secret1")
	require.NoError(t, err)
	assert.Equal(t, id.UserID, fresh.UserID)

	resumed, err := svc.Resume(ctx, id.Token)
	require.NoError(t, err)
	assert.Equal(t, id.Token, resumed.Token)
	assert.Equal(t, "Amy", resumed.DisplayName)

	_, err = svc.Resume(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSignInRecordsLastLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)
	id, err := svc.CreateAccount(ctx, "amy@school.org", "secret1", "")
	require.NoError(t, err)

	acct, err := svc.store.Get(ctx, docstore.Accounts, id.UserID)
	require.NoError(t, err)
	_, ok := acct.Time(fieldLastLoginAt)
	assert.False(t, ok, "creating an account is not a sign-in")

	_, err = svc.SignIn(ctx, "amy@school.org", "secret1")
	require.NoError(t, err)

	acct, err = svc.store.Get(ctx, docstore.Accounts, id.UserID)
	require.NoError(t, err)
	_, ok = acct.Time(fieldLastLoginAt)
	assert.True(t, ok)

	acts, err := svc.store.Query(ctx, docstore.Query{Collection: docstore.UserActivities})
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, id.UserID, acts[0].String("userId"))
	assert.Equal(t, ActivitySignIn, acts[0].String("activityType"))
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, box := newService(t, nil)
	id, err := svc.CreateAccount(ctx, "amy@school.org", "secret1", "")
	require.NoError(t, err)
	require.NoError(t, svc.SendPasswordReset(ctx, "amy@school.org"))
	resetCode := box.lastToken(t, "Reset your password")

	_, err = svc.ChangePassword(ctx, id.Token, "wrong", "secret2")
	assert.Equal(t, apperr.CredentialMismatch, codeOf(err))
	_, err = svc.ChangePassword(ctx, id.Token, "secret1", "short")
	assert.Equal(t, apperr.WeakCredential, codeOf(err))
	_, err = svc.ChangePassword(ctx, "garbage", "secret1", "secret2")
	assert.ErrorIs(t, err, ErrInvalidToken)

	fresh, err := svc.ChangePassword(ctx, id.Token, "secret1", "secret2")
	require.NoError(t, err)
	assert.Equal(t, id.UserID, fresh.UserID)
	assert.NotEmpty(t, fresh.Token)

	_, err = svc.SignIn(ctx, "amy@school.org", "secret1")
	assert.Equal(t, apperr.CredentialMismatch, codeOf(err))
	_, err = svc.SignIn(ctx, "amy@school.org", "secret2")
	require.NoError(t, err)

	err = svc.ResetPassword(ctx, resetCode, "secret3")
	assert.Equal(t, apperr.CredentialMismatch, codeOf(err), "a change voids pending reset codes")
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)
	id, err := svc.CreateAccount(ctx, "amy@school.org", "secret1", "")
	require.NoError(t, err)
	require.NoError(t, svc.store.Set(ctx, docstore.Users, id.UserID, map[string]any{"email": id.Email}, false))
	require.NoError(t, svc.store.Set(ctx, docstore.OnlineUsers, id.UserID, map[string]any{"isOnline": true}, false))

	err = svc.DeleteAccount(ctx, id.Token, "wrong")
	assert.Equal(t, apperr.CredentialMismatch, codeOf(err))

	require.NoError(t, svc.DeleteAccount(ctx, id.Token, "secret1"))
	for _, ref := range [][2]string{
		{docstore.Users, id.UserID},
		{docstore.OnlineUsers, id.UserID},
		{docstore.Accounts, id.UserID},
		{docstore.AccountEmails, "amy@school.org"},
	} {
		_, err := svc.store.Get(ctx, ref[0], ref[1])
		assert.True(t, apperr.IsNotFound(err), "%s/%s survived: %v", ref[0], ref[1], err)
	}

	_, err = svc.VerifyToken(ctx, id.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.SignIn(ctx, "amy@school.org", "secret1")
	assert.Equal(t, apperr.AccountNotFound, codeOf(err))

	_, err = svc.CreateAccount(ctx, "amy@school.org", "secret1", "")
	assert.NoError(t, err, "the address can be registered again")
}
