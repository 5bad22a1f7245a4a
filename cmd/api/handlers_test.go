package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/access"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/auth"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/identity"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/rpc"
)

const testTeacherEmail = "teacher@school.test"

type discardMailer struct{}

func (discardMailer) Send(context.Context, identity.Mail) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	store *docstore.Memory
	ids   *identity.Service
	hub   *StreamHub
	srv   *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := docstore.NewMemory()
	logger := discardLogger()
	ids := identity.NewService(store, auth.NewJWTManager("test-secret", time.Hour), identity.Options{
		TeacherEmail: testTeacherEmail,
		Mailer:       discardMailer{},
		Logger:       logger,
	})
	hub := NewStreamHub(nil, logger)
	return &testEnv{
		store: store,
		ids:   ids,
		hub:   hub,
		srv:   newServer(ids, access.NewGuard(store), hub, logger),
	}
}

// signUp creates an account and returns a context carrying it as the caller.
func (e *testEnv) signUp(t *testing.T, email string) (context.Context, identity.Identity) {
	t.Helper()
	id, err := e.ids.CreateAccount(context.Background(), email, "secret1", "")
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", email, err)
	}
	caller := auth.Subject{UserID: id.UserID, Email: id.Email, Role: id.Role}
	return context.WithValue(context.Background(), callerContextKey{}, caller), id
}

func authCode(err error) apperr.AuthCode {
	code, _ := apperr.AuthCodeOf(err)
	return code
}

func TestHandlersRequireCaller(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.srv.Get(context.Background(), &rpc.DocumentRef{Collection: docstore.Community, ID: "x"})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("Get without caller: got %v, want Unauthenticated", err)
	}
}

func TestAddCommunityPinsAuthor(t *testing.T) {
	env := newTestEnv(t)
	ctx, amy := env.signUp(t, "amy@school.test")

	resp, err := env.srv.Add(ctx, &rpc.AddRequest{
		Collection: docstore.Community,
		Fields: map[string]any{
			"content":   "hello",
			"userId":    "someone-else",
			"timestamp": docstore.ServerTimestamp(),
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := env.srv.Get(ctx, &rpc.DocumentRef{Collection: docstore.Community, ID: resp.ID})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	doc := got.Document
	if doc.String("userId") != amy.UserID {
		t.Errorf("userId = %q, want %q", doc.String("userId"), amy.UserID)
	}
	if doc.String("userName") != "amy" {
		t.Errorf("userName = %q, want amy", doc.String("userName"))
	}
	if _, ok := doc.Time("timestamp"); !ok {
		t.Error("server timestamp was not resolved")
	}
}

func TestStudentCannotAssignHomework(t *testing.T) {
	env := newTestEnv(t)
	ctx, _ := env.signUp(t, "amy@school.test")

	_, err := env.srv.Add(ctx, &rpc.AddRequest{
		Collection: docstore.Homework,
		Fields:     map[string]any{"title": "Read ch. 3"},
	})
	if !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Fatalf("student Add homework: got %v, want permission denied", err)
	}
	if status.Code(rpc.ToStatus(err)) != codes.PermissionDenied {
		t.Errorf("status code = %v, want PermissionDenied", status.Code(rpc.ToStatus(err)))
	}

	teacherCtx, _ := env.signUp(t, testTeacherEmail)
	_, err = env.srv.Add(teacherCtx, &rpc.AddRequest{
		Collection: docstore.Homework,
		Fields:     map[string]any{"title": "Read ch. 3", "createdAt": docstore.ServerTimestamp()},
	})
	if err != nil {
		t.Fatalf("teacher Add homework: %v", err)
	}
}

func TestAccountsAreNotReadable(t *testing.T) {
	env := newTestEnv(t)
	ctx, amy := env.signUp(t, "amy@school.test")

	for _, coll := range []string{docstore.Accounts, docstore.UserActivities} {
		_, err := env.srv.Get(ctx, &rpc.DocumentRef{Collection: coll, ID: amy.UserID})
		if status.Code(rpc.ToStatus(err)) != codes.PermissionDenied {
			t.Errorf("Get %s: got %v, want PermissionDenied", coll, err)
		}
	}
}

func TestPresenceRecordIsOwned(t *testing.T) {
	env := newTestEnv(t)
	ctx, amy := env.signUp(t, "amy@school.test")
	_, bob := env.signUp(t, "bob@school.test")

	_, err := env.srv.Set(ctx, &rpc.SetRequest{
		Collection: docstore.OnlineUsers,
		ID:         amy.UserID,
		Fields:     map[string]any{"isOnline": true, "lastSeen": docstore.ServerTimestamp()},
		Merge:      true,
	})
	if err != nil {
		t.Fatalf("Set own presence: %v", err)
	}

	_, err = env.srv.Set(ctx, &rpc.SetRequest{
		Collection: docstore.OnlineUsers,
		ID:         bob.UserID,
		Fields:     map[string]any{"isOnline": false},
		Merge:      true,
	})
	if !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Fatalf("Set other presence: got %v, want permission denied", err)
	}
}

func TestQueryRejectsBadQuery(t *testing.T) {
	env := newTestEnv(t)
	ctx, _ := env.signUp(t, "amy@school.test")

	_, err := env.srv.Query(ctx, &rpc.QueryRequest{Query: docstore.Query{
		Collection: docstore.Community,
		Where:      []docstore.Filter{{Field: "content", Op: "~"}},
	}})
	if status.Code(rpc.ToStatus(err)) != codes.InvalidArgument {
		t.Fatalf("bad query: got %v, want InvalidArgument", err)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx, _ := env.signUp(t, "amy@school.test")

	_, err := env.srv.Get(ctx, &rpc.DocumentRef{Collection: docstore.Doubts, ID: "missing"})
	if !apperr.IsNotFound(err) {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestSetDisabled(t *testing.T) {
	env := newTestEnv(t)
	studentCtx, amy := env.signUp(t, "amy@school.test")
	teacherCtx, teacher := env.signUp(t, testTeacherEmail)

	_, err := env.srv.SetDisabled(studentCtx, &rpc.SetDisabledRequest{UserID: teacher.UserID, Disabled: true})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("student SetDisabled: got %v, want PermissionDenied", err)
	}

	_, err = env.srv.SetDisabled(teacherCtx, &rpc.SetDisabledRequest{UserID: teacher.UserID, Disabled: true})
	if !apperr.IsValidation(err) {
		t.Fatalf("teacher disabling self: got %v, want validation error", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.hub.Register(amy.UserID, cancel)

	if _, err := env.srv.SetDisabled(teacherCtx, &rpc.SetDisabledRequest{UserID: amy.UserID, Disabled: true}); err != nil {
		t.Fatalf("SetDisabled: %v", err)
	}
	if streamCtx.Err() == nil {
		t.Error("open streams of a disabled account should be ended")
	}

	_, err = env.srv.SignIn(context.Background(), &rpc.SignInRequest{Email: "amy@school.test", Password: "secret1"})
	if authCode(err) != apperr.AccountDisabled {
		t.Errorf("SignIn of disabled account: got %v", err)
	}

	_, err = env.srv.SetDisabled(teacherCtx, &rpc.SetDisabledRequest{UserID: "nobody", Disabled: true})
	if authCode(err) != apperr.AccountNotFound {
		t.Errorf("SetDisabled unknown account: got %v", err)
	}
}

func TestIdentityHandlers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.srv.CreateAccount(ctx, &rpc.CreateAccountRequest{Email: "Amy@School.test", Password: "secret1", DisplayName: "Amy"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if created.Email != "amy@school.test" || created.Role != auth.RoleStudent {
		t.Errorf("created = %+v", created.Identity())
	}

	resumed, err := env.srv.Resume(ctx, &rpc.ResumeRequest{Token: created.Token})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.UserID != created.UserID {
		t.Errorf("resumed user %q, want %q", resumed.UserID, created.UserID)
	}

	_, err = env.srv.SignIn(ctx, &rpc.SignInRequest{Email: "amy@school.test", Password: "wrong1"})
	if authCode(err) != apperr.CredentialMismatch {
		t.Errorf("SignIn wrong password: got %v", err)
	}
}

func TestChangePasswordHandler(t *testing.T) {
	env := newTestEnv(t)
	ctx, amy := env.signUp(t, "amy@school.test")

	_, err := env.srv.ChangePassword(ctx, &rpc.ChangePasswordRequest{Token: amy.Token, Password: "wrong1", NewPassword: "secret2"})
	if authCode(err) != apperr.CredentialMismatch {
		t.Fatalf("wrong current password: got %v", err)
	}

	fresh, err := env.srv.ChangePassword(ctx, &rpc.ChangePasswordRequest{Token: amy.Token, Password: "secret1", NewPassword: "secret2"})
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if fresh.UserID != amy.UserID || fresh.Token == "" {
		t.Errorf("fresh session = %+v", fresh.Identity())
	}
	if _, err := env.srv.SignIn(context.Background(), &rpc.SignInRequest{Email: "amy@school.test", Password: "secret2"}); err != nil {
		t.Errorf("SignIn with new password: %v", err)
	}
}

func TestDeleteAccountHandler(t *testing.T) {
	env := newTestEnv(t)
	ctx, amy := env.signUp(t, "amy@school.test")

	streamCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.hub.Register(amy.UserID, cancel)

	_, err := env.srv.DeleteAccount(ctx, &rpc.DeleteAccountRequest{Token: amy.Token, Password: "wrong1"})
	if authCode(err) != apperr.CredentialMismatch {
		t.Fatalf("wrong password: got %v", err)
	}
	if streamCtx.Err() != nil {
		t.Fatal("a refused delete must not end streams")
	}

	if _, err := env.srv.DeleteAccount(ctx, &rpc.DeleteAccountRequest{Token: amy.Token, Password: "secret1"}); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if streamCtx.Err() == nil {
		t.Error("streams of a deleted account should be ended")
	}
	if _, err := env.store.Get(context.Background(), docstore.Accounts, amy.UserID); !apperr.IsNotFound(err) {
		t.Errorf("account record: got %v, want not found", err)
	}

	_, err = env.srv.DeleteAccount(ctx, &rpc.DeleteAccountRequest{Token: amy.Token, Password: "secret1"})
	if !errors.Is(err, identity.ErrInvalidToken) {
		t.Errorf("second delete: got %v, want invalid token", err)
	}
}
