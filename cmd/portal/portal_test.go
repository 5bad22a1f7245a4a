package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/auth"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/identity"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/mirror"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/presence"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/session"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/view"
)

type fakeAccount struct {
	password string
	deleted  bool
}

func (a *fakeAccount) ChangePassword(_ context.Context, password, newPassword string) (identity.Identity, error) {
	if password != a.password {
		return identity.Identity{}, apperr.Auth(apperr.CredentialMismatch, nil)
	}
	a.password = newPassword
	return identity.Identity{}, nil
}

func (a *fakeAccount) DeleteAccount(_ context.Context, password string) error {
	if password != a.password {
		return apperr.Auth(apperr.CredentialMismatch, nil)
	}
	a.deleted = true
	return nil
}

func newCommands(role string) (*commands, *docstore.Memory, *bytes.Buffer) {
	store := docstore.NewMemory()
	var buf bytes.Buffer
	return &commands{
		mirror:  mirror.New(store),
		account: &fakeAccount{password: "secret1"},
		session: session.Session{UserID: "u1", Email: "amy@school.test", DisplayName: "Amy", Role: role},
		out:     newConsole(&buf, view.Options{}),
	}, store, &buf
}

func TestPlainLinePostsMessage(t *testing.T) {
	c, store, _ := newCommands(auth.RoleStudent)
	ctx := context.Background()

	require.NoError(t, c.run(ctx, "hello class"))
	docs, err := store.Query(ctx, mirror.CommunityCollection.Query())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "hello class", docs[0].String("content"))
	assert.Equal(t, "Amy", docs[0].String("userName"))
}

func TestAskAndAnswer(t *testing.T) {
	c, store, _ := newCommands(auth.RoleTeacher)
	ctx := context.Background()

	require.NoError(t, c.run(ctx, "/ask what is a verb?"))
	docs, err := store.Query(ctx, mirror.DoubtsCollection.Query())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, c.run(ctx, "/answer "+docs[0].ID+" an action word"))
	doc, err := store.Get(ctx, docstore.Doubts, docs[0].ID)
	require.NoError(t, err)
	d := mirror.DoubtFromDocument(doc)
	assert.Equal(t, mirror.StatusAnswered, d.Status)
	require.Len(t, d.Answers, 1)
	assert.Equal(t, "an action word", d.Answers[0].AnswerText)
}

func TestHomeworkCommand(t *testing.T) {
	c, store, buf := newCommands(auth.RoleTeacher)
	ctx := context.Background()

	require.NoError(t, c.run(ctx, "/homework Essay | 500 words | 2025-03-01"))
	docs, err := store.Query(ctx, mirror.HomeworkCollection.Query())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "2025-03-01", docs[0].String("dueDate"))
	assert.Contains(t, buf.String(), "Homework assigned.")

	err = c.run(ctx, "/homework Essay | 500 words | March")
	assert.Contains(t, describe(err), "dueDate")
}

func TestQuitAndUnknown(t *testing.T) {
	c, _, buf := newCommands(auth.RoleStudent)
	assert.ErrorIs(t, c.run(context.Background(), "/quit"), errQuit)
	require.NoError(t, c.run(context.Background(), "/dance"))
	assert.Contains(t, buf.String(), "Unknown command /dance")
}

func TestPasswordAndDeleteCommands(t *testing.T) {
	c, _, buf := newCommands(auth.RoleStudent)
	ctx := context.Background()
	acct := c.account.(*fakeAccount)

	err := c.run(ctx, "/password wrong secret2")
	code, _ := apperr.AuthCodeOf(err)
	assert.Equal(t, apperr.CredentialMismatch, code)

	require.NoError(t, c.run(ctx, "/password secret1 secret2"))
	assert.Equal(t, "secret2", acct.password)
	assert.Contains(t, buf.String(), "Password changed.")

	assert.ErrorIs(t, c.run(ctx, "/delete secret2"), errQuit)
	assert.True(t, acct.deleted)
}

func TestConsoleSubscriptionErrors(t *testing.T) {
	var buf bytes.Buffer
	out := newConsole(&buf, view.Options{})

	out.subscriptionError(mirror.CommunityCollection.Query(), apperr.Auth(apperr.AccountDisabled, nil), true)
	out.subscriptionError(mirror.DoubtsCollection.Query(), apperr.ErrPermissionDenied, false)
	assert.Contains(t, buf.String(), "Lost community updates")
	assert.Contains(t, buf.String(), "Stopped doubts updates")
}

func TestCommandLoopStopsAtEOF(t *testing.T) {
	c, store, _ := newCommands(auth.RoleStudent)
	in := make(chan string, 2)
	in <- "first"
	close(in)

	err := commandLoop(context.Background(), c, in)
	assert.ErrorIs(t, err, errQuit)
	docs, qerr := store.Query(context.Background(), mirror.CommunityCollection.Query())
	require.NoError(t, qerr)
	assert.Len(t, docs, 1)
}

func TestConsoleChatPrintsOnlyNewMessages(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf, view.Options{})
	ts := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)

	c.chat(nil)
	assert.Contains(t, buf.String(), view.EmptyChat)

	older := mirror.Message{ID: "m1", UserName: "Amy", Content: "one", Timestamp: ts}
	newer := mirror.Message{ID: "m2", UserName: "Bob", Content: "two", Timestamp: ts.Add(time.Minute)}
	c.chat([]mirror.Message{older})
	c.chat([]mirror.Message{newer, older})

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, ": one"))
	assert.Less(t, strings.Index(out, ": one"), strings.Index(out, ": two"))
	assert.Contains(t, out, "[09:31] Bob")
}

func TestConsoleOnline(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf, view.Options{TeacherEmail: "t@school.test"})

	c.printOnline()
	assert.Contains(t, buf.String(), view.EmptyOnline)

	c.online(map[string]presence.Record{
		"u1": {UserID: "u1", Name: "Zoe", Email: "zoe@school.test", IsOnline: true},
		"t1": {UserID: "t1", Name: "Mrs T", Email: "t@school.test", IsOnline: true},
	})
	c.printOnline()
	assert.Contains(t, buf.String(), "Online (2): Mrs T ("+view.BadgeTeacher+"), Zoe")
}
