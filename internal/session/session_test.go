package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/auth"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/identity"
)

// fakeSource lets tests drive identity changes by hand.
type fakeSource struct {
	mu sync.Mutex
	fn identity.ChangeFunc
}

func (f *fakeSource) OnIdentityChange(fn identity.ChangeFunc) func() {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.fn = nil
		f.mu.Unlock()
	}
}

func (f *fakeSource) emit(id identity.Identity, ok bool) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(id, ok)
	}
}

type failingProfiles struct{}

func (failingProfiles) EnsureProfile(context.Context, Session) error {
	return errors.New("offline")
}

func TestStartsUnknownThenResolves(t *testing.T) {
	src := &fakeSource{}
	c := New(src, "teacher@school.org")
	defer c.Close()

	assert.Equal(t, Unknown, c.State())
	var calls int
	c.OnChange(func(Session, bool) { calls++ })
	assert.Zero(t, calls, "no callback before the first identity result")

	src.emit(identity.Identity{}, false)
	assert.Equal(t, Absent, c.State())
	assert.Equal(t, 1, calls)

	src.emit(identity.Identity{UserID: "t1", Email: "Teacher@School.org"}, true)
	s, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, Present, c.State())
	assert.True(t, s.IsTeacher())
	assert.Equal(t, 2, calls)
}

func TestRoleDerivation(t *testing.T) {
	src := &fakeSource{}
	c := New(src, "teacher@school.org")
	defer c.Close()

	// the provider's role claim does not override the configured teacher
	src.emit(identity.Identity{UserID: "s1", Email: "amy@school.org", Role: auth.RoleTeacher}, true)
	s, _ := c.Current()
	assert.Equal(t, auth.RoleStudent, s.Role)

	unconfigured := New(src, "")
	defer unconfigured.Close()
	src.emit(identity.Identity{UserID: "t1", Email: "t@school.org", Role: auth.RoleTeacher}, true)
	s, _ = unconfigured.Current()
	assert.Equal(t, auth.RoleTeacher, s.Role)
}

func TestProfileCreatedOnSignIn(t *testing.T) {
	store := docstore.NewMemory()
	src := &fakeSource{}
	c := New(src, "", WithProfileEnsurer(StoreProfiles{Store: store}))

	src.emit(identity.Identity{UserID: "s1", Email: "amy@school.org", DisplayName: "Amy"}, true)
	c.Close()

	doc, err := store.Get(context.Background(), docstore.Users, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Amy", doc.String("name"))
	assert.Equal(t, auth.RoleStudent, doc.String("role"))
	_, ok := doc.Time("lastSeen")
	assert.True(t, ok)

	// an existing profile keeps its fields
	require.NoError(t, store.Set(context.Background(), docstore.Users, "s1", map[string]any{"name": "Amy P"}, true))
	require.NoError(t, StoreProfiles{Store: store}.EnsureProfile(context.Background(), Session{UserID: "s1", DisplayName: "Other"}))
	doc, err = store.Get(context.Background(), docstore.Users, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Amy P", doc.String("name"))
}

func TestProfileFailureIsReportedNotFatal(t *testing.T) {
	src := &fakeSource{}
	reported := make(chan error, 1)
	c := New(src, "", WithProfileEnsurer(failingProfiles{}), WithErrorReporter(func(err error) { reported <- err }))
	defer c.Close()

	src.emit(identity.Identity{UserID: "s1", Email: "amy@school.org"}, true)
	select {
	case err := <-reported:
		assert.EqualError(t, err, "offline")
	case <-time.After(time.Second):
		t.Fatal("profile failure was not reported")
	}
	_, ok := c.Current()
	assert.True(t, ok, "session stays present")
}

func TestUnsubscribeAndClose(t *testing.T) {
	src := &fakeSource{}
	c := New(src, "")

	var calls int
	unsub := c.OnChange(func(Session, bool) { calls++ })
	src.emit(identity.Identity{}, false)
	unsub()
	src.emit(identity.Identity{UserID: "s1"}, true)
	assert.Equal(t, 1, calls)

	c.Close()
	src.emit(identity.Identity{}, false)
	assert.Equal(t, Present, c.State(), "closed context ignores the source")
}

func TestWithIdentityClient(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	svc := identity.NewService(store, auth.NewJWTManager("secret", time.Hour), identity.Options{Mailer: discard{}})
	client := identity.NewClient(svc)

	c := New(client, "teacher@school.org", WithProfileEnsurer(StoreProfiles{Store: store}))
	require.NoError(t, client.Restore(ctx))
	assert.Equal(t, Absent, c.State())

	_, err := client.CreateAccount(ctx, "teacher@school.org", "secret1", "Ms T")
	require.NoError(t, err)
	s, ok := c.Current()
	require.True(t, ok)
	assert.True(t, s.IsTeacher())
	assert.Equal(t, "Ms T", s.DisplayName)
	c.Close()

	doc, err := store.Get(ctx, docstore.Users, s.UserID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleTeacher, doc.String("role"))
}

type discard struct{}

func (discard) Send(context.Context, identity.Mail) error { return nil }
