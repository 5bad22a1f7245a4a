// Package session tracks the signed-in identity of a client process and the
// role derived from it. Other components read sessions from here; none of them
// mutate it.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/auth"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/identity"
)

// State of the session context.
type State int

const (
	// Unknown until the identity source reports its first result.
	Unknown State = iota
	Absent
	Present
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Present:
		return "present"
	}
	return "unknown"
}

// Session is the authenticated user as seen by the client components.
type Session struct {
	UserID        string
	Email         string
	DisplayName   string
	Role          string
	EmailVerified bool
}

// IsTeacher reports whether the session has the teacher role.
func (s Session) IsTeacher() bool { return s.Role == auth.RoleTeacher }

// Source reports identity changes. identity.Client implements it.
type Source interface {
	OnIdentityChange(fn identity.ChangeFunc) (unsubscribe func())
}

// ProfileEnsurer makes sure a profile document exists for a new session.
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, s Session) error
}

// ChangeFunc receives the session, or ok=false when signed out.
type ChangeFunc func(s Session, ok bool)

// Context owns the current session.
type Context struct {
	teacherEmail string
	ensurer      ProfileEnsurer
	report       func(error)
	logger       *slog.Logger
	timeout      time.Duration

	mu        sync.Mutex
	state     State
	current   Session
	listeners map[int]ChangeFunc
	nextID    int

	notifyMu sync.Mutex
	pending  sync.WaitGroup
	stop     func()
}

// Option configures a Context.
type Option func(*Context)

// WithProfileEnsurer runs e on every transition to a present session.
func WithProfileEnsurer(e ProfileEnsurer) Option {
	return func(c *Context) { c.ensurer = e }
}

// WithErrorReporter receives profile check failures. They are logged when no
// reporter is set.
func WithErrorReporter(fn func(error)) Option {
	return func(c *Context) { c.report = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// New starts tracking src. teacherEmail decides the teacher role; when empty
// the role reported by the identity provider is used.
func New(src Source, teacherEmail string, opts ...Option) *Context {
	c := &Context{
		teacherEmail: teacherEmail,
		logger:       slog.Default(),
		timeout:      10 * time.Second,
		listeners:    make(map[int]ChangeFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stop = src.OnIdentityChange(c.onIdentity)
	return c
}

func (c *Context) roleFor(id identity.Identity) string {
	if c.teacherEmail == "" {
		if id.Role == auth.RoleTeacher {
			return auth.RoleTeacher
		}
		return auth.RoleStudent
	}
	return auth.RoleFor(id.Email, c.teacherEmail)
}

func (c *Context) onIdentity(id identity.Identity, ok bool) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	prevState, prev := c.state, c.current
	if ok {
		c.state = Present
		c.current = Session{
			UserID:        id.UserID,
			Email:         id.Email,
			DisplayName:   id.DisplayName,
			Role:          c.roleFor(id),
			EmailVerified: id.EmailVerified,
		}
	} else {
		c.state = Absent
		c.current = Session{}
	}
	next := c.current
	fns := make([]ChangeFunc, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	if ok && (prevState != Present || prev.UserID != next.UserID) {
		c.ensureProfile(next)
	}
	for _, fn := range fns {
		fn(next, ok)
	}
}

// ensureProfile runs the profile check in the background.
func (c *Context) ensureProfile(s Session) {
	if c.ensurer == nil {
		return
	}
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.ensurer.EnsureProfile(ctx, s); err != nil {
			if c.report != nil {
				c.report(err)
				return
			}
			c.logger.Warn("profile check failed", "user_id", s.UserID, "error", err)
		}
	}()
}

// State returns the current state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the session when one is present.
func (c *Context) Current() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.state == Present
}

// OnChange registers fn for session changes. When the state is known, fn is
// called once immediately with it.
func (c *Context) OnChange(fn ChangeFunc) (unsubscribe func()) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	state, cur := c.state, c.current
	c.mu.Unlock()

	if state != Unknown {
		fn(cur, state == Present)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Close detaches from the identity source and waits for running profile
// checks.
func (c *Context) Close() {
	if c.stop != nil {
		c.stop()
	}
	c.pending.Wait()
}
