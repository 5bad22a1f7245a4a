package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/normalize"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/validate"
)

// Persistence selects where a signed-in session survives.
type Persistence int

const (
	// SessionOnly keeps the token in memory for the life of the process.
	SessionOnly Persistence = iota
	// Durable also writes the token to the token file so Restore can resume it.
	Durable
)

// TokenFile persists a session token on disk with owner-only permissions.
type TokenFile struct {
	Path string
}

func (f TokenFile) Load() (string, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (f TokenFile) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(f.Path, []byte(token+"\n"), 0o600)
}

func (f TokenFile) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ChangeFunc receives the current identity, or ok=false when signed out.
type ChangeFunc func(id Identity, ok bool)

// Client holds the identity of this process. The first listener callback
// happens once the initial state is known: after Restore or the first sign-in.
type Client struct {
	backend Backend
	file    *TokenFile
	logger  *slog.Logger

	mu          sync.Mutex
	current     *Identity
	resolved    bool
	persistence Persistence
	listeners   map[int]ChangeFunc
	nextID      int

	// notifyMu serialises listener delivery so callbacks observe changes in
	// order.
	notifyMu sync.Mutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTokenFile enables Durable persistence backed by path.
func WithTokenFile(path string) ClientOption {
	return func(c *Client) { c.file = &TokenFile{Path: path} }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a signed-out client in the unresolved state.
func NewClient(backend Backend, opts ...ClientOption) *Client {
	c := &Client{
		backend:   backend,
		logger:    slog.Default(),
		listeners: make(map[int]ChangeFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetPersistence chooses how later sign-ins are kept. Durable requires a
// token file.
func (c *Client) SetPersistence(p Persistence) error {
	if p == Durable && c.file == nil {
		return fmt.Errorf("durable persistence needs a token file")
	}
	c.mu.Lock()
	c.persistence = p
	c.mu.Unlock()
	return nil
}

// Current returns the signed-in identity.
func (c *Client) Current() (Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Identity{}, false
	}
	return *c.current, true
}

// Token returns the current session token, or "".
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.Token
}

// OnIdentityChange registers fn. When the state is already known fn is called
// once immediately with it.
func (c *Client) OnIdentityChange(fn ChangeFunc) (unsubscribe func()) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	resolved := c.resolved
	var cur *Identity
	if c.current != nil {
		copied := *c.current
		cur = &copied
	}
	c.mu.Unlock()

	if resolved {
		if cur != nil {
			fn(*cur, true)
		} else {
			fn(Identity{}, false)
		}
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

// set replaces the identity and notifies every listener.
func (c *Client) set(next *Identity) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.current = next
	c.resolved = true
	fns := make([]ChangeFunc, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		if next != nil {
			fn(*next, true)
		} else {
			fn(Identity{}, false)
		}
	}
}

// Restore resumes a durable session when one was saved, and resolves the
// state either way.
func (c *Client) Restore(ctx context.Context) error {
	if c.file == nil {
		c.set(nil)
		return nil
	}
	token, err := c.file.Load()
	if err != nil || token == "" {
		c.set(nil)
		return err
	}

	id, err := c.backend.Resume(ctx, token)
	if err != nil {
		// only a rejected token is discarded; transport failures keep it
		if code, ok := apperr.AuthCodeOf(err); !ok || code != apperr.NetworkUnavailable {
			if cerr := c.file.Clear(); cerr != nil {
				c.logger.Warn("clear token file", "error", cerr)
			}
		}
		c.set(nil)
		return err
	}
	c.mu.Lock()
	c.persistence = Durable
	c.mu.Unlock()
	c.set(&id)
	return nil
}

func checkCredentials(email, password string) error {
	if err := validate.Field("email", normalize.Email(email), "required,email"); err != nil {
		return err
	}
	return validate.Field("password", password, "required")
}

func (c *Client) signedIn(id Identity) {
	c.mu.Lock()
	durable := c.persistence == Durable
	c.mu.Unlock()
	if durable {
		if err := c.file.Save(id.Token); err != nil {
			c.logger.Warn("save token file", "error", err)
		}
	}
	c.set(&id)
}

// SignIn authenticates with email and password.
func (c *Client) SignIn(ctx context.Context, email, password string) (Identity, error) {
	if err := checkCredentials(email, password); err != nil {
		return Identity{}, err
	}
	id, err := c.backend.SignIn(ctx, email, password)
	if err != nil {
		return Identity{}, err
	}
	c.signedIn(id)
	return id, nil
}

// CreateAccount registers and signs in a new account.
func (c *Client) CreateAccount(ctx context.Context, email, password, displayName string) (Identity, error) {
	if err := checkCredentials(email, password); err != nil {
		return Identity{}, err
	}
	id, err := c.backend.CreateAccount(ctx, email, password, displayName)
	if err != nil {
		return Identity{}, err
	}
	c.signedIn(id)
	return id, nil
}

// SendPasswordReset asks the provider to mail a reset code.
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	if err := validate.Field("email", normalize.Email(email), "required,email"); err != nil {
		return err
	}
	return c.backend.SendPasswordReset(ctx, email)
}

// Reauthenticate confirms the current user's password and refreshes the token.
func (c *Client) Reauthenticate(ctx context.Context, password string) (Identity, error) {
	token := c.Token()
	if token == "" {
		return Identity{}, apperr.Auth(apperr.AccountNotFound, errors.New("not signed in"))
	}
	if err := validate.Field("password", password, "required"); err != nil {
		return Identity{}, err
	}
	id, err := c.backend.Reauthenticate(ctx, token, password)
	if err != nil {
		return Identity{}, err
	}
	c.signedIn(id)
	return id, nil
}

// ChangePassword replaces the current user's password after confirming the
// current one, and switches to the fresh session it returns.
func (c *Client) ChangePassword(ctx context.Context, password, newPassword string) (Identity, error) {
	token := c.Token()
	if token == "" {
		return Identity{}, apperr.Auth(apperr.AccountNotFound, errors.New("not signed in"))
	}
	if err := validate.Field("password", password, "required"); err != nil {
		return Identity{}, err
	}
	if len(newPassword) < MinPasswordLength {
		return Identity{}, apperr.Auth(apperr.WeakCredential, nil)
	}
	id, err := c.backend.ChangePassword(ctx, token, password, newPassword)
	if err != nil {
		return Identity{}, err
	}
	c.signedIn(id)
	return id, nil
}

// DeleteAccount removes the current user's account after confirming the
// password, then signs out.
func (c *Client) DeleteAccount(ctx context.Context, password string) error {
	token := c.Token()
	if token == "" {
		return apperr.Auth(apperr.AccountNotFound, errors.New("not signed in"))
	}
	if err := validate.Field("password", password, "required"); err != nil {
		return err
	}
	if err := c.backend.DeleteAccount(ctx, token, password); err != nil {
		return err
	}
	return c.SignOut()
}

// SignOut forgets the session locally and on disk.
func (c *Client) SignOut() error {
	var err error
	if c.file != nil {
		err = c.file.Clear()
	}
	c.set(nil)
	return err
}
