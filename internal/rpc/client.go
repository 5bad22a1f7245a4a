package rpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/identity"
)

// Dial opens a connection to a Classroom server.
func Dial(target string, creds credentials.TransportCredentials, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)
	return grpc.NewClient(target, opts...)
}

// DefaultResubscribeBackoff paces the reopening of an interrupted
// subscription.
var DefaultResubscribeBackoff = backoff.Config{
	BaseDelay:  100 * time.Millisecond,
	Multiplier: 2,
	Jitter:     0.2,
	MaxDelay:   10 * time.Second,
}

// SubscriptionErrorFunc is told why a subscription was interrupted. When
// retrying is false the subscription has ended for good and delivers no more
// snapshots.
type SubscriptionErrorFunc func(q docstore.Query, err error, retrying bool)

// Client talks to a Classroom server. It is both the document store and the
// identity backend of a remote client.
type Client struct {
	conn    grpc.ClientConnInterface
	logger  *slog.Logger
	backoff backoff.Config
	onError SubscriptionErrorFunc

	mu    sync.RWMutex
	token func() string
}

var (
	_ docstore.Store   = (*Client)(nil)
	_ identity.Backend = (*Client)(nil)
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTokenSource sets the function supplying the bearer token of each call.
func WithTokenSource(fn func() string) ClientOption {
	return func(c *Client) { c.token = fn }
}

// WithLogger sets the logger for subscription failures.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithResubscribeBackoff replaces DefaultResubscribeBackoff.
func WithResubscribeBackoff(cfg backoff.Config) ClientOption {
	return func(c *Client) { c.backoff = cfg }
}

// WithSubscriptionErrors reports subscription interruptions to fn.
func WithSubscriptionErrors(fn SubscriptionErrorFunc) ClientOption {
	return func(c *Client) { c.onError = fn }
}

// NewClient returns a Client using conn.
func NewClient(conn grpc.ClientConnInterface, opts ...ClientOption) *Client {
	c := &Client{conn: conn, logger: slog.Default(), backoff: DefaultResubscribeBackoff}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokenSource replaces the token source. The identity client that uses
// this Client as its backend is usually the source.
func (c *Client) SetTokenSource(fn func() string) {
	c.mu.Lock()
	c.token = fn
	c.mu.Unlock()
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	c.mu.RLock()
	fn := c.token
	c.mu.RUnlock()
	if fn == nil {
		return ctx
	}
	if tok := fn(); tok != "" {
		return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
	}
	return ctx
}

func (c *Client) invoke(ctx context.Context, method string, in, out wireMessage) error {
	req, err := in.toWire()
	if err != nil {
		return apperr.Validation(err)
	}
	resp := out.newWire()
	if err := c.conn.Invoke(c.outgoing(ctx), FullMethod(method), req, resp); err != nil {
		return FromStatus(err)
	}
	return out.fromWire(resp)
}

// identityErr reports transport failures of credential calls as
// NetworkUnavailable.
func identityErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.AuthCodeOf(err); ok {
		return err
	}
	if isNetwork(err) {
		return apperr.Auth(apperr.NetworkUnavailable, err)
	}
	return err
}

func (c *Client) identityCall(ctx context.Context, method string, in wireMessage) (identity.Identity, error) {
	var out IdentityResponse
	if err := c.invoke(ctx, method, in, &out); err != nil {
		return identity.Identity{}, identityErr(err)
	}
	return out.Identity(), nil
}

// CreateAccount registers an account and signs it in.
func (c *Client) CreateAccount(ctx context.Context, email, password, displayName string) (identity.Identity, error) {
	return c.identityCall(ctx, MethodCreateAccount, &CreateAccountRequest{Email: email, Password: password, DisplayName: displayName})
}

// SignIn exchanges credentials for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (identity.Identity, error) {
	return c.identityCall(ctx, MethodSignIn, &SignInRequest{Email: email, Password: password})
}

// SendPasswordReset asks the server to mail a reset code.
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return identityErr(c.invoke(ctx, MethodSendPasswordReset, &SendPasswordResetRequest{Email: email}, &Empty{}))
}

// ResetPassword sets a new password using a mailed reset code.
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	return identityErr(c.invoke(ctx, MethodResetPassword, &ResetPasswordRequest{Token: token, NewPassword: newPassword}, &Empty{}))
}

// Reauthenticate confirms the password behind a session token.
func (c *Client) Reauthenticate(ctx context.Context, token, password string) (identity.Identity, error) {
	return c.identityCall(ctx, MethodReauthenticate, &ReauthenticateRequest{Token: token, Password: password})
}

// ChangePassword replaces the password behind a session token and returns a
// fresh session; tokens issued before the change stop working.
func (c *Client) ChangePassword(ctx context.Context, token, password, newPassword string) (identity.Identity, error) {
	return c.identityCall(ctx, MethodChangePassword, &ChangePasswordRequest{Token: token, Password: password, NewPassword: newPassword})
}

// DeleteAccount removes the account behind a session token and its records.
func (c *Client) DeleteAccount(ctx context.Context, token, password string) error {
	return identityErr(c.invoke(ctx, MethodDeleteAccount, &DeleteAccountRequest{Token: token, Password: password}, &Empty{}))
}

// Resume restores the session behind a remembered token.
func (c *Client) Resume(ctx context.Context, token string) (identity.Identity, error) {
	return c.identityCall(ctx, MethodResume, &ResumeRequest{Token: token})
}

// SendEmailVerification mails a verification code to the signed-in account.
func (c *Client) SendEmailVerification(ctx context.Context) error {
	return identityErr(c.invoke(ctx, MethodSendEmailVerification, &SendEmailVerificationRequest{}, &Empty{}))
}

// VerifyEmail confirms an email address with a mailed code.
func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	return identityErr(c.invoke(ctx, MethodVerifyEmail, &VerifyEmailRequest{Token: token}, &Empty{}))
}

// SetDisabled enables or disables an account. Teacher only.
func (c *Client) SetDisabled(ctx context.Context, uid string, disabled bool) error {
	return identityErr(c.invoke(ctx, MethodSetDisabled, &SetDisabledRequest{UserID: uid, Disabled: disabled}, &Empty{}))
}

// Get fetches one document.
func (c *Client) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var out GetResponse
	if err := c.invoke(ctx, MethodGet, &DocumentRef{Collection: collection, ID: id}, &out); err != nil {
		if apperr.IsNotFound(err) {
			return docstore.Document{}, apperr.NotFound(collection, id)
		}
		return docstore.Document{}, err
	}
	return out.Document, nil
}

// Set upserts a document.
func (c *Client) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	return c.invoke(ctx, MethodSet, &SetRequest{Collection: collection, ID: id, Fields: fields, Merge: merge}, &Empty{})
}

// Create inserts a document under id unless it exists.
func (c *Client) Create(ctx context.Context, collection, id string, fields map[string]any) error {
	return c.invoke(ctx, MethodCreate, &WriteRequest{Collection: collection, ID: id, Fields: fields}, &Empty{})
}

// Update modifies an existing document.
func (c *Client) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	err := c.invoke(ctx, MethodUpdate, &WriteRequest{Collection: collection, ID: id, Fields: fields}, &Empty{})
	if apperr.IsNotFound(err) {
		return apperr.NotFound(collection, id)
	}
	return err
}

// Add inserts a document under a server-generated key.
func (c *Client) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	var out AddResponse
	if err := c.invoke(ctx, MethodAdd, &AddRequest{Collection: collection, Fields: fields}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Delete removes a document.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	return c.invoke(ctx, MethodDelete, &DocumentRef{Collection: collection, ID: id}, &Empty{})
}

// Query runs q once on the server.
func (c *Client) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	var out QueryResponse
	if err := c.invoke(ctx, MethodQuery, &QueryRequest{Query: q}, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// Subscribe opens a server stream for q. The first snapshot is received
// before Subscribe returns, so rejected queries fail here rather than later.
// Snapshots are then delivered in order on a separate goroutine.
//
// An interrupted stream is reopened with backoff and resumes with a fresh
// complete snapshot. Errors that retrying cannot fix end the subscription;
// either way the error goes to the SubscriptionErrorFunc.
func (c *Client) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Unsubscribe, error) {
	req, err := (&QueryRequest{Query: q}).toWire()
	if err != nil {
		return nil, apperr.Validation(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, first, err := c.openSubscription(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	feed := docstore.NewFeed(fn)
	feed.Publish(first)
	go func() {
		defer feed.Close()
		c.follow(ctx, q, req, stream, feed)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			feed.Close()
		})
	}, nil
}

// openSubscription starts a stream and waits for its first snapshot.
func (c *Client) openSubscription(ctx context.Context, req proto.Message) (grpc.ClientStream, docstore.Snapshot, error) {
	stream, err := c.conn.NewStream(c.outgoing(ctx), &ServiceDesc.Streams[0], FullMethod(MethodSubscribe))
	if err != nil {
		return nil, docstore.Snapshot{}, FromStatus(err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, docstore.Snapshot{}, FromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, docstore.Snapshot{}, FromStatus(err)
	}
	first, err := recvSnapshot(stream)
	if err != nil {
		return nil, docstore.Snapshot{}, err
	}
	return stream, first, nil
}

// follow publishes snapshots of stream until ctx is done, reopening the
// subscription whenever it is interrupted by a retryable error.
func (c *Client) follow(ctx context.Context, q docstore.Query, req proto.Message, stream grpc.ClientStream, feed *docstore.Feed) {
	for {
		snap, err := recvSnapshot(stream)
		if err == nil {
			feed.Publish(snap)
			continue
		}

		for retries := 0; ; retries++ {
			if ctx.Err() != nil {
				return
			}
			retry := resubscribable(err)
			c.subscriptionFailed(q, err, retry)
			if !retry {
				return
			}

			t := time.NewTimer(c.backoffDelay(retries))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}

			stream, snap, err = c.openSubscription(ctx, req)
			if err == nil {
				c.logger.Info("subscription resumed", "collection", q.Collection, "attempts", retries+1)
				feed.Publish(snap)
				break
			}
		}
	}
}

func (c *Client) subscriptionFailed(q docstore.Query, err error, retrying bool) {
	if retrying {
		c.logger.Warn("subscription interrupted", "collection", q.Collection, "error", err)
	} else {
		c.logger.Error("subscription ended", "collection", q.Collection, "error", err)
	}
	if c.onError != nil {
		c.onError(q, err, retrying)
	}
}

// resubscribable reports whether reopening a subscription can succeed
// later. A disabled account may be enabled again; a rejected query or a
// revoked session stays rejected.
func resubscribable(err error) bool {
	if code, ok := apperr.AuthCodeOf(err); ok {
		return code == apperr.AccountDisabled || code == apperr.NetworkUnavailable || code == apperr.RateLimited
	}
	return errors.Is(err, io.EOF) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrAborted)
}

// backoffDelay returns the pause before reopen attempt retries+1.
func (c *Client) backoffDelay(retries int) time.Duration {
	cfg := c.backoff
	delay := float64(cfg.BaseDelay)
	for i := 0; i < retries && delay < float64(cfg.MaxDelay); i++ {
		delay *= cfg.Multiplier
	}
	delay = min(delay, float64(cfg.MaxDelay))
	delay *= 1 + cfg.Jitter*(rand.Float64()*2-1)
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

func recvSnapshot(stream grpc.ClientStream) (docstore.Snapshot, error) {
	var msg SnapshotResponse
	w := msg.newWire()
	if err := stream.RecvMsg(w); err != nil {
		if errors.Is(err, io.EOF) {
			return docstore.Snapshot{}, err
		}
		return docstore.Snapshot{}, FromStatus(err)
	}
	if err := msg.fromWire(w); err != nil {
		return docstore.Snapshot{}, err
	}
	return docstore.Snapshot{Docs: msg.Documents, ReadAt: msg.ReadAt}, nil
}
