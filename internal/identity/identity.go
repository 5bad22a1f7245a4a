// Package identity implements the identity provider: accounts with bcrypt
// credentials stored in the document store, JWT session tokens, password reset
// and email verification. The client half (Client) keeps the signed-in
// identity of one process and notifies listeners when it changes.
package identity

import (
	"context"
	"time"
)

// Identity is an authenticated account together with its session token.
type Identity struct {
	UserID        string    `json:"userId"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"emailVerified"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Backend is the identity provider as seen by a client. Service implements it
// in-process; rpc.Client implements it over the network.
type Backend interface {
	CreateAccount(ctx context.Context, email, password, displayName string) (Identity, error)
	SignIn(ctx context.Context, email, password string) (Identity, error)
	SendPasswordReset(ctx context.Context, email string) error
	Reauthenticate(ctx context.Context, token, password string) (Identity, error)
	ChangePassword(ctx context.Context, token, password, newPassword string) (Identity, error)
	DeleteAccount(ctx context.Context, token, password string) error
	Resume(ctx context.Context, token string) (Identity, error)
}
