// Package presence publishes a user's online status and mirrors everyone
// else's. Records live in onlineUsers/{uid} and are written only by their
// owner; the server's Reaper clears records whose owner stopped heartbeating.
package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/normalize"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/session"
)

// Record is one user's presence document.
type Record struct {
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// RecordFromDocument decodes an onlineUsers document.
func RecordFromDocument(doc docstore.Document) Record {
	r := Record{
		UserID:   doc.String("userId"),
		Name:     doc.String("name"),
		Email:    doc.String("email"),
		IsOnline: doc.Bool("isOnline"),
	}
	if r.UserID == "" {
		r.UserID = doc.ID
	}
	r.LastSeen, _ = doc.Time("lastSeen")
	return r
}

// OnlineQuery selects the records currently marked online.
func OnlineQuery() docstore.Query {
	return docstore.Query{
		Collection: docstore.OnlineUsers,
		Where:      []docstore.Filter{{Field: "isOnline", Op: docstore.Eq, Value: true}},
	}
}

// shutdownTimeout bounds the best-effort offline write on shutdown.
const shutdownTimeout = 2 * time.Second

// Tracker publishes the local user's status.
type Tracker struct {
	store  docstore.Store
	logger *slog.Logger
}

// NewTracker returns a Tracker writing to store.
func NewTracker(store docstore.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, logger: logger}
}

// SetOnline upserts the session's presence record. Repeated calls leave a
// single record.
func (t *Tracker) SetOnline(ctx context.Context, s session.Session, online bool) error {
	if s.UserID == "" {
		return apperr.Validation(nil, apperr.FieldError{Field: "userId", Error: "a signed-in session is required"})
	}
	err := t.store.Set(ctx, docstore.OnlineUsers, s.UserID, map[string]any{
		"userId":   s.UserID,
		"name":     normalize.DisplayName(s.DisplayName, s.Email),
		"email":    s.Email,
		"isOnline": online,
		"lastSeen": docstore.ServerTimestamp(),
	}, true)
	return apperr.Write("set presence", err)
}

// SubscribeOnlineUsers delivers the complete mapping of online users, keyed by
// user id, after every change.
func (t *Tracker) SubscribeOnlineUsers(ctx context.Context, fn func(map[string]Record)) (docstore.Unsubscribe, error) {
	return t.store.Subscribe(ctx, OnlineQuery(), func(snap docstore.Snapshot) {
		online := make(map[string]Record, len(snap.Docs))
		for _, doc := range snap.Docs {
			r := RecordFromDocument(doc)
			online[r.UserID] = r
		}
		fn(online)
	})
}

// Heartbeat refreshes lastSeen every interval until ctx is done, so the reaper
// keeps the record online. Failed beats are logged and retried on the next
// tick.
func (t *Tracker) Heartbeat(ctx context.Context, s session.Session, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		err := t.store.Set(ctx, docstore.OnlineUsers, s.UserID, map[string]any{
			"isOnline": true,
			"lastSeen": docstore.ServerTimestamp(),
		}, true)
		if err != nil && ctx.Err() == nil {
			t.logger.Warn("presence heartbeat failed", "user_id", s.UserID, "error", err)
		}
	}
}

// Shutdown marks the session offline on a best-effort basis. It is not
// guaranteed to reach the store: the process may die first or the network may
// already be gone, which is what the server-side reaper is for. Errors are
// logged and never returned.
func (t *Tracker) Shutdown(ctx context.Context, s session.Session) {
	if s.UserID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := t.SetOnline(ctx, s, false); err != nil {
		t.logger.Warn("offline on shutdown failed", "user_id", s.UserID, "error", err)
	}
}

// MarkOffline clears uid's online flag on behalf of the server. lastSeen is
// left as the owner last wrote it.
func MarkOffline(ctx context.Context, store docstore.Store, uid string) error {
	err := store.Update(ctx, docstore.OnlineUsers, uid, map[string]any{"isOnline": false})
	if apperr.IsNotFound(err) {
		return nil
	}
	return err
}
