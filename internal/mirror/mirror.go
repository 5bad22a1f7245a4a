// Package mirror keeps local copies of remote collections. Every delivery is
// the complete ordered snapshot; consumers replace their view with it.
package mirror

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
)

// Collection describes a mirrored collection: its name, the server-assigned
// creation field it is ordered by (newest first) and an optional cap.
type Collection struct {
	Name       string
	OrderField string
	Limit      int
}

// Query returns the newest-first query for c.
func (c Collection) Query() docstore.Query {
	return docstore.Query{
		Collection: c.Name,
		OrderBy:    c.OrderField,
		Direction:  docstore.Desc,
		Limit:      c.Limit,
	}
}

// WithLimit returns c capped at n items.
func (c Collection) WithLimit(n int) Collection {
	c.Limit = n
	return c
}

// Mirror subscribes to and appends to collections of a store.
type Mirror struct {
	store docstore.Store
}

// New returns a Mirror over store.
func New(store docstore.Store) *Mirror {
	return &Mirror{store: store}
}

// Subscribe delivers the current snapshot of q and a fresh one after every
// change, in order. Once the returned function returns, fn is not invoked
// again; an invocation already running may finish.
func (m *Mirror) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Unsubscribe, error) {
	var closed atomic.Bool
	inner, err := m.store.Subscribe(ctx, q, func(snap docstore.Snapshot) {
		if closed.Load() {
			return
		}
		fn(snap)
	})
	if err != nil {
		return nil, err
	}
	return func() {
		closed.Store(true)
		inner()
	}, nil
}

// Watch is the channel form of Subscribe. A slow reader only misses
// intermediate snapshots, never the newest one. The channel is closed once ctx
// is done.
func (m *Mirror) Watch(ctx context.Context, q docstore.Query) (<-chan docstore.Snapshot, error) {
	ch := make(chan docstore.Snapshot, 1)
	var (
		mu     sync.Mutex
		closed bool
	)
	unsub, err := m.store.Subscribe(ctx, q, func(snap docstore.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		// replace an unread snapshot with the newer one
		select {
		case <-ch:
		default:
		}
		ch <- snap
	})
	if err != nil {
		return nil, err
	}
	context.AfterFunc(ctx, func() {
		unsub()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	})
	return ch, nil
}

// Append adds an item to c. The order field is always assigned by the server
// clock, whatever the caller put in fields.
func (m *Mirror) Append(ctx context.Context, c Collection, fields map[string]any) (string, error) {
	if len(fields) == 0 {
		return "", apperr.Validation(nil, apperr.FieldError{Field: "item", Error: "this field is required"})
	}
	item := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		item[k] = v
	}
	item[c.OrderField] = docstore.ServerTimestamp()

	id, err := m.store.Add(ctx, c.Name, item)
	if err != nil {
		return "", apperr.Write("append "+c.Name, err)
	}
	return id, nil
}
