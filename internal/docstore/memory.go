package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
)

// Memory is an in-process Store. It backs tests, local development and the
// server when no MongoDB URI is configured.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	subs        map[string]map[int64]*memorySub
	nextSubID   int64

	clock *Clock
	newID func() string
}

type memorySub struct {
	query Query
	feed  *Feed
}

var _ Store = (*Memory)(nil)

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the server timestamp clock.
func WithClock(c *Clock) MemoryOption {
	return func(m *Memory) { m.clock = c }
}

// WithIDGenerator overrides generated document keys.
func WithIDGenerator(gen func() string) MemoryOption {
	return func(m *Memory) { m.newID = gen }
}

// NewMemory returns an empty store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		collections: make(map[string]map[string]map[string]any),
		subs:        make(map[string]map[int64]*memorySub),
		clock:       NewClock(nil, time.Microsecond),
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields, ok := m.collections[collection][id]
	if !ok {
		return Document{}, apperr.NotFound(collection, id)
	}
	return Document{ID: id, Fields: CloneFields(fields)}, nil
}

func (m *Memory) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	return m.write(ctx, collection, id, fields, func(map[string]any, bool) (bool, error) {
		return merge, nil
	})
}

func (m *Memory) Create(ctx context.Context, collection, id string, fields map[string]any) error {
	return m.write(ctx, collection, id, fields, func(_ map[string]any, exists bool) (bool, error) {
		if exists {
			return false, ErrAlreadyExists
		}
		return false, nil
	})
}

func (m *Memory) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return m.write(ctx, collection, id, fields, func(_ map[string]any, exists bool) (bool, error) {
		if !exists {
			return false, apperr.NotFound(collection, id)
		}
		return true, nil
	})
}

func (m *Memory) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := m.newID()
	if err := m.Create(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[collection][id]; !ok {
		return nil
	}
	delete(m.collections[collection], id)
	m.notifyLocked(collection)
	return nil
}

// write normalises fields and applies them under the store lock. decide
// inspects the current document and returns whether to merge.
func (m *Memory) write(ctx context.Context, collection, id string, fields map[string]any, decide func(existing map[string]any, exists bool) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if collection == "" || id == "" {
		return apperr.Validation(nil, apperr.FieldError{Field: "id", Error: "collection and id are required"})
	}
	norm, err := NormalizeFields(fields)
	if err != nil {
		return apperr.Validation(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collections[collection]
	existing, exists := coll[id]
	merge, err := decide(existing, exists)
	if err != nil {
		return err
	}
	next, err := ResolveFields(existing, norm, m.clock.Now(), merge)
	if err != nil {
		return apperr.Validation(err)
	}
	if coll == nil {
		coll = make(map[string]map[string]any)
		m.collections[collection] = coll
	}
	coll[id] = next
	m.notifyLocked(collection)
	return nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runLocked(q), nil
}

func (m *Memory) runLocked(q Query) []Document {
	coll := m.collections[q.Collection]
	docs := make([]Document, 0, len(coll))
	for id, fields := range coll {
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	docs = Apply(q, docs)
	for i := range docs {
		docs[i].Fields = CloneFields(docs[i].Fields)
	}
	return docs
}

func (m *Memory) Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memorySub{query: q, feed: NewFeed(fn)}

	m.mu.Lock()
	m.nextSubID++
	subID := m.nextSubID
	if m.subs[q.Collection] == nil {
		m.subs[q.Collection] = make(map[int64]*memorySub)
	}
	m.subs[q.Collection][subID] = sub
	sub.feed.Publish(Snapshot{Docs: m.runLocked(q), ReadAt: time.Now().UTC()})
	m.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[q.Collection], subID)
			m.mu.Unlock()
			sub.feed.Close()
		})
	}
	stop := context.AfterFunc(ctx, cleanup)
	return func() {
		stop()
		cleanup()
	}, nil
}

// notifyLocked publishes a fresh snapshot to every subscription on collection.
// Must hold m.mu.
func (m *Memory) notifyLocked(collection string) {
	subs := m.subs[collection]
	if len(subs) == 0 {
		return
	}
	now := time.Now().UTC()
	for _, sub := range subs {
		sub.feed.Publish(Snapshot{Docs: m.runLocked(sub.query), ReadAt: now})
	}
}
