// Package data provides the MongoDB-backed document store.
package data

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
)

// MongoDB error codes for updates applied to the wrong field type.
const (
	codeBadValue     = 2
	codeTypeMismatch = 14
)

// MongoStore implements docstore.Store over one MongoDB database. Each
// docstore collection maps to the MongoDB collection of the same name and the
// document key is stored as _id.
type MongoStore struct {
	db     *mongo.Database
	clock  *docstore.Clock
	logger *slog.Logger

	// pollInterval drives subscriptions when change streams are unavailable
	// (standalone servers); zero disables the fallback.
	pollInterval time.Duration
}

var _ docstore.Store = (*MongoStore)(nil)

// Option configures a MongoStore.
type Option func(*MongoStore)

// WithLogger sets the logger used for subscription diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *MongoStore) { s.logger = l }
}

// WithPollInterval enables polling subscriptions when Watch fails.
func WithPollInterval(d time.Duration) Option {
	return func(s *MongoStore) { s.pollInterval = d }
}

// WithClock overrides the server timestamp clock.
func WithClock(c *docstore.Clock) Option {
	return func(s *MongoStore) { s.clock = c }
}

// NewMongoStore returns a store writing to database.
func NewMongoStore(database *mongo.Database, opts ...Option) *MongoStore {
	s := &MongoStore{
		db: database,
		// BSON dates carry milliseconds
		clock:        docstore.NewClock(nil, time.Millisecond),
		logger:       slog.Default(),
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func byID(id string) bson.D {
	return bson.D{{Key: "_id", Value: id}}
}

func (s *MongoStore) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, byID(id)).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return docstore.Document{}, apperr.NotFound(collection, id)
		}
		return docstore.Document{}, err
	}
	return documentFromBSON(raw), nil
}

func (s *MongoStore) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	norm, err := normalizeWrite(collection, id, fields)
	if err != nil {
		return err
	}
	now := s.clock.Now()

	if !merge {
		// Replace: appends start from an empty list
		doc, err := docstore.ResolveFields(nil, norm, now, false)
		if err != nil {
			return apperr.Validation(err)
		}
		_, err = s.db.Collection(collection).ReplaceOne(ctx, byID(id), doc, options.Replace().SetUpsert(true))
		return mapWriteError(err)
	}

	update, err := buildUpdate(norm, now)
	if err != nil {
		return apperr.Validation(err)
	}
	if len(update) == 0 {
		// nothing to merge; still materialise the document
		update = bson.D{{Key: "$setOnInsert", Value: byID(id)}}
	}
	_, err = s.db.Collection(collection).UpdateOne(ctx, byID(id), update, options.UpdateOne().SetUpsert(true))
	return mapWriteError(err)
}

func (s *MongoStore) Create(ctx context.Context, collection, id string, fields map[string]any) error {
	norm, err := normalizeWrite(collection, id, fields)
	if err != nil {
		return err
	}
	doc, err := docstore.ResolveFields(nil, norm, s.clock.Now(), false)
	if err != nil {
		return apperr.Validation(err)
	}
	doc["_id"] = id

	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return docstore.ErrAlreadyExists
		}
		return mapWriteError(err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	norm, err := normalizeWrite(collection, id, fields)
	if err != nil {
		return err
	}
	update, err := buildUpdate(norm, s.clock.Now())
	if err != nil {
		return apperr.Validation(err)
	}
	if len(update) == 0 {
		_, err := s.Get(ctx, collection, id)
		return err
	}

	res, err := s.db.Collection(collection).UpdateOne(ctx, byID(id), update)
	if err != nil {
		return mapWriteError(err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound(collection, id)
	}
	return nil
}

func (s *MongoStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.Create(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MongoStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.Collection(collection).DeleteOne(ctx, byID(id))
	return err
}

func (s *MongoStore) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	filter, err := buildFilter(q)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(buildSort(q))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, err
	}
	docs := make([]docstore.Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, documentFromBSON(raw))
	}
	return docs, nil
}

// Subscribe opens a change stream on the collection and re-runs q after every
// change. The stream is opened before the initial read so no change between
// the two is missed.
func (s *MongoStore) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)

	stream, err := s.db.Collection(q.Collection).Watch(subCtx, mongo.Pipeline{})
	if err != nil {
		if s.pollInterval <= 0 {
			cancel()
			return nil, err
		}
		s.logger.Warn("change stream unavailable, polling", "collection", q.Collection, "error", err)
		stream = nil
	}

	docs, err := s.Query(subCtx, q)
	if err != nil {
		if stream != nil {
			_ = stream.Close(context.Background())
		}
		cancel()
		return nil, err
	}

	feed := docstore.NewFeed(fn)
	feed.Publish(docstore.Snapshot{Docs: docs, ReadAt: time.Now().UTC()})
	go s.follow(subCtx, q, stream, feed, docs)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			feed.Close()
		})
	}, nil
}

// follow publishes a fresh snapshot for every change event, falling back to
// polling when the stream fails. It returns when ctx is done.
func (s *MongoStore) follow(ctx context.Context, q docstore.Query, stream *mongo.ChangeStream, feed *docstore.Feed, last []docstore.Document) {
	defer feed.Close()

	if stream != nil {
		for stream.Next(ctx) {
			docs, err := s.Query(ctx, q)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("subscription query failed", "collection", q.Collection, "error", err)
				}
				continue
			}
			feed.Publish(docstore.Snapshot{Docs: docs, ReadAt: time.Now().UTC()})
			last = docs
		}
		err := stream.Err()
		_ = stream.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		if s.pollInterval <= 0 {
			s.logger.Error("change stream closed", "collection", q.Collection, "error", err)
			return
		}
		s.logger.Warn("change stream closed, polling", "collection", q.Collection, "error", err)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		docs, err := s.Query(ctx, q)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("subscription poll failed", "collection", q.Collection, "error", err)
			}
			continue
		}
		if sameDocuments(last, docs) {
			continue
		}
		feed.Publish(docstore.Snapshot{Docs: docs, ReadAt: time.Now().UTC()})
		last = docs
	}
}

func sameDocuments(a, b []docstore.Document) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || !docstore.Equal(a[i].Fields, b[i].Fields) {
			return false
		}
	}
	return true
}

func normalizeWrite(collection, id string, fields map[string]any) (map[string]any, error) {
	if collection == "" || id == "" {
		return nil, apperr.Validation(nil, apperr.FieldError{Field: "id", Error: "collection and id are required"})
	}
	if _, ok := fields["_id"]; ok {
		return nil, apperr.Validation(nil, apperr.FieldError{Field: "_id", Error: "_id is reserved"})
	}
	norm, err := docstore.NormalizeFields(fields)
	if err != nil {
		return nil, apperr.Validation(err)
	}
	return norm, nil
}

// mapWriteError reports updates rejected for the field's type (appending to a
// scalar) as validation failures.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorCode(codeBadValue) || se.HasErrorCode(codeTypeMismatch)) {
		return apperr.Validation(err)
	}
	return err
}
