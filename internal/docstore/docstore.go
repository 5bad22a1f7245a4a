// Package docstore defines the document store contract consumed by the identity
// provider, the presence tracker and the collection mirror, and ships an
// in-memory engine implementing it. A MongoDB-backed implementation lives in
// package data and a remote one in package rpc.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyExists is returned by Create when the key is taken.
var ErrAlreadyExists = errors.New("document already exists")

// ErrInvalidQuery is returned for malformed queries.
var ErrInvalidQuery = errors.New("invalid query")

// Document is one stored record. Fields hold normalised values: nil, bool,
// int64, float64, string, time.Time, []any and map[string]any.
type Document struct {
	ID     string
	Fields map[string]any
}

// String returns the string field, or "" when absent or of another type.
func (d Document) String(field string) string {
	s, _ := d.Fields[field].(string)
	return s
}

// Bool returns the bool field, or false.
func (d Document) Bool(field string) bool {
	b, _ := d.Fields[field].(bool)
	return b
}

// Time returns the timestamp field.
func (d Document) Time(field string) (time.Time, bool) {
	t, ok := d.Fields[field].(time.Time)
	return t, ok
}

// Slice returns the array field.
func (d Document) Slice(field string) []any {
	s, _ := d.Fields[field].([]any)
	return s
}

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// ParseDirection accepts "asc" or "desc".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	}
	return Asc, fmt.Errorf("%w: unknown direction %q", ErrInvalidQuery, s)
}

// Op is a filter comparison operator.
type Op string

const (
	Eq  Op = "=="
	Ne  Op = "!="
	Lt  Op = "<"
	Lte Op = "<="
	Gt  Op = ">"
	Gte Op = ">="
)

// Filter restricts a query to documents whose Field compares to Value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects documents from one collection. Documents that lack the OrderBy
// field are excluded from ordered results. Equal order values are broken by
// document id ascending.
type Query struct {
	Collection string
	Where      []Filter
	OrderBy    string
	Direction  Direction
	Limit      int
}

// Validate checks the query shape.
func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: collection required", ErrInvalidQuery)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	for _, f := range q.Where {
		if f.Field == "" {
			return fmt.Errorf("%w: filter field required", ErrInvalidQuery)
		}
		switch f.Op {
		case Eq, Ne, Lt, Lte, Gt, Gte:
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
		}
	}
	return nil
}

// Snapshot is the complete ordered result of a query at a point in time.
// Subscribers must replace their local view with it, never patch.
type Snapshot struct {
	Docs   []Document
	ReadAt time.Time
}

// SnapshotFunc receives snapshots for a subscription.
type SnapshotFunc func(Snapshot)

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// Store is the document store contract.
type Store interface {
	// Get returns the document or a NotFoundError.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set upserts the document. With merge the provided fields are merged into
	// the existing ones; without it the document is replaced.
	Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error
	// Create inserts the document or fails with ErrAlreadyExists.
	Create(ctx context.Context, collection, id string, fields map[string]any) error
	// Update modifies fields of an existing document or fails with NotFoundError.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	// Add inserts a document under a generated key and returns the key.
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	// Query runs q once.
	Query(ctx context.Context, q Query) ([]Document, error)
	// Subscribe delivers the current result of q and then a fresh complete
	// snapshot after every change, in emission order, until unsubscribed or ctx
	// is done.
	Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (Unsubscribe, error)
}

type serverTimestamp struct{}

// ServerTimestamp is a field value replaced by the store clock at write time.
func ServerTimestamp() any { return serverTimestamp{} }

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// AppendOp is the atomic list-append transform. The store appends Values to
// the existing array in a single mutation, so concurrent appends never lose
// each other.
type AppendOp struct {
	Values []any
}

// Append returns an AppendOp field value.
func Append(values ...any) any { return AppendOp{Values: values} }
