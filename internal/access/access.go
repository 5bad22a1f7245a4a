// Package access enforces per-collection rules on the document store. Clients
// read every classroom collection, write their own profile and presence
// records, and otherwise only append new items.
package access

import (
	"context"
	"fmt"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/auth"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/normalize"
)

type rule struct {
	// owned collections are keyed by user id and written only by that user
	owned bool
	// teacherOnly restricts Add to teachers
	teacherOnly bool
	// authorField holds the creator's user id on appended items
	authorField string
	// nameField holds the author's display name, defaulted when blank
	nameField string
	// forced returns the fields that always reflect the caller on Add
	forced func(c auth.Subject) map[string]any
}

var rules = map[string]rule{
	docstore.Users:       {owned: true},
	docstore.OnlineUsers: {owned: true},
	docstore.Community: {
		authorField: "userId",
		nameField:   "userName",
		forced: func(c auth.Subject) map[string]any {
			return map[string]any{"userId": c.UserID, "userEmail": c.Email, "userRole": c.Role}
		},
	},
	docstore.Homework: {
		teacherOnly: true,
		authorField: "createdBy",
		nameField:   "teacherName",
		forced:      func(c auth.Subject) map[string]any { return map[string]any{"createdBy": c.UserID} },
	},
	docstore.Resources: {
		teacherOnly: true,
		authorField: "createdBy",
		nameField:   "teacherName",
		forced:      func(c auth.Subject) map[string]any { return map[string]any{"createdBy": c.UserID} },
	},
	docstore.Doubts: {
		authorField: "studentId",
		nameField:   "studentName",
		forced: func(c auth.Subject) map[string]any {
			return map[string]any{"studentId": c.UserID, "status": "pending", "answers": []any{}}
		},
	},
}

func denied(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperr.ErrPermissionDenied, fmt.Sprintf(format, args...))
}

func lookup(collection string) (rule, error) {
	r, ok := rules[collection]
	if !ok {
		return rule{}, denied("collection %q is not accessible", collection)
	}
	return r, nil
}

// Guard wraps a store and hands out per-caller views of it.
type Guard struct {
	store docstore.Store
}

// NewGuard returns a Guard over store.
func NewGuard(store docstore.Store) *Guard {
	return &Guard{store: store}
}

// For returns a store that applies the rules for caller.
func (g *Guard) For(caller auth.Subject) docstore.Store {
	return &scoped{store: g.store, caller: caller}
}

type scoped struct {
	store  docstore.Store
	caller auth.Subject
}

var _ docstore.Store = (*scoped)(nil)

func (s *scoped) isTeacher() bool { return s.caller.Role == auth.RoleTeacher }

func (s *scoped) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if _, err := lookup(collection); err != nil {
		return docstore.Document{}, err
	}
	return s.store.Get(ctx, collection, id)
}

func (s *scoped) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if _, err := lookup(q.Collection); err != nil {
		return nil, err
	}
	return s.store.Query(ctx, q)
}

func (s *scoped) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Unsubscribe, error) {
	if _, err := lookup(q.Collection); err != nil {
		return nil, err
	}
	return s.store.Subscribe(ctx, q, fn)
}

// ownedFields checks a write to an owned record and pins identity fields.
func (s *scoped) ownedFields(collection, id string, fields map[string]any) (map[string]any, error) {
	if id != s.caller.UserID {
		return nil, denied("%s/%s belongs to another user", collection, id)
	}
	out := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	switch collection {
	case docstore.OnlineUsers:
		out["userId"] = s.caller.UserID
		if _, ok := out["email"]; ok {
			out["email"] = s.caller.Email
		}
	case docstore.Users:
		// role and email follow the token, never the client
		if _, ok := out["role"]; ok {
			out["role"] = s.caller.Role
		}
		if _, ok := out["email"]; ok {
			out["email"] = s.caller.Email
		}
	}
	return out, nil
}

func (s *scoped) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	r, err := lookup(collection)
	if err != nil {
		return err
	}
	if !r.owned {
		return denied("%s items can only be appended", collection)
	}
	out, err := s.ownedFields(collection, id, fields)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, collection, id, out, merge)
}

func (s *scoped) Create(ctx context.Context, collection, id string, fields map[string]any) error {
	r, err := lookup(collection)
	if err != nil {
		return err
	}
	if !r.owned {
		return denied("%s items can only be appended", collection)
	}
	out, err := s.ownedFields(collection, id, fields)
	if err != nil {
		return err
	}
	return s.store.Create(ctx, collection, id, out)
}

func (s *scoped) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	r, err := lookup(collection)
	if err != nil {
		return err
	}
	if r.owned {
		out, err := s.ownedFields(collection, id, fields)
		if err != nil {
			return err
		}
		return s.store.Update(ctx, collection, id, out)
	}
	if collection != docstore.Doubts {
		return denied("%s items are immutable", collection)
	}
	out, err := s.answerFields(fields)
	if err != nil {
		return err
	}
	return s.store.Update(ctx, collection, id, out)
}

// answerFields admits the only mutation of a doubt: appending answers, which
// also marks it answered. Each appended answer is attributed to the caller.
func (s *scoped) answerFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case "answers":
			op, ok := v.(docstore.AppendOp)
			if !ok || len(op.Values) == 0 {
				return nil, denied("answers can only be appended")
			}
			values := make([]any, 0, len(op.Values))
			for _, x := range op.Values {
				answer, ok := x.(map[string]any)
				if !ok {
					return nil, denied("answers must be objects")
				}
				copied := make(map[string]any, len(answer)+1)
				for ak, av := range answer {
					copied[ak] = av
				}
				copied["answererId"] = s.caller.UserID
				values = append(values, copied)
			}
			out[k] = docstore.Append(values...)
		case "status":
			if v != "answered" {
				return nil, denied("status can only become answered")
			}
			out[k] = v
		default:
			return nil, denied("field %q of a doubt is immutable", k)
		}
	}
	if _, ok := out["answers"]; !ok {
		return nil, denied("doubt updates must append an answer")
	}
	return out, nil
}

func (s *scoped) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	r, err := lookup(collection)
	if err != nil {
		return "", err
	}
	if r.owned {
		return "", denied("%s records are keyed by user id", collection)
	}
	if r.teacherOnly && !s.isTeacher() {
		return "", denied("only teachers can post %s", collection)
	}
	out := make(map[string]any, len(fields)+4)
	for k, v := range fields {
		out[k] = v
	}
	for k, v := range r.forced(s.caller) {
		out[k] = v
	}
	name, _ := out[r.nameField].(string)
	out[r.nameField] = normalize.DisplayName(name, s.caller.Email)
	return s.store.Add(ctx, collection, out)
}

func (s *scoped) Delete(ctx context.Context, collection, id string) error {
	r, err := lookup(collection)
	if err != nil {
		return err
	}
	if r.owned {
		if id != s.caller.UserID {
			return denied("%s/%s belongs to another user", collection, id)
		}
		return s.store.Delete(ctx, collection, id)
	}
	if s.isTeacher() {
		return s.store.Delete(ctx, collection, id)
	}
	doc, err := s.store.Get(ctx, collection, id)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil
		}
		return err
	}
	if doc.String(r.authorField) != s.caller.UserID {
		return denied("only the author or a teacher can delete %s/%s", collection, id)
	}
	return s.store.Delete(ctx, collection, id)
}
