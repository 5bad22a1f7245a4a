package session

import (
	"context"
	"errors"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
)

// StoreProfiles keeps users/{uid} profile documents in a document store.
type StoreProfiles struct {
	Store docstore.Store
}

// EnsureProfile creates the profile when missing and refreshes lastSeen
// otherwise.
func (p StoreProfiles) EnsureProfile(ctx context.Context, s Session) error {
	_, err := p.Store.Get(ctx, docstore.Users, s.UserID)
	switch {
	case err == nil:
		return apperr.Write("touch profile", p.Store.Set(ctx, docstore.Users, s.UserID, map[string]any{
			"lastSeen": docstore.ServerTimestamp(),
		}, true))
	case !apperr.IsNotFound(err):
		return err
	}

	err = p.Store.Create(ctx, docstore.Users, s.UserID, map[string]any{
		"name":      s.DisplayName,
		"email":     s.Email,
		"role":      s.Role,
		"createdAt": docstore.ServerTimestamp(),
		"lastSeen":  docstore.ServerTimestamp(),
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		// created concurrently by another client of the same user
		return nil
	}
	return apperr.Write("create profile", err)
}
