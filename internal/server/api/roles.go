package api

import (
	"context"
	"errors"

	"github.com/ayusman/mudra/internal/auth"
	"github.com/ayusman/mudra/internal/store"
)

// currentRole reads a user's role from the store for auth.RequireAdmin.
func currentRole(s *store.Store) auth.RoleLookup {
	return func(ctx context.Context, userID string) (string, error) {
		u, err := s.Users().GetByID(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return "", auth.ErrUnknownUser
		}
		if err != nil {
			return "", err
		}
		return string(u.Role), nil
	}
}
