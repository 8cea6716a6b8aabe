package collab

import (
	"context"

	"github.com/google/uuid"
)

// UserInfo is the minimal account view the collaboration layer needs.
type UserInfo struct {
	ID          uuid.UUID
	Email       string
	DisplayName string
}

// UserDirectory resolves user accounts without coupling this package to the
// auth storage. Lookups return ErrUserNotFound when no account matches.
type UserDirectory interface {
	ByID(ctx context.Context, id uuid.UUID) (*UserInfo, error)
	ByEmail(ctx context.Context, email string) (*UserInfo, error)
}
