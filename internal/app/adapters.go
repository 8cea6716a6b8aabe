package app

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/codehive/server/internal/auth"
	"github.com/codehive/server/internal/collab"
)

// userDirectory adapts the auth profile repository to the collaboration
// layer's directory interface.
type userDirectory struct {
	repo auth.Repository
}

func newUserDirectory(repo auth.Repository) *userDirectory {
	return &userDirectory{repo: repo}
}

func (d *userDirectory) ByID(ctx context.Context, id uuid.UUID) (*collab.UserInfo, error) {
	profile, err := d.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, auth.ErrProfileNotFound) {
			return nil, collab.ErrUserNotFound
		}
		return nil, err
	}
	return toUserInfo(profile), nil
}

func (d *userDirectory) ByEmail(ctx context.Context, email string) (*collab.UserInfo, error) {
	profile, err := d.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, auth.ErrProfileNotFound) {
			return nil, collab.ErrUserNotFound
		}
		return nil, err
	}
	return toUserInfo(profile), nil
}

func toUserInfo(profile *auth.Profile) *collab.UserInfo {
	return &collab.UserInfo{
		ID:          profile.ID,
		Email:       profile.Email,
		DisplayName: profile.DisplayName(),
	}
}
