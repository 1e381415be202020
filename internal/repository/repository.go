// Package repository defines the authority's storage contracts. The postgres
// subpackage implements them; services and tests depend only on these interfaces.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/beta-sketch/internal/model"
)

// BetaRepository stores betas and issues their updated_at stamps.
//
// Errors: errs.ErrNotFound for a missing beta, errs.ErrPermission when userID does not
// own it, errs.ErrVersionConflict when a conditional write lost the race.
type BetaRepository interface {
	// Create inserts b and fills its CreatedAt and UpdatedAt.
	Create(ctx context.Context, b *model.Beta) error

	// Get returns a beta regardless of owner; ownership is the caller's check.
	Get(ctx context.Context, id uuid.UUID) (*model.Beta, error)

	// ListByUser returns the user's betas, most recently updated first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.BetaSummary, error)

	// UpdateDrawing stores drawing iff the beta's updated_at still equals expected,
	// atomically, and returns the new updated_at.
	UpdateDrawing(ctx context.Context, userID, id uuid.UUID, drawing []byte, expected time.Time) (time.Time, error)
}

// UserRepository stores accounts. Usernames are unique; a duplicate Create fails with
// errs.ErrAlreadyExists.
type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}
