// Package model defines domain entities used by services, repositories and clients.
package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/beta-sketch/internal/drawing"
	"github.com/and161185/beta-sketch/internal/errs"
)

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// Beta is a user's annotated route on a boulder photo as stored by the authority.
type Beta struct {
	ID        uuid.UUID // client-visible PK
	UserID    uuid.UUID // owner, FK -> users.id
	Grade     string    // difficulty grade, free form ("V4", "6B+")
	Drawing   []byte    // drawing document, JSON
	CreatedAt time.Time
	UpdatedAt time.Time // issued by the authority, strictly increasing per beta
}

// BetaSummary is a listing row without the drawing payload.
type BetaSummary struct {
	ID        uuid.UUID
	Grade     string
	UpdatedAt time.Time
}

// Record is the authority's copy of a drawing as last observed.
type Record struct {
	Document  drawing.Document
	UpdatedAt time.Time
}

// ConflictError reports a conditional write rejected because the authority moved past
// the caller's baseline. Current is the record that won.
type ConflictError struct {
	Current Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: authority is at %s", e.Current.UpdatedAt.UTC().Format(time.RFC3339Nano))
}

// Unwrap lets callers match with errors.Is(err, errs.ErrVersionConflict).
func (e *ConflictError) Unwrap() error { return errs.ErrVersionConflict }

// User represents an account stored on the server. Passwords are never stored in plaintext.
type User struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-user auth salt
	CreatedAt time.Time
}
