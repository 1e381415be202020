package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/beta-sketch/internal/errs"
	"github.com/and161185/beta-sketch/internal/model"
	"github.com/and161185/beta-sketch/internal/stamp"
)

// BetaRepo implements BetaRepository using PostgreSQL.
type BetaRepo struct{ db *DB }

// NewBetaRepo constructs a beta repository.
func NewBetaRepo(db *DB) *BetaRepo { return &BetaRepo{db: db} }

// Create inserts a beta; UpdatedAt is issued here and CreatedAt by the database.
func (r *BetaRepo) Create(ctx context.Context, b *model.Beta) error {
	const q = `
INSERT INTO betas (id, user_id, grade, drawing, updated_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`
	at := stamp.Normalize(r.db.now())
	err := r.db.Pool.QueryRow(ctx, q, b.ID, b.UserID, b.Grade, b.Drawing, at).Scan(&b.CreatedAt)
	switch {
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return errs.ErrPermission
	case err != nil:
		return err
	}
	b.UpdatedAt = at
	return nil
}

// Get returns a beta by id.
func (r *BetaRepo) Get(ctx context.Context, id uuid.UUID) (*model.Beta, error) {
	const q = `
SELECT id, user_id, grade, drawing, created_at, updated_at
FROM betas WHERE id=$1`
	var b model.Beta
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&b.ID, &b.UserID, &b.Grade, &b.Drawing, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	b.UpdatedAt = stamp.Normalize(b.UpdatedAt)
	return &b, nil
}

// ListByUser returns summaries of the user's betas, newest first.
func (r *BetaRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.BetaSummary, error) {
	const q = `
SELECT id, grade, updated_at
FROM betas
WHERE user_id=$1
ORDER BY updated_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.BetaSummary{}
	for rows.Next() {
		var s model.BetaSummary
		if err = rows.Scan(&s.ID, &s.Grade, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.UpdatedAt = stamp.Normalize(s.UpdatedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateDrawing is the authority's compare-and-swap. The row lock serializes concurrent
// writers, so of two writes against the same baseline at most one is accepted.
func (r *BetaRepo) UpdateDrawing(
	ctx context.Context, userID, id uuid.UUID, drawing []byte, expected time.Time,
) (next time.Time, err error) {
	const sel = `SELECT user_id, updated_at FROM betas WHERE id=$1 FOR UPDATE`
	const upd = `UPDATE betas SET drawing=$2, updated_at=$3 WHERE id=$1`

	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		var (
			owner uuid.UUID
			cur   time.Time
		)
		if err := tx.QueryRow(ctx, sel, id).Scan(&owner, &cur); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errs.ErrNotFound
			}
			return err
		}
		if owner != userID {
			return errs.ErrPermission
		}
		if !stamp.Some(cur).Equal(stamp.Some(expected)) {
			return errs.ErrVersionConflict
		}
		next = stamp.Next(cur, r.db.now())
		_, err := tx.Exec(ctx, upd, id, drawing, next)
		return err
	})
	if err != nil {
		return time.Time{}, err
	}
	return next, nil
}
