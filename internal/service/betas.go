package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/beta-sketch/internal/drawing"
	"github.com/and161185/beta-sketch/internal/errs"
	"github.com/and161185/beta-sketch/internal/model"
	"github.com/and161185/beta-sketch/internal/repository"
)

// BetaService defines the authority's operations over betas and their drawings.
type BetaService interface {
	// Create stores a new beta with an empty drawing.
	Create(ctx context.Context, userID uuid.UUID, grade string) (*model.Beta, error)
	// Get returns the owner's beta with its decoded drawing.
	Get(ctx context.Context, userID, id uuid.UUID) (*model.Beta, model.Record, error)
	// List returns the user's betas.
	List(ctx context.Context, userID uuid.UUID) ([]model.BetaSummary, error)
	// SaveDrawing validates raw and writes it iff the beta is still at expected.
	SaveDrawing(ctx context.Context, userID, id uuid.UUID, raw []byte, expected time.Time) (time.Time, error)
}

const maxGradeLen = 16

type BetaServiceImpl struct {
	repo repository.BetaRepository
	log  *zap.Logger
}

// NewBetaService constructs BetaService.
func NewBetaService(repo repository.BetaRepository, log *zap.Logger) *BetaServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &BetaServiceImpl{repo: repo, log: log}
}

// Create validates the grade and inserts a beta holding an empty document.
func (s *BetaServiceImpl) Create(ctx context.Context, userID uuid.UUID, grade string) (*model.Beta, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	grade = strings.TrimSpace(grade)
	if len(grade) > maxGradeLen {
		return nil, fmt.Errorf("%w: grade longer than %d", errs.ErrValidation, maxGradeLen)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	raw, err := drawing.Marshal(drawing.NewEmpty())
	if err != nil {
		return nil, err
	}
	b := &model.Beta{ID: id, UserID: userID, Grade: grade, Drawing: raw}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Get enforces ownership and decodes the stored drawing.
func (s *BetaServiceImpl) Get(ctx context.Context, userID, id uuid.UUID) (*model.Beta, model.Record, error) {
	if userID == uuid.Nil || id == uuid.Nil {
		return nil, model.Record{}, fmt.Errorf("%w: empty userID/id", errs.ErrValidation)
	}
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, model.Record{}, err
	}
	if b.UserID != userID {
		return nil, model.Record{}, errs.ErrPermission
	}
	doc, err := drawing.Parse(b.Drawing)
	if err != nil {
		// stored data is written only after validation; this is corruption
		s.log.Error("stored drawing failed validation", zap.String("beta", id.String()), zap.Error(err))
		return nil, model.Record{}, err
	}
	return b, model.Record{Document: doc, UpdatedAt: b.UpdatedAt}, nil
}

// List returns summaries of the user's betas.
func (s *BetaServiceImpl) List(ctx context.Context, userID uuid.UUID) ([]model.BetaSummary, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	return s.repo.ListByUser(ctx, userID)
}

// SaveDrawing is the conditional write. Validation happens before anything reaches
// storage. On conflict the current record is returned in a *model.ConflictError.
func (s *BetaServiceImpl) SaveDrawing(
	ctx context.Context, userID, id uuid.UUID, raw []byte, expected time.Time,
) (time.Time, error) {
	if userID == uuid.Nil || id == uuid.Nil {
		return time.Time{}, fmt.Errorf("%w: empty userID/id", errs.ErrValidation)
	}
	if expected.IsZero() {
		return time.Time{}, fmt.Errorf("%w: missing expected updated_at", errs.ErrValidation)
	}
	doc, err := drawing.Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	canonical, err := drawing.Marshal(doc)
	if err != nil {
		return time.Time{}, err
	}

	next, err := s.repo.UpdateDrawing(ctx, userID, id, canonical, expected)
	if errors.Is(err, errs.ErrVersionConflict) {
		_, cur, gerr := s.Get(ctx, userID, id)
		if gerr != nil {
			return time.Time{}, fmt.Errorf("load current after conflict: %w", gerr)
		}
		s.log.Info("drawing write rejected",
			zap.String("beta", id.String()),
			zap.Time("expected", expected),
			zap.Time("current", cur.UpdatedAt),
		)
		return time.Time{}, &model.ConflictError{Current: cur}
	}
	if err != nil {
		return time.Time{}, err
	}
	return next, nil
}
