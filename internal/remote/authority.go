// Package remote adapts the BetaSketch gRPC client to the loader's fetcher and the
// autosave engine's writer, translating status codes back into errs sentinels.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/beta-sketch/internal/drawing"
	"github.com/and161185/beta-sketch/internal/errs"
	"github.com/and161185/beta-sketch/internal/model"
	"github.com/and161185/beta-sketch/internal/rpc"
	"github.com/and161185/beta-sketch/internal/stamp"
)

// Authority talks to the server on behalf of one logged-in user.
type Authority struct {
	cl  *rpc.Client
	log *zap.Logger
}

// New wraps cl.
func New(cl *rpc.Client, log *zap.Logger) *Authority {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authority{cl: cl, log: log}
}

// MapError converts a gRPC status into an errs sentinel, keeping the server's message.
// Anything the client cannot act on becomes errs.ErrTransport.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = errs.ErrNotFound
	case codes.PermissionDenied:
		sentinel = errs.ErrPermission
	case codes.FailedPrecondition:
		sentinel = errs.ErrVersionConflict
	case codes.InvalidArgument:
		sentinel = errs.ErrValidation
	case codes.Unauthenticated:
		sentinel = errs.ErrUnauthorized
	case codes.ResourceExhausted:
		sentinel = errs.ErrRateLimited
	case codes.AlreadyExists:
		sentinel = errs.ErrAlreadyExists
	default:
		sentinel = errs.ErrTransport
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}

// Fetch returns the authority's current record. The document is validated before it
// is handed to the caller.
func (a *Authority) Fetch(ctx context.Context, id uuid.UUID) (model.Record, error) {
	resp, err := a.cl.GetBeta(ctx, &rpc.GetBetaRequest{ID: id.String()})
	if err != nil {
		return model.Record{}, MapError(err)
	}
	doc, err := drawing.Parse(resp.Drawing)
	if err != nil {
		a.log.Error("authority sent an invalid drawing", zap.String("doc", id.String()), zap.Error(err))
		return model.Record{}, fmt.Errorf("fetch %s: %w", id, err)
	}
	return model.Record{Document: doc, UpdatedAt: stamp.Normalize(resp.Beta.UpdatedAt)}, nil
}

// Write is the conditional write. A rejection because the authority moved on is
// returned as *model.ConflictError carrying the record that won.
func (a *Authority) Write(ctx context.Context, id uuid.UUID, doc drawing.Document, expected time.Time) (time.Time, error) {
	raw, err := drawing.Marshal(doc)
	if err != nil {
		return time.Time{}, err
	}
	resp, err := a.cl.SaveDrawing(ctx, &rpc.SaveDrawingRequest{
		ID:                id.String(),
		Drawing:           raw,
		ExpectedUpdatedAt: stamp.Normalize(expected),
	})
	if err == nil {
		return stamp.Normalize(resp.UpdatedAt), nil
	}
	mapped := MapError(err)
	if !errors.Is(mapped, errs.ErrVersionConflict) {
		return time.Time{}, mapped
	}
	cur, ferr := a.Fetch(ctx, id)
	if ferr != nil {
		// still a conflict; the surface has nothing to show yet
		a.log.Warn("fetch after conflict", zap.String("doc", id.String()), zap.Error(ferr))
		return time.Time{}, mapped
	}
	return time.Time{}, &model.ConflictError{Current: cur}
}

// Create creates a beta with an empty drawing.
func (a *Authority) Create(ctx context.Context, grade string) (rpc.Beta, error) {
	resp, err := a.cl.CreateBeta(ctx, &rpc.CreateBetaRequest{Grade: grade})
	if err != nil {
		return rpc.Beta{}, MapError(err)
	}
	return resp.Beta, nil
}

// List returns the caller's betas.
func (a *Authority) List(ctx context.Context) ([]rpc.Beta, error) {
	resp, err := a.cl.ListBetas(ctx, &rpc.ListBetasRequest{})
	if err != nil {
		return nil, MapError(err)
	}
	return resp.Betas, nil
}
