// Package loader opens an editing session: it fetches the authority's record, runs the
// reconciliation policy against the local store and applies the outcome.
package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/beta-sketch/internal/drawing"
	"github.com/and161185/beta-sketch/internal/localstore"
	"github.com/and161185/beta-sketch/internal/model"
	"github.com/and161185/beta-sketch/internal/reconcile"
	"github.com/and161185/beta-sketch/internal/stamp"
)

// ErrStale is returned by a Load superseded by a newer one. The store was not touched.
var ErrStale = errors.New("load superseded")

// Fetcher returns the authority's most recent committed record for a document.
type Fetcher interface {
	Fetch(ctx context.Context, id uuid.UUID) (model.Record, error)
}

// Result describes the session that was opened.
type Result struct {
	Strategy reconcile.Strategy
	// Document is what the editing surface should show.
	Document               drawing.Document
	HasLocalUnsavedChanges bool
	// ServerData is set only for PromptUser; the caller must resolve before editing.
	ServerData *model.Record
}

// Loader is safe for concurrent use. It keeps no state beyond the in-flight request.
type Loader struct {
	fetch Fetcher
	store *localstore.Store
	log   *zap.Logger

	gen      atomic.Uint64
	inflight atomic.Int32
	applyMu  sync.Mutex
}

// New constructs a Loader.
func New(f Fetcher, store *localstore.Store, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{fetch: f, store: store, log: log}
}

// Loading reports whether a Load is in flight.
func (l *Loader) Loading() bool { return l.inflight.Load() > 0 }

// Load fetches documentID and reconciles it with the local store. Fetch errors
// (errs.ErrNotFound, errs.ErrPermission, errs.ErrTransport) are returned as is and
// never retried.
func (l *Loader) Load(ctx context.Context, documentID uuid.UUID) (Result, error) {
	gen := l.gen.Add(1)
	l.inflight.Add(1)
	defer l.inflight.Add(-1)

	rec, err := l.fetch.Fetch(ctx, documentID)

	l.applyMu.Lock()
	defer l.applyMu.Unlock()

	if gen != l.gen.Load() {
		l.log.Debug("discarding stale load", zap.String("doc", documentID.String()), zap.Uint64("gen", gen))
		return Result{}, ErrStale
	}
	if err != nil {
		l.log.Warn("fetch failed", zap.String("doc", documentID.String()), zap.Error(err))
		return Result{}, err
	}

	st := l.store.Get()
	in := reconcile.Input{
		HasLocalData:    st.HasLocalData(documentID),
		ServerUpdatedAt: rec.UpdatedAt,
	}
	// watermarks of another document say nothing about this one
	if st.DocumentID == documentID {
		in.LocalLastModified = st.LastModifiedLocally
		in.LocalLastSynced = st.LastSyncedWithServer
	}
	strategy := reconcile.Decide(in)

	l.log.Info("reconciled",
		zap.String("doc", documentID.String()),
		zap.Stringer("strategy", strategy),
		zap.Stringer("localModified", in.LocalLastModified),
		zap.Stringer("localSynced", in.LocalLastSynced),
		zap.Stringer("server", stamp.Some(rec.UpdatedAt)),
	)

	res := Result{Strategy: strategy, Document: st.Document}
	switch strategy {
	case reconcile.LoadServer:
		l.store.AdoptRemote(documentID, rec.Document, rec.UpdatedAt)
		res.Document = rec.Document.Clone()
	case reconcile.KeepLocal:
	case reconcile.KeepLocalUnsaved:
		res.HasLocalUnsavedChanges = true
	case reconcile.PromptUser:
		res.HasLocalUnsavedChanges = true
		r := rec
		r.Document = rec.Document.Clone()
		res.ServerData = &r
	}
	return res, nil
}
