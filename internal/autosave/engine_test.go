package autosave

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/beta-sketch/internal/drawing"
	"github.com/and161185/beta-sketch/internal/errs"
	"github.com/and161185/beta-sketch/internal/localstore"
	"github.com/and161185/beta-sketch/internal/model"
	"github.com/and161185/beta-sketch/internal/reconcile"
	"github.com/and161185/beta-sketch/internal/stamp"
)

type writeCall struct {
	id       uuid.UUID
	doc      drawing.Document
	expected time.Time
}

// fakeWriter accepts every write and advances its clock by one second, unless err is set.
type fakeWriter struct {
	mu    sync.Mutex
	calls []writeCall
	now   time.Time
	err   error
	gate  chan struct{}
}

func (w *fakeWriter) Write(_ context.Context, id uuid.UUID, doc drawing.Document, expected time.Time) (time.Time, error) {
	w.mu.Lock()
	w.calls = append(w.calls, writeCall{id: id, doc: doc.Clone(), expected: expected})
	gate := w.gate
	w.mu.Unlock()
	if gate != nil {
		<-gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return time.Time{}, w.err
	}
	w.now = w.now.Add(time.Second)
	return w.now, nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

func (w *fakeWriter) last() writeCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[len(w.calls)-1]
}

var t0 = time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)

func line(id string) drawing.Line {
	return drawing.Line{ID: id, Tool: drawing.ToolBrush, Color: "#000", Width: 1,
		Points: []drawing.Point{{X: 50, Y: 50}}}
}

// setup returns an engine whose tick loop never fires on its own.
func setup(t *testing.T, opts ...Option) (*Engine, *localstore.Store, *fakeWriter, uuid.UUID) {
	t.Helper()
	store := localstore.New()
	w := &fakeWriter{now: t0}
	opts = append([]Option{WithInterval(time.Hour), WithLogger(zaptest.NewLogger(t))}, opts...)
	e := New(store, w, opts...)
	t.Cleanup(e.Close)
	return e, store, w, uuid.Must(uuid.NewV4())
}

func TestEngine_SkipsWhenUnbound(t *testing.T) {
	e, _, w, _ := setup(t)
	require.ErrorIs(t, e.ForceSave(context.Background()), ErrNotBound)

	e.Bind(uuid.Nil)
	require.ErrorIs(t, e.tick(), ErrNotBound)
	require.Zero(t, w.count())
}

func TestEngine_SkipsWithoutBaseline(t *testing.T) {
	e, store, w, id := setup(t)
	store.Set(localstore.State{DocumentID: id, Document: drawing.NewEmpty().AddLine(line("a"))})
	e.Bind(id)

	require.ErrorIs(t, e.tick(), ErrNoBaseline)
	require.ErrorIs(t, e.ForceSave(context.Background()), ErrNoBaseline)
	require.Zero(t, w.count())
	require.Equal(t, StatusIdle, e.Status())
}

func TestEngine_SkipsWhenStoreHoldsOtherDocument(t *testing.T) {
	e, store, w, id := setup(t)
	store.AdoptRemote(uuid.Must(uuid.NewV4()), drawing.NewEmpty(), t0)
	e.Bind(id)

	require.ErrorIs(t, e.ForceSave(context.Background()), ErrNotBound)
	require.Zero(t, w.count())
}

func TestEngine_SavesChangeOnceAndMarksSynced(t *testing.T) {
	e, store, w, id := setup(t)
	store.AdoptRemote(id, drawing.NewEmpty(), t0)
	e.Bind(id)

	// freshly adopted: nothing to push
	require.NoError(t, e.tick())
	require.Zero(t, w.count())

	doc := drawing.NewEmpty().AddLine(line("a"))
	store.Edit(doc)
	require.NoError(t, e.tick())
	require.Equal(t, 1, w.count())
	call := w.last()
	require.Equal(t, id, call.id)
	require.Equal(t, doc, call.doc)
	require.True(t, call.expected.Equal(t0))
	require.Equal(t, StatusSaved, e.Status())

	st := store.Get()
	require.True(t, st.LastSyncedWithServer.Equal(stamp.Some(t0.Add(time.Second))))
	require.True(t, e.Baseline().Equal(stamp.Some(t0.Add(time.Second))))

	require.NoError(t, e.tick())
	require.Equal(t, 1, w.count())
}

func TestEngine_ConsecutiveTicksWithoutMutationWriteAtMostOnce(t *testing.T) {
	for name, prepare := range map[string]func(*localstore.Store, uuid.UUID){
		"adopted": func(s *localstore.Store, id uuid.UUID) { s.AdoptRemote(id, drawing.NewEmpty(), t0) },
		"edited after sync": func(s *localstore.Store, id uuid.UUID) {
			s.AdoptRemote(id, drawing.NewEmpty(), t0)
			s.Edit(drawing.NewEmpty().AddLine(line("a")))
		},
		"unsaved on disk": func(s *localstore.Store, id uuid.UUID) {
			s.Set(localstore.State{
				DocumentID:           id,
				Document:             drawing.NewEmpty().AddLine(line("a")),
				LastModifiedLocally:  stamp.Some(t0.Add(time.Hour)),
				LastSyncedWithServer: stamp.Some(t0),
			})
		},
	} {
		t.Run(name, func(t *testing.T) {
			e, store, w, id := setup(t)
			prepare(store, id)
			e.Bind(id)

			_ = e.tick()
			_ = e.tick()
			require.LessOrEqual(t, w.count(), 1)
		})
	}
}

func TestEngine_ForceSaveBypassesFingerprint(t *testing.T) {
	e, store, w, id := setup(t)
	store.AdoptRemote(id, drawing.NewEmpty(), t0)
	e.Bind(id)

	require.NoError(t, e.ForceSave(context.Background()))
	require.Equal(t, 1, w.count())
	require.NoError(t, e.ForceSave(context.Background()))
	require.Equal(t, 2, w.count())
	require.True(t, w.last().expected.Equal(t0.Add(time.Second)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, e.ForceSave(ctx), context.Canceled)
}

func TestEngine_ConflictKeepsLocalDocument(t *testing.T) {
	e, store, w, id := setup(t)
	store.AdoptRemote(id, drawing.NewEmpty(), t0)
	e.Bind(id)
	store.Edit(drawing.NewEmpty().AddLine(line("mine")))

	remote := model.Record{
		Document:  drawing.NewEmpty().AddLine(line("theirs")).AddLine(line("theirs2")),
		UpdatedAt: t0.Add(time.Minute),
	}
	w.err = &model.ConflictError{Current: remote}
	before := store.Get()

	err := e.tick()
	require.ErrorIs(t, err, errs.ErrVersionConflict)
	require.Equal(t, StatusConflict, e.Status())
	require.Equal(t, before, store.Get())

	got, ok := e.Conflict()
	require.True(t, ok)
	require.Equal(t, remote.Document, got.Document)
	require.True(t, got.UpdatedAt.Equal(remote.UpdatedAt))

	// sticky: no further writes until acknowledged
	require.ErrorIs(t, e.tick(), ErrUnresolvedConflict)
	require.ErrorIs(t, e.ForceSave(context.Background()), ErrUnresolvedConflict)
	require.Equal(t, 1, w.count())

	w.err = nil
	e.Acknowledge(remote.UpdatedAt)
	require.Equal(t, StatusIdle, e.Status())
	_, ok = e.Conflict()
	require.False(t, ok)

	require.NoError(t, e.tick())
	require.Equal(t, 2, w.count())
	require.True(t, w.last().expected.Equal(remote.UpdatedAt))
	require.Equal(t, before.Document, store.Get().Document)
}

func TestEngine_BareVersionConflict(t *testing.T) {
	e, store, w, id := setup(t)
	store.AdoptRemote(id, drawing.NewEmpty(), t0)
	e.Bind(id)
	w.err = errs.ErrVersionConflict

	require.ErrorIs(t, e.ForceSave(context.Background()), errs.ErrVersionConflict)
	require.Equal(t, StatusConflict, e.Status())
	_, ok := e.Conflict()
	require.False(t, ok)

	e.ResetStatus()
	require.Equal(t, StatusIdle, e.Status())
}

func TestEngine_ErrorRetriesAndReturnsToIdle(t *testing.T) {
	e, store, w, id := setup(t, WithDisplayWindow(20*time.Millisecond))
	store.AdoptRemote(id, drawing.NewEmpty(), t0)
	e.Bind(id)
	store.Edit(drawing.NewEmpty().AddLine(line("a")))
	before := store.Get()
	w.err = errs.ErrTransport

	require.ErrorIs(t, e.tick(), errs.ErrTransport)
	require.Equal(t, StatusError, e.Status())
	require.NotEmpty(t, e.ErrorMessage())
	require.Equal(t, before, store.Get())

	require.Eventually(t, func() bool { return e.Status() == StatusIdle }, time.Second, 5*time.Millisecond)
	require.Empty(t, e.ErrorMessage())

	w.err = nil
	require.NoError(t, e.tick())
	require.Equal(t, 2, w.count())
}

func TestEngine_SavedReturnsToIdle(t *testing.T) {
	e, store, _, id := setup(t, WithDisplayWindow(20*time.Millisecond))
	store.AdoptRemote(id, drawing.NewEmpty(), t0)
	e.Bind(id)

	var mu sync.Mutex
	var seen []Status
	cancel := e.OnStatus(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer cancel()

	require.NoError(t, e.ForceSave(context.Background()))
	require.Eventually(t, func() bool { return e.Status() == StatusIdle }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Status{StatusSaving, StatusSaved, StatusIdle}, seen)
}

func TestEngine_RebindDiscardsInFlightResult(t *testing.T) {
	e, store, w, id := setup(t)
	store.AdoptRemote(id, drawing.NewEmpty(), t0)
	e.Bind(id)
	w.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- e.ForceSave(context.Background()) }()
	require.Eventually(t, e.Saving, time.Second, time.Millisecond)

	other := uuid.Must(uuid.NewV4())
	e.Bind(other)
	close(w.gate)
	require.NoError(t, <-done)

	st := store.Get()
	require.True(t, st.LastSyncedWithServer.Equal(stamp.Some(t0)), "old result must not reach the store")
	require.Equal(t, StatusIdle, e.Status())
	require.False(t, e.Saving())
}

func TestEngine_CloseWaitsForInFlightWrite(t *testing.T) {
	e, store, w, id := setup(t)
	store.AdoptRemote(id, drawing.NewEmpty(), t0)
	e.Bind(id)
	w.gate = make(chan struct{})

	go func() { _ = e.ForceSave(context.Background()) }()
	require.Eventually(t, e.Saving, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		e.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a write was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(w.gate)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	require.ErrorIs(t, e.tick(), ErrNotBound)
}

func TestEngine_PeriodicTick(t *testing.T) {
	e, store, w, id := setup(t, WithInterval(10*time.Millisecond))
	store.AdoptRemote(id, drawing.NewEmpty(), t0)
	e.Bind(id)

	store.Edit(drawing.NewEmpty().AddLine(line("a")))
	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 5*time.Millisecond)

	// no mutation, no further writes
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, w.count())

	e.Close()
	store.Edit(drawing.NewEmpty().AddLine(line("a")).AddLine(line("b")))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, w.count())
}

func TestEngine_AdoptedSeedsFingerprint(t *testing.T) {
	e, store, w, id := setup(t)
	store.AdoptRemote(id, drawing.NewEmpty(), t0)
	e.Bind(id)
	store.Edit(drawing.NewEmpty().AddLine(line("a")))
	w.err = &model.ConflictError{Current: model.Record{Document: drawing.NewEmpty(), UpdatedAt: t0.Add(time.Minute)}}
	require.Error(t, e.tick())

	remote, _ := e.Conflict()
	store.AdoptRemote(id, remote.Document, remote.UpdatedAt)
	e.Adopted(remote.UpdatedAt, remote.Document)
	require.Equal(t, StatusIdle, e.Status())

	w.err = nil
	require.NoError(t, e.tick())
	require.Equal(t, 1, w.count())
}

func TestEngine_EditDuringWriteStaysUnsaved(t *testing.T) {
	ctx := context.Background()
	// the store clock never advances, so stamps alone cannot tell the edits apart
	store := localstore.New(localstore.WithClock(func() time.Time { return t0 }))
	w := &fakeWriter{now: t0, gate: make(chan struct{})}
	e := New(store, w, WithInterval(time.Hour), WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(e.Close)
	id := uuid.Must(uuid.NewV4())
	store.AdoptRemote(id, drawing.NewEmpty(), t0)
	e.Bind(id)

	store.Edit(drawing.NewEmpty().AddLine(line("a")))
	done := make(chan error, 1)
	go func() { done <- e.ForceSave(ctx) }()
	require.Eventually(t, e.Saving, time.Second, time.Millisecond)

	// same shape count, so the fingerprint cannot see this edit
	store.Edit(drawing.NewEmpty().AddLine(line("b")))
	require.ErrorIs(t, e.ForceSave(ctx), ErrBusy)
	close(w.gate)
	require.NoError(t, <-done)
	require.False(t, e.Saving())

	require.Equal(t, "a", w.last().doc.Lines[0].ID)
	st := store.Get()
	require.Equal(t, "b", st.Document.Lines[0].ID)
	require.True(t, st.LastSyncedWithServer.Equal(stamp.Some(t0.Add(time.Second))))
	require.True(t, st.Unsaved())
	require.True(t, e.Dirty())
	require.Equal(t, reconcile.KeepLocalUnsaved, reconcile.Decide(reconcile.Input{
		HasLocalData:      st.Document.HasData(),
		LocalLastModified: st.LastModifiedLocally,
		LocalLastSynced:   st.LastSyncedWithServer,
		ServerUpdatedAt:   t0.Add(time.Second),
	}))

	require.NoError(t, e.tick())
	require.Equal(t, 2, w.count())
	call := w.last()
	require.Equal(t, "b", call.doc.Lines[0].ID)
	require.True(t, call.expected.Equal(t0.Add(time.Second)))
	require.False(t, store.Get().Unsaved())
	require.False(t, e.Dirty())
}

func TestEngine_RebindAfterSaveSeedsFingerprint(t *testing.T) {
	// local clock lags the authority: edit stamps stay below the accepted updatedAt
	store := localstore.New(localstore.WithClock(func() time.Time { return t0.Add(-time.Hour) }))
	w := &fakeWriter{now: t0}
	e := New(store, w, WithInterval(time.Hour), WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(e.Close)
	id := uuid.Must(uuid.NewV4())
	store.AdoptRemote(id, drawing.NewEmpty(), t0)
	e.Bind(id)

	store.Edit(drawing.NewEmpty().AddLine(line("a")))
	require.NoError(t, e.tick())
	require.Equal(t, 1, w.count())
	st := store.Get()
	require.True(t, st.LastModifiedLocally.Before(st.LastSyncedWithServer))
	require.False(t, e.Dirty())

	e.Bind(id)
	require.NoError(t, e.tick())
	require.Equal(t, 1, w.count(), "a synced document must not be pushed again after rebind")

	fresh := New(store, w, WithInterval(time.Hour), WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(fresh.Close)
	fresh.Bind(id)
	require.NoError(t, fresh.tick())
	require.Equal(t, 1, w.count())
}

func TestEngine_NonPositiveDurationsKeepDefaults(t *testing.T) {
	store := localstore.New()
	e := New(store, &fakeWriter{now: t0}, WithInterval(0), WithDisplayWindow(-time.Second), WithWriteTimeout(0))
	require.Equal(t, DefaultInterval, e.interval)
	require.Equal(t, DefaultDisplayWindow, e.display)
	require.Equal(t, DefaultWriteTimeout, e.writeTimeout)

	id := uuid.Must(uuid.NewV4())
	store.AdoptRemote(id, drawing.NewEmpty(), t0)
	require.NotPanics(t, func() { e.Bind(id) })
	e.Close()
}

func TestStatus_String(t *testing.T) {
	require.Equal(t, "idle", StatusIdle.String())
	require.Equal(t, "saving", StatusSaving.String())
	require.Equal(t, "saved", StatusSaved.String())
	require.Equal(t, "error", StatusError.String())
	require.Equal(t, "conflict", StatusConflict.String())
	require.Equal(t, "unknown", Status(42).String())
}
