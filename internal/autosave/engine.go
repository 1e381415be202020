// Package autosave pushes local edits of the bound document to the authority on a
// fixed interval using conditional writes.
//
// Status moves idle -> saving -> saved|error|conflict. Saved and error fall back to idle
// after a display window; conflict stays until Acknowledge, Adopted or ResetStatus.
// Every bind starts a new generation; results of writes issued under an older
// generation are dropped on arrival.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/beta-sketch/internal/drawing"
	"github.com/and161185/beta-sketch/internal/errs"
	"github.com/and161185/beta-sketch/internal/localstore"
	"github.com/and161185/beta-sketch/internal/model"
	"github.com/and161185/beta-sketch/internal/stamp"
)

// Defaults.
const (
	DefaultInterval      = 5 * time.Second
	DefaultDisplayWindow = 2 * time.Second
	DefaultWriteTimeout  = 30 * time.Second
)

// Reasons a save attempt did not reach the authority. The periodic tick treats them
// as skips; ForceSave returns them.
var (
	ErrNotBound           = errors.New("no document bound")
	ErrNoBaseline         = errors.New("no sync baseline")
	ErrBusy               = errors.New("save already in flight")
	ErrUnresolvedConflict = fmt.Errorf("%w: unresolved", errs.ErrVersionConflict)
)

// Writer performs the authority's conditional write.
type Writer interface {
	Write(ctx context.Context, id uuid.UUID, doc drawing.Document, expected time.Time) (time.Time, error)
}

// Status of the engine.
type Status int

const (
	StatusIdle Status = iota
	StatusSaving
	StatusSaved
	StatusError
	StatusConflict
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSaving:
		return "saving"
	case StatusSaved:
		return "saved"
	case StatusError:
		return "error"
	case StatusConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	store        *localstore.Store
	w            Writer
	log          *zap.Logger
	interval     time.Duration
	display      time.Duration
	writeTimeout time.Duration

	mu       sync.Mutex
	gen      uint64
	docID    uuid.UUID
	ack      stamp.Stamp // last updatedAt accepted or acknowledged for docID
	savedFP  drawing.Fingerprint
	hasFP    bool
	status   Status
	seq      uint64 // bumps on every status change
	errMsg   string
	conflict *model.Record
	writing  bool
	stop     context.CancelFunc
	loopDone chan struct{}
	writes   sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]func(Status)
	nextSub int
}

// Option configures an Engine.
type Option func(*Engine)

// WithInterval sets the tick interval. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithDisplayWindow sets how long saved/error stay visible. Non-positive values keep
// the default.
func WithDisplayWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.display = d
		}
	}
}

// WithWriteTimeout bounds a single write. Non-positive values keep the default.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.writeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

// New creates an unbound engine.
func New(store *localstore.Store, w Writer, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		w:            w,
		log:          zap.NewNop(),
		interval:     DefaultInterval,
		display:      DefaultDisplayWindow,
		writeTimeout: DefaultWriteTimeout,
		subs:         map[int]func(Status){},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Bind starts autosaving documentID, cancelling the previous tick loop. uuid.Nil
// leaves the engine unbound (creation/offline mode).
func (e *Engine) Bind(documentID uuid.UUID) {
	e.mu.Lock()
	done := e.stopLocked()
	e.docID = documentID
	e.ack = stamp.None()
	e.hasFP = false
	e.conflict = nil
	e.errMsg = ""
	n := e.setStatusLocked(StatusIdle)

	if documentID != uuid.Nil {
		// a synced store with no later edit already matches the authority's copy
		st := e.store.Get()
		if st.DocumentID == documentID && st.LastSyncedWithServer.Valid() && !st.Unsaved() {
			e.savedFP = drawing.FingerprintOf(st.Document)
			e.hasFP = true
		}
		ctx, cancel := context.WithCancel(context.Background())
		e.stop = cancel
		e.loopDone = make(chan struct{})
		go e.loop(ctx, e.gen, e.loopDone)
	}
	e.mu.Unlock()

	waitClosed(done)
	n()
	e.log.Info("autosave bound", zap.String("doc", documentID.String()), zap.Uint64("gen", e.Generation()))
}

// Close stops the tick loop and waits for any in-flight write to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	done := e.stopLocked()
	e.docID = uuid.Nil
	e.mu.Unlock()

	waitClosed(done)
	e.writes.Wait()
}

// stopLocked invalidates the current generation and cancels its loop.
func (e *Engine) stopLocked() chan struct{} {
	e.gen++
	if e.stop != nil {
		e.stop()
		e.stop = nil
	}
	done := e.loopDone
	e.loopDone = nil
	return done
}

func waitClosed(done chan struct{}) {
	if done != nil {
		<-done
	}
}

// Generation returns the current bind generation.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

func (e *Engine) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(e.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := e.save(gen, false); err != nil && !isSkip(err) {
				e.log.Debug("autosave tick", zap.Uint64("gen", gen), zap.Error(err))
			}
		}
	}
}

func isSkip(err error) bool {
	return errors.Is(err, ErrNotBound) || errors.Is(err, ErrNoBaseline) ||
		errors.Is(err, ErrBusy) || errors.Is(err, ErrUnresolvedConflict)
}

// ForceSave attempts a write now even if the fingerprint did not change. The
// conditional write still applies.
func (e *Engine) ForceSave(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.save(e.Generation(), true)
}

// tick runs one periodic step synchronously.
func (e *Engine) tick() error { return e.save(e.Generation(), false) }

// save runs steps 1-3 of one autosave attempt for generation gen.
func (e *Engine) save(gen uint64, force bool) error {
	e.mu.Lock()
	if gen != e.gen || e.docID == uuid.Nil {
		e.mu.Unlock()
		return ErrNotBound
	}
	if e.status == StatusConflict {
		e.mu.Unlock()
		return ErrUnresolvedConflict
	}
	if e.writing {
		e.mu.Unlock()
		return ErrBusy
	}
	id := e.docID
	st := e.store.Get()
	if st.DocumentID != id {
		e.mu.Unlock()
		e.log.Warn("store bound to another document, skipping", zap.String("doc", id.String()))
		return ErrNotBound
	}
	base := stamp.Max(e.ack, st.LastSyncedWithServer)
	if !base.Valid() {
		e.mu.Unlock()
		e.log.Info("no sync baseline, skipping save", zap.String("doc", id.String()))
		return ErrNoBaseline
	}
	fp := drawing.FingerprintOf(st.Document)
	if !force && e.hasFP && fp == e.savedFP {
		e.mu.Unlock()
		return nil
	}
	e.writing = true
	e.writes.Add(1)
	n := e.setStatusLocked(StatusSaving)
	e.mu.Unlock()
	n()
	defer e.writes.Done()

	// in-flight writes are never aborted by rebind or close
	ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
	updatedAt, err := e.w.Write(ctx, id, st.Document, base.Time())
	cancel()

	e.mu.Lock()
	if gen != e.gen {
		e.writing = false
		e.mu.Unlock()
		e.log.Info("discarding save result of old generation",
			zap.String("doc", id.String()), zap.Uint64("gen", gen), zap.Error(err))
		return nil
	}

	var ce *model.ConflictError
	switch {
	case err == nil:
		e.ack = stamp.Some(updatedAt)
		e.savedFP = fp
		e.hasFP = true
		e.errMsg = ""
		n = e.setStatusLocked(StatusSaved)
		e.expireLocked(StatusSaved)
	case errors.As(err, &ce):
		cur := ce.Current
		e.conflict = &cur
		n = e.setStatusLocked(StatusConflict)
	case errors.Is(err, errs.ErrVersionConflict):
		e.conflict = nil
		n = e.setStatusLocked(StatusConflict)
	default:
		e.errMsg = err.Error()
		n = e.setStatusLocked(StatusError)
		e.expireLocked(StatusError)
	}
	if err != nil {
		e.writing = false
	}
	e.mu.Unlock()

	if err == nil {
		// writing stays set until the store holds the result so no later save can
		// record its own result first
		_, clean := e.store.MarkSynced(id, st.Document, updatedAt)
		e.mu.Lock()
		e.writing = false
		if !clean && gen == e.gen {
			// edits landed during the write; the next tick must push them
			e.hasFP = false
		}
		e.mu.Unlock()
		e.log.Debug("saved", zap.String("doc", id.String()), zap.Time("updatedAt", updatedAt))
	} else {
		e.log.Warn("save failed", zap.String("doc", id.String()), zap.Error(err))
	}
	n()
	return err
}

// expireLocked returns s to idle after the display window unless something else
// happened meanwhile.
func (e *Engine) expireLocked(s Status) {
	seq, gen := e.seq, e.gen
	time.AfterFunc(e.display, func() {
		e.mu.Lock()
		if e.seq != seq || e.gen != gen || e.status != s {
			e.mu.Unlock()
			return
		}
		if s == StatusError {
			e.errMsg = ""
		}
		n := e.setStatusLocked(StatusIdle)
		e.mu.Unlock()
		n()
	})
}

// setStatusLocked records s and returns a func that notifies subscribers; call it
// after releasing mu.
func (e *Engine) setStatusLocked(s Status) func() {
	changed := e.status != s
	e.status = s
	e.seq++
	if !changed {
		return func() {}
	}
	return func() { e.notify(s) }
}

// Status returns the current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// ErrorMessage returns the reason of the last error status, or "".
func (e *Engine) ErrorMessage() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errMsg
}

// Saving reports whether a write is in flight.
func (e *Engine) Saving() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writing
}

// Dirty reports whether the bound document holds edits the authority has not
// accepted yet.
func (e *Engine) Dirty() bool {
	e.mu.Lock()
	id, hasFP, saved := e.docID, e.hasFP, e.savedFP
	e.mu.Unlock()
	st := e.store.Get()
	if id == uuid.Nil || st.DocumentID != id {
		return false
	}
	return st.Unsaved() || (hasFP && drawing.FingerprintOf(st.Document) != saved)
}

// Conflict returns the record that rejected the last write.
func (e *Engine) Conflict() (model.Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conflict == nil {
		return model.Record{}, false
	}
	r := *e.conflict
	r.Document = r.Document.Clone()
	return r, true
}

// Baseline returns the updatedAt the next write will be conditional on.
func (e *Engine) Baseline() stamp.Stamp {
	e.mu.Lock()
	ack, id := e.ack, e.docID
	e.mu.Unlock()
	st := e.store.Get()
	if st.DocumentID != id {
		return ack
	}
	return stamp.Max(ack, st.LastSyncedWithServer)
}

// ResetStatus clears error and conflict and returns to idle.
func (e *Engine) ResetStatus() {
	e.mu.Lock()
	e.errMsg = ""
	e.conflict = nil
	n := e.setStatusLocked(StatusIdle)
	e.mu.Unlock()
	n()
}

// Acknowledge accepts updatedAt as the new baseline so the local document can be
// written over it. The next tick writes regardless of the fingerprint.
func (e *Engine) Acknowledge(updatedAt time.Time) {
	e.mu.Lock()
	e.ack = stamp.Some(updatedAt)
	e.hasFP = false
	e.conflict = nil
	e.errMsg = ""
	n := e.setStatusLocked(StatusIdle)
	e.mu.Unlock()
	n()
	e.log.Info("conflict acknowledged", zap.Time("baseline", updatedAt))
}

// Adopted records that doc at updatedAt, just taken from the authority, is what the
// store now holds.
func (e *Engine) Adopted(updatedAt time.Time, doc drawing.Document) {
	e.mu.Lock()
	e.ack = stamp.Some(updatedAt)
	e.savedFP = drawing.FingerprintOf(doc)
	e.hasFP = true
	e.conflict = nil
	e.errMsg = ""
	n := e.setStatusLocked(StatusIdle)
	e.mu.Unlock()
	n()
}

// OnStatus registers fn for status changes. The returned func removes it.
func (e *Engine) OnStatus(fn func(Status)) (cancel func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()
	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) notify(s Status) {
	e.subMu.Lock()
	fns := make([]func(Status), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
