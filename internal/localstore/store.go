// Package localstore holds the client's working copy of one drawing document together
// with its sync watermarks, and persists it across restarts.
//
// The store is the only shared mutable resource on the client. It is written by the
// editing surface (Edit, Undo, Redo), by the loader and the conflict surface
// (AdoptRemote), and by the autosave engine (MarkSynced). Every write replaces or reads
// the whole state under one lock; there are no partial updates.
package localstore

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/beta-sketch/internal/drawing"
	"github.com/and161185/beta-sketch/internal/stamp"
)

// State is the synchronization state of the locally held document.
type State struct {
	DocumentID           uuid.UUID        `json:"documentId"`
	Document             drawing.Document `json:"document"`
	LastModifiedLocally  stamp.Stamp      `json:"lastModifiedLocally"`
	LastSyncedWithServer stamp.Stamp      `json:"lastSyncedWithServer"`
}

// HasLocalData reports whether the state holds user work for documentID.
func (s State) HasLocalData(documentID uuid.UUID) bool {
	return s.DocumentID == documentID && s.Document.HasData()
}

// Unsaved reports whether local edits happened after the last confirmed sync.
func (s State) Unsaved() bool {
	if !s.LastModifiedLocally.Valid() {
		return false
	}
	return !s.LastSyncedWithServer.Valid() || s.LastModifiedLocally.After(s.LastSyncedWithServer)
}

func (s State) clone() State {
	s.Document = s.Document.Clone()
	return s
}

// Persister durably stores snapshots of the store.
type Persister interface {
	Save(Snapshot) error
}

// Snapshot is everything the store persists.
type Snapshot struct {
	State   State           `json:"state"`
	History HistorySnapshot `json:"history"`
}

// Store is the local document container. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	state   State
	history *History
	persist Persister
	now     func() time.Time
	log     *zap.Logger

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// Option configures a Store.
type Option func(*Store)

// WithPersister saves every change through p.
func WithPersister(p Persister) Option { return func(s *Store) { s.persist = p } }

// WithClock overrides the clock used for LastModifiedLocally.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// WithHistoryLimit bounds the undo/redo stacks.
func WithHistoryLimit(n int) Option { return func(s *Store) { s.history = NewHistory(n) } }

// New creates a store holding an empty, unbound document.
func New(opts ...Option) *Store {
	s := &Store{
		state:   State{Document: drawing.NewEmpty()},
		history: NewHistory(DefaultHistoryLimit),
		now:     time.Now,
		log:     zap.NewNop(),
		subs:    map[int]func(State){},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns a copy of the current state.
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Set replaces the whole state. History is kept; use AdoptRemote for replacements
// that must invalidate it.
func (s *Store) Set(st State) {
	s.apply(func(cur *State) bool {
		*cur = st.clone()
		return true
	})
}

// Subscribe registers fn to be called after every change. The returned func removes it.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Edit installs doc as the result of a local mutation and records the previous
// document for undo.
func (s *Store) Edit(doc drawing.Document) {
	s.apply(func(cur *State) bool {
		s.history.Push(cur.Document)
		cur.Document = doc.Clone()
		s.touch(cur)
		return true
	})
}

// Undo reverts the last edit. It reports false when there is nothing to undo.
func (s *Store) Undo() bool {
	return s.apply(func(cur *State) bool {
		prev, ok := s.history.Undo(cur.Document)
		if !ok {
			return false
		}
		cur.Document = prev
		s.touch(cur)
		return true
	})
}

// Redo re-applies the last undone edit.
func (s *Store) Redo() bool {
	return s.apply(func(cur *State) bool {
		next, ok := s.history.Redo(cur.Document)
		if !ok {
			return false
		}
		cur.Document = next
		s.touch(cur)
		return true
	})
}

// CanUndo reports the sizes of the undo and redo stacks.
func (s *Store) CanUndo() (undo, redo int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Len()
}

// AdoptRemote replaces the local document with the authority's copy, binds the store to
// documentID and clears undo/redo history.
func (s *Store) AdoptRemote(documentID uuid.UUID, doc drawing.Document, updatedAt time.Time) {
	s.apply(func(cur *State) bool {
		synced := stamp.Some(updatedAt)
		*cur = State{
			DocumentID:           documentID,
			Document:             doc.Clone(),
			LastModifiedLocally:  synced,
			LastSyncedWithServer: synced,
		}
		s.history.Clear()
		return true
	})
	s.log.Info("adopted remote document",
		zap.String("doc", documentID.String()),
		zap.Time("updatedAt", updatedAt),
	)
}

// MarkSynced records that the authority accepted written at updatedAt for documentID.
// bound is false, and nothing changes, if the store now holds another document. clean
// is false when the local document moved on while the write was in flight; those
// edits keep a modification stamp after updatedAt so they stay unsaved.
func (s *Store) MarkSynced(documentID uuid.UUID, written drawing.Document, updatedAt time.Time) (bound, clean bool) {
	s.apply(func(cur *State) bool {
		if cur.DocumentID != documentID {
			return false
		}
		bound = true
		cur.LastSyncedWithServer = stamp.Some(updatedAt)
		clean = cur.Document.Equal(written)
		if !clean {
			cur.LastModifiedLocally = stamp.Max(cur.LastModifiedLocally, stamp.Some(updatedAt.Add(stamp.Resolution)))
		}
		return true
	})
	return bound, clean
}

// touch stamps a local mutation. The stamp never moves backwards and always lands
// after the last sync point, whatever the local clock says.
func (s *Store) touch(cur *State) {
	t := stamp.Max(cur.LastModifiedLocally, stamp.Some(s.now()))
	if synced, ok := cur.LastSyncedWithServer.Get(); ok {
		t = stamp.Max(t, stamp.Some(synced.Add(stamp.Resolution)))
	}
	cur.LastModifiedLocally = t
}

// apply runs fn under the lock and, if it reports a change, persists and notifies.
func (s *Store) apply(fn func(*State) bool) bool {
	s.mu.Lock()
	changed := fn(&s.state)
	var snap State
	if changed {
		snap = s.state.clone()
		if s.persist != nil {
			if err := s.persist.Save(Snapshot{State: snap, History: s.history.snapshot()}); err != nil {
				s.log.Warn("persist local state", zap.Error(err))
			}
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify(snap)
	}
	return changed
}

func (s *Store) notify(st State) {
	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(st.clone())
	}
}
