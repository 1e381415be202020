package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/and161185/beta-sketch/internal/drawing"
)

// FilePersister keeps one snapshot per install in a JSON file.
type FilePersister struct {
	Path string
}

// NewFilePersister returns a persister writing to path.
func NewFilePersister(path string) *FilePersister { return &FilePersister{Path: path} }

// Save writes the snapshot atomically (temp file + rename).
func (p *FilePersister) Save(s Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.Path), ".state-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.Path)
}

// Load reads the snapshot. A missing file yields an empty, unbound state.
// A document that fails validation is rejected rather than repaired.
func (p *FilePersister) Load() (Snapshot, error) {
	b, err := os.ReadFile(p.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{State: State{Document: drawing.NewEmpty()}}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}

	var raw struct {
		State struct {
			State
			Document json.RawMessage `json:"document"`
		} `json:"state"`
		History HistorySnapshot `json:"history"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", p.Path, err)
	}
	doc, err := drawing.Parse(raw.State.Document)
	if err != nil {
		return Snapshot{}, fmt.Errorf("local document: %w", err)
	}
	for i, d := range raw.History.Undo {
		if err := d.Validate(); err != nil {
			return Snapshot{}, fmt.Errorf("undo[%d]: %w", i, err)
		}
	}
	for i, d := range raw.History.Redo {
		if err := d.Validate(); err != nil {
			return Snapshot{}, fmt.Errorf("redo[%d]: %w", i, err)
		}
	}

	st := raw.State.State
	st.Document = doc
	return Snapshot{State: st, History: raw.History}, nil
}

// Open loads the snapshot at path and returns a store that persists back to it.
func Open(path string, opts ...Option) (*Store, error) {
	p := NewFilePersister(path)
	snap, err := p.Load()
	if err != nil {
		return nil, err
	}
	s := New(append(opts, WithPersister(p))...)
	s.state = snap.State
	s.history.restore(snap.History)
	return s, nil
}
