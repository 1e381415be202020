package conflict

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/beta-sketch/internal/drawing"
	"github.com/and161185/beta-sketch/internal/model"
	"github.com/and161185/beta-sketch/internal/stamp"
)

// Pending is an unresolved conflict kept on disk so it can be resolved by a later
// invocation.
type Pending struct {
	DocumentID uuid.UUID        `json:"documentId"`
	Document   drawing.Document `json:"document"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Record returns the remote side of the conflict.
func (p Pending) Record() model.Record {
	return model.Record{Document: p.Document, UpdatedAt: stamp.Normalize(p.UpdatedAt)}
}

// SavePending writes the remote record of a conflict on documentID to path.
func SavePending(path string, documentID uuid.UUID, remote model.Record) error {
	raw, err := json.MarshalIndent(Pending{DocumentID: documentID, Document: remote.Document, UpdatedAt: remote.UpdatedAt}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// LoadPending reads a conflict written by SavePending. ok is false if there is none.
func LoadPending(path string) (p Pending, ok bool, err error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Pending{}, false, nil
	}
	if err != nil {
		return Pending{}, false, err
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Pending{}, false, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := p.Document.Validate(); err != nil {
		return Pending{}, false, fmt.Errorf("%s: %w", path, err)
	}
	return p, true, nil
}

// ClearPending removes the conflict file; a missing file is not an error.
func ClearPending(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
