// Package conflict compares the local document with a record that rejected a write
// and commits the user's choice between them.
package conflict

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/beta-sketch/internal/drawing"
	"github.com/and161185/beta-sketch/internal/localstore"
	"github.com/and161185/beta-sketch/internal/model"
	"github.com/and161185/beta-sketch/internal/stamp"
)

// Choice is the user's decision. There is no default.
type Choice string

const (
	ChoiceLocal  Choice = "local"
	ChoiceServer Choice = "server"
)

// ErrUnknownChoice is returned for anything other than ChoiceLocal or ChoiceServer.
var ErrUnknownChoice = errors.New("unknown conflict choice")

// ParseChoice accepts "local" or "server", case-insensitively.
func ParseChoice(s string) (Choice, error) {
	switch c := Choice(strings.ToLower(strings.TrimSpace(s))); c {
	case ChoiceLocal, ChoiceServer:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChoice, s)
	}
}

// Candidate summarizes one side of a conflict.
type Candidate struct {
	drawing.Stats
	// UpdatedAt is the local modification time or the server's updatedAt.
	UpdatedAt stamp.Stamp
}

// Comparison is what the user sees before choosing.
type Comparison struct {
	Local  Candidate
	Server Candidate
}

// NewerSide returns the more recent candidate's choice, or "" if it cannot be told.
func (c Comparison) NewerSide() Choice {
	switch {
	case c.Local.UpdatedAt.After(c.Server.UpdatedAt):
		return ChoiceLocal
	case c.Server.UpdatedAt.After(c.Local.UpdatedAt):
		return ChoiceServer
	default:
		return ""
	}
}

// Compare derives stats for both candidates.
func Compare(local localstore.State, remote model.Record) Comparison {
	return Comparison{
		Local:  Candidate{Stats: drawing.StatsOf(local.Document), UpdatedAt: local.LastModifiedLocally},
		Server: Candidate{Stats: drawing.StatsOf(remote.Document), UpdatedAt: stamp.Some(remote.UpdatedAt)},
	}
}

// Engine is the part of the autosave engine resolution talks to.
type Engine interface {
	// Acknowledge makes updatedAt the baseline of the next write.
	Acknowledge(updatedAt time.Time)
	// Adopted tells the engine the store now holds doc as of updatedAt.
	Adopted(updatedAt time.Time, doc drawing.Document)
}

// Resolve commits choice. ChoiceServer replaces the store's document with remote and
// clears history. ChoiceLocal leaves the document alone and moves the engine's baseline
// to remote.UpdatedAt so the next save overwrites the remote copy.
func Resolve(store *localstore.Store, eng Engine, remote model.Record, choice Choice) error {
	switch choice {
	case ChoiceServer:
		id := store.Get().DocumentID
		store.AdoptRemote(id, remote.Document, remote.UpdatedAt)
		if eng != nil {
			eng.Adopted(remote.UpdatedAt, remote.Document)
		}
		return nil
	case ChoiceLocal:
		if eng == nil {
			return errors.New("keeping the local document needs an autosave engine")
		}
		eng.Acknowledge(remote.UpdatedAt)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChoice, string(choice))
	}
}
