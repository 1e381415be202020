// Package reconcile decides, at the start of an editing session, how a locally held
// document relates to the authority's copy.
package reconcile

import (
	"time"

	"github.com/and161185/beta-sketch/internal/stamp"
)

// Strategy is the outcome of Decide.
type Strategy int

const (
	// LoadServer replaces the local document with the remote one.
	LoadServer Strategy = iota + 1
	// KeepLocal keeps the local document; it is already in sync.
	KeepLocal
	// KeepLocalUnsaved keeps the local document and flags edits not yet pushed.
	KeepLocalUnsaved
	// PromptUser asks the user to choose between two unrelated edit histories.
	PromptUser
)

func (s Strategy) String() string {
	switch s {
	case LoadServer:
		return "LOAD_SERVER"
	case KeepLocal:
		return "KEEP_LOCAL"
	case KeepLocalUnsaved:
		return "KEEP_LOCAL_UNSAVED"
	case PromptUser:
		return "PROMPT_USER"
	default:
		return "UNKNOWN"
	}
}

// Input is everything the policy looks at.
type Input struct {
	HasLocalData      bool // local document has at least one line or shape
	LocalLastModified stamp.Stamp
	LocalLastSynced   stamp.Stamp
	ServerUpdatedAt   time.Time
}

// Decide is a pure function of in. Rules are evaluated in order:
//
//  1. nothing local to protect                    -> LoadServer
//  2. last sync point equals the server stamp     -> KeepLocalUnsaved if edited since, else KeepLocal
//  3. server newer than the local edit, never synced -> PromptUser
//     server newer than the local edit, synced before -> LoadServer
//     otherwise                                    -> KeepLocalUnsaved
func Decide(in Input) Strategy {
	if !in.HasLocalData || !in.LocalLastModified.Valid() {
		return LoadServer
	}

	server := stamp.Some(in.ServerUpdatedAt)

	if in.LocalLastSynced.Equal(server) {
		if in.LocalLastModified.After(in.LocalLastSynced) {
			return KeepLocalUnsaved
		}
		return KeepLocal
	}

	if server.After(in.LocalLastModified) {
		if !in.LocalLastSynced.Valid() {
			return PromptUser
		}
		return LoadServer
	}
	return KeepLocalUnsaved
}
