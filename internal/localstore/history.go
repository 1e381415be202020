package localstore

import "github.com/and161185/beta-sketch/internal/drawing"

// DefaultHistoryLimit bounds each of the undo and redo stacks.
const DefaultHistoryLimit = 50

// History is a bounded undo/redo stack of whole-document snapshots.
// It is not safe for concurrent use; Store guards it.
type History struct {
	limit int
	undo  []drawing.Document
	redo  []drawing.Document
}

// NewHistory creates a history keeping at most limit entries per stack.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Push records prev as the state to return to and drops any redo entries.
func (h *History) Push(prev drawing.Document) {
	h.undo = appendBounded(h.undo, prev.Clone(), h.limit)
	h.redo = nil
}

// Undo returns the previous document and records cur for redo.
func (h *History) Undo(cur drawing.Document) (drawing.Document, bool) {
	if len(h.undo) == 0 {
		return drawing.Document{}, false
	}
	prev := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = appendBounded(h.redo, cur.Clone(), h.limit)
	return prev.Clone(), true
}

// Redo re-applies the last undone document and records cur for undo.
func (h *History) Redo(cur drawing.Document) (drawing.Document, bool) {
	if len(h.redo) == 0 {
		return drawing.Document{}, false
	}
	next := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = appendBounded(h.undo, cur.Clone(), h.limit)
	return next.Clone(), true
}

// Clear drops both stacks. Called only when the document is replaced wholesale.
func (h *History) Clear() {
	h.undo, h.redo = nil, nil
}

// Len returns the sizes of the undo and redo stacks.
func (h *History) Len() (undo, redo int) { return len(h.undo), len(h.redo) }

// HistorySnapshot is the persisted form of History.
type HistorySnapshot struct {
	Undo []drawing.Document `json:"undo"`
	Redo []drawing.Document `json:"redo"`
}

func (h *History) snapshot() HistorySnapshot {
	s := HistorySnapshot{}
	for _, d := range h.undo {
		s.Undo = append(s.Undo, d.Clone())
	}
	for _, d := range h.redo {
		s.Redo = append(s.Redo, d.Clone())
	}
	return s
}

func (h *History) restore(s HistorySnapshot) {
	h.Clear()
	for _, d := range s.Undo {
		h.undo = appendBounded(h.undo, d.Clone(), h.limit)
	}
	for _, d := range s.Redo {
		h.redo = appendBounded(h.redo, d.Clone(), h.limit)
	}
}

func appendBounded(s []drawing.Document, d drawing.Document, limit int) []drawing.Document {
	s = append(s, d)
	if len(s) > limit {
		s = append([]drawing.Document(nil), s[len(s)-limit:]...)
	}
	return s
}
