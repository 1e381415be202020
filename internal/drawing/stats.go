package drawing

// Fingerprint is an O(1) structural summary used to skip saves when nothing changed.
// It is not a content hash: edits that keep every count identical are not detected.
type Fingerprint struct {
	SchemaVersion int
	Lines         int
	Shapes        int
}

// FingerprintOf summarizes d.
func FingerprintOf(d Document) Fingerprint {
	return Fingerprint{SchemaVersion: d.SchemaVersion, Lines: len(d.Lines), Shapes: len(d.Shapes)}
}

// Stats are derived counts shown when the user compares two candidate documents.
type Stats struct {
	Lines  int `json:"lines"`
	Shapes int `json:"shapes"`
	Brush  int `json:"brush"`
	Eraser int `json:"eraser"`
	Points int `json:"points"`
}

// StatsOf derives display stats from d.
func StatsOf(d Document) Stats {
	s := Stats{Lines: len(d.Lines), Shapes: len(d.Shapes)}
	for _, l := range d.Lines {
		switch l.Tool {
		case ToolBrush:
			s.Brush++
		case ToolEraser:
			s.Eraser++
		}
		s.Points += len(l.Points)
	}
	return s
}
