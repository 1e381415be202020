// Package drawing defines the versioned annotation document attached to a beta:
// freehand lines and circular hold markers placed on a boulder photo.
//
// Every coordinate is a percentage in [0,100] of the source image's natural size, so a
// document renders identically at any resolution. Out-of-range values are rejected,
// never clamped.
package drawing

import "slices"

// CurrentSchemaVersion is the only schema version this build decodes.
const CurrentSchemaVersion = 1

// Tool distinguishes visible ink from masking strokes.
type Tool string

// Known tools. Unknown tags fail validation.
const (
	ToolBrush  Tool = "brush"
	ToolEraser Tool = "eraser"
)

// ShapeCircle is the only shape type in schema version 1.
const ShapeCircle = "circle"

var knownTools = map[Tool]struct{}{
	ToolBrush:  {},
	ToolEraser: {},
}

// Known reports whether t is a recognized tool tag.
func (t Tool) Known() bool {
	_, ok := knownTools[t]
	return ok
}

// Point is a position in image percentages.
type Point struct {
	X float64 `json:"x" validate:"gte=0,lte=100"`
	Y float64 `json:"y" validate:"gte=0,lte=100"`
}

// Line is one continuous pointer gesture.
type Line struct {
	ID     string  `json:"id" validate:"required"`
	Tool   Tool    `json:"tool" validate:"drawtool"`
	Points []Point `json:"points" validate:"min=1,dive"`
	Color  string  `json:"color" validate:"required"`
	Width  float64 `json:"width" validate:"gt=0"`
}

// Circle marks a hold. Radius is a percentage of the image width.
type Circle struct {
	ID     string  `json:"id" validate:"required"`
	Type   string  `json:"type" validate:"eq=circle"`
	Center Point   `json:"center"`
	Radius float64 `json:"radius" validate:"gt=0,lte=100"`
	Color  string  `json:"color" validate:"required"`
}

// Document is the annotation payload of one beta. Order of Lines and Shapes is the
// drawing order and is preserved through every save and load.
type Document struct {
	SchemaVersion int      `json:"schemaVersion" validate:"eq=1"`
	Lines         []Line   `json:"lines" validate:"dive"`
	Shapes        []Circle `json:"shapes" validate:"dive"`
}

// NewEmpty returns an empty document at the current schema version.
func NewEmpty() Document {
	return Document{SchemaVersion: CurrentSchemaVersion, Lines: []Line{}, Shapes: []Circle{}}
}

// HasData reports whether the document holds at least one line or shape.
func (d Document) HasData() bool {
	return len(d.Lines) > 0 || len(d.Shapes) > 0
}

// Clone returns a deep copy that shares no slices with d.
func (d Document) Clone() Document {
	out := Document{SchemaVersion: d.SchemaVersion}
	if d.Lines != nil {
		out.Lines = make([]Line, len(d.Lines))
		for i, l := range d.Lines {
			l.Points = append([]Point(nil), l.Points...)
			out.Lines[i] = l
		}
	}
	if d.Shapes != nil {
		out.Shapes = append([]Circle{}, d.Shapes...)
	}
	return out
}

// Equal reports whether d and o hold the same lines and shapes in the same order.
func (d Document) Equal(o Document) bool {
	return d.SchemaVersion == o.SchemaVersion &&
		slices.EqualFunc(d.Lines, o.Lines, Line.Equal) &&
		slices.Equal(d.Shapes, o.Shapes)
}

// Equal reports whether l and o are the same stroke.
func (l Line) Equal(o Line) bool {
	return l.ID == o.ID && l.Tool == o.Tool && l.Color == o.Color && l.Width == o.Width &&
		slices.Equal(l.Points, o.Points)
}

// AddLine returns a copy of d with l appended on top.
func (d Document) AddLine(l Line) Document {
	out := d.Clone()
	l.Points = append([]Point(nil), l.Points...)
	out.Lines = append(out.Lines, l)
	return out
}

// AddCircle returns a copy of d with c appended on top.
func (d Document) AddCircle(c Circle) Document {
	out := d.Clone()
	if c.Type == "" {
		c.Type = ShapeCircle
	}
	out.Shapes = append(out.Shapes, c)
	return out
}
