package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/beta-sketch/internal/drawing"
)

const (
	defaultBrushColor = "#e53935"
	defaultHoldColor  = "#43a047"
	defaultWidth      = 0.8
)

var errUsage = errors.New("usage")

// parsePoint reads "x,y" in image percentages.
func parsePoint(s string) (drawing.Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return drawing.Point{}, fmt.Errorf("point %q: want x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return drawing.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return drawing.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	return drawing.Point{X: x, Y: y}, nil
}

// splitOptions separates key=value options from positional args.
func splitOptions(args []string) (pos []string, opts map[string]string) {
	opts = map[string]string{}
	for _, a := range args {
		if k, v, ok := strings.Cut(a, "="); ok {
			opts[strings.ToLower(k)] = v
			continue
		}
		pos = append(pos, a)
	}
	return pos, opts
}

// parseLine builds a line from "[brush|eraser] x,y x,y ... [color=..] [width=..]".
func parseLine(args []string) (drawing.Line, error) {
	pos, opts := splitOptions(args)
	l := drawing.Line{Tool: drawing.ToolBrush, Color: defaultBrushColor, Width: defaultWidth}
	if len(pos) > 0 && !strings.Contains(pos[0], ",") {
		l.Tool = drawing.Tool(strings.ToLower(pos[0]))
		pos = pos[1:]
	}
	if len(pos) == 0 {
		return drawing.Line{}, fmt.Errorf("%w: draw [brush|eraser] x,y [x,y ...] [color=#rrggbb] [width=n]", errUsage)
	}
	for _, p := range pos {
		pt, err := parsePoint(p)
		if err != nil {
			return drawing.Line{}, err
		}
		l.Points = append(l.Points, pt)
	}
	if c, ok := opts["color"]; ok {
		l.Color = c
	}
	if w, ok := opts["width"]; ok {
		f, err := strconv.ParseFloat(w, 64)
		if err != nil {
			return drawing.Line{}, fmt.Errorf("width %q: %w", w, err)
		}
		l.Width = f
	}
	l.ID = uuid.Must(uuid.NewV4()).String()
	return l, nil
}

// parseHold builds a circle from "x,y radius [color=..]".
func parseHold(args []string) (drawing.Circle, error) {
	pos, opts := splitOptions(args)
	if len(pos) != 2 {
		return drawing.Circle{}, fmt.Errorf("%w: hold x,y radius [color=#rrggbb]", errUsage)
	}
	center, err := parsePoint(pos[0])
	if err != nil {
		return drawing.Circle{}, err
	}
	r, err := strconv.ParseFloat(pos[1], 64)
	if err != nil {
		return drawing.Circle{}, fmt.Errorf("radius %q: %w", pos[1], err)
	}
	c := drawing.Circle{
		ID:     uuid.Must(uuid.NewV4()).String(),
		Type:   drawing.ShapeCircle,
		Center: center,
		Radius: r,
		Color:  defaultHoldColor,
	}
	if v, ok := opts["color"]; ok {
		c.Color = v
	}
	return c, nil
}
