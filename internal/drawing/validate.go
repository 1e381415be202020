package drawing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/and161185/beta-sketch/internal/errs"
)

// ValidationError names the offending field of a rejected document.
type ValidationError struct {
	Field  string // JSON path, e.g. "lines[0].points[2].x"
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid drawing: " + e.Reason
	}
	return fmt.Sprintf("invalid drawing: %s: %s", e.Field, e.Reason)
}

// Unwrap lets callers match with errors.Is(err, errs.ErrValidation).
func (e *ValidationError) Unwrap() error { return errs.ErrValidation }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("drawtool", func(fl validator.FieldLevel) bool {
		return Tool(fl.Field().String()).Known()
	})
	return v
}

// Parse decodes and validates a JSON candidate. It returns either a valid document or a
// *ValidationError; it never coerces values into range.
func Parse(raw []byte) (Document, error) {
	var head struct {
		SchemaVersion json.RawMessage `json:"schemaVersion"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Document{}, &ValidationError{Reason: "malformed json: " + err.Error()}
	}
	ver := bytes.TrimSpace(head.SchemaVersion)
	if len(ver) == 0 || bytes.Equal(ver, []byte("null")) {
		return Document{}, &ValidationError{Field: "schemaVersion", Reason: "missing"}
	}
	n, err := strconv.Atoi(string(ver))
	if err != nil {
		return Document{}, &ValidationError{Field: "schemaVersion", Reason: "not an integer: " + string(ver)}
	}
	if n != CurrentSchemaVersion {
		return Document{}, &ValidationError{Field: "schemaVersion", Reason: fmt.Sprintf("unsupported version %d", n)}
	}

	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return Document{}, &ValidationError{Field: te.Field, Reason: "expected " + te.Type.String()}
		}
		return Document{}, &ValidationError{Reason: err.Error()}
	}
	if d.Lines == nil {
		d.Lines = []Line{}
	}
	if d.Shapes == nil {
		d.Shapes = []Circle{}
	}
	if err := d.Validate(); err != nil {
		return Document{}, err
	}
	return d, nil
}

// Validate checks the data model invariants on an already typed document.
func (d Document) Validate() error {
	err := validate.Struct(d)
	if err == nil {
		return d.uniqueIDs()
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return &ValidationError{Reason: err.Error()}
	}
	fe := ves[0]
	return &ValidationError{Field: fieldPath(fe.Namespace()), Reason: reason(fe)}
}

// uniqueIDs rejects an id reused by any two elements; lines and shapes share one id space.
func (d Document) uniqueIDs() error {
	seen := make(map[string]struct{}, len(d.Lines)+len(d.Shapes))
	for i, l := range d.Lines {
		if _, dup := seen[l.ID]; dup {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].id", i), Reason: fmt.Sprintf("duplicate id %q", l.ID)}
		}
		seen[l.ID] = struct{}{}
	}
	for i, c := range d.Shapes {
		if _, dup := seen[c.ID]; dup {
			return &ValidationError{Field: fmt.Sprintf("shapes[%d].id", i), Reason: fmt.Sprintf("duplicate id %q", c.ID)}
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte", "lte":
		return fmt.Sprintf("%v outside [0,100]", fe.Value())
	case "gt":
		return fmt.Sprintf("must be positive, got %v", fe.Value())
	case "min":
		return "needs at least " + fe.Param() + " element(s)"
	case "required":
		return "required"
	case "drawtool":
		return fmt.Sprintf("unknown tool %q", fe.Value())
	case "eq":
		return fmt.Sprintf("unsupported value %v", fe.Value())
	default:
		return fe.Tag() + " " + fe.Param()
	}
}

// Marshal encodes d in the exchange format. Nil sequences are written as empty arrays.
func Marshal(d Document) ([]byte, error) {
	if d.Lines == nil {
		d.Lines = []Line{}
	}
	if d.Shapes == nil {
		d.Shapes = []Circle{}
	}
	return json.Marshal(d)
}
