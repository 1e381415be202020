// Package stamp implements an optional, millisecond-resolution timestamp.
//
// A Stamp is either None (never happened) or Some(t). All values are normalized to UTC
// and truncated to milliseconds, the resolution the authority guarantees, so that two
// stamps describing the same instant compare equal no matter which side produced them.
package stamp

import (
	"bytes"
	"encoding/json"
	"time"
)

// Resolution is the precision at which stamps are compared.
const Resolution = time.Millisecond

// Stamp is a tagged optional timestamp.
type Stamp struct {
	t  time.Time
	ok bool
}

// None returns an absent stamp.
func None() Stamp { return Stamp{} }

// Some returns a present stamp normalized to UTC milliseconds.
func Some(t time.Time) Stamp { return Stamp{t: Normalize(t), ok: true} }

// Normalize truncates t to Resolution in UTC.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(Resolution)
}

// Get returns the instant and whether it is present.
func (s Stamp) Get() (time.Time, bool) { return s.t, s.ok }

// Valid reports whether the stamp is present.
func (s Stamp) Valid() bool { return s.ok }

// Time returns the instant, or the zero time if absent.
func (s Stamp) Time() time.Time { return s.t }

// Equal reports whether both stamps are absent, or both present and the same instant.
func (s Stamp) Equal(o Stamp) bool {
	if s.ok != o.ok {
		return false
	}
	return !s.ok || s.t.Equal(o.t)
}

// After reports whether both stamps are present and s is strictly later than o.
func (s Stamp) After(o Stamp) bool {
	return s.ok && o.ok && s.t.After(o.t)
}

// Before reports whether both stamps are present and s is strictly earlier than o.
func (s Stamp) Before(o Stamp) bool {
	return s.ok && o.ok && s.t.Before(o.t)
}

// Max returns the later of two stamps; an absent stamp loses to a present one.
func Max(a, b Stamp) Stamp {
	switch {
	case !a.ok:
		return b
	case !b.ok:
		return a
	case b.t.After(a.t):
		return b
	default:
		return a
	}
}

// Next returns the authority's next stamp for a record currently at prev:
// now when it is strictly later, otherwise prev advanced by one Resolution step.
func Next(prev, now time.Time) time.Time {
	prev, now = Normalize(prev), Normalize(now)
	if now.After(prev) {
		return now
	}
	return prev.Add(Resolution)
}

// String renders the stamp in RFC3339 with milliseconds, or "never".
func (s Stamp) String() string {
	if !s.ok {
		return "never"
	}
	return s.t.Format("2006-01-02T15:04:05.000Z07:00")
}

// MarshalJSON encodes an absent stamp as null.
func (s Stamp) MarshalJSON() ([]byte, error) {
	if !s.ok {
		return []byte("null"), nil
	}
	return json.Marshal(s.t)
}

// UnmarshalJSON accepts null or an RFC3339 string in any timezone.
func (s *Stamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*s = None()
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	*s = Some(t)
	return nil
}
