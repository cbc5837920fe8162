// Package brainstate holds the user's self-reported check-in signal and the
// pure adaptation rules derived from it. A sample is immutable once captured:
// a new check-in supersedes the old one, it never mutates it.
package brainstate

import (
	"fmt"
	"time"
)

// MaxNotesLen caps the free-text notes field on a sample.
const MaxNotesLen = 500

// Sample is one self-reported energy/focus/mood check-in.
type Sample struct {
	ID         string    `json:"id"`
	Energy     int       `json:"energy"` // 1..10
	Focus      int       `json:"focus"`  // 1..10
	Mood       int       `json:"mood"`   // 1..10
	Notes      string    `json:"notes"`
	CapturedAt time.Time `json:"captured_at"`
}

// Input is the user-supplied portion of a check-in.
type Input struct {
	Energy int    `json:"energy"`
	Focus  int    `json:"focus"`
	Mood   int    `json:"mood"`
	Notes  string `json:"notes"`
}

// ValidationError reports a rejected check-in field. It is returned before
// any state changes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the input ranges. All three signals are 1..10.
func (in Input) Validate() error {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"energy", in.Energy},
		{"focus", in.Focus},
		{"mood", in.Mood},
	} {
		if f.value < 1 || f.value > 10 {
			return &ValidationError{Field: f.name, Reason: "must be between 1 and 10"}
		}
	}
	if len(in.Notes) > MaxNotesLen {
		return &ValidationError{Field: "notes", Reason: fmt.Sprintf("must be at most %d characters", MaxNotesLen)}
	}
	return nil
}

// SameDay reports whether the sample was captured on the given calendar day
// in the given location. A sample from a previous day is stale and must not
// be served as "today's" state.
func (s *Sample) SameDay(now time.Time, loc *time.Location) bool {
	if s == nil {
		return false
	}
	y1, m1, d1 := s.CapturedAt.In(loc).Date()
	y2, m2, d2 := now.In(loc).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
