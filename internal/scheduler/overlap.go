// Package scheduler detects time-window collisions between class sessions.
package scheduler

import (
	"sort"
	"time"
)

// Window is a half-open time interval [Start, End) owned by a session.
type Window struct {
	ID    string
	Name  string
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two windows share any instant. Touching windows
// (one ends exactly when the other starts) do not overlap.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Overlap describes an existing window the candidate collides with.
type Overlap struct {
	WithID   string
	WithName string
	Start    time.Time
	End      time.Time
	// Duration is the length of the shared interval.
	Duration time.Duration
}

// DetectOverlaps returns every existing window that overlaps candidate,
// ordered by start time. A window sharing the candidate's ID is skipped so
// that updates do not collide with themselves.
func DetectOverlaps(existing []Window, candidate Window) []Overlap {
	var overlaps []Overlap
	for _, window := range existing {
		if candidate.ID != "" && window.ID == candidate.ID {
			continue
		}
		if !window.Overlaps(candidate) {
			continue
		}
		overlaps = append(overlaps, Overlap{
			WithID:   window.ID,
			WithName: window.Name,
			Start:    window.Start,
			End:      window.End,
			Duration: earlierOf(window.End, candidate.End).Sub(laterOf(window.Start, candidate.Start)),
		})
	}
	sort.Slice(overlaps, func(i, j int) bool {
		if overlaps[i].Start.Equal(overlaps[j].Start) {
			return overlaps[i].WithID < overlaps[j].WithID
		}
		return overlaps[i].Start.Before(overlaps[j].Start)
	})
	return overlaps
}

// DetectInternalOverlaps reports pairs of windows within the same batch that
// collide, keyed by the later window's ID.
func DetectInternalOverlaps(batch []Window) map[string][]Overlap {
	out := make(map[string][]Overlap)
	for i := 1; i < len(batch); i++ {
		if found := DetectOverlaps(batch[:i], batch[i]); len(found) > 0 {
			out[batch[i].ID] = found
		}
	}
	return out
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
