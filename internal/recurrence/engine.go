// Package recurrence expands weekly and daily rules into concrete session windows.
package recurrence

import (
	"errors"
	"time"
)

// Frequency represents supported recurrence intervals.
type Frequency int

const (
	// FrequencyUnspecified indicates the rule frequency is not set.
	FrequencyUnspecified Frequency = iota
	// FrequencyDaily generates occurrences for each day within the range.
	FrequencyDaily
	// FrequencyWeekly generates occurrences for the selected weekdays.
	FrequencyWeekly
)

// ParseFrequency maps "daily" and "weekly" to their Frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch s {
	case "daily", "DAILY":
		return FrequencyDaily, nil
	case "weekly", "WEEKLY":
		return FrequencyWeekly, nil
	}
	return FrequencyUnspecified, ErrInvalidFrequency
}

// Rule describes how a class meets.
type Rule struct {
	Frequency Frequency
	Weekdays  []time.Weekday
	StartsOn  time.Time
	EndsOn    *time.Time
}

// GenerateOptions bounds occurrence generation.
type GenerateOptions struct {
	RangeStart *time.Time
	RangeEnd   *time.Time
	// Limit caps the number of occurrences; zero means no cap.
	Limit int
}

// Occurrence is one generated meeting.
type Occurrence struct {
	Index int
	Start time.Time
	End   time.Time
}

// Engine expands recurrence rules into occurrences.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that evaluates wall-clock times in loc.
// If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// Location returns the zone the engine evaluates rules in.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// ErrInvalidFrequency indicates the recurrence frequency is not supported.
var ErrInvalidFrequency = errors.New("recurrence: invalid frequency")

// ErrInvalidWindow indicates the generation window is unbounded.
var ErrInvalidWindow = errors.New("recurrence: generation window requires an end bound")

// ErrInvalidDuration indicates the template session duration is invalid.
var ErrInvalidDuration = errors.New("recurrence: session duration must be positive")

// GenerateOccurrences produces occurrences of the template window
// [baseStart, baseEnd) within the rule and option bounds.
//
//   - Wall-clock times are evaluated in the engine's location, so a 09:00
//     class stays at 09:00 across daylight saving changes.
//   - The window is bounded by the rule's EndsOn, the optional range end and
//     the optional limit; at least one of EndsOn, RangeEnd or Limit is required.
//   - Weekly rules require weekdays; daily rules optionally filter by them.
func (e *Engine) GenerateOccurrences(rule Rule, baseStart, baseEnd time.Time, opts GenerateOptions) ([]Occurrence, error) {
	loc := e.Location()

	baseStart = baseStart.In(loc)
	baseEnd = baseEnd.In(loc)
	if !baseEnd.After(baseStart) {
		return nil, ErrInvalidDuration
	}
	duration := baseEnd.Sub(baseStart)

	ruleStart := rule.StartsOn.In(loc)
	if ruleStart.IsZero() {
		ruleStart = baseStart
	}

	var upperBound time.Time
	hasUpper := false
	if rule.EndsOn != nil {
		upperBound = rule.EndsOn.In(loc)
		hasUpper = true
	}
	if opts.RangeEnd != nil {
		rangeEnd := opts.RangeEnd.In(loc)
		if !hasUpper || rangeEnd.Before(upperBound) {
			upperBound = rangeEnd
		}
		hasUpper = true
	}
	if !hasUpper && opts.Limit <= 0 {
		return nil, ErrInvalidWindow
	}

	lowerBound := ruleStart
	if opts.RangeStart != nil && opts.RangeStart.After(lowerBound) {
		lowerBound = opts.RangeStart.In(loc)
	}
	if hasUpper && lowerBound.After(upperBound) {
		return nil, nil
	}

	weekdaySet := make(map[time.Weekday]struct{}, len(rule.Weekdays))
	for _, day := range rule.Weekdays {
		weekdaySet[day] = struct{}{}
	}
	if _, err := shouldInclude(rule.Frequency, weekdaySet, baseStart.Weekday()); err != nil {
		return nil, err
	}
	if rule.Frequency == FrequencyWeekly && len(weekdaySet) == 0 {
		return nil, nil
	}

	current := firstCandidate(lowerBound, baseStart, loc)
	occurrences := make([]Occurrence, 0)

	for !hasUpper || !current.After(upperBound) {
		include, err := shouldInclude(rule.Frequency, weekdaySet, current.Weekday())
		if err != nil {
			return nil, err
		}

		if include {
			occurrences = append(occurrences, Occurrence{
				Index: len(occurrences),
				Start: current,
				End:   current.Add(duration),
			})
			if opts.Limit > 0 && len(occurrences) == opts.Limit {
				break
			}
		}

		current = combineDateTime(current.AddDate(0, 0, 1), baseStart, loc)
	}

	return occurrences, nil
}

func firstCandidate(lowerBound, template time.Time, loc *time.Location) time.Time {
	candidate := combineDateTime(lowerBound, template, loc)
	for candidate.Before(lowerBound) {
		candidate = combineDateTime(candidate.AddDate(0, 0, 1), template, loc)
	}
	return candidate
}

func combineDateTime(dateSource, template time.Time, loc *time.Location) time.Time {
	y, m, d := dateSource.In(loc).Date()
	clock := template.In(loc)
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), loc)
}

func shouldInclude(freq Frequency, weekdaySet map[time.Weekday]struct{}, day time.Weekday) (bool, error) {
	switch freq {
	case FrequencyDaily:
		if len(weekdaySet) == 0 {
			return true, nil
		}
		_, ok := weekdaySet[day]
		return ok, nil
	case FrequencyWeekly:
		if len(weekdaySet) == 0 {
			return false, nil
		}
		_, ok := weekdaySet[day]
		return ok, nil
	case FrequencyUnspecified:
		fallthrough
	default:
		return false, ErrInvalidFrequency
	}
}
