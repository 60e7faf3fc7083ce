package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// MinutesPerDay bounds a ClockTime; 24:00 is a legal close time.
const MinutesPerDay = 24 * 60

// ClockTime is a time of day in minutes after midnight.
type ClockTime int

// ParseClock parses "HH:MM".
func ParseClock(s string) (ClockTime, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	if h < 0 || m < 0 || m > 59 || h*60+m > MinutesPerDay {
		return 0, fmt.Errorf("clock time %q out of range", s)
	}
	return ClockTime(h*60 + m), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Span is a half-open [Start, End) range within a day.
type Span struct {
	Start ClockTime
	End   ClockTime
}

// DaySchedule describes the open window of one weekday.
type DaySchedule struct {
	Working bool
	Open    ClockTime
	Close   ClockTime
	Breaks  []Span
}

// MonthDay identifies a holiday that recurs every year.
type MonthDay struct {
	Month time.Month
	Day   int
}

// WorkingHoursProfile is the weekly schedule plus holidays that define when
// elapsed time counts toward a deadline.
type WorkingHoursProfile struct {
	Name              string
	Location          *time.Location
	Days              [7]DaySchedule
	Holidays          map[Date]struct{}
	RecurringHolidays map[MonthDay]struct{}
	// BreaksPassThrough counts breaks as working time instead of excluding them.
	BreaksPassThrough bool
}

// Loc returns the profile location, UTC when unset.
func (p *WorkingHoursProfile) Loc() *time.Location {
	if p == nil || p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// IsHoliday reports whether d is excluded entirely.
func (p *WorkingHoursProfile) IsHoliday(d Date) bool {
	if _, ok := p.Holidays[d]; ok {
		return true
	}
	_, ok := p.RecurringHolidays[MonthDay{Month: d.Month, Day: d.Day}]
	return ok
}

// HasWorkingDay reports whether any weekday carries an open window.
func (p *WorkingHoursProfile) HasWorkingDay() bool {
	for _, day := range p.Days {
		if day.Working {
			return true
		}
	}
	return false
}

// Segments returns the working spans of d in ascending order. Breaks are
// carved out unless the profile lets them pass through.
func (p *WorkingHoursProfile) Segments(d Date) []Span {
	day := p.Days[d.Weekday()]
	if !day.Working || p.IsHoliday(d) {
		return nil
	}
	if p.BreaksPassThrough || len(day.Breaks) == 0 {
		return []Span{{Start: day.Open, End: day.Close}}
	}
	segments := make([]Span, 0, len(day.Breaks)+1)
	cursor := day.Open
	for _, br := range day.Breaks {
		if br.Start > cursor {
			segments = append(segments, Span{Start: cursor, End: br.Start})
		}
		cursor = br.End
	}
	if cursor < day.Close {
		segments = append(segments, Span{Start: cursor, End: day.Close})
	}
	return segments
}

// Validate enforces the structural invariants of the profile.
func (p *WorkingHoursProfile) Validate() error {
	for wd, day := range p.Days {
		if !day.Working {
			continue
		}
		weekday := time.Weekday(wd).String()
		if day.Open >= day.Close {
			return apperrors.NewValidationError("working window must open before it closes", map[string]any{
				"weekday": weekday,
				"open":    day.Open.String(),
				"close":   day.Close.String(),
			})
		}
		if day.Open < 0 || day.Close > MinutesPerDay {
			return apperrors.NewValidationError("working window outside the day", map[string]any{"weekday": weekday})
		}
		breaks := append([]Span(nil), day.Breaks...)
		sort.Slice(breaks, func(i, j int) bool { return breaks[i].Start < breaks[j].Start })
		prevEnd := day.Open
		for _, br := range breaks {
			if br.Start >= br.End || br.Start < prevEnd || br.End > day.Close {
				return apperrors.NewValidationError("break must be non-empty, inside the window and not overlap another break", map[string]any{
					"weekday": weekday,
					"break":   br.Start.String() + "-" + br.End.String(),
				})
			}
			prevEnd = br.End
		}
		p.Days[wd].Breaks = breaks
	}
	return nil
}
