// Package calendar converts between wall-clock instants and working-time
// offsets for a weekly schedule with holidays. All functions are pure.
package calendar

import (
	"time"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// maxIdleDays bounds how far a walk may travel without meeting working time.
const maxIdleDays = 3660

// ElapsedWorkingDuration returns the working time in [from, to). A reversed
// range yields the negative of the forward result.
func ElapsedWorkingDuration(p *domain.WorkingHoursProfile, from, to time.Time) (time.Duration, error) {
	if err := usable(p); err != nil {
		return 0, err
	}
	if from.Equal(to) {
		return 0, nil
	}
	if from.After(to) {
		d, err := ElapsedWorkingDuration(p, to, from)
		return -d, err
	}

	loc := p.Loc()
	var total time.Duration
	last := domain.DateOf(to, loc)
	for day := domain.DateOf(from, loc); !day.After(last); day = day.AddDays(1) {
		for _, seg := range p.Segments(day) {
			start, end := day.At(int(seg.Start), loc), day.At(int(seg.End), loc)
			if start.Before(from) {
				start = from
			}
			if end.After(to) {
				end = to
			}
			if end.After(start) {
				total += end.Sub(start)
			}
		}
	}
	return total, nil
}

// AddWorkingDuration walks from start consuming d of working time, skipping
// closed hours, non-working days and holidays. A start outside any window is
// first rolled to the next open (previous close for negative d).
func AddWorkingDuration(p *domain.WorkingHoursProfile, start time.Time, d time.Duration) (time.Time, error) {
	if err := usable(p); err != nil {
		return time.Time{}, err
	}
	if d == 0 {
		return start, nil
	}
	if d < 0 {
		return subtract(p, start, -d)
	}

	loc := p.Loc()
	remaining := d
	cursor := start
	idle := 0
	for day := domain.DateOf(start, loc); ; day = day.AddDays(1) {
		segs := p.Segments(day)
		if len(segs) == 0 {
			idle++
			if idle > maxIdleDays {
				return time.Time{}, noWorkingTime(p)
			}
			continue
		}
		idle = 0
		for _, seg := range segs {
			segStart, segEnd := day.At(int(seg.Start), loc), day.At(int(seg.End), loc)
			if !segEnd.After(cursor) {
				continue
			}
			if segStart.Before(cursor) {
				segStart = cursor
			}
			avail := segEnd.Sub(segStart)
			if avail <= 0 {
				continue
			}
			if avail >= remaining {
				return segStart.Add(remaining), nil
			}
			remaining -= avail
			cursor = segEnd
		}
	}
}

func subtract(p *domain.WorkingHoursProfile, start time.Time, d time.Duration) (time.Time, error) {
	loc := p.Loc()
	remaining := d
	cursor := start
	idle := 0
	for day := domain.DateOf(start, loc); ; day = day.AddDays(-1) {
		segs := p.Segments(day)
		if len(segs) == 0 {
			idle++
			if idle > maxIdleDays {
				return time.Time{}, noWorkingTime(p)
			}
			continue
		}
		idle = 0
		for i := len(segs) - 1; i >= 0; i-- {
			segStart, segEnd := day.At(int(segs[i].Start), loc), day.At(int(segs[i].End), loc)
			if !segStart.Before(cursor) {
				continue
			}
			if segEnd.After(cursor) {
				segEnd = cursor
			}
			avail := segEnd.Sub(segStart)
			if avail <= 0 {
				continue
			}
			if avail >= remaining {
				return segEnd.Add(-remaining), nil
			}
			remaining -= avail
			cursor = segStart
		}
	}
}

// IsWorkingTime reports whether t falls inside a working segment.
func IsWorkingTime(p *domain.WorkingHoursProfile, t time.Time) bool {
	if p == nil {
		return false
	}
	loc := p.Loc()
	day := domain.DateOf(t, loc)
	for _, seg := range p.Segments(day) {
		start, end := day.At(int(seg.Start), loc), day.At(int(seg.End), loc)
		if !t.Before(start) && t.Before(end) {
			return true
		}
	}
	return false
}

// NextWorkingTime returns t when it is working time, otherwise the next open.
func NextWorkingTime(p *domain.WorkingHoursProfile, t time.Time) (time.Time, error) {
	if err := usable(p); err != nil {
		return time.Time{}, err
	}
	if IsWorkingTime(p, t) {
		return t, nil
	}
	loc := p.Loc()
	day := domain.DateOf(t, loc)
	for i := 0; i <= maxIdleDays; i++ {
		for _, seg := range p.Segments(day) {
			if start := day.At(int(seg.Start), loc); !start.Before(t) {
				return start, nil
			}
		}
		day = day.AddDays(1)
	}
	return time.Time{}, noWorkingTime(p)
}

func usable(p *domain.WorkingHoursProfile) error {
	if p == nil {
		return apperrors.NewConfigurationError("working hours profile not configured", nil)
	}
	if !p.HasWorkingDay() {
		return noWorkingTime(p)
	}
	return nil
}

func noWorkingTime(p *domain.WorkingHoursProfile) error {
	return apperrors.NewConfigurationError("working hours profile has no working time", map[string]any{
		"profile": p.Name,
	})
}
