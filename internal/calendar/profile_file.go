package calendar

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

type profileFile struct {
	Name              string             `yaml:"name"`
	Timezone          string             `yaml:"timezone"`
	BreaksPassThrough bool               `yaml:"breaks_pass_through"`
	Days              map[string]dayFile `yaml:"days"`
	Holidays          []holidayFile      `yaml:"holidays"`
}

type dayFile struct {
	Open   string     `yaml:"open"`
	Close  string     `yaml:"close"`
	Breaks []spanFile `yaml:"breaks"`
}

type spanFile struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type holidayFile struct {
	Name      string `yaml:"name"`
	Date      string `yaml:"date"`
	Recurring bool   `yaml:"recurring"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// LoadProfileFile reads and validates a YAML working-hours profile.
func LoadProfileFile(path string) (*domain.WorkingHoursProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calendar file: %w", err)
	}
	return ParseProfile(raw)
}

// ParseProfile decodes a YAML working-hours profile. Weekdays not listed are
// non-working.
func ParseProfile(raw []byte) (*domain.WorkingHoursProfile, error) {
	var pf profileFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, apperrors.NewValidationError("invalid calendar file", map[string]any{"error": err.Error()})
	}

	loc := time.UTC
	if pf.Timezone != "" {
		l, err := time.LoadLocation(pf.Timezone)
		if err != nil {
			return nil, apperrors.NewValidationError("unknown timezone", map[string]any{"timezone": pf.Timezone})
		}
		loc = l
	}

	profile := &domain.WorkingHoursProfile{
		Name:              pf.Name,
		Location:          loc,
		BreaksPassThrough: pf.BreaksPassThrough,
		Holidays:          make(map[domain.Date]struct{}),
		RecurringHolidays: make(map[domain.MonthDay]struct{}),
	}

	for name, df := range pf.Days {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, apperrors.NewValidationError("unknown weekday", map[string]any{"weekday": name})
		}
		day, err := parseDay(df)
		if err != nil {
			return nil, apperrors.NewValidationError(err.Error(), map[string]any{"weekday": name})
		}
		profile.Days[wd] = day
	}

	for _, hf := range pf.Holidays {
		date, err := domain.ParseDate(hf.Date)
		if err != nil {
			return nil, apperrors.NewValidationError("invalid holiday date", map[string]any{"holiday": hf.Name, "date": hf.Date})
		}
		if hf.Recurring {
			profile.RecurringHolidays[domain.MonthDay{Month: date.Month, Day: date.Day}] = struct{}{}
			continue
		}
		profile.Holidays[date] = struct{}{}
	}

	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

func parseDay(df dayFile) (domain.DaySchedule, error) {
	open, err := domain.ParseClock(df.Open)
	if err != nil {
		return domain.DaySchedule{}, err
	}
	closeAt, err := domain.ParseClock(df.Close)
	if err != nil {
		return domain.DaySchedule{}, err
	}
	day := domain.DaySchedule{Working: true, Open: open, Close: closeAt}
	for _, sf := range df.Breaks {
		start, err := domain.ParseClock(sf.Start)
		if err != nil {
			return domain.DaySchedule{}, err
		}
		end, err := domain.ParseClock(sf.End)
		if err != nil {
			return domain.DaySchedule{}, err
		}
		day.Breaks = append(day.Breaks, domain.Span{Start: start, End: end})
	}
	return day, nil
}
