package plan

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Calendar knows which days count as business days for business_days delay
// nodes. The zero value treats Saturday and Sunday as non-business days and
// has no holidays.
type Calendar struct {
	holidays map[string]struct{}
}

// calendarFile is the YAML shape of a clinic calendar configuration.
type calendarFile struct {
	Holidays []string `yaml:"holidays"` // ISO dates, e.g. "2026-12-25"
}

// NewCalendar builds a calendar with the given holiday dates.
func NewCalendar(holidays []time.Time) *Calendar {
	c := &Calendar{holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		c.holidays[h.Format("2006-01-02")] = struct{}{}
	}

	return c
}

// LoadCalendar reads a clinic calendar from a YAML file.
func LoadCalendar(path string) (*Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar file %s: %w", path, err)
	}

	var file calendarFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse calendar YAML: %w", err)
	}

	c := &Calendar{holidays: make(map[string]struct{}, len(file.Holidays))}

	for _, raw := range file.Holidays {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", raw, err)
		}

		c.holidays[day.Format("2006-01-02")] = struct{}{}
	}

	return c, nil
}

// IsBusinessDay reports whether the given date is a business day.
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}

	if c == nil || c.holidays == nil {
		return true
	}

	_, holiday := c.holidays[t.Format("2006-01-02")]

	return !holiday
}

// AddBusinessDays advances from the given date by n business days, skipping
// weekends and configured holidays.
func (c *Calendar) AddBusinessDays(from time.Time, n int) time.Time {
	t := from
	for added := 0; added < n; {
		t = t.AddDate(0, 0, 1)
		if c.IsBusinessDay(t) {
			added++
		}
	}

	return t
}
