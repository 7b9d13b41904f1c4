package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

// Period selects the reporting window for stats, sessions and events:
// either the trailing Days calendar days (Days=1 is today) or the
// inclusive calendar-date range Start..End.
type Period struct {
	Days  int    `json:"days,omitempty"`
	Start string `json:"start_date,omitempty"`
	End   string `json:"end_date,omitempty"`
}

// TrailingDays returns a Period covering today and the n-1 days before it.
func TrailingDays(n int) Period {
	return Period{Days: n}
}

// DateRange returns a Period covering start..end inclusive (YYYY-MM-DD).
func DateRange(start, end string) Period {
	return Period{Start: start, End: end}
}

// IsRange reports whether the period is an explicit date range.
func (p Period) IsRange() bool {
	return p.Start != "" || p.End != ""
}

// Validate checks the period is well-formed.
func (p Period) Validate() error {
	if p.IsRange() {
		if p.Start == "" || p.End == "" {
			return errors.New("start_date and end_date must be given together")
		}
		start, err := time.Parse(dateLayout, p.Start)
		if err != nil {
			return fmt.Errorf("invalid start_date %q: %w", p.Start, err)
		}
		end, err := time.Parse(dateLayout, p.End)
		if err != nil {
			return fmt.Errorf("invalid end_date %q: %w", p.End, err)
		}
		if end.Before(start) {
			return fmt.Errorf("end_date %s is before start_date %s", p.End, p.Start)
		}
		return nil
	}
	if p.Days < 1 {
		return fmt.Errorf("days must be positive, got %d", p.Days)
	}
	return nil
}

// Bounds returns the half-open interval [from, to) covered by the period,
// expressed in now's location.
func (p Period) Bounds(now time.Time) (from, to time.Time) {
	loc := now.Location()
	if p.IsRange() {
		start, _ := time.ParseInLocation(dateLayout, p.Start, loc)
		end, _ := time.ParseInLocation(dateLayout, p.End, loc)
		return start, end.AddDate(0, 0, 1)
	}
	days := p.Days
	if days < 1 {
		days = 1
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return midnight.AddDate(0, 0, -(days - 1)), midnight.AddDate(0, 0, 1)
}

// Contains reports whether t falls inside the period evaluated at now.
func (p Period) Contains(t, now time.Time) bool {
	from, to := p.Bounds(now)
	t = t.In(now.Location())
	return !t.Before(from) && t.Before(to)
}

// Values encodes the period as query parameters.
func (p Period) Values() url.Values {
	v := url.Values{}
	if p.IsRange() {
		v.Set("start_date", p.Start)
		v.Set("end_date", p.End)
		return v
	}
	v.Set("days", strconv.Itoa(p.Days))
	return v
}

// ParsePeriod reads days / start_date / end_date query parameters,
// defaulting to the trailing defaultDays when none are given.
func ParsePeriod(q url.Values, defaultDays int) (Period, error) {
	p := Period{Start: q.Get("start_date"), End: q.Get("end_date")}
	if !p.IsRange() {
		p.Days = defaultDays
		if raw := q.Get("days"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return Period{}, fmt.Errorf("invalid days %q: %w", raw, err)
			}
			p.Days = n
		}
	}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// String renders the period for logs and headers.
func (p Period) String() string {
	if p.IsRange() {
		return p.Start + ".." + p.End
	}
	if p.Days == 1 {
		return "today"
	}
	return fmt.Sprintf("last %d days", p.Days)
}
