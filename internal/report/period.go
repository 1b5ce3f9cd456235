package report

import (
	"fmt"
	"time"
)

// Period is the length of a reporting period
type Period string

const (
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// ParsePeriod parses "weekly" or "monthly"
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodWeekly, PeriodMonthly:
		return Period(s), nil
	default:
		return "", fmt.Errorf("unknown report period %q (want weekly or monthly)", s)
	}
}

// LastClosed returns the most recent period that ended at or before at.
// Weeks start Monday 00:00 UTC; months are calendar months in UTC.
// The end is exclusive.
func (p Period) LastClosed(at time.Time) (start, end time.Time) {
	at = at.UTC()
	midnight := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)

	switch p {
	case PeriodMonthly:
		end = time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		return end.AddDate(0, -1, 0), end
	default:
		sinceMonday := (int(midnight.Weekday()) + 6) % 7
		end = midnight.AddDate(0, 0, -sinceMonday)
		return end.AddDate(0, 0, -7), end
	}
}

// Label names the period starting at start: "2026-W10" or "2026-03"
func (p Period) Label(start time.Time) string {
	start = start.UTC()
	if p == PeriodMonthly {
		return start.Format("2006-01")
	}
	year, week := start.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
