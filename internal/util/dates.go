package util

import (
	"time"

	"dexusage/internal/domain"
)

// Window is a half-open UTC time interval [Begin, End).
type Window struct {
	Begin time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Begin) && t.Before(w.End)
}

// Dates returns every UTC calendar date (YYYY-MM-DD) the window touches.
func (w Window) Dates() []string {
	var dates []string
	for d := TruncateDay(w.Begin); d.Before(w.End); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(domain.DateLayout))
	}
	return dates
}

// TruncateDay returns UTC midnight of the day containing t.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayWindow returns the window covering the whole UTC day that starts at
// day's midnight.
func DayWindow(day time.Time) Window {
	begin := TruncateDay(day)
	return Window{Begin: begin, End: begin.AddDate(0, 0, 1)}
}

// DaysBack returns the n UTC days preceding now's day, oldest first. With
// n == 1 that is just yesterday.
func DaysBack(now time.Time, n int) []time.Time {
	today := TruncateDay(now)
	days := make([]time.Time, 0, n)
	for back := n; back >= 1; back-- {
		days = append(days, today.AddDate(0, 0, -back))
	}
	return days
}
