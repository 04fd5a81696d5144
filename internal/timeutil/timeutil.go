// ABOUTME: Time utility functions for due-date calculations
// ABOUTME: Provides helpers for views like overdue, due today, due this week

package timeutil

import "time"

// StartOfToday returns midnight (00:00:00) of the current day in local time
func StartOfToday() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// EndOfToday returns midnight of the next day in local time
func EndOfToday() time.Time {
	return StartOfToday().AddDate(0, 0, 1)
}

// EndOfWeek returns midnight after the coming Sunday in local time
// Note: Week starts on Sunday
func EndOfWeek() time.Time {
	today := StartOfToday()
	weekday := int(today.Weekday())
	return today.AddDate(0, 0, 7-weekday)
}

// IsOverdue reports whether due fell before the start of today.
func IsOverdue(due time.Time) bool {
	return due.Before(StartOfToday())
}

// IsDueToday reports whether due falls within the current day.
func IsDueToday(due time.Time) bool {
	return !due.Before(StartOfToday()) && due.Before(EndOfToday())
}

// IsDueThisWeek reports whether due falls between now and the end of the
// current week.
func IsDueThisWeek(due time.Time) bool {
	return !due.Before(StartOfToday()) && due.Before(EndOfWeek())
}
