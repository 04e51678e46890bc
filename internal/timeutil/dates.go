package timeutil

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// ParseDate parses a "YYYY-MM-DD" string as a UTC calendar date (midnight).
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: invalid date %q: %w", date, err)
	}
	return t.UTC(), nil
}

// FormatDate renders t as "YYYY-MM-DD" in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// DateToTSStart returns the ms timestamp at 00:00:00 UTC for date.
func DateToTSStart(date string) (int64, error) {
	t, err := ParseDate(date)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// DateToTSEnd returns the ms timestamp of the last-millisecond-inclusive
// boundary of date for bar frequency freq (e.g. daily -> next-day 00:00:00
// minus 1ms; 4h -> 23:59:59.999, same as every other sub-day frequency
// since a calendar day always ends on a bar boundary for all fixed strides
// that evenly divide a day).
func DateToTSEnd(date string, f Freq) (int64, error) {
	start, err := DateToTSStart(date)
	if err != nil {
		return 0, err
	}
	return start + day - 1, nil
}

// SubtractMonths performs calendar-month subtraction, month-end aware: if
// the source day-of-month doesn't exist in the target month (e.g. Mar 31
// minus 1 month), the result clamps to the target month's last day.
func SubtractMonths(date string, months int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return FormatDate(subtractMonths(t, months)), nil
}

func subtractMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	totalMonths := int(month) - 1 - months
	targetYear := year + totalMonths/12
	targetMonth := totalMonths % 12
	if targetMonth < 0 {
		targetMonth += 12
		targetYear--
	}
	// Clamp day to the last day of the target month.
	firstOfNext := time.Date(targetYear, time.Month(targetMonth+1)+1, 1, 0, 0, 0, 0, time.UTC)
	lastDayOfTarget := firstOfNext.AddDate(0, 0, -1).Day()
	if day > lastDayOfTarget {
		day = lastDayOfTarget
	}
	return time.Date(targetYear, time.Month(targetMonth+1), day, 0, 0, 0, 0, time.UTC)
}

func addMonths(t time.Time, months int) time.Time {
	return subtractMonths(t, -months)
}

// GenerateRebalanceDates returns the ordered list of dates starting at
// start, stepping by everyMonths calendar months, keeping those <= end.
func GenerateRebalanceDates(start, end string, everyMonths int) ([]string, error) {
	if everyMonths <= 0 {
		return nil, fmt.Errorf("timeutil: everyMonths must be positive, got %d", everyMonths)
	}
	startT, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	endT, err := ParseDate(end)
	if err != nil {
		return nil, err
	}
	if endT.Before(startT) {
		return nil, fmt.Errorf("timeutil: end %q precedes start %q", end, start)
	}

	var dates []string
	cur := startT
	for !cur.After(endT) {
		dates = append(dates, FormatDate(cur))
		cur = addMonths(cur, everyMonths)
	}
	return dates, nil
}
