package appointment

import "time"

// CivilDate drops the clock part of t, keeping the calendar date as seen in
// t's location, and returns it as midnight UTC.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the signed number of calendar days from from to to.
func DaysBetween(from, to time.Time) int {
	return int(CivilDate(to).Sub(CivilDate(from)).Hours() / 24)
}

// MonthBounds returns the first and last civil dates of day's month.
func MonthBounds(day time.Time) (time.Time, time.Time) {
	d := CivilDate(day)
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first, first.AddDate(0, 1, -1)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, validationf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}
