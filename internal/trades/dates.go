package trades

import "time"

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// DateOf truncates t to its UTC calendar date at midnight. Dates are compared
// and stored in this normalized form.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DatePtr returns a pointer to the normalized date of t.
func DatePtr(t time.Time) *time.Time {
	d := DateOf(t)
	return &d
}

// FormatDate renders d as yyyy-mm-dd, or "" for nil.
func FormatDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(DateLayout)
}

// Clock supplies the current time. Tests inject fixed clocks.
type Clock func() time.Time

// Today returns the normalized current date for the clock.
func (c Clock) Today() time.Time {
	if c == nil {
		return DateOf(time.Now())
	}
	return DateOf(c())
}

// Now returns the current instant for the clock.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// IsBefore reports whether date a falls strictly before date b.
func IsBefore(a, b time.Time) bool {
	return DateOf(a).Before(DateOf(b))
}
