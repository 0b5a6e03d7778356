package metric

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days in Location.
type DateRange struct {
	From     time.Time // midnight of the first day
	To       time.Time // midnight of the last day
	Location *time.Location
}

// Point is one day of a series.
type Point struct {
	Day   time.Time
	Value float64
}

func NewDateRange(from, to time.Time, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	r := DateRange{From: midnight(from.In(loc)), To: midnight(to.In(loc)), Location: loc}
	if r.To.Before(r.From) {
		return DateRange{}, fmt.Errorf("range end %s is before start %s", r.To.Format(dateLayout), r.From.Format(dateLayout))
	}
	return r, nil
}

// ParseDateRange parses YYYY-MM-DD bounds as days in loc.
func ParseDateRange(from, to string, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	f, err := time.ParseInLocation(dateLayout, from, loc)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date %q: %w", from, err)
	}
	t, err := time.ParseInLocation(dateLayout, to, loc)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid end date %q: %w", to, err)
	}
	return NewDateRange(f, t, loc)
}

// LastNDays is the n days ending with the day containing now.
func LastNDays(now time.Time, n int, loc *time.Location) DateRange {
	if loc == nil {
		loc = time.UTC
	}
	if n < 1 {
		n = 1
	}
	end := midnight(now.In(loc))
	start := time.Date(end.Year(), end.Month(), end.Day()-(n-1), 0, 0, 0, 0, loc)
	return DateRange{From: start, To: end, Location: loc}
}

// Len is the number of days in the range.
func (r DateRange) Len() int {
	return daysBetween(r.From, r.To) + 1
}

// Days lists the midnight of every day in the range, in order.
func (r DateRange) Days() []time.Time {
	days := make([]time.Time, r.Len())
	y, m, d := r.From.Date()
	for i := range days {
		days[i] = time.Date(y, m, d+i, 0, 0, 0, 0, r.loc())
	}
	return days
}

// Bounds returns the half-open instant range [since, until) covering the
// days of r.
func (r DateRange) Bounds() (since, until time.Time) {
	y, m, d := r.To.Date()
	return r.From, time.Date(y, m, d+1, 0, 0, 0, 0, r.loc())
}

// IndexOf returns the position of the day containing t.
func (r DateRange) IndexOf(t time.Time) (int, bool) {
	i := daysBetween(r.From, midnight(t.In(r.loc())))
	if i < 0 || i >= r.Len() {
		return 0, false
	}
	return i, true
}

func (r DateRange) String() string {
	return r.From.Format(dateLayout) + ".." + r.To.Format(dateLayout)
}

func (r DateRange) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b, ignoring DST length changes.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ca := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	cb := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(cb.Sub(ca).Hours() / 24)
}
