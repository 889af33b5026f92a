package cronexpr

import "time"

// scanLimit bounds the minute-stepping search to one (leap) year.
const scanLimit = 366 * 24 * 60

// Next returns the earliest instant strictly after from at which expr fires,
// evaluated in loc (UTC when nil).
func Next(expr string, loc *time.Location, from time.Time) (time.Time, error) {
	e, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return e.Next(loc, from)
}

// Next returns the earliest instant strictly after from matching the
// expression, or ErrUnschedulable when no candidate within a year matches.
//
// The search is a bounded linear scan: the candidate starts at from truncated
// to the whole minute plus one minute and advances minute-by-minute. Field
// combinations (notably restricted day-of-month together with day-of-week)
// are not invertible in closed form, so scanning trades a small bounded cost
// for correctness on every expression shape. Worst case is scanLimit cheap
// field comparisons, well under a millisecond.
func (e *Expression) Next(loc *time.Location, from time.Time) (time.Time, error) {
	if err := e.Validate(); err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}

	lt := from.In(loc)
	t := time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), lt.Minute(), 0, 0, loc)
	t = t.Add(time.Minute)

	for i := 0; i < scanLimit; i++ {
		if e.matches(t) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, ErrUnschedulable
}

// matches tests all five fields against the candidate's local calendar values.
// Day-of-month and day-of-week are both required to match (see package doc).
func (e *Expression) matches(t time.Time) bool {
	return e.Minute.Match(t.Minute()) &&
		e.Hour.Match(t.Hour()) &&
		e.Dom.Match(t.Day()) &&
		e.Month.Match(int(t.Month())) &&
		e.Dow.Match(int(t.Weekday()))
}
