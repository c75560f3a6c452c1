package feed

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// ParseDateRange parses the bounds of a date filter. Each side accepts
// RFC 3339 or a bare YYYY-MM-DD date in UTC; a bare end date covers the
// whole day. Empty sides are unbounded.
func ParseDateRange(start, end string) (DateRange, error) {
	var r DateRange
	if start != "" {
		t, _, err := parseDate(start)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid start date: %w", err)
		}
		r.Start = &t
	}
	if end != "" {
		t, bare, err := parseDate(end)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid end date: %w", err)
		}
		if bare {
			t = t.Add(24*time.Hour - time.Second)
		}
		r.End = &t
	}
	if r.Start != nil && r.End != nil && r.Start.After(*r.End) {
		return DateRange{}, fmt.Errorf("start date %s is after end date %s", start, end)
	}
	return r, nil
}

func parseDate(s string) (time.Time, bool, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%q is neither YYYY-MM-DD nor RFC 3339", s)
	}
	return t, false, nil
}
