// Package aggregate buckets irregular soil readings into calendar-aligned
// windows and computes per-field statistics over them.
package aggregate

import (
	"fmt"
	"time"
)

// Granularity selects the bucket width for an aggregation run.
type Granularity int

const (
	Hourly Granularity = iota
	SixHourly
	Daily
	Weekly
	Monthly
)

func (g Granularity) String() string {
	switch g {
	case Hourly:
		return "hourly"
	case SixHourly:
		return "six-hourly"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	}
	return "unknown"
}

var monthNames = [12]string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

// bucketKey orders buckets lexicographically on its components. Unused
// components stay zero, so keys of one granularity sort consistently.
type bucketKey struct {
	a, b, c, d int
}

func (k bucketKey) less(o bucketKey) bool {
	if k.a != o.a {
		return k.a < o.a
	}
	if k.b != o.b {
		return k.b < o.b
	}
	if k.c != o.c {
		return k.c < o.c
	}
	return k.d < o.d
}

// bucketSpec is one granularity's bucketing strategy: how a timestamp maps
// to a key, the key's canonical calendar bounds, and its display label.
// All components come from UTC wall-clock time, so a reading exactly on a
// boundary lands in the bucket that starts at that instant.
type bucketSpec struct {
	key    func(t time.Time) bucketKey
	bounds func(k bucketKey) (start, end time.Time)
	label  func(k bucketKey) string
	// observedBounds makes the emitted record report the first and last
	// reading timestamps inside the bucket instead of calendar bounds.
	observedBounds bool
}

var specs = map[Granularity]bucketSpec{
	Hourly: {
		key: func(t time.Time) bucketKey {
			t = t.UTC()
			return bucketKey{t.Year(), int(t.Month()), t.Day(), t.Hour()}
		},
		bounds: func(k bucketKey) (time.Time, time.Time) {
			start := time.Date(k.a, time.Month(k.b), k.c, k.d, 0, 0, 0, time.UTC)
			return start, start.Add(time.Hour)
		},
		label: func(k bucketKey) string {
			return fmt.Sprintf("%04d-%02d-%02d %02d:00", k.a, k.b, k.c, k.d)
		},
	},
	SixHourly: {
		key: func(t time.Time) bucketKey {
			t = t.UTC()
			return bucketKey{t.Year(), int(t.Month()), t.Day(), t.Hour() / 6 * 6}
		},
		bounds: func(k bucketKey) (time.Time, time.Time) {
			start := time.Date(k.a, time.Month(k.b), k.c, k.d, 0, 0, 0, time.UTC)
			return start, start.Add(6 * time.Hour)
		},
		label: func(k bucketKey) string {
			return fmt.Sprintf("%04d-%02d-%02d %02d:00 - %02d:00", k.a, k.b, k.c, k.d, k.d+6)
		},
		observedBounds: true,
	},
	Daily: {
		key: func(t time.Time) bucketKey {
			t = t.UTC()
			return bucketKey{t.Year(), int(t.Month()), t.Day(), 0}
		},
		bounds: func(k bucketKey) (time.Time, time.Time) {
			start := time.Date(k.a, time.Month(k.b), k.c, 0, 0, 0, 0, time.UTC)
			return start, start.AddDate(0, 0, 1)
		},
		label: func(k bucketKey) string {
			return fmt.Sprintf("%04d-%02d-%02d", k.a, k.b, k.c)
		},
	},
	Weekly: {
		key: func(t time.Time) bucketKey {
			y, w := t.UTC().ISOWeek()
			return bucketKey{y, w, 0, 0}
		},
		bounds: func(k bucketKey) (time.Time, time.Time) {
			start := isoWeekStart(k.a, k.b)
			return start, start.AddDate(0, 0, 7)
		},
		label: func(k bucketKey) string {
			start := isoWeekStart(k.a, k.b)
			end := start.AddDate(0, 0, 6)
			return start.Format("2006-01-02") + " - " + end.Format("2006-01-02")
		},
		observedBounds: true,
	},
	Monthly: {
		key: func(t time.Time) bucketKey {
			t = t.UTC()
			return bucketKey{t.Year(), int(t.Month()), 0, 0}
		},
		bounds: func(k bucketKey) (time.Time, time.Time) {
			start := time.Date(k.a, time.Month(k.b), 1, 0, 0, 0, 0, time.UTC)
			return start, start.AddDate(0, 1, 0)
		},
		label: func(k bucketKey) string {
			return fmt.Sprintf("%s %04d", monthNames[k.b-1], k.a)
		},
	},
}

// isoWeekStart returns the UTC Monday that opens the given ISO week.
func isoWeekStart(year, week int) time.Time {
	// Jan 4 is always inside ISO week 1.
	t := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	week1Monday := t.AddDate(0, 0, 1-wd)
	return week1Monday.AddDate(0, 0, (week-1)*7)
}
