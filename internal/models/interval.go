package models

import "time"

// Interval is a half-open time range [Start, End) occupied on a resource.
// Touching endpoints do not overlap: a checkout at 11:00 and a checkin at
// 11:00 on the same room are compatible.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether the interval is non-empty.
func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

// Overlaps reports whether two half-open intervals intersect.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Nights returns the number of whole nights the interval spans.
// Partial days round up so a late checkout still counts the night.
func (i Interval) Nights() int {
	d := i.End.Sub(i.Start)
	nights := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		nights++
	}
	return nights
}

// Elapsed reports whether the interval is fully in the past at now.
func (i Interval) Elapsed(now time.Time) bool {
	return !now.Before(i.End)
}
