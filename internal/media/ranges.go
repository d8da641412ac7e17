package media

import "sort"

// mergeTolerance joins ranges whose edges differ by less than this many
// seconds. Segment edges round-trip through nanoseconds on the wire.
const mergeTolerance = 1e-6

// Range is a closed time interval in seconds.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Contains reports whether t lies within the range, edges included.
func (r Range) Contains(t float64) bool {
	return t >= r.Start && t <= r.End
}

// TimeRanges is a sorted set of disjoint time ranges, the shape a media
// element reports as its buffered extents.
// The zero value is an empty set.
type TimeRanges []Range

// Len returns the number of disjoint ranges.
func (tr TimeRanges) Len() int { return len(tr) }

// Start returns the start of the i-th range.
func (tr TimeRanges) Start(i int) float64 { return tr[i].Start }

// End returns the end of the i-th range.
func (tr TimeRanges) End(i int) float64 { return tr[i].End }

// Clone returns a copy that shares no memory with tr.
func (tr TimeRanges) Clone() TimeRanges {
	if tr == nil {
		return nil
	}
	out := make(TimeRanges, len(tr))
	copy(out, tr)
	return out
}

// Add returns the union of tr and [start, end]. Empty or inverted
// intervals are ignored.
func (tr TimeRanges) Add(start, end float64) TimeRanges {
	if end <= start {
		return tr.Clone()
	}
	all := append(tr.Clone(), Range{Start: start, End: end})
	sort.Slice(all, func(i, j int) bool { return all[i].Start < all[j].Start })

	out := make(TimeRanges, 0, len(all))
	for _, r := range all {
		if n := len(out); n > 0 && r.Start <= out[n-1].End+mergeTolerance {
			if r.End > out[n-1].End {
				out[n-1].End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Union returns the union of tr and other.
func (tr TimeRanges) Union(other TimeRanges) TimeRanges {
	out := tr.Clone()
	for _, r := range other {
		out = out.Add(r.Start, r.End)
	}
	return out
}

// Remove returns tr with [start, end] cut out. A range straddling an edge
// is split.
func (tr TimeRanges) Remove(start, end float64) TimeRanges {
	if end <= start {
		return tr.Clone()
	}
	out := make(TimeRanges, 0, len(tr)+1)
	for _, r := range tr {
		if r.End <= start || r.Start >= end {
			out = append(out, r)
			continue
		}
		if r.Start < start {
			out = append(out, Range{Start: r.Start, End: start})
		}
		if r.End > end {
			out = append(out, Range{Start: end, End: r.End})
		}
	}
	return out
}

// Containing returns the range that contains t. When several ranges touch
// t the last one wins, matching a reverse scan of the buffered list.
func (tr TimeRanges) Containing(t float64) (Range, bool) {
	for i := len(tr) - 1; i >= 0; i-- {
		if tr[i].Contains(t) {
			return tr[i], true
		}
	}
	return Range{}, false
}

// Overlap returns the span of [start, end] that is already covered, from
// start up to the furthest covered point inside the interval.
func (tr TimeRanges) Overlap(start, end float64) (Range, bool) {
	covered := start
	found := false
	for _, r := range tr {
		if r.End <= start || r.Start >= end {
			continue
		}
		found = true
		if e := min(r.End, end); e > covered {
			covered = e
		}
	}
	if !found || covered <= start {
		return Range{}, false
	}
	return Range{Start: start, End: covered}, true
}
