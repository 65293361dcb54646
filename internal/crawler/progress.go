package crawler

import (
	"math"
	"sync"
)

const (
	discoveryFloor = 0.05
	discoveryShare = 0.15
	// InFlightCeiling is the highest progress reported before the task is
	// finalized; only completion sets 100.
	InFlightCeiling = 99
)

// Range is a query's slice [Start, End) of the 0–100 progress scale.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Width returns End - Start.
func (r Range) Width() float64 { return r.End - r.Start }

// Allocate splits [0,100) into n equal, contiguous ranges in pair order.
// n <= 0 yields the single full range.
func Allocate(n int) []Range {
	if n <= 0 {
		return []Range{{Start: 0, End: 100}}
	}
	out := make([]Range, n)
	for i := range out {
		out[i] = Range{
			Start: float64(i) * 100 / float64(n),
			End:   float64(i+1) * 100 / float64(n),
		}
	}
	return out
}

// Discovery is the position after step of maxSteps scroll iterations:
// 5% into the range at the start of discovery, growing to 15%.
func (r Range) Discovery(step, maxSteps int) float64 {
	frac := 0.0
	if maxSteps > 0 {
		frac = math.Min(float64(step)/float64(maxSteps), 1)
	}
	return r.Start + r.Width()*(discoveryFloor+frac*(discoveryShare-discoveryFloor))
}

// Listing is the position when processing listing i of total. The last 85%
// of the range is spread linearly over the listings.
func (r Range) Listing(i, total int) float64 {
	base := r.Start + r.Width()*discoveryShare
	if total <= 0 {
		return base
	}
	frac := math.Min(float64(i)/float64(total), 1)
	return base + frac*r.Width()*(1-discoveryShare)
}

// Clamp converts a position to the integer progress shown while a task is
// in flight: floored and held within [0, 99].
func Clamp(p float64) int {
	v := int(math.Floor(p))
	if v < 0 {
		return 0
	}
	if v > InFlightCeiling {
		return InFlightCeiling
	}
	return v
}

// Tracker aggregates progress across query ranges that may advance
// concurrently. Each range contributes how far it has got; the task's
// progress is the sum, so a fast context working on a late range never
// pushes the total past work that is still outstanding elsewhere.
type Tracker struct {
	mu     sync.Mutex
	ranges []Range
	done   []float64
}

// NewTracker returns a Tracker over the given ranges.
func NewTracker(ranges []Range) *Tracker {
	return &Tracker{ranges: ranges, done: make([]float64, len(ranges))}
}

// Report records that range i reached absolute position pos and returns the
// clamped task progress. Positions behind an earlier report are ignored.
func (t *Tracker) Report(i int, pos float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.ranges) {
		return Clamp(t.sum())
	}
	r := t.ranges[i]
	d := math.Max(0, math.Min(pos-r.Start, r.Width()))
	if d > t.done[i] {
		t.done[i] = d
	}
	return Clamp(t.sum())
}

// Complete marks range i as fully done.
func (t *Tracker) Complete(i int) int {
	if i < 0 || i >= len(t.ranges) {
		return t.Progress()
	}
	return t.Report(i, t.ranges[i].End)
}

// Progress returns the current clamped task progress.
func (t *Tracker) Progress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Clamp(t.sum())
}

func (t *Tracker) sum() float64 {
	var s float64
	for _, d := range t.done {
		s += d
	}
	return s
}
