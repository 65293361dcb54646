package crawler_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhanshu-sudo/Scrapper/internal/crawler"
)

func TestAllocate_CoversFullScaleWithoutGapsOrOverlap(t *testing.T) {
	for n := 1; n <= 50; n++ {
		ranges := crawler.Allocate(n)
		require.Len(t, ranges, n)

		assert.Equal(t, 0.0, ranges[0].Start, "n=%d", n)
		assert.Equal(t, 100.0, ranges[n-1].End, "n=%d", n)
		for i, r := range ranges {
			assert.Less(t, r.Start, r.End, "n=%d i=%d", n, i)
			if i > 0 {
				assert.Equal(t, ranges[i-1].End, r.Start, "n=%d i=%d", n, i)
			}
		}
	}
}

func TestAllocate_EmptyProductIsFullRange(t *testing.T) {
	assert.Equal(t, []crawler.Range{{Start: 0, End: 100}}, crawler.Allocate(0))
}

func TestRange_Phases(t *testing.T) {
	r := crawler.Range{Start: 50, End: 75}

	assert.InDelta(t, 51.25, r.Discovery(0, 25), 1e-9)
	assert.InDelta(t, 53.75, r.Discovery(25, 25), 1e-9)
	assert.InDelta(t, 53.75, r.Discovery(40, 25), 1e-9, "steps past the ceiling stay at 15%")

	assert.InDelta(t, 53.75, r.Listing(0, 10), 1e-9)
	assert.InDelta(t, 53.75+0.5*21.25, r.Listing(5, 10), 1e-9)
	assert.InDelta(t, 53.75, r.Listing(0, 0), 1e-9)
}

func TestRange_PhasesAreNonDecreasing(t *testing.T) {
	r := crawler.Range{Start: 10, End: 30}
	prev := r.Start
	for s := 0; s <= 25; s++ {
		p := r.Discovery(s, 25)
		assert.GreaterOrEqual(t, p, prev)
		prev = p
	}
	for i := 0; i < 40; i++ {
		p := r.Listing(i, 40)
		assert.GreaterOrEqual(t, p, prev)
		assert.Less(t, p, r.End)
		prev = p
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, crawler.Clamp(-3))
	assert.Equal(t, 42, crawler.Clamp(42.9))
	assert.Equal(t, 99, crawler.Clamp(99.99))
	assert.Equal(t, 99, crawler.Clamp(100))
}

func TestTracker_SequentialMatchesAbsolutePosition(t *testing.T) {
	ranges := crawler.Allocate(4)
	tr := crawler.NewTracker(ranges)

	assert.Equal(t, 10, tr.Report(0, 10))
	assert.Equal(t, 25, tr.Complete(0))
	assert.Equal(t, 30, tr.Report(1, 30.4))
	assert.Equal(t, 30, tr.Report(1, 27), "stale position is ignored")
}

func TestTracker_ParallelNeverRegressesOrFinishesEarly(t *testing.T) {
	ranges := crawler.Allocate(2)
	tr := crawler.NewTracker(ranges)

	// Second context races ahead to the end of its range.
	p := tr.Report(1, 99.9)
	assert.Equal(t, 49, p)
	// First context starts; total keeps growing instead of dropping to 5.
	assert.Equal(t, 54, tr.Report(0, 5))

	assert.Equal(t, 99, tr.Complete(0))
	assert.Equal(t, 99, tr.Complete(1), "held below 100 until finalized")
}

func TestTracker_ConcurrentReportsAreMonotone(t *testing.T) {
	ranges := crawler.Allocate(8)
	tr := crawler.NewTracker(ranges)

	seen := make([][]int, len(ranges))
	var wg sync.WaitGroup
	for i := range ranges {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := ranges[i]
			for k := 0; k <= 20; k++ {
				seen[i] = append(seen[i], tr.Report(i, r.Listing(k, 20)))
			}
			seen[i] = append(seen[i], tr.Complete(i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 99, tr.Progress())
	for i, ps := range seen {
		for k := 1; k < len(ps); k++ {
			assert.GreaterOrEqual(t, ps[k], ps[k-1], "context %d regressed", i)
		}
	}
}
