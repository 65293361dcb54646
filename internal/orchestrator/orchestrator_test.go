package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhanshu-sudo/Scrapper/internal/crawler"
	"github.com/shubhanshu-sudo/Scrapper/internal/dedup"
	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
	"github.com/shubhanshu-sudo/Scrapper/internal/geo"
	"github.com/shubhanshu-sudo/Scrapper/internal/orchestrator"
	"github.com/shubhanshu-sudo/Scrapper/internal/tasks"
)

// --- fakes ---

type runFunc func(ctx context.Context, q crawler.Query, idx *dedup.Index, p crawler.Progress) (int, error)

type fakeCrawler struct {
	fn runFunc

	mu    sync.Mutex
	calls []crawler.Query

	active, peak atomic.Int32
}

func (f *fakeCrawler) Run(ctx context.Context, q crawler.Query, idx *dedup.Index, p crawler.Progress) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	f.mu.Unlock()

	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}
	if f.fn == nil {
		return 0, nil
	}
	return f.fn(ctx, q, idx, p)
}

func (f *fakeCrawler) queries() []crawler.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.Query(nil), f.calls...)
}

type fakeResolver struct {
	calls atomic.Int32
}

func (r *fakeResolver) Resolve(_ context.Context, loc string) geo.Region {
	r.calls.Add(1)
	if loc == "Testville" {
		return geo.Region{Country: "Testland", Code: "TL"}
	}
	return geo.Region{Country: "United Kingdom", Code: "GB"}
}

type fakeKeys struct {
	keys []string
	err  error
}

func (k fakeKeys) ExistingKeys(context.Context) ([]string, error) { return k.keys, k.err }

type recorded struct {
	mu    sync.Mutex
	tasks []*domain.Task
}

func (r *recorded) add(t *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t.Clone())
	return nil
}

func (r *recorded) all() []*domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks
}

type recorderFunc func(*domain.Task) error

func (f recorderFunc) RecordTask(_ context.Context, t *domain.Task) error  { return f(t) }
func (f recorderFunc) PublishTask(_ context.Context, t *domain.Task) error { return f(t) }
func (f recorderFunc) Notify(_ context.Context, t *domain.Task) error      { return f(t) }

// watchingRegistry records every snapshot a write produced.
type watchingRegistry struct {
	*tasks.Memory
	mu    sync.Mutex
	snaps []*domain.Task
}

func (w *watchingRegistry) Update(ctx context.Context, id string, fn func(*domain.Task)) (*domain.Task, error) {
	t, err := w.Memory.Update(ctx, id, fn)
	if err == nil {
		w.mu.Lock()
		w.snaps = append(w.snaps, t)
		w.mu.Unlock()
	}
	return t, err
}

func (w *watchingRegistry) progressSeries() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int, len(w.snaps))
	for i, s := range w.snaps {
		out[i] = s.Progress
	}
	return out
}

func newOrch(t *testing.T, c orchestrator.Crawler, keys orchestrator.KeySource, opts ...orchestrator.Option) (*orchestrator.Orchestrator, *watchingRegistry) {
	t.Helper()
	reg := &watchingRegistry{Memory: tasks.NewMemory()}
	o := orchestrator.New(reg, c, &fakeResolver{}, keys, opts...)
	t.Cleanup(o.Wait)
	return o, reg
}

func startAndWait(t *testing.T, o *orchestrator.Orchestrator, req orchestrator.Request) *domain.Task {
	t.Helper()
	id, err := o.Start(context.Background(), req)
	require.NoError(t, err)
	o.Wait()
	task, err := o.Get(context.Background(), id)
	require.NoError(t, err)
	return task
}

// addLeads simulates a crawl that accepts n distinct leads and reports
// progress through the whole range.
func addLeads(n int) runFunc {
	return func(ctx context.Context, q crawler.Query, idx *dedup.Index, p crawler.Progress) (int, error) {
		p.Report(ctx, q.Range.Discovery(0, 1), "discovering")
		added := 0
		for i := 0; i < n; i++ {
			p.Report(ctx, q.Range.Listing(i, n), "extracting")
			key := domain.DedupKey(fmt.Sprintf("%s-%d", q.Keyword, i), q.Location)
			if idx.Reserve(key) {
				p.LeadAdded(ctx, &domain.Lead{Name: key, TaskID: q.TaskID})
				added++
			}
		}
		return added, nil
	}
}

// --- tests ---

func TestStart_EmptyProductCompletesImmediately(t *testing.T) {
	c := &fakeCrawler{}
	o, _ := newOrch(t, c, fakeKeys{})

	id, err := o.Start(context.Background(), orchestrator.Request{Keywords: []string{"bakery"}, Locations: []string{"  ", ""}})
	require.NoError(t, err)

	task, err := o.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, 0, task.LeadsFound)
	assert.Empty(t, task.Locations)
	o.Wait()
	assert.Empty(t, c.queries())
}

func TestStart_RejectsNegativeParallelism(t *testing.T) {
	o, _ := newOrch(t, &fakeCrawler{}, fakeKeys{})
	_, err := o.Start(context.Background(), orchestrator.Request{Keywords: []string{"a"}, Locations: []string{"b"}, Parallelism: -1})
	var ire *domain.InvalidRequestError
	require.ErrorAs(t, err, &ire)
}

func TestRun_SequentialCompletes(t *testing.T) {
	c := &fakeCrawler{fn: addLeads(2)}
	var history recorded
	o, reg := newOrch(t, c, fakeKeys{},
		orchestrator.WithRecorder(recorderFunc(history.add)),
	)

	task := startAndWait(t, o, orchestrator.Request{
		Keywords:  []string{" bakery ", "dentist"},
		Locations: []string{"Leeds", "York"},
	})

	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, 8, task.LeadsFound)
	assert.Equal(t, "Collection complete: 8 leads", task.Message)
	assert.NotNil(t, task.CompletedAt)

	qs := c.queries()
	require.Len(t, qs, 4)
	order := make([]string, len(qs))
	for i, q := range qs {
		order[i] = q.Keyword + "/" + q.Location
	}
	assert.Equal(t, []string{"bakery/Leeds", "bakery/York", "dentist/Leeds", "dentist/York"}, order, "keyword-major")
	assert.Equal(t, crawler.Allocate(4), []crawler.Range{qs[0].Range, qs[1].Range, qs[2].Range, qs[3].Range})
	assert.EqualValues(t, 1, c.peak.Load())

	series := reg.progressSeries()
	for i := 1; i < len(series); i++ {
		assert.GreaterOrEqual(t, series[i], series[i-1])
	}
	for _, p := range series[:len(series)-1] {
		assert.LessOrEqual(t, p, 99)
	}

	require.Len(t, history.all(), 1)
	assert.Equal(t, domain.StatusCompleted, history.all()[0].Status)
}

func TestRun_TestvilleScenario(t *testing.T) {
	var region geo.Region
	c := &fakeCrawler{fn: func(ctx context.Context, q crawler.Query, idx *dedup.Index, p crawler.Progress) (int, error) {
		region = q.Region
		// Listing A is accepted; listing B has an invalid phone and is dropped.
		idx.Reserve(domain.DedupKey("A", "1 Main St"))
		p.LeadAdded(ctx, &domain.Lead{Name: "A"})
		return 1, nil
	}}
	o, _ := newOrch(t, c, fakeKeys{})

	task := startAndWait(t, o, orchestrator.Request{Keywords: []string{"bakery"}, Locations: []string{"Testville"}})

	assert.Equal(t, geo.Region{Country: "Testland", Code: "TL"}, region)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, 1, task.LeadsFound)
	assert.Equal(t, 100, task.Progress)
}

func TestRun_SeedsDedupIndexFromStore(t *testing.T) {
	seeded := domain.DedupKey("Crumb & Co", "1 Main St")
	var sawSeed bool
	c := &fakeCrawler{fn: func(_ context.Context, _ crawler.Query, idx *dedup.Index, _ crawler.Progress) (int, error) {
		sawSeed = !idx.Reserve(seeded)
		return 0, nil
	}}
	o, _ := newOrch(t, c, fakeKeys{keys: []string{seeded}})

	startAndWait(t, o, orchestrator.Request{Keywords: []string{"bakery"}, Locations: []string{"Leeds"}})
	assert.True(t, sawSeed)
}

func TestRun_SeedFailureFailsTask(t *testing.T) {
	c := &fakeCrawler{}
	o, _ := newOrch(t, c, fakeKeys{err: &domain.PersistenceError{Op: "load keys", Err: errors.New("connection refused")}})

	task := startAndWait(t, o, orchestrator.Request{Keywords: []string{"bakery"}, Locations: []string{"Leeds"}})

	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Equal(t, domain.CodePersistenceUnavailable, task.ErrorCode)
	assert.Contains(t, task.Message, "connection refused")
	assert.Empty(t, c.queries())
}

func TestRun_PersistenceFailureFreezesProgress(t *testing.T) {
	c := &fakeCrawler{fn: func(ctx context.Context, q crawler.Query, _ *dedup.Index, p crawler.Progress) (int, error) {
		p.Report(ctx, q.Range.Listing(0, 4), "extracting")
		return 0, &domain.PersistenceError{Op: "insert", Err: errors.New("database unreachable")}
	}}
	o, reg := newOrch(t, c, fakeKeys{})

	task := startAndWait(t, o, orchestrator.Request{Keywords: []string{"bakery"}, Locations: []string{"Leeds", "York"}})

	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Equal(t, domain.CodePersistenceUnavailable, task.ErrorCode)
	assert.Contains(t, task.Message, "database unreachable")
	assert.Len(t, c.queries(), 1, "second pair never runs")

	frozen := crawler.Clamp(crawler.Allocate(2)[0].Listing(0, 4))
	assert.Equal(t, frozen, task.Progress)
	series := reg.progressSeries()
	assert.Equal(t, frozen, series[len(series)-1])
}

func TestRun_BrowserFailures(t *testing.T) {
	t.Run("some pairs fail", func(t *testing.T) {
		c := &fakeCrawler{fn: func(_ context.Context, q crawler.Query, _ *dedup.Index, _ crawler.Progress) (int, error) {
			if q.Location == "York" {
				return 0, &domain.BrowserError{Op: "open session", Err: errors.New("chrome not found")}
			}
			return 0, nil
		}}
		o, _ := newOrch(t, c, fakeKeys{})
		task := startAndWait(t, o, orchestrator.Request{Keywords: []string{"bakery"}, Locations: []string{"Leeds", "York"}})

		assert.Equal(t, domain.StatusCompleted, task.Status)
		assert.Len(t, c.queries(), 2)
	})

	t.Run("every pair fails", func(t *testing.T) {
		c := &fakeCrawler{fn: func(context.Context, crawler.Query, *dedup.Index, crawler.Progress) (int, error) {
			return 0, &domain.BrowserError{Op: "open session", Err: errors.New("chrome not found")}
		}}
		o, _ := newOrch(t, c, fakeKeys{})
		task := startAndWait(t, o, orchestrator.Request{Keywords: []string{"bakery"}, Locations: []string{"Leeds", "York"}})

		assert.Equal(t, domain.StatusFailed, task.Status)
		assert.Equal(t, domain.CodeBrowserUnavailable, task.ErrorCode)
		assert.Contains(t, task.Message, "chrome not found")
	})
}

func TestRun_ParallelSharesDedupAndRanges(t *testing.T) {
	release := make(chan struct{})
	var arrived atomic.Int32
	c := &fakeCrawler{fn: func(ctx context.Context, q crawler.Query, idx *dedup.Index, p crawler.Progress) (int, error) {
		if arrived.Add(1) == 3 {
			close(release)
		}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		// Every keyword context finds the same business in Leeds.
		if q.Location == "Leeds" && idx.Reserve(domain.DedupKey("Shared Ltd", "1 Main St")) {
			p.LeadAdded(ctx, &domain.Lead{Name: "Shared Ltd"})
			return 1, nil
		}
		p.Report(ctx, q.Range.Listing(1, 2), "extracting")
		return 0, nil
	}}
	o, reg := newOrch(t, c, fakeKeys{})

	task := startAndWait(t, o, orchestrator.Request{
		Keywords:    []string{"bakery", "cafe", "deli"},
		Locations:   []string{"Leeds", "York"},
		Parallelism: 3,
	})

	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, 1, task.LeadsFound, "check-then-insert is shared across keyword contexts")
	assert.EqualValues(t, 3, c.peak.Load())

	qs := c.queries()
	require.Len(t, qs, 6)
	seen := map[crawler.Range]bool{}
	for _, q := range qs {
		assert.False(t, seen[q.Range], "range handed out twice")
		seen[q.Range] = true
	}

	series := reg.progressSeries()
	for i := 1; i < len(series); i++ {
		assert.GreaterOrEqual(t, series[i], series[i-1])
	}
}

func TestRun_ParallelismCappedByOption(t *testing.T) {
	c := &fakeCrawler{fn: func(context.Context, crawler.Query, *dedup.Index, crawler.Progress) (int, error) {
		time.Sleep(10 * time.Millisecond)
		return 0, nil
	}}
	o, _ := newOrch(t, c, fakeKeys{}, orchestrator.WithMaxParallelism(2))

	task := startAndWait(t, o, orchestrator.Request{
		Keywords:    []string{"a", "b", "c", "d"},
		Locations:   []string{"Leeds"},
		Parallelism: 8,
	})
	assert.Equal(t, 2, task.Parallelism)
	assert.LessOrEqual(t, c.peak.Load(), int32(2))
}

func TestRun_GeocodesEachLocationOnce(t *testing.T) {
	resolver := &fakeResolver{}
	reg := tasks.NewMemory()
	o := orchestrator.New(reg, &fakeCrawler{}, resolver, fakeKeys{})

	id, err := o.Start(context.Background(), orchestrator.Request{
		Keywords:    []string{"a", "b", "c"},
		Locations:   []string{"Leeds", "York"},
		Parallelism: 3,
	})
	require.NoError(t, err)
	o.Wait()

	task, _ := o.Get(context.Background(), id)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.EqualValues(t, 2, resolver.calls.Load())
}

func TestCancel(t *testing.T) {
	started := make(chan struct{})
	c := &fakeCrawler{fn: func(ctx context.Context, q crawler.Query, _ *dedup.Index, p crawler.Progress) (int, error) {
		close(started)
		for !q.Cancelled() {
			time.Sleep(time.Millisecond)
		}
		return 0, crawler.ErrCancelled
	}}
	var published recorded
	o, _ := newOrch(t, c, fakeKeys{}, orchestrator.WithPublisher(recorderFunc(published.add)))

	id, err := o.Start(context.Background(), orchestrator.Request{Keywords: []string{"bakery"}, Locations: []string{"Leeds", "York"}})
	require.NoError(t, err)
	<-started
	require.NoError(t, o.Cancel(context.Background(), id))
	o.Wait()

	task, err := o.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, task.Status)
	assert.Equal(t, domain.CodeCancelled, task.ErrorCode)
	assert.Less(t, task.Progress, 100)
	assert.Len(t, c.queries(), 1, "no further pairs after cancellation")
	require.Len(t, published.all(), 1)

	var te *domain.TaskTerminalError
	require.ErrorAs(t, o.Cancel(context.Background(), id), &te)

	var nf *domain.TaskNotFoundError
	require.ErrorAs(t, o.Cancel(context.Background(), "missing"), &nf)
}

func TestRun_PanicBecomesInternalError(t *testing.T) {
	for _, par := range []int{1, 2} {
		t.Run(fmt.Sprintf("parallel=%d", par), func(t *testing.T) {
			c := &fakeCrawler{fn: func(context.Context, crawler.Query, *dedup.Index, crawler.Progress) (int, error) {
				panic("selector exploded")
			}}
			o, _ := newOrch(t, c, fakeKeys{})
			task := startAndWait(t, o, orchestrator.Request{Keywords: []string{"a", "b"}, Locations: []string{"Leeds"}, Parallelism: par})

			assert.Equal(t, domain.StatusFailed, task.Status)
			assert.Equal(t, domain.CodeInternal, task.ErrorCode)
			assert.Contains(t, task.Message, "selector exploded")
		})
	}
}

func TestFinish_SideEffectsAreBestEffort(t *testing.T) {
	var notified recorded
	failing := recorderFunc(func(*domain.Task) error { return errors.New("down") })
	o, _ := newOrch(t, &fakeCrawler{}, fakeKeys{},
		orchestrator.WithRecorder(failing),
		orchestrator.WithPublisher(failing),
		orchestrator.WithNotifier(recorderFunc(notified.add)),
	)

	task := startAndWait(t, o, orchestrator.Request{Keywords: []string{"bakery"}, Locations: []string{"Leeds"}, CallbackURL: "http://example.invalid/hook"})

	assert.Equal(t, domain.StatusCompleted, task.Status)
	require.Len(t, notified.all(), 1)
	assert.Equal(t, "http://example.invalid/hook", notified.all()[0].CallbackURL)
}

func TestGet_Unknown(t *testing.T) {
	o, _ := newOrch(t, &fakeCrawler{}, fakeKeys{})
	_, err := o.Get(context.Background(), "nope")
	var nf *domain.TaskNotFoundError
	require.ErrorAs(t, err, &nf)
}

// flakyRegistry drops, once, the first write whose message contains failOn.
type flakyRegistry struct {
	*tasks.Memory
	failOn string
	failed atomic.Bool
}

func (f *flakyRegistry) Update(ctx context.Context, id string, fn func(*domain.Task)) (*domain.Task, error) {
	if cur, err := f.Memory.Get(ctx, id); err == nil && !f.failed.Load() {
		fn(cur)
		if strings.Contains(cur.Message, f.failOn) && f.failed.CompareAndSwap(false, true) {
			return nil, errors.New("redis: connection reset by peer")
		}
	}
	return f.Memory.Update(ctx, id, fn)
}

func TestRun_DroppedUpdateDoesNotLoseLeads(t *testing.T) {
	c := &fakeCrawler{fn: func(ctx context.Context, q crawler.Query, _ *dedup.Index, p crawler.Progress) (int, error) {
		for i := 0; i < 3; i++ {
			p.LeadAdded(ctx, &domain.Lead{Name: fmt.Sprintf("lead-%d", i), TaskID: q.TaskID})
		}
		return 3, nil
	}}
	reg := &flakyRegistry{Memory: tasks.NewMemory(), failOn: "lead-2"}
	o := orchestrator.New(reg, c, &fakeResolver{}, fakeKeys{})
	t.Cleanup(o.Wait)

	task := startAndWait(t, o, orchestrator.Request{Keywords: []string{"bakery"}, Locations: []string{"Leeds"}})

	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, 3, task.LeadsFound)
	assert.Equal(t, "Collection complete: 3 leads", task.Message)
	assert.True(t, reg.failed.Load(), "the third lead write was dropped")
}
