// Package orchestrator owns the scrape task state machine. It fans a task
// out over its keyword × location pairs, drives a crawler per pair and
// finalizes the task record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/shubhanshu-sudo/Scrapper/internal/crawler"
	"github.com/shubhanshu-sudo/Scrapper/internal/dedup"
	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
	"github.com/shubhanshu-sudo/Scrapper/internal/geo"
	"github.com/shubhanshu-sudo/Scrapper/internal/tasks"
	"github.com/shubhanshu-sudo/Scrapper/pkg/telemetry"
)

// Crawler runs one query. *crawler.Crawler implements it.
type Crawler interface {
	Run(ctx context.Context, q crawler.Query, idx *dedup.Index, p crawler.Progress) (int, error)
}

// RegionResolver maps a location to a region and never fails.
type RegionResolver interface {
	Resolve(ctx context.Context, location string) geo.Region
}

// KeySource returns the dedup keys of every persisted lead.
type KeySource interface {
	ExistingKeys(ctx context.Context) ([]string, error)
}

// TaskRecorder stores finished task snapshots.
type TaskRecorder interface {
	RecordTask(ctx context.Context, task *domain.Task) error
}

// TaskPublisher announces finished tasks.
type TaskPublisher interface {
	PublishTask(ctx context.Context, task *domain.Task) error
}

// Notifier delivers the task's completion callback.
type Notifier interface {
	Notify(ctx context.Context, task *domain.Task) error
}

// Request is a scrape request as accepted from any surface.
type Request struct {
	Keywords    []string
	Locations   []string
	Parallelism int
	CallbackURL string
	// Source labels the task metrics: api, kafka, schedule or cli.
	Source string
}

var errCancelled = errors.New("task cancelled")

// panicError carries a value recovered from a crawl goroutine.
type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("internal error: %v", e.value) }

// Orchestrator starts and tracks scrape tasks.
type Orchestrator struct {
	registry tasks.Registry
	crawler  Crawler
	resolver RegionResolver
	keys     KeySource

	recorder  TaskRecorder
	publisher TaskPublisher
	notifier  Notifier
	logger    *slog.Logger

	defaultParallelism int
	maxParallelism     int
	finalizeTimeout    time.Duration
	now                func() time.Time

	mu      sync.Mutex
	running map[string]*atomic.Bool
	wg      sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithRecorder(r TaskRecorder) Option { return func(o *Orchestrator) { o.recorder = r } }
func WithPublisher(p TaskPublisher) Option { return func(o *Orchestrator) { o.publisher = p } }
func WithNotifier(n Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithDefaultParallelism sets the parallelism used when a request leaves it
// at zero.
func WithDefaultParallelism(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.defaultParallelism = n
		}
	}
}

// WithMaxParallelism caps concurrent keyword contexts per task. Zero means
// no cap beyond the keyword count.
func WithMaxParallelism(n int) Option { return func(o *Orchestrator) { o.maxParallelism = n } }

// New returns an Orchestrator. All four collaborators are required.
func New(registry tasks.Registry, c Crawler, resolver RegionResolver, keys KeySource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:           registry,
		crawler:            c,
		resolver:           resolver,
		keys:               keys,
		logger:             slog.Default(),
		defaultParallelism: 1,
		finalizeTimeout:    30 * time.Second,
		now:                time.Now,
		running:            make(map[string]*atomic.Bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start registers a task in running state and crawls it in the background.
// The crawl is detached from ctx; only Cancel stops it early.
func (o *Orchestrator) Start(ctx context.Context, req Request) (string, error) {
	keywords := clean(req.Keywords)
	locations := clean(req.Locations)
	if req.Parallelism < 0 {
		return "", &domain.InvalidRequestError{Reason: "parallel_count must not be negative"}
	}
	par := req.Parallelism
	if par == 0 {
		par = o.defaultParallelism
	}
	if o.maxParallelism > 0 && par > o.maxParallelism {
		par = o.maxParallelism
	}
	source := req.Source
	if source == "" {
		source = "api"
	}

	now := o.now().UTC()
	task := &domain.Task{
		ID:          uuid.NewString(),
		Status:      domain.StatusRunning,
		Message:     "Task started",
		Keywords:    keywords,
		Locations:   locations,
		Parallelism: par,
		CallbackURL: req.CallbackURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.registry.Create(ctx, task); err != nil {
		return "", fmt.Errorf("register task: %w", err)
	}
	telemetry.TasksStarted.WithLabelValues(source).Inc()
	o.logger.Info("task started",
		slog.String("task_id", task.ID),
		slog.String("source", source),
		slog.Int("pairs", len(keywords)*len(locations)),
		slog.Int("parallel_count", par),
	)

	bg := context.WithoutCancel(ctx)
	if len(keywords)*len(locations) == 0 {
		final := o.terminate(bg, task.ID, domain.StatusCompleted, domain.CodeNone, "Collection complete: 0 leads", 0)
		if final != nil {
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				o.announce(bg, final)
			}()
		}
		return task.ID, nil
	}

	flag := &atomic.Bool{}
	o.mu.Lock()
	o.running[task.ID] = flag
	o.mu.Unlock()

	telemetry.TasksInFlight.Inc()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer telemetry.TasksInFlight.Dec()
		defer func() {
			o.mu.Lock()
			delete(o.running, task.ID)
			o.mu.Unlock()
		}()
		o.run(bg, task.Clone(), flag)
	}()
	return task.ID, nil
}

// Get returns a snapshot of the task.
func (o *Orchestrator) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	return o.registry.Get(ctx, taskID)
}

// List returns the most recent live task records.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]*domain.Task, error) {
	return o.registry.List(ctx, limit)
}

// Cancel asks a running task to stop. The crawl notices between listings
// and between pairs, then ends the task as cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	o.mu.Lock()
	flag, ok := o.running[taskID]
	o.mu.Unlock()
	if !ok {
		t, err := o.registry.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status.IsTerminal() {
			return &domain.TaskTerminalError{TaskID: taskID, Status: t.Status}
		}
		// Running on another instance sharing the registry.
		return &domain.TaskNotFoundError{TaskID: taskID}
	}
	if flag.Swap(true) {
		return nil
	}
	_, err := o.registry.Update(ctx, taskID, func(t *domain.Task) { t.Message = "Cancellation requested" })
	var te *domain.TaskTerminalError
	if errors.As(err, &te) {
		return nil
	}
	return err
}

// CancelAll requests cancellation of every task running in this process.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, flag := range o.running {
		flag.Store(true)
	}
}

// Wait blocks until every background run has finalized its task.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

type pair struct {
	index    int
	keyword  string
	location string
}

// outcome collects what the pair runs observed.
type outcome struct {
	browserFailures atomic.Int32
	mu              sync.Mutex
	lastBrowserErr  error
}

func (o *Orchestrator) run(ctx context.Context, task *domain.Task, flag *atomic.Bool) {
	log := o.logger.With(slog.String("task_id", task.ID))
	ctx, span := telemetry.Tracer().Start(ctx, "orchestrator.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.Int("task.keywords", len(task.Keywords)),
		attribute.Int("task.locations", len(task.Locations)),
		attribute.Int("task.parallel_count", task.Parallelism),
	)

	// leads is the authoritative count of persisted leads. Every registry
	// write carries the absolute value so a dropped write heals on the next.
	leads := &atomic.Int64{}

	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", slog.Any("panic", r))
			span.SetStatus(codes.Error, "panic")
			o.finish(ctx, task.ID, domain.StatusFailed, domain.CodeInternal, fmt.Sprintf("Error: internal error: %v", r), leads.Load())
		}
	}()

	keys, err := o.keys.ExistingKeys(ctx)
	if err != nil {
		log.Error("dedup seed failed", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "dedup seed failed")
		o.finish(ctx, task.ID, domain.StatusFailed, domain.CodePersistenceUnavailable, "Error: "+err.Error(), leads.Load())
		return
	}
	idx := dedup.New(keys...)
	log.Debug("dedup index seeded", slog.Int("keys", idx.Len()))

	pairs := make([]pair, 0, len(task.Keywords)*len(task.Locations))
	for _, kw := range task.Keywords {
		for _, loc := range task.Locations {
			pairs = append(pairs, pair{index: len(pairs), keyword: kw, location: loc})
		}
	}
	ranges := crawler.Allocate(len(pairs))
	tracker := crawler.NewTracker(ranges)
	regions := newRegionCache(o.resolver)
	out := &outcome{}

	runPair := func(ctx context.Context, p pair) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &panicError{value: r}
			}
		}()
		if flag.Load() {
			return errCancelled
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		q := crawler.Query{
			TaskID:    task.ID,
			Keyword:   p.keyword,
			Location:  p.location,
			Region:    regions.resolve(ctx, p.location),
			Range:     ranges[p.index],
			Cancelled: flag.Load,
		}
		prog := &taskProgress{o: o, taskID: task.ID, tracker: tracker, slot: p.index, leads: leads, log: log}
		n, err := o.crawler.Run(ctx, q, idx, prog)
		pct := tracker.Complete(p.index)

		var be *domain.BrowserError
		switch {
		case err == nil:
			log.Info("pair finished", slog.String("keyword", p.keyword), slog.String("location", p.location), slog.Int("added", n))
			o.update(ctx, task.ID, log, func(t *domain.Task) {
				t.Advance(pct)
				setLeads(t, leads.Load())
			})
			return nil
		case errors.Is(err, crawler.ErrCancelled):
			return errCancelled
		case errors.As(err, &be):
			out.browserFailures.Add(1)
			out.mu.Lock()
			out.lastBrowserErr = err
			out.mu.Unlock()
			log.Warn("pair skipped", slog.String("keyword", p.keyword), slog.String("location", p.location), slog.String("error", err.Error()))
			o.update(ctx, task.ID, log, func(t *domain.Task) {
				t.Advance(pct)
				setLeads(t, leads.Load())
				t.Message = fmt.Sprintf("Skipped '%s' in %s: %v", p.keyword, p.location, err)
			})
			return nil
		default:
			return err
		}
	}

	if task.Parallelism <= 1 || len(task.Keywords) == 1 {
		for _, p := range pairs {
			if err = runPair(ctx, p); err != nil {
				break
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(task.Parallelism)
		perKeyword := len(task.Locations)
		for k := range task.Keywords {
			own := pairs[k*perKeyword : (k+1)*perKeyword]
			g.Go(func() error {
				for _, p := range own {
					if err := runPair(gctx, p); err != nil {
						return err
					}
				}
				return nil
			})
		}
		err = g.Wait()
	}

	var pe *domain.PersistenceError
	var pan *panicError
	switch {
	case errors.As(err, &pan):
		log.Error("task panicked", slog.Any("panic", pan.value))
		span.SetStatus(codes.Error, "panic")
		o.finish(ctx, task.ID, domain.StatusFailed, domain.CodeInternal, "Error: "+err.Error(), leads.Load())
	case errors.As(err, &pe):
		span.RecordError(err)
		span.SetStatus(codes.Error, "lead store failed")
		log.Error("task failed", slog.String("error", err.Error()))
		o.finish(ctx, task.ID, domain.StatusFailed, domain.CodePersistenceUnavailable, "Error: "+err.Error(), leads.Load())
	case errors.Is(err, errCancelled):
		log.Info("task cancelled")
		o.finish(ctx, task.ID, domain.StatusCancelled, domain.CodeCancelled, "", leads.Load())
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "task failed")
		log.Error("task failed", slog.String("error", err.Error()))
		o.finish(ctx, task.ID, domain.StatusFailed, domain.CodeInternal, "Error: "+err.Error(), leads.Load())
	case int(out.browserFailures.Load()) == len(pairs):
		span.SetStatus(codes.Error, "browser unavailable")
		log.Error("every pair failed to open a browser session")
		o.finish(ctx, task.ID, domain.StatusFailed, domain.CodeBrowserUnavailable, "Error: "+out.lastBrowserErr.Error(), leads.Load())
	default:
		o.finish(ctx, task.ID, domain.StatusCompleted, domain.CodeNone, "", leads.Load())
	}
}

// finish moves the task to its terminal state and runs the best-effort
// side effects.
func (o *Orchestrator) finish(ctx context.Context, taskID string, status domain.Status, code domain.ErrorCode, msg string, leads int64) {
	if final := o.terminate(ctx, taskID, status, code, msg, leads); final != nil {
		o.announce(ctx, final)
	}
}

// terminate writes the terminal state. An empty msg is filled from the
// final lead count. It returns nil when the record could not be updated.
func (o *Orchestrator) terminate(ctx context.Context, taskID string, status domain.Status, code domain.ErrorCode, msg string, leads int64) *domain.Task {
	log := o.logger.With(slog.String("task_id", taskID))
	final, err := o.registry.Update(ctx, taskID, func(t *domain.Task) {
		setLeads(t, leads)
		m := msg
		if m == "" {
			switch status {
			case domain.StatusCancelled:
				m = fmt.Sprintf("Cancelled after %d leads", t.LeadsFound)
			default:
				m = fmt.Sprintf("Collection complete: %d leads", t.LeadsFound)
			}
		}
		t.Finish(status, code, m, o.now().UTC())
	})
	if err != nil {
		log.Error("task not finalized", slog.String("status", string(status)), slog.String("error", err.Error()))
		return nil
	}
	telemetry.TasksFinished.WithLabelValues(string(status)).Inc()
	log.Info("task finished",
		slog.String("status", string(final.Status)),
		slog.Int("leads_found", final.LeadsFound),
		slog.String("error_code", string(final.ErrorCode)),
	)
	return final
}

// announce records, publishes and calls back for a finished task. Each step
// only logs on failure.
func (o *Orchestrator) announce(ctx context.Context, final *domain.Task) {
	log := o.logger.With(slog.String("task_id", final.ID))
	sctx, cancel := context.WithTimeout(ctx, o.finalizeTimeout)
	defer cancel()
	if o.recorder != nil {
		if err := o.recorder.RecordTask(sctx, final); err != nil {
			log.Warn("task history not recorded", slog.String("error", err.Error()))
		}
	}
	if o.publisher != nil {
		if err := o.publisher.PublishTask(sctx, final); err != nil {
			log.Warn("task event not published", slog.String("error", err.Error()))
		}
	}
	if o.notifier != nil {
		if err := o.notifier.Notify(sctx, final); err != nil {
			log.Warn("callback not delivered", slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) update(ctx context.Context, taskID string, log *slog.Logger, fn func(*domain.Task)) {
	if _, err := o.registry.Update(ctx, taskID, fn); err != nil {
		log.Warn("task update dropped", slog.String("error", err.Error()))
	}
}

// setLeads raises the counter to n. A record already ahead is left alone.
func setLeads(t *domain.Task, n int64) {
	if int(n) > t.LeadsFound {
		t.LeadsFound = int(n)
	}
}

// taskProgress writes one pair's progress into the shared task record.
type taskProgress struct {
	o       *Orchestrator
	taskID  string
	tracker *crawler.Tracker
	slot    int
	leads   *atomic.Int64
	log     *slog.Logger
}

func (p *taskProgress) Report(ctx context.Context, pos float64, message string) {
	pct := p.tracker.Report(p.slot, pos)
	p.o.update(ctx, p.taskID, p.log, func(t *domain.Task) {
		t.Advance(pct)
		setLeads(t, p.leads.Load())
		t.Message = message
	})
}

func (p *taskProgress) LeadAdded(ctx context.Context, lead *domain.Lead) {
	n := p.leads.Add(1)
	p.o.update(ctx, p.taskID, p.log, func(t *domain.Task) {
		setLeads(t, n)
		t.Message = fmt.Sprintf("Added lead '%s' (%d total)", lead.Name, t.LeadsFound)
	})
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
