// Package tasks owns the live status records of scrape tasks.
package tasks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
)

// Registry stores task status records. Readers always receive a snapshot,
// so polling never contends with a crawl for longer than a copy.
type Registry interface {
	Create(ctx context.Context, task *domain.Task) error
	Get(ctx context.Context, taskID string) (*domain.Task, error)
	// Update applies fn to the stored record and returns the new snapshot.
	// Updates to a terminal task fail with *domain.TaskTerminalError.
	Update(ctx context.Context, taskID string, fn func(*domain.Task)) (*domain.Task, error)
	// List returns the most recently created tasks first, at most limit.
	List(ctx context.Context, limit int) ([]*domain.Task, error)
}

// DefaultTTL is how long a finished task stays readable after its last
// write. The Redis registry expires its keys on the same schedule.
const DefaultTTL = 24 * time.Hour

// Memory is a process-local Registry. Records do not survive a restart.
// Finished tasks are dropped once their last write is older than the TTL;
// running tasks are never evicted.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
	ttl   time.Duration
	now   func() time.Time
}

var _ Registry = (*Memory)(nil)

// MemoryOption configures a Memory registry.
type MemoryOption func(*Memory)

// WithTTL sets how long finished tasks are kept. Zero or less keeps them
// forever.
func WithTTL(d time.Duration) MemoryOption { return func(m *Memory) { m.ttl = d } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption { return func(m *Memory) { m.now = now } }

// NewMemory returns an empty in-memory Registry.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{tasks: make(map[string]*domain.Task), ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) Create(_ context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	m.tasks[task.ID] = task.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, taskID string) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, &domain.TaskNotFoundError{TaskID: taskID}
	}
	return t.Clone(), nil
}

func (m *Memory) Update(_ context.Context, taskID string, fn func(*domain.Task)) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, &domain.TaskNotFoundError{TaskID: taskID}
	}
	if t.Status.IsTerminal() {
		return nil, &domain.TaskTerminalError{TaskID: taskID, Status: t.Status}
	}
	next := t.Clone()
	fn(next)
	Guard(t, next)
	next.UpdatedAt = m.now().UTC()
	m.tasks[taskID] = next
	return next.Clone(), nil
}

func (m *Memory) List(_ context.Context, limit int) ([]*domain.Task, error) {
	m.mu.Lock()
	m.prune()
	out := make([]*domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// prune drops finished tasks past the TTL. m.mu must be held.
func (m *Memory) prune() {
	if m.ttl <= 0 {
		return
	}
	cutoff := m.now().Add(-m.ttl)
	for id, t := range m.tasks {
		last := t.UpdatedAt
		if last.IsZero() {
			last = t.CreatedAt
		}
		if t.Status.IsTerminal() && last.Before(cutoff) {
			delete(m.tasks, id)
		}
	}
}

// Guard restores invariants an update function must not break: progress
// never regresses and the lead counter never shrinks.
func Guard(prev, next *domain.Task) {
	if next.Progress < prev.Progress {
		next.Progress = prev.Progress
	}
	if next.LeadsFound < prev.LeadsFound {
		next.LeadsFound = prev.LeadsFound
	}
}
