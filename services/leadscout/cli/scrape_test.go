package cli

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
)

// scriptedTask replays snapshots; the last one repeats.
type scriptedTask struct {
	snaps     []domain.Task
	calls     int
	cancelled int
}

func (s *scriptedTask) Get(context.Context, string) (*domain.Task, error) {
	i := s.calls
	if i >= len(s.snaps) {
		i = len(s.snaps) - 1
	}
	s.calls++
	t := s.snaps[i]
	return &t, nil
}

func (s *scriptedTask) Cancel(context.Context, string) error {
	s.cancelled++
	return nil
}

func TestWatch_ReturnsTerminalSnapshot(t *testing.T) {
	w := &scriptedTask{snaps: []domain.Task{
		{ID: "t1", Status: domain.StatusRunning, Progress: 10},
		{ID: "t1", Status: domain.StatusRunning, Progress: 55, LeadsFound: 2},
		{ID: "t1", Status: domain.StatusCompleted, Progress: 100, LeadsFound: 4, Message: "Collection complete: 4 leads"},
	}}

	task, err := watch(context.Background(), w, "t1", time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, 4, task.LeadsFound)
	assert.Equal(t, 0, w.cancelled)
}

// cancellable reports running until Cancel is called.
type cancellable struct{ cancelled int }

func (c *cancellable) Get(context.Context, string) (*domain.Task, error) {
	if c.cancelled > 0 {
		return &domain.Task{ID: "t1", Status: domain.StatusCancelled, Message: "Cancelled after 0 leads"}, nil
	}
	return &domain.Task{ID: "t1", Status: domain.StatusRunning}, nil
}

func (c *cancellable) Cancel(context.Context, string) error {
	c.cancelled++
	if c.cancelled > 1 {
		return &domain.TaskTerminalError{TaskID: "t1", Status: domain.StatusCancelled}
	}
	return nil
}

func TestWatch_SignalCancelsOnce(t *testing.T) {
	w := &cancellable{}
	quit := make(chan os.Signal, 2)
	quit <- os.Interrupt
	quit <- os.Interrupt

	task, err := watch(context.Background(), w, "t1", time.Millisecond, quit)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, task.Status)
	assert.Equal(t, 1, w.cancelled)
}
