package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shubhanshu-sudo/Scrapper/internal/orchestrator"
)

const (
	// LeaderKey is the Redis lease shared by every leadscout instance.
	LeaderKey = "leadscout:scheduler:leader"
	// LeaderTTL outlives the one-minute cron resolution so the holder keeps
	// the lease between firings.
	LeaderTTL = 90 * time.Second
)

// Job is one recurring scrape.
type Job struct {
	Name        string
	Spec        string
	Keywords    []string
	Locations   []string
	Parallelism int
}

// Starter starts a scrape task.
type Starter interface {
	Start(ctx context.Context, req orchestrator.Request) (string, error)
}

// Leader gates firings so only one instance of a fleet starts a scheduled
// scrape. *redis.Leader implements it.
type Leader interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Scheduler fires cron jobs with optional leader election.
type Scheduler struct {
	cron    *cron.Cron
	starter Starter
	leader  Leader
	logger  *slog.Logger
	ctx     context.Context
}

// New returns a Scheduler. A nil leader means this instance always fires.
func New(starter Starter, leader Leader, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		starter: starter,
		leader:  leader,
		logger:  logger,
		ctx:     context.Background(),
	}
}

// Add registers job. Spec uses the standard five-field cron syntax.
func (s *Scheduler) Add(job Job) error {
	if _, err := cron.ParseStandard(job.Spec); err != nil {
		return fmt.Errorf("parse cron %q for schedule %q: %w", job.Spec, job.Name, err)
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { s.Fire(s.ctx, job) }); err != nil {
		return fmt.Errorf("add schedule %q: %w", job.Name, err)
	}
	return nil
}

// Len is the number of registered jobs.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

// Run starts the cron loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("schedules", s.Len()))

	<-ctx.Done()
	<-s.cron.Stop().Done()

	if s.leader != nil {
		release, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.leader.Release(release); err != nil {
			s.logger.Warn("scheduler lease release failed", slog.String("error", err.Error()))
		}
	}
}

// Fire starts one scheduled scrape if this instance holds the lease.
func (s *Scheduler) Fire(ctx context.Context, job Job) {
	if s.leader != nil {
		ok, err := s.leader.Acquire(ctx)
		if err != nil {
			s.logger.Error("leader election failed", slog.String("schedule", job.Name), slog.String("error", err.Error()))
			return
		}
		if !ok {
			s.logger.Debug("not the scheduler leader, skipping", slog.String("schedule", job.Name))
			return
		}
	}

	taskID, err := s.starter.Start(ctx, orchestrator.Request{
		Keywords:    job.Keywords,
		Locations:   job.Locations,
		Parallelism: job.Parallelism,
		Source:      "schedule",
	})
	if err != nil {
		s.logger.Error("scheduled scrape failed to start",
			slog.String("schedule", job.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("scheduled scrape fired",
		slog.String("schedule", job.Name),
		slog.String("task_id", taskID),
	)
}
