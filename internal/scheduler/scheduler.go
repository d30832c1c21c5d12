// Package scheduler runs channel cleanups on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/h1v3-io/deskbridge/internal/cleanup"
)

// jobTimeout bounds a single scheduled cleanup.
const jobTimeout = 2 * time.Minute

// CleanFunc cleans one channel.
type CleanFunc func(ctx context.Context, channel string) (cleanup.Report, error)

// Job is one scheduled cleanup.
type Job struct {
	Channel  string    `json:"channel"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitempty"`
}

type entry struct {
	id       cron.EntryID
	schedule string
}

// Scheduler manages cron-based cleanup schedules.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string][]entry // channel → cron entries
	cleanFn CleanFunc
	ctx     context.Context
	logger  *slog.Logger
}

// New creates a new scheduler.
func New(cleanFn CleanFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		jobs:    make(map[string][]entry),
		cleanFn: cleanFn,
		ctx:     context.Background(),
		logger:  logger.With("component", "scheduler"),
	}
}

// Start begins the cron scheduler. Blocks until context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.JobCount())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// ValidateSchedule reports whether spec is a cron expression the scheduler accepts.
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}
	return nil
}

// AddCleanup schedules a cleanup of channel.
// The schedule should be a standard cron expression (5 fields) or a predefined schedule like @every 1h.
func (s *Scheduler) AddCleanup(channel, schedule string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return fmt.Errorf("scheduler: channel is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() { s.run(channel) })
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}

	s.jobs[channel] = append(s.jobs[channel], entry{id: id, schedule: schedule})
	s.logger.Info("cleanup scheduled", "channel", channel, "schedule", schedule)
	return nil
}

func (s *Scheduler) run(channel string) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	rep, err := s.cleanFn(ctx, channel)
	if err != nil {
		s.logger.Error("scheduled cleanup failed", "channel", channel, "error", err)
		return
	}
	s.logger.Info("scheduled cleanup done", "channel", channel, "deleted", rep.Deleted, "failed", rep.Failed)
}

// RemoveChannel removes all scheduled cleanups for a channel and returns how
// many were removed.
func (s *Scheduler) RemoveChannel(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.jobs[channel]
	for _, e := range entries {
		s.cron.Remove(e.id)
	}
	delete(s.jobs, channel)
	if len(entries) > 0 {
		s.logger.Info("cleanups unscheduled", "channel", channel, "jobs", len(entries))
	}
	return len(entries)
}

// Jobs lists every scheduled cleanup ordered by channel. Next is zero until
// the scheduler has started.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for ch, entries := range s.jobs {
		for _, e := range entries {
			jobs = append(jobs, Job{Channel: ch, Schedule: e.schedule, Next: s.cron.Entry(e.id).Next})
		}
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Channel != jobs[j].Channel {
			return jobs[i].Channel < jobs[j].Channel
		}
		return jobs[i].Schedule < jobs[j].Schedule
	})
	return jobs
}

// JobCount returns the total number of scheduled jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, ids := range s.jobs {
		total += len(ids)
	}
	return total
}
