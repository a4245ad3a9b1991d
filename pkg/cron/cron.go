// Package cron runs scheduled maintenance jobs on cron expressions.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/laundmo/gh-linker-bot/pkg/logger"
	"github.com/laundmo/gh-linker-bot/pkg/platform"
	"github.com/laundmo/gh-linker-bot/pkg/tasks"
)

// Job is a named maintenance task with a cron schedule.
type Job struct {
	Name string
	Expr string
	Run  func(ctx context.Context) error
}

// JobStatus reports a job's schedule and last run for diagnostics.
type JobStatus struct {
	Name    string    `json:"name"`
	Expr    string    `json:"expr"`
	LastRun time.Time `json:"last_run,omitempty"`
	Runs    int       `json:"runs"`
}

// Service ticks once a minute and fires due jobs in supervised tasks.
type Service struct {
	gron *gronx.Gronx

	mu   sync.Mutex
	jobs []*jobState
}

type jobState struct {
	job     Job
	lastRun time.Time
	runs    int
}

// NewService creates an empty scheduler.
func NewService() *Service {
	return &Service{gron: gronx.New()}
}

// Add registers a job. The expression is validated up front.
func (s *Service) Add(job Job) error {
	if !s.gron.IsValid(job.Expr) {
		return fmt.Errorf("cron: invalid expression %q for job %s", job.Expr, job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &jobState{job: job})
	return nil
}

// Run ticks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	logger.InfoCF("cron", "Scheduler started", map[string]interface{}{"jobs": len(s.Status())})
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("cron", "Scheduler stopped")
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Service) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*jobState, 0, len(s.jobs))
	for _, js := range s.jobs {
		ok, err := s.gron.IsDue(js.job.Expr, now)
		if err != nil || !ok {
			continue
		}
		js.lastRun = now
		js.runs++
		due = append(due, js)
	}
	s.mu.Unlock()

	for _, js := range due {
		job := js.job
		tasks.SpawnContext(ctx, "cron-"+job.Name, job.Run, platform.KindNotFound)
	}
}

// Status returns every job's schedule state.
func (s *Service) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, js := range s.jobs {
		out = append(out, JobStatus{
			Name:    js.job.Name,
			Expr:    js.job.Expr,
			LastRun: js.lastRun,
			Runs:    js.runs,
		})
	}
	return out
}
