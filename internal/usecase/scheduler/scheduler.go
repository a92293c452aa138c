package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"warden-ai/internal/infra/config"
	"warden-ai/internal/usecase"
)

// Runner executes one agent run. *usecase.Coordinator satisfies it.
type Runner interface {
	ExecuteAgentRun(ctx context.Context, params usecase.RunParams) (*usecase.RunResult, error)
}

// Job defines one recurring agent run.
type Job struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" OR duration "30m"
	GroupKey string
	Channel  string
	Prompt   string
}

// Scheduler fires agent runs on recurring schedules. Each firing goes
// through the coordinator like any other run, so scheduled runs queue
// behind interactive ones on the same group.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler. jobTimeout bounds each firing; zero means the
// coordinator's default deadline applies.
func New(runner Runner, jobTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		runner:  runner,
		logger:  logger,
		timeout: jobTimeout,
	}
}

// FromConfig builds jobs from configuration entries.
func FromConfig(jobs []config.SchedulerJobConfig) []Job {
	out := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, Job{
			Name:     j.Name,
			Schedule: j.Schedule,
			GroupKey: j.GroupKey,
			Channel:  j.Channel,
			Prompt:   j.Prompt,
		})
	}
	return out
}

// AddJob registers a recurring agent run.
func (s *Scheduler) AddJob(job Job) error {
	schedule, err := parseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for job %q: %w", job.Schedule, job.Name, err)
	}

	s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(job) }))
	s.logger.Info("scheduled job added", "name", job.Name, "schedule", job.Schedule, "group", job.GroupKey)
	return nil
}

func (s *Scheduler) fire(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		s.logger.Debug("scheduler stopped, skipping job", "name", job.Name)
		return
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	channel := job.Channel
	if channel == "" {
		channel = "scheduler"
	}

	start := time.Now()
	_, err := s.runner.ExecuteAgentRun(ctx, usecase.RunParams{
		GroupKey:    job.GroupKey,
		ChannelID:   channel,
		Prompt:      job.Prompt,
		IsScheduled: true,
	})
	if err != nil {
		s.logger.Warn("scheduled run failed",
			"name", job.Name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("scheduled run completed", "name", job.Name, "duration", time.Since(start))
}

// Start begins firing jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
}

// Stop cancels in-flight runs and waits for the cron loop to drain.
// The drain wait happens outside the mutex: firings spawned just before
// Stop still need to take it in fire before they can observe the
// cancellation and return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.ctx = nil
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// parseSchedule tries a cron expression first, then a duration string.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay{delay: dur}, nil
}

// constantDelay implements cron.Schedule for a fixed interval. Unlike
// cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
