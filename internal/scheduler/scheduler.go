package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/internal/store"
	"github.com/rendis/sfnsim/pkg/schema"
)

// Runner starts one execution. Satisfied by *engine.Engine.
type Runner interface {
	StartExecution(ctx context.Context, input any, opts schema.RuntimeOptions) (*engine.ExecutionResult, error)
}

// Job runs a state machine on a cron schedule.
type Job struct {
	ID       string
	Name     string
	Cron     string
	Input    any
	Options  schema.RuntimeOptions
	Runner   Runner
	MaxRuns  int // 0 means unlimited
	Disabled bool

	// Definition is archived with every run when set.
	Definition *schema.StateMachine
}

// JobStatus is a point-in-time view of a job.
type JobStatus struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Cron            string                 `json:"cron"`
	Enabled         bool                   `json:"enabled"`
	Runs            int                    `json:"runs"`
	NextRunAt       *time.Time             `json:"next_run_at,omitempty"`
	LastRunAt       *time.Time             `json:"last_run_at,omitempty"`
	LastStatus      schema.ExecutionStatus `json:"last_status,omitempty"`
	LastExecutionID string                 `json:"last_execution_id,omitempty"`
}

// RunHook observes every finished scheduled run. res is nil when the
// execution could not start.
type RunHook func(status JobStatus, res *engine.ExecutionResult, err error)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often due jobs are checked. Default 1s.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRunHook registers a hook called after every run.
func WithRunHook(h RunHook) Option {
	return func(s *Scheduler) { s.hooks = append(s.hooks, h) }
}

type jobState struct {
	job    Job
	status JobStatus
}

// Scheduler checks its jobs on a ticker and runs those that are due. Runs
// are archived when an archive is configured.
type Scheduler struct {
	archive  store.Archive
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	hooks    []RunHook

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	jobsMu sync.Mutex
	jobs   map[string]*jobState

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// NewScheduler creates a Scheduler. archive may be nil.
func NewScheduler(archive store.Archive, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		archive:  archive,
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		interval: time.Second,
		now:      time.Now,
		jobs:     make(map[string]*jobState),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// AddJob registers a job and computes its first run. The job ID is generated
// when empty.
func (s *Scheduler) AddJob(job Job) (string, error) {
	if job.Runner == nil {
		return "", schema.NewError(schema.ErrCodeValidation, "scheduled job needs a runner")
	}
	if strings.TrimSpace(job.Cron) == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "scheduled job needs a cron expression")
	}
	next, err := s.CalculateNextRun(job.Cron, s.now())
	if err != nil {
		return "", schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Name == "" {
		job.Name = job.ID
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return "", schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.ID)
	}
	s.jobs[job.ID] = &jobState{
		job: job,
		status: JobStatus{
			ID:        job.ID,
			Name:      job.Name,
			Cron:      job.Cron,
			Enabled:   !job.Disabled,
			NextRunAt: &next,
		},
	}
	s.logger.Info("scheduled job added",
		slog.String("job_id", job.ID),
		slog.String("cron", job.Cron),
		slog.Time("next_run_at", next),
	)
	return job.ID, nil
}

// RemoveJob drops a job. It reports whether the job existed.
func (s *Scheduler) RemoveJob(id string) bool {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	return ok
}

// SetEnabled toggles whether a job is considered by the ticker.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	js, ok := s.jobs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	js.status.Enabled = enabled
	return nil
}

// Job returns the status of one job.
func (s *Scheduler) Job(id string) (JobStatus, bool) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	js, ok := s.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return js.status, true
}

// Jobs returns the status of every job, ordered by ID.
func (s *Scheduler) Jobs() []JobStatus {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, js := range s.jobs {
		out = append(out, js.status)
	}
	slices.SortFunc(out, func(a, b JobStatus) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx, s.done)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every enabled job whose next run is due.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, id := range s.dueJobs(now) {
		if ctx.Err() != nil {
			return
		}
		if !s.tryAcquire(id) {
			continue // already running (dedup)
		}
		if err := s.runJob(ctx, id, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(id)
	}
}

func (s *Scheduler) dueJobs(now time.Time) []string {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	var due []string
	for id, js := range s.jobs {
		if !js.status.Enabled {
			continue
		}
		if js.status.NextRunAt == nil || !js.status.NextRunAt.After(now) {
			due = append(due, id)
		}
	}
	slices.Sort(due)
	return due
}

// RunNow runs a job immediately, outside its schedule. Its next run is
// recomputed from now.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	if !s.tryAcquire(id) {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q is already running", id)
	}
	defer s.releaseJob(id)
	return s.runJob(ctx, id, s.now())
}

// runJob executes one run of a job, archives it and updates the job status.
// An execution that fails is a normal outcome; only archive and schedule
// errors are returned.
func (s *Scheduler) runJob(ctx context.Context, id string, now time.Time) error {
	s.jobsMu.Lock()
	js, ok := s.jobs[id]
	if !ok {
		s.jobsMu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	job := js.job
	s.jobsMu.Unlock()

	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("name", job.Name),
	)

	res, runErr := job.Runner.StartExecution(ctx, job.Input, job.Options)
	if runErr != nil {
		s.logger.Warn("scheduled execution did not succeed",
			slog.String("job_id", job.ID),
			slog.String("error", runErr.Error()),
		)
	}

	var archiveErr error
	if res != nil && s.archive != nil {
		archiveErr = s.save(ctx, job, res)
	}

	status, err := s.updateJobStatus(job, res, runErr, now)
	if err != nil {
		return err
	}
	for _, h := range s.hooks {
		h(status, res, runErr)
	}
	return archiveErr
}

func (s *Scheduler) save(ctx context.Context, job Job, res *engine.ExecutionResult) error {
	rec, err := store.NewExecutionRecord(res, job.Definition)
	if err != nil {
		return err
	}
	if err := s.archive.SaveExecution(ctx, rec); err != nil {
		return fmt.Errorf("archive execution %q: %w", res.ExecutionID, err)
	}
	return nil
}

func (s *Scheduler) updateJobStatus(job Job, res *engine.ExecutionResult, runErr error, now time.Time) (JobStatus, error) {
	next, err := s.CalculateNextRun(job.Cron, now)
	if err != nil {
		return JobStatus{}, fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	js, ok := s.jobs[job.ID]
	if !ok {
		return JobStatus{}, schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q was removed while running", job.ID)
	}

	ran := now
	js.status.Runs++
	js.status.LastRunAt = &ran
	js.status.NextRunAt = &next
	switch {
	case res != nil:
		js.status.LastStatus = res.Status
		js.status.LastExecutionID = res.ExecutionID
	case runErr != nil:
		js.status.LastStatus = schema.ExecutionStatusFailed
		js.status.LastExecutionID = ""
	}
	if job.MaxRuns > 0 && js.status.Runs >= job.MaxRuns {
		js.status.Enabled = false
		js.status.NextRunAt = nil
		s.logger.Info("scheduled job reached its run limit",
			slog.String("job_id", job.ID),
			slog.Int("runs", js.status.Runs),
		)
	}
	return js.status, nil
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression. Both
// five and six field (leading seconds) forms are accepted, as are
// descriptors such as @hourly and @every 30s.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler, waiting for a running job.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
