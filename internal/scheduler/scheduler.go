// Package scheduler runs the fixed job catalog on cron timers in the market
// timezone. Each job has an execution mutex: a timer fire while the job is
// running is skipped, a manual run is refused with AlreadyRunningError.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"TickerVault/internal/model"
	"TickerVault/internal/notifier"
	"TickerVault/internal/updatelog"
)

// Outcome is what a task reports when it completes.
type Outcome struct {
	Message string
	Details map[string]any
	// Failed lists symbols that did not update in an otherwise successful run.
	Failed []model.SymbolResult
}

// Task is the body of a job.
type Task func(ctx context.Context) (Outcome, error)

// Job is a catalog entry.
type Job struct {
	ID       string
	Name     string
	Schedule string
	Enabled  bool
	Task     Task
}

// Store persists job configuration. store.JobConfigStore satisfies it.
type Store interface {
	LoadJobConfigs(ctx context.Context) (map[string]model.JobConfig, error)
	SaveJobConfig(ctx context.Context, cfg model.JobConfig) error
}

// Metrics receives job counters. *metrics.Recorder satisfies it.
type Metrics interface {
	RecordJobRun(job, status string, d time.Duration)
	RecordSkippedFire(job string)
	SetJobRunning(job string, running bool)
}

// Sender delivers operator notifications. *notifier.TelegramNotifier satisfies it.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Options are the optional collaborators.
type Options struct {
	Location *time.Location
	Updates  *updatelog.Service
	Metrics  Metrics
	Notifier Sender
	Now      func() time.Time
}

type jobState struct {
	Job
	exec sync.Mutex

	running      bool
	registered   bool
	entry        cron.EntryID
	lastRun      time.Time
	lastStatus   string
	lastMessage  string
	lastDuration time.Duration
}

func (j *jobState) config() model.JobConfig {
	return model.JobConfig{
		ID:         j.ID,
		Schedule:   j.Schedule,
		Enabled:    j.Enabled,
		LastRun:    j.lastRun,
		LastStatus: j.lastStatus,
	}
}

// Scheduler owns the job registry. Construct it with New, then Initialize.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	loc     *time.Location
	jobs    map[string]*jobState
	order   []string
	started bool

	store    Store
	updates  *updatelog.Service
	metrics  Metrics
	notifier Sender
	now      func() time.Time
	log      zerolog.Logger

	// Runs join inflight only through begin, under mu. stopping refuses new
	// runs from the start of Shutdown until the next Initialize; draining
	// counts Shutdown calls still waiting on inflight.
	inflight sync.WaitGroup
	stopping bool
	draining int
	runCtx   context.Context
	cancel   context.CancelFunc
}

// New validates the catalog and returns a stopped scheduler.
func New(store Store, jobs []Job, opts Options, log zerolog.Logger) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Scheduler{
		loc:      opts.Location,
		jobs:     make(map[string]*jobState, len(jobs)),
		store:    store,
		updates:  opts.Updates,
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
		now:      opts.Now,
		log:      log.With().Str("component", "scheduler").Logger(),
		runCtx:   context.Background(),
		cancel:   func() {},
	}
	for _, j := range jobs {
		if _, dup := s.jobs[j.ID]; dup {
			return nil, fmt.Errorf("duplicate job %q", j.ID)
		}
		if _, err := cron.ParseStandard(j.Schedule); err != nil {
			return nil, fmt.Errorf("job %s: %w %q: %v", j.ID, model.ErrInvalidSchedule, j.Schedule, err)
		}
		if j.Task == nil {
			return nil, fmt.Errorf("job %s has no task", j.ID)
		}
		s.jobs[j.ID] = &jobState{Job: j}
		s.order = append(s.order, j.ID)
	}
	return s, nil
}

// Initialize loads persisted job config, registers enabled jobs and starts
// the timer loop. Calling it on a started scheduler does nothing.
func (s *Scheduler) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.draining > 0 {
		return fmt.Errorf("%w: shutdown still in progress", model.ErrSchedulerStopped)
	}
	if err := s.loadLocked(ctx); err != nil {
		return err
	}
	s.stopping = false

	s.cron = cron.New(cron.WithLocation(s.loc), cron.WithLogger(cronLogger{s.log}))
	for _, id := range s.order {
		j := s.jobs[id]
		j.registered = false
		if j.Enabled {
			if err := s.register(j); err != nil {
				return err
			}
		}
	}

	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	s.started = true
	s.log.Info().Int("jobs", len(s.order)).Str("timezone", s.loc.String()).Msg("scheduler started")
	return nil
}

// Load applies persisted job config without starting timers. One-shot
// commands use it to see operator changes.
func (s *Scheduler) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

// loadLocked overlays persisted rows on the catalog and writes rows for
// jobs that have none yet.
func (s *Scheduler) loadLocked(ctx context.Context) error {
	persisted, err := s.store.LoadJobConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load job config: %w", err)
	}
	for _, id := range s.order {
		j := s.jobs[id]
		c, ok := persisted[id]
		if !ok {
			if err := s.store.SaveJobConfig(ctx, j.config()); err != nil {
				return fmt.Errorf("save job config %s: %w", id, err)
			}
			continue
		}
		if _, err := cron.ParseStandard(c.Schedule); err == nil {
			j.Schedule = c.Schedule
		} else {
			s.log.Warn().Str("job", id).Str("schedule", c.Schedule).Msg("ignoring unparsable persisted schedule")
		}
		j.Enabled = c.Enabled
		j.lastRun = c.LastRun
		j.lastStatus = c.LastStatus
	}
	return nil
}

// Shutdown stops the timers and waits for running jobs, timer driven or
// manual, until ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.draining++
	var stopped context.Context
	if s.started {
		stopped = s.cron.Stop()
		s.started = false
		for _, j := range s.jobs {
			j.registered = false
		}
	}
	cancel := s.cancel
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if stopped != nil {
			<-stopped.Done()
		}
		s.inflight.Wait()
		s.mu.Lock()
		s.draining--
		s.mu.Unlock()
		close(done)
	}()

	defer cancel()
	select {
	case <-done:
		if stopped != nil {
			s.log.Info().Msg("scheduler stopped")
		}
		return nil
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out with jobs still running")
		return ctx.Err()
	}
}

// Initialized reports whether the timer loop is running.
func (s *Scheduler) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// register must be called with s.mu held.
func (s *Scheduler) register(j *jobState) error {
	id := j.ID
	entry, err := s.cron.AddFunc(j.Schedule, func() { s.fire(id) })
	if err != nil {
		return fmt.Errorf("register job %s: %w", id, err)
	}
	j.entry, j.registered = entry, true
	return nil
}

// unregister must be called with s.mu held.
func (s *Scheduler) unregister(j *jobState) {
	if j.registered {
		s.cron.Remove(j.entry)
		j.registered = false
	}
}

func (s *Scheduler) lookup(id string) (*jobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrJobNotFound, id)
	}
	return j, nil
}

// fire is the timer callback. Missed fires are dropped, never queued.
func (s *Scheduler) fire(id string) {
	j, err := s.lookup(id)
	if err != nil {
		return
	}
	if !j.exec.TryLock() {
		s.log.Warn().Str("job", id).Msg("job still running, timer fire skipped")
		if s.metrics != nil {
			s.metrics.RecordSkippedFire(id)
		}
		return
	}
	defer j.exec.Unlock()

	ctx, err := s.begin(j)
	if err != nil {
		s.log.Debug().Err(err).Str("job", id).Msg("timer fire after shutdown dropped")
		return
	}
	s.execute(ctx, j, "timer")
}

// RunJobNow runs the job on the caller's goroutine. It returns
// AlreadyRunningError when the job holds its mutex. A failing task is
// reported through the returned status, not the error.
func (s *Scheduler) RunJobNow(ctx context.Context, id string) (model.JobStatus, error) {
	j, err := s.lookup(id)
	if err != nil {
		return model.JobStatus{}, err
	}
	if !j.exec.TryLock() {
		st, _ := s.JobStatus(id)
		s.log.Warn().Str("job", id).Msg("manual run refused, job already running")
		return st, &model.AlreadyRunningError{JobID: id}
	}
	defer j.exec.Unlock()

	if _, err := s.begin(j); err != nil {
		s.log.Warn().Str("job", id).Msg("manual run refused, scheduler shut down")
		st, _ := s.JobStatus(id)
		return st, err
	}
	s.execute(ctx, j, "manual")
	return s.JobStatus(id)
}

// begin marks j running and adds it to inflight, or refuses once Shutdown
// has started. It returns the context timer-driven runs use.
func (s *Scheduler) begin(j *jobState) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return nil, fmt.Errorf("%w: %s", model.ErrSchedulerStopped, j.ID)
	}
	s.inflight.Add(1)
	j.running = true
	return s.runCtx, nil
}

// execute runs a job that begin admitted. The caller holds j.exec.
func (s *Scheduler) execute(ctx context.Context, j *jobState, trigger string) {
	defer s.inflight.Done()

	if s.metrics != nil {
		s.metrics.SetJobRunning(j.ID, true)
	}

	logger := s.log.With().Str("job", j.ID).Str("trigger", trigger).Logger()
	logger.Info().Msg("job started")

	var run *updatelog.Run
	if s.updates != nil {
		run = s.updates.Start(ctx, j.ID, map[string]any{"trigger": trigger})
	}

	start := s.now()
	out, err := runTask(ctx, j.Task)
	elapsed := s.now().Sub(start)

	status := string(model.StatusSuccess)
	msg := out.Message
	if err != nil {
		status = string(model.StatusError)
		msg = err.Error()
	}

	s.mu.Lock()
	j.running = false
	j.lastRun = start
	j.lastStatus = status
	j.lastMessage = msg
	j.lastDuration = elapsed
	cfg := j.config()
	st := s.statusLocked(j)
	s.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	if perr := s.store.SaveJobConfig(bg, cfg); perr != nil {
		logger.Error().Err(perr).Msg("persist job status")
	}
	if run != nil {
		run.Finish(bg, err, out.Message, out.Details)
	}
	if s.metrics != nil {
		s.metrics.SetJobRunning(j.ID, false)
		s.metrics.RecordJobRun(j.ID, status, elapsed)
	}

	if err != nil {
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("job failed")
	} else {
		logger.Info().Str("result", msg).Int("failed_symbols", len(out.Failed)).Dur("elapsed", elapsed).Msg("job finished")
	}

	if s.notifier != nil && (err != nil || len(out.Failed) > 0) {
		text := notifier.FormatJobResult(st, out.Failed)
		if nerr := s.notifier.SendWithRetry(bg, text, 3); nerr != nil {
			logger.Error().Err(nerr).Msg("send job notification")
		}
	}
}

// runTask turns a panicking task into an error so the job always returns
// to idle.
func runTask(ctx context.Context, task Task) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// Toggle enables or disables a job and persists the change.
func (s *Scheduler) Toggle(ctx context.Context, id string, enabled bool) (model.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return model.JobStatus{}, fmt.Errorf("%w: %s", model.ErrJobNotFound, id)
	}

	prev := j.Enabled
	j.Enabled = enabled
	if err := s.store.SaveJobConfig(ctx, j.config()); err != nil {
		j.Enabled = prev
		return model.JobStatus{}, fmt.Errorf("save job config %s: %w", id, err)
	}
	if s.started {
		if enabled && !j.registered {
			if err := s.register(j); err != nil {
				return model.JobStatus{}, err
			}
		} else if !enabled {
			s.unregister(j)
		}
	}
	s.log.Info().Str("job", id).Bool("enabled", enabled).Msg("job toggled")
	return s.statusLocked(j), nil
}

// Reschedule validates expr as a five-field cron expression, persists it
// and re-registers the job timer.
func (s *Scheduler) Reschedule(ctx context.Context, id, expr string) (model.JobStatus, error) {
	if _, err := cron.ParseStandard(expr); err != nil {
		return model.JobStatus{}, fmt.Errorf("%w %q: %v", model.ErrInvalidSchedule, expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return model.JobStatus{}, fmt.Errorf("%w: %s", model.ErrJobNotFound, id)
	}

	prev := j.Schedule
	j.Schedule = expr
	if err := s.store.SaveJobConfig(ctx, j.config()); err != nil {
		j.Schedule = prev
		return model.JobStatus{}, fmt.Errorf("save job config %s: %w", id, err)
	}
	if s.started && j.registered {
		s.unregister(j)
		if err := s.register(j); err != nil {
			return model.JobStatus{}, err
		}
	}
	s.log.Info().Str("job", id).Str("schedule", expr).Msg("job rescheduled")
	return s.statusLocked(j), nil
}

// Status lists every job in catalog order.
func (s *Scheduler) Status() []model.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.JobStatus, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.statusLocked(s.jobs[id]))
	}
	return out
}

// JobStatus returns one job's status.
func (s *Scheduler) JobStatus(id string) (model.JobStatus, error) {
	j, err := s.lookup(id)
	if err != nil {
		return model.JobStatus{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(j), nil
}

func (s *Scheduler) statusLocked(j *jobState) model.JobStatus {
	st := model.JobStatus{
		ID:           j.ID,
		Name:         j.Name,
		Schedule:     j.Schedule,
		Enabled:      j.Enabled,
		Running:      j.running,
		LastStatus:   j.lastStatus,
		LastMessage:  j.lastMessage,
		LastDuration: j.lastDuration,
	}
	if !j.lastRun.IsZero() {
		t := j.lastRun
		st.LastRun = &t
	}
	if j.Enabled {
		if sched, err := cron.ParseStandard(j.Schedule); err == nil {
			next := sched.Next(s.now().In(s.loc))
			if !next.IsZero() {
				st.NextRun = &next
			}
		}
	}
	return st
}

// cronLogger routes cron's internal logging through zerolog.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
