package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/clock"
	"github.com/smallbiznis/boxoffice/internal/config"
	obsmetrics "github.com/smallbiznis/boxoffice/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/boxoffice/internal/payout/domain"
	"github.com/smallbiznis/boxoffice/internal/ratelimit"
	"github.com/smallbiznis/boxoffice/internal/scheduler/guard"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobPayouts = "payouts"

var (
	ErrRunInProgress = guard.ErrBusy
	ErrInvalidConfig = errors.New("invalid scheduler config")
)

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	GenID    *snowflake.Node
	Engine   payoutdomain.Engine
	Policies *config.PolicyHolder
	Locker   *ratelimit.Locker            `optional:"true"`
	Metrics  *obsmetrics.SchedulerMetrics `optional:"true"`
	Config   Config                       `optional:"true"`
}

// RunRecord describes the most recent finished run.
type RunRecord struct {
	RunID      string                    `json:"run_id"`
	Mode       payoutdomain.Mode         `json:"mode"`
	Trigger    Trigger                   `json:"trigger"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Result     *payoutdomain.BatchResult `json:"result,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

type Status struct {
	IsRunning            bool       `json:"is_running"`
	NextScheduledRunTime *time.Time `json:"next_scheduled_run_time,omitempty"`
	RunInProgress        bool       `json:"run_in_progress"`
	LastRun              *RunRecord `json:"last_run,omitempty"`
}

// Scheduler fires an automated payout run once a day and serves manual runs.
// At most one run is active at a time.
type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	genID    *snowflake.Node
	engine   payoutdomain.Engine
	policies *config.PolicyHolder
	metrics  *obsmetrics.SchedulerMetrics
	guard    *guard.Guard

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	nextRun time.Time
	lastRun *RunRecord
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil || p.Engine == nil || p.Policies == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults(p.Policies.Get().Payout)
	log := p.Log.Named("scheduler").With(zap.String("component", "scheduler"))

	g := guard.New(p.Locker, cfg.LockKey, cfg.LockTTL)
	g.OnLockError = func(op string, err error) {
		if op == guard.OpRelease {
			log.Error("scheduler lock release failed, lease held until ttl",
				zap.String("lock_key", cfg.LockKey),
				zap.Duration("lock_ttl", cfg.LockTTL),
				zap.Error(err),
			)
			return
		}
		log.Warn("scheduler lock unavailable, continuing with local guard", zap.Error(err))
	}

	return &Scheduler{
		log:      log,
		cfg:      cfg,
		clock:    p.Clock,
		genID:    p.GenID,
		engine:   p.Engine,
		policies: p.Policies,
		metrics:  p.Metrics,
		guard:    g,
	}, nil
}

// Start arms the daily timer. Calling it while running is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	next, err := NextRunAfter(s.policies.Get().Payout, s.clock.Now())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done
	s.nextRun = next

	go s.loop(ctx, done, next)
	s.log.Info("scheduler.started", zap.Time("next_run_at", next))
	return nil
}

// Stop disarms the timer and waits for the loop to exit. A scheduled run in
// flight is cancelled. Calling it while stopped is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.nextRun = time.Time{}
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info("scheduler.stopped")
}

// RunNow runs a payout batch immediately, whether or not the timer is armed.
func (s *Scheduler) RunNow(ctx context.Context, mode payoutdomain.Mode) (*payoutdomain.BatchResult, error) {
	if !mode.Valid() {
		return nil, payoutdomain.ErrInvalidMode
	}
	return s.run(ctx, mode, TriggerManual)
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		IsRunning:     s.running,
		RunInProgress: s.guard.Busy(),
	}
	if s.running {
		next := s.nextRun
		status.NextScheduledRunTime = &next
	}
	if s.lastRun != nil {
		last := *s.lastRun
		status.LastRun = &last
	}
	return status
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}, next time.Time) {
	defer close(done)
	for {
		timer := s.clock.NewTimer(next.Sub(s.clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}

		s.metrics.ObserveRunLoopLag(s.clock.Now().Sub(next))
		if _, err := s.run(ctx, payoutdomain.ModeAutomated, TriggerScheduled); err != nil && !isSkip(err) {
			s.log.Warn("scheduled payout run failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}

		after := s.clock.Now()
		if after.Before(next) {
			after = next
		}
		planned, err := NextRunAfter(s.policies.Get().Payout, after)
		if err != nil {
			s.log.Error("invalid payout run time, keeping previous schedule", zap.Error(err))
			planned = next.Add(24 * time.Hour)
		}
		next = planned

		s.mu.Lock()
		if s.done == done {
			s.nextRun = next
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) run(ctx context.Context, mode payoutdomain.Mode, trigger Trigger) (*payoutdomain.BatchResult, error) {
	release, err := s.guard.Acquire(ctx)
	if err != nil {
		reason := obsmetrics.SchedulerSkipReasonAlreadyRunning
		if errors.Is(err, guard.ErrLockHeld) {
			reason = obsmetrics.SchedulerSkipReasonLockHeld
		}
		s.logSkipped(ctx, trigger, reason)
		return nil, err
	}
	defer release()
	return s.runJob(ctx, mode, trigger)
}

func (s *Scheduler) runJob(parent context.Context, mode payoutdomain.Mode, trigger Trigger) (result *payoutdomain.BatchResult, err error) {
	policy := s.policies.Get().Payout
	ctx := parent
	if policy.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, policy.RunTimeout)
		defer cancel()
	}
	ctx = s.withLogContext(ctx, trigger)

	run := &jobRun{
		job:       jobPayouts,
		runID:     s.genID.Generate().String(),
		mode:      mode,
		trigger:   trigger,
		batchSize: policy.BatchSize,
		startedAt: s.clock.Now().UTC(),
		wallStart: time.Now(),
	}
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(jobPayouts)

	defer func() {
		s.metrics.ObserveJobDuration(jobPayouts, time.Since(run.wallStart))
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				s.metrics.IncJobTimeout(jobPayouts)
			}
			s.metrics.IncJobError(jobPayouts, err)
		}
		s.recordRun(run, result, err)
		s.logJobFinish(ctx, run, result, err)
	}()
	defer recoverRun(s.log, run.runID, &err)

	return s.engine.RunPayouts(ctx, mode)
}

func (s *Scheduler) recordRun(run *jobRun, result *payoutdomain.BatchResult, err error) {
	record := &RunRecord{
		RunID:      run.runID,
		Mode:       run.mode,
		Trigger:    run.trigger,
		StartedAt:  run.startedAt,
		FinishedAt: s.clock.Now().UTC(),
		Result:     result,
	}
	if err != nil {
		record.Error = err.Error()
	}
	s.mu.Lock()
	s.lastRun = record
	s.mu.Unlock()
}

func isSkip(err error) bool {
	return errors.Is(err, guard.ErrBusy) || errors.Is(err, guard.ErrLockHeld)
}
