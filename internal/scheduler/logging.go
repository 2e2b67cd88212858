package scheduler

import (
	"context"
	"time"

	auditdomain "github.com/smallbiznis/boxoffice/internal/audit/domain"
	obscontext "github.com/smallbiznis/boxoffice/internal/observability/context"
	obslogger "github.com/smallbiznis/boxoffice/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/boxoffice/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/boxoffice/internal/payout/domain"
	"go.uber.org/zap"
)

type jobRun struct {
	job       string
	runID     string
	mode      payoutdomain.Mode
	trigger   Trigger
	batchSize int
	startedAt time.Time
	wallStart time.Time
}

// withLogContext marks scheduled runs as scheduler-initiated. Manual runs keep
// the caller's actor.
func (s *Scheduler) withLogContext(ctx context.Context, trigger Trigger) context.Context {
	if _, role := obscontext.ActorFromContext(ctx); role != "" && trigger == TriggerManual {
		return ctx
	}
	return obscontext.WithActor(ctx, "", string(auditdomain.ActorTypeScheduler))
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("mode", string(run.mode)),
		zap.String("trigger", string(run.trigger)),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun, result *payoutdomain.BatchResult, err error) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("mode", string(run.mode)),
		zap.String("trigger", string(run.trigger)),
		zap.Int64("duration_ms", time.Since(run.wallStart).Milliseconds()),
	}
	if result != nil {
		fields = append(fields,
			zap.Int("processed_count", result.TotalProcessed),
			zap.Int("success_count", result.SuccessCount),
			zap.Int("failure_count", result.FailureCount),
			zap.Int("skipped_count", result.SkippedCount),
		)
	}
	log := s.logger(ctx)
	if err != nil {
		log.Error("scheduler.job.finish", append(fields,
			zap.String("error_type", obsmetrics.ClassifySchedulerJobReason(err)),
			zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
			zap.Error(err),
		)...)
		return
	}
	if result != nil && result.FailureCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logSkipped(ctx context.Context, trigger Trigger, reason string) {
	s.metrics.IncJobSkipped(jobPayouts, reason)
	s.logger(ctx).Warn("scheduler.tick.skipped",
		zap.String("job", jobPayouts),
		zap.String("trigger", string(trigger)),
		zap.String("reason", reason),
	)
}
