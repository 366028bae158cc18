package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/tally/internal/observability/context"
	obslogger "github.com/smallbiznis/tally/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun tallies one pass of a job for the finish log line.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time
	processed int
	failed    int
}

func (r *jobRun) AddProcessed(n int) {
	if r != nil && n > 0 {
		r.processed += n
	}
}

func (r *jobRun) fields() []zap.Field {
	return []zap.Field{
		zap.String("job", r.job),
		zap.String("run_id", r.runID),
	}
}

func (s *Scheduler) newJobRun(job string) *jobRun {
	return &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: s.cfg.BatchSize,
		startedAt: s.clock.Now(),
	}
}

// withLogContext marks work done by the scheduler so audit entries and logs
// name the job as the actor.
func (s *Scheduler) withLogContext(ctx context.Context, job string, orgID snowflake.ID) context.Context {
	ctx = obscontext.WithActor(ctx, "scheduler", job)
	if orgID != 0 {
		ctx = obscontext.WithOrgID(ctx, orgID.String())
	}
	return ctx
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Debug("scheduler.job.start", append(run.fields(), zap.Int("batch_size", run.batchSize))...)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := append(run.fields(),
		zap.Duration("took", s.clock.Now().Sub(run.startedAt)),
		zap.Int("processed", run.processed),
		zap.Int("failed", run.failed),
	)
	switch log := s.logger(ctx); {
	case run.failed > 0:
		log.Warn("scheduler.job.finish", fields...)
	case run.processed > 0:
		log.Info("scheduler.job.finish", fields...)
	default:
		log.Debug("scheduler.job.finish", fields...)
	}
}

func (s *Scheduler) logJobError(ctx context.Context, run *jobRun, msg string, orgID snowflake.ID, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.failed++
	fields = append(append(run.fields(),
		zap.String("error_type", obsmetrics.ClassifyJobError(err)),
		zap.Error(err),
	), fields...)
	s.logger(s.withLogContext(ctx, run.job, orgID)).Error(msg, fields...)
}
