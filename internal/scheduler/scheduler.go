package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/autofix/internal/backend"
	"github.com/fyrsmithlabs/autofix/internal/issue"
	"github.com/fyrsmithlabs/autofix/internal/logging"
	"github.com/fyrsmithlabs/autofix/internal/strategy"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// instrumentationName names the scheduler tracer.
const instrumentationName = "github.com/fyrsmithlabs/autofix/internal/scheduler"

// Scheduler runs issues through the strategies of a strategy.Source.
// It is safe for concurrent use.
type Scheduler struct {
	source strategy.Source
	logger *logging.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler. A nil logger discards output.
func New(source strategy.Source, logger *logging.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scheduler{
		source: source,
		logger: logger.Named("scheduler"),
		tracer: otel.Tracer(instrumentationName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessBatch runs every issue and aggregates the records. It always
// returns a report.
func (s *Scheduler) ProcessBatch(ctx context.Context, issues []issue.Issue, opts BatchOptions) *BatchReport {
	if opts.BatchID == "" {
		opts.BatchID = uuid.NewString()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	ctx = logging.WithBatchID(ctx, opts.BatchID)
	ctx, span := s.tracer.Start(ctx, "scheduler.ProcessBatch", trace.WithAttributes(
		attribute.String("batch.id", opts.BatchID),
		attribute.Int("batch.size", len(issues)),
		attribute.Bool("batch.parallel", opts.Parallel),
	))
	defer span.End()

	report := &BatchReport{
		BatchID:   opts.BatchID,
		Status:    StatusInProgress,
		StartTime: s.now(),
	}
	s.logger.Info(ctx, "processing batch",
		zap.Int("issues", len(issues)),
		zap.Int("max_retries", opts.MaxRetries),
		zap.Bool("parallel", opts.Parallel),
	)

	results := make([]IssueAttemptRecord, len(issues))
	if opts.Parallel && len(issues) > 1 {
		var wg sync.WaitGroup
		for i := range issues {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = s.ProcessIssue(ctx, issues[i], opts.MaxRetries)
			}()
		}
		wg.Wait()
	} else {
		for i := range issues {
			results[i] = s.ProcessIssue(ctx, issues[i], opts.MaxRetries)
		}
	}

	report.Results = results
	report.aggregate()
	report.EndTime = s.now()
	report.Duration = report.EndTime.Sub(report.StartTime)
	BatchDuration.WithLabelValues(string(report.Status)).Observe(report.Duration.Seconds())

	span.SetAttributes(
		attribute.String("batch.status", string(report.Status)),
		attribute.Int("batch.successful", report.Successful),
		attribute.Int("batch.failed", report.Failed),
		attribute.Int("batch.skipped", report.Skipped),
	)
	if report.Status == StatusFailed && report.Total > 0 {
		span.SetStatus(codes.Error, "no issue fixed")
	}

	s.logger.Info(ctx, "batch finished",
		zap.String("status", string(report.Status)),
		zap.Int("successful", report.Successful),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Float64("success_rate", report.SuccessRate),
		zap.Duration("duration", report.Duration),
	)
	return report
}

// ProcessIssue runs one issue through up to maxRetries+1 passes over its
// candidate strategies.
func (s *Scheduler) ProcessIssue(ctx context.Context, is issue.Issue, maxRetries int) IssueAttemptRecord {
	if maxRetries < 0 {
		maxRetries = 0
	}
	ctx = logging.WithIssueID(ctx, is.ID)
	ctx, span := s.tracer.Start(ctx, "scheduler.ProcessIssue", trace.WithAttributes(
		attribute.String("issue.id", is.ID),
		attribute.String("issue.type", string(is.Type)),
		attribute.String("issue.severity", string(is.Severity)),
	))
	defer span.End()

	rec := s.run(ctx, is, maxRetries)
	recordIssue(rec)

	span.SetAttributes(
		attribute.Bool("issue.attempted", rec.Attempted),
		attribute.Bool("issue.success", rec.Success),
		attribute.Int("issue.retry_count", rec.RetryCount),
	)
	if rec.StrategyUsed != "" {
		span.SetAttributes(attribute.String("issue.strategy", rec.StrategyUsed))
	}
	if rec.Attempted && !rec.Success {
		span.SetStatus(codes.Error, rec.Error)
	}
	return rec
}

func (s *Scheduler) run(ctx context.Context, is issue.Issue, maxRetries int) IssueAttemptRecord {
	rec := IssueAttemptRecord{Issue: is}

	candidates := s.source.Candidates(is.Type)
	if len(candidates) == 0 {
		rec.Error = fmt.Sprintf("no strategy registered for issue type %q", is.Type)
		s.logger.Debug(ctx, "skipping unsupported issue", zap.String("type", string(is.Type)))
		return rec
	}

	rec.Attempted = true
	for pass := 0; pass <= maxRetries; pass++ {
		if pass > 0 {
			rec.RetryCount++
			s.logger.Debug(ctx, "retrying issue", zap.Int("retry", rec.RetryCount))
		}
		if err := ctx.Err(); err != nil {
			rec.Error = err.Error()
			return rec
		}

		var fault error
		for _, st := range candidates {
			conf := s.confidence(ctx, st, is)
			if conf < ConfidenceThreshold {
				s.logger.Trace(ctx, "strategy below confidence threshold",
					zap.String("strategy", st.Name()),
					zap.Float64("confidence", conf),
				)
				continue
			}

			out, err := s.apply(ctx, st, is)
			switch {
			case err != nil:
				fault = err
				recordAttempt(st.Name(), "error")
				s.logger.Warn(ctx, "strategy raised an error",
					zap.String("strategy", st.Name()),
					zap.Int("pass", pass),
					zap.Error(err),
				)
			case out == nil || !out.Success:
				recordAttempt(st.Name(), "failure")
				fields := []zap.Field{zap.String("strategy", st.Name()), zap.Int("pass", pass)}
				if out != nil && len(out.RemainingIssues) > 0 {
					fields = append(fields, zap.String("remaining", strings.Join(out.RemainingIssues, "; ")))
				}
				s.logger.Debug(ctx, "strategy did not fix issue", fields...)
			default:
				recordAttempt(st.Name(), "success")
				rec.Success = true
				rec.Confidence = conf
				rec.StrategyUsed = st.Name()
				rec.FilesModified = append([]string(nil), out.FilesModified...)
				s.logger.Info(ctx, "issue fixed",
					zap.String("strategy", st.Name()),
					zap.Float64("confidence", conf),
					zap.Int("retry_count", rec.RetryCount),
				)
				return rec
			}
		}

		if pass == maxRetries && fault != nil {
			rec.Error = fault.Error()
			return rec
		}
	}

	rec.Error = errExhausted
	s.logger.Warn(ctx, "issue not fixed", zap.Int("retry_count", rec.RetryCount))
	return rec
}

// confidence queries a strategy; a panic counts as zero confidence.
func (s *Scheduler) confidence(ctx context.Context, st strategy.Strategy, is issue.Issue) (conf float64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "strategy panicked in confidence",
				zap.String("strategy", st.Name()),
				zap.Any("panic", r),
			)
			conf = 0
		}
	}()
	return st.Confidence(ctx, is)
}

// apply runs a strategy, converting a panic into an error.
func (s *Scheduler) apply(ctx context.Context, st strategy.Strategy, is issue.Issue) (out *issue.FixOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("strategy %s panicked: %v", st.Name(), r)
		}
	}()
	return st.Apply(ctx, is)
}

// TaskHandler adapts the protocol to a backend.TaskHandler. The issue is
// rebuilt from the work item's context.
func (s *Scheduler) TaskHandler(maxRetries int) backend.TaskHandler {
	return func(ctx context.Context, item backend.WorkItem) backend.WorkResult {
		start := s.now()
		ctx = logging.WithTaskID(ctx, item.TaskID)
		rec := s.ProcessIssue(ctx, backend.IssueFromItem(item), maxRetries)

		res := backend.WorkResult{
			TaskID:        item.TaskID,
			Success:       rec.Success,
			FilesModified: rec.FilesModified,
			Duration:      s.now().Sub(start),
			Metadata: map[string]string{
				"attempted":   strconv.FormatBool(rec.Attempted),
				"retry_count": strconv.Itoa(rec.RetryCount),
			},
		}
		if rec.Success {
			res.FixesAppliedCount = 1
			res.Metadata["strategy"] = rec.StrategyUsed
			res.Metadata["confidence"] = strconv.FormatFloat(rec.Confidence, 'f', 2, 64)
		}
		if rec.Error != "" {
			res.Errors = []string{rec.Error}
		}
		return res
	}
}
