package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/autofix/internal/backend"
	"github.com/fyrsmithlabs/autofix/internal/issue"
	"github.com/fyrsmithlabs/autofix/internal/logging"
	"github.com/fyrsmithlabs/autofix/internal/strategy"
	"github.com/fyrsmithlabs/autofix/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// fakeStrategy records calls and returns scripted results.
type fakeStrategy struct {
	name       string
	confidence float64
	// apply is called with the 1-based call number.
	apply func(call int, is issue.Issue) (*issue.FixOutcome, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Confidence(context.Context, issue.Issue) float64 { return f.confidence }

func (f *fakeStrategy) Apply(_ context.Context, is issue.Issue) (*issue.FixOutcome, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.apply(call, is)
}

func (f *fakeStrategy) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func succeed(files ...string) func(int, issue.Issue) (*issue.FixOutcome, error) {
	return func(int, issue.Issue) (*issue.FixOutcome, error) {
		return &issue.FixOutcome{Success: true, Confidence: 0.9, FilesModified: files}, nil
	}
}

func fail() func(int, issue.Issue) (*issue.FixOutcome, error) {
	return func(int, issue.Issue) (*issue.FixOutcome, error) {
		return issue.Failed(0.9, "still broken"), nil
	}
}

func newIssue(id string, t issue.Type) issue.Issue {
	return issue.Issue{ID: id, Type: t, Severity: issue.SeverityMedium, Message: "msg " + id, FilePath: id + ".go"}
}

func newScheduler(byType map[issue.Type][]strategy.Strategy) *Scheduler {
	return New(strategy.NewSet(byType), nil)
}

// TestProcessBatch_AllUnsupported tests that issues without strategies are skipped.
func TestProcessBatch_AllUnsupported(t *testing.T) {
	s := newScheduler(nil)
	issues := []issue.Issue{
		newIssue("a", issue.TypeSecurity),
		newIssue("b", issue.TypeComplexity),
		newIssue("c", issue.TypeDeadCode),
	}

	report := s.ProcessBatch(context.Background(), issues, DefaultBatchOptions())

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Skipped)
	assert.Zero(t, report.Successful)
	assert.Zero(t, report.Failed)
	assert.Equal(t, StatusFailed, report.Status)
	assert.Zero(t, report.SuccessRate)
	for _, rec := range report.Results {
		assert.False(t, rec.Attempted)
		assert.Zero(t, rec.RetryCount)
		assert.Contains(t, rec.Error, "no strategy registered")
	}
}

func TestProcessBatch_Partial(t *testing.T) {
	fixer := &fakeStrategy{name: "fixer", confidence: 0.9, apply: succeed("x.go")}
	s := newScheduler(map[issue.Type][]strategy.Strategy{issue.TypeFormatting: {fixer}})

	issues := []issue.Issue{
		newIssue("1", issue.TypeFormatting),
		newIssue("2", issue.TypeFormatting),
		newIssue("3", issue.TypeSecurity),
		newIssue("4", issue.TypeFormatting),
		newIssue("5", issue.TypeFormatting),
	}
	report := s.ProcessBatch(context.Background(), issues, DefaultBatchOptions())

	assert.Equal(t, StatusPartial, report.Status)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 4, report.Successful)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.InDelta(t, 0.8, report.SuccessRate, 1e-9)
	assert.Equal(t, 4, fixer.Calls())

	rec := report.Results[0]
	assert.True(t, rec.Attempted)
	assert.True(t, rec.Success)
	assert.Equal(t, "fixer", rec.StrategyUsed)
	assert.InDelta(t, 0.9, rec.Confidence, 1e-9)
	assert.Equal(t, []string{"x.go"}, rec.FilesModified)
	assert.Empty(t, rec.Error)
}

func TestProcessBatch_Completed(t *testing.T) {
	fixer := &fakeStrategy{name: "fixer", confidence: 1, apply: succeed()}
	s := newScheduler(map[issue.Type][]strategy.Strategy{issue.TypeFormatting: {fixer}})

	report := s.ProcessBatch(context.Background(), []issue.Issue{newIssue("1", issue.TypeFormatting)}, BatchOptions{BatchID: "b-1"})

	assert.Equal(t, "b-1", report.BatchID)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, 1.0, report.SuccessRate)
	assert.False(t, report.EndTime.Before(report.StartTime))
}

func TestProcessBatch_Empty(t *testing.T) {
	s := newScheduler(nil)
	report := s.ProcessBatch(context.Background(), nil, DefaultBatchOptions())

	assert.NotEmpty(t, report.BatchID, "batch id is generated")
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Zero(t, report.Total)
	assert.Zero(t, report.SuccessRate)
	assert.Empty(t, report.Results)
}

// TestProcessIssue_RetriesUntilSuccess tests that a later pass can succeed.
func TestProcessIssue_RetriesUntilSuccess(t *testing.T) {
	flaky := &fakeStrategy{name: "flaky", confidence: 0.8, apply: func(call int, _ issue.Issue) (*issue.FixOutcome, error) {
		if call < 3 {
			return issue.Failed(0.8), nil
		}
		return &issue.FixOutcome{Success: true}, nil
	}}
	s := newScheduler(map[issue.Type][]strategy.Strategy{issue.TypeSecurity: {flaky}})

	rec := s.ProcessIssue(context.Background(), newIssue("a", issue.TypeSecurity), 2)

	assert.True(t, rec.Success)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, 3, flaky.Calls())
}

func TestProcessIssue_Exhausted(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		wantCalls  int
	}{
		{"no retries", 0, 1},
		{"default retries", DefaultMaxRetries, 3},
		{"five retries", 5, 6},
		{"negative treated as zero", -1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			never := &fakeStrategy{name: "never", confidence: 0.9, apply: fail()}
			s := newScheduler(map[issue.Type][]strategy.Strategy{issue.TypeSecurity: {never}})

			rec := s.ProcessIssue(context.Background(), newIssue("a", issue.TypeSecurity), tt.maxRetries)

			assert.True(t, rec.Attempted)
			assert.False(t, rec.Success)
			assert.Equal(t, errExhausted, rec.Error)
			assert.Equal(t, tt.wantCalls, never.Calls())
			assert.Equal(t, tt.wantCalls-1, rec.RetryCount)
			assert.LessOrEqual(t, rec.RetryCount, max(tt.maxRetries, 0)+1)
		})
	}
}

// TestProcessIssue_FinalPassErrorBecomesRecordError tests error propagation from the last pass.
func TestProcessIssue_FinalPassErrorBecomesRecordError(t *testing.T) {
	broken := &fakeStrategy{name: "broken", confidence: 0.9, apply: func(call int, _ issue.Issue) (*issue.FixOutcome, error) {
		return nil, fmt.Errorf("attempt %d exploded", call)
	}}
	s := newScheduler(map[issue.Type][]strategy.Strategy{issue.TypeSecurity: {broken}})

	rec := s.ProcessIssue(context.Background(), newIssue("a", issue.TypeSecurity), 2)

	assert.False(t, rec.Success)
	assert.Equal(t, "attempt 3 exploded", rec.Error)
	assert.Equal(t, 2, rec.RetryCount)
}

func TestProcessIssue_PanicIsCaught(t *testing.T) {
	panicky := &fakeStrategy{name: "panicky", confidence: 0.9, apply: func(int, issue.Issue) (*issue.FixOutcome, error) {
		panic("kaboom")
	}}
	s := newScheduler(map[issue.Type][]strategy.Strategy{issue.TypeSecurity: {panicky}})

	rec := s.ProcessIssue(context.Background(), newIssue("a", issue.TypeSecurity), 1)

	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "kaboom")
	assert.Equal(t, 2, panicky.Calls())
}

func TestProcessIssue_LowConfidenceSkipped(t *testing.T) {
	timid := &fakeStrategy{name: "timid", confidence: 0.69, apply: succeed()}
	bold := &fakeStrategy{name: "bold", confidence: ConfidenceThreshold, apply: succeed("b.go")}
	s := newScheduler(map[issue.Type][]strategy.Strategy{issue.TypeSecurity: {timid, bold}})

	rec := s.ProcessIssue(context.Background(), newIssue("a", issue.TypeSecurity), 2)

	assert.True(t, rec.Success)
	assert.Equal(t, "bold", rec.StrategyUsed)
	assert.Zero(t, timid.Calls())
	assert.Equal(t, 1, bold.Calls())
}

func TestProcessIssue_OnlyLowConfidence(t *testing.T) {
	timid := &fakeStrategy{name: "timid", confidence: 0.5, apply: succeed()}
	s := newScheduler(map[issue.Type][]strategy.Strategy{issue.TypeSecurity: {timid}})

	rec := s.ProcessIssue(context.Background(), newIssue("a", issue.TypeSecurity), 2)

	assert.True(t, rec.Attempted)
	assert.False(t, rec.Success)
	assert.Equal(t, errExhausted, rec.Error)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Zero(t, timid.Calls())
}

func TestProcessIssue_FallsThroughCandidates(t *testing.T) {
	first := &fakeStrategy{name: "first", confidence: 0.9, apply: func(int, issue.Issue) (*issue.FixOutcome, error) {
		return nil, errors.New("first failed")
	}}
	second := &fakeStrategy{name: "second", confidence: 0.9, apply: succeed()}
	s := newScheduler(map[issue.Type][]strategy.Strategy{issue.TypeSecurity: {first, second}})

	rec := s.ProcessIssue(context.Background(), newIssue("a", issue.TypeSecurity), 2)

	assert.True(t, rec.Success)
	assert.Equal(t, "second", rec.StrategyUsed)
	assert.Zero(t, rec.RetryCount)
	assert.Empty(t, rec.Error)
}

func TestProcessIssue_CanceledContext(t *testing.T) {
	fixer := &fakeStrategy{name: "fixer", confidence: 0.9, apply: succeed()}
	s := newScheduler(map[issue.Type][]strategy.Strategy{issue.TypeSecurity: {fixer}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := s.ProcessIssue(ctx, newIssue("a", issue.TypeSecurity), 2)

	assert.True(t, rec.Attempted)
	assert.False(t, rec.Success)
	assert.Equal(t, context.Canceled.Error(), rec.Error)
	assert.Zero(t, fixer.Calls())
}

// TestProcessBatch_OrderPreserved tests that results follow submission order in both modes.
func TestProcessBatch_OrderPreserved(t *testing.T) {
	for _, parallel := range []bool{true, false} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			slowFirst := &fakeStrategy{name: "sleepy", confidence: 0.9, apply: func(_ int, is issue.Issue) (*issue.FixOutcome, error) {
				if is.ID == "0" {
					time.Sleep(30 * time.Millisecond)
				}
				return &issue.FixOutcome{Success: true}, nil
			}}
			s := newScheduler(map[issue.Type][]strategy.Strategy{issue.TypeFormatting: {slowFirst}})

			var issues []issue.Issue
			for i := 0; i < 10; i++ {
				typ := issue.TypeFormatting
				if i%3 == 0 && i > 0 {
					typ = issue.TypeSecurity
				}
				issues = append(issues, newIssue(fmt.Sprint(i), typ))
			}

			report := s.ProcessBatch(context.Background(), issues, BatchOptions{MaxRetries: 1, Parallel: parallel})

			require.Len(t, report.Results, len(issues))
			for i, rec := range report.Results {
				assert.Equal(t, issues[i].ID, rec.Issue.ID)
			}
			assert.Equal(t, report.Total, report.Successful+report.Failed+report.Skipped)
			assert.Equal(t, 3, report.Skipped)
		})
	}
}

func TestProcessBatch_ParallelRunsConcurrently(t *testing.T) {
	var inflight, peak int32
	gate := make(chan struct{})
	st := &fakeStrategy{name: "gate", confidence: 0.9, apply: func(int, issue.Issue) (*issue.FixOutcome, error) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-gate
		atomic.AddInt32(&inflight, -1)
		return &issue.FixOutcome{Success: true}, nil
	}}
	s := newScheduler(map[issue.Type][]strategy.Strategy{issue.TypeFormatting: {st}})
	issues := []issue.Issue{newIssue("a", issue.TypeFormatting), newIssue("b", issue.TypeFormatting), newIssue("c", issue.TypeFormatting)}

	done := make(chan *BatchReport)
	go func() { done <- s.ProcessBatch(context.Background(), issues, DefaultBatchOptions()) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&inflight) == 3 }, 2*time.Second, 5*time.Millisecond)
	close(gate)
	report := <-done

	assert.Equal(t, int32(3), atomic.LoadInt32(&peak))
	assert.Equal(t, StatusCompleted, report.Status)
}

func TestProcessBatch_FailureDoesNotCancelOthers(t *testing.T) {
	st := &fakeStrategy{name: "mixed", confidence: 0.9, apply: func(_ int, is issue.Issue) (*issue.FixOutcome, error) {
		if is.ID == "bad" {
			return nil, errors.New("bad issue")
		}
		time.Sleep(10 * time.Millisecond)
		return &issue.FixOutcome{Success: true}, nil
	}}
	s := newScheduler(map[issue.Type][]strategy.Strategy{issue.TypeFormatting: {st}})
	issues := []issue.Issue{newIssue("bad", issue.TypeFormatting), newIssue("good1", issue.TypeFormatting), newIssue("good2", issue.TypeFormatting)}

	report := s.ProcessBatch(context.Background(), issues, BatchOptions{MaxRetries: 0, Parallel: true})

	assert.Equal(t, StatusPartial, report.Status)
	assert.Equal(t, 2, report.Successful)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "bad issue", report.Results[0].Error)
}

func TestProcessBatch_LogsCarryBatchID(t *testing.T) {
	logger := logging.NewTestLogger()
	s := New(strategy.NewSet(nil), logger.Logger)

	s.ProcessBatch(context.Background(), []issue.Issue{newIssue("a", issue.TypeSecurity)}, BatchOptions{BatchID: "batch-42"})

	logger.AssertLogged(t, zapcore.InfoLevel, "batch finished")
	logger.AssertField(t, "batch finished", "batch.id", "batch-42")
	logger.AssertField(t, "batch finished", "status", "failed")
}

func TestProcessBatch_Spans(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	t.Cleanup(func() { _ = tt.Shutdown(context.Background()) })

	fixer := &fakeStrategy{name: "fixer", confidence: 0.9, apply: succeed()}
	s := New(strategy.NewSet(map[issue.Type][]strategy.Strategy{issue.TypeFormatting: {fixer}}), nil,
		WithTracer(tt.Tracer("test")))

	s.ProcessBatch(context.Background(), []issue.Issue{
		newIssue("a", issue.TypeFormatting),
		newIssue("b", issue.TypeFormatting),
	}, BatchOptions{BatchID: "traced", Parallel: true})

	require.Len(t, tt.Spans(), 3)
	tt.AssertSpanExists(t, "scheduler.ProcessIssue")
	tt.AssertSpanAttribute(t, "scheduler.ProcessBatch", "batch.id", "traced")
	tt.AssertSpanAttribute(t, "scheduler.ProcessBatch", "batch.status", "completed")
	tt.AssertSpanAttribute(t, "scheduler.ProcessBatch", "batch.successful", int64(2))
}

func TestTaskHandler(t *testing.T) {
	var seen issue.Issue
	fixer := &fakeStrategy{name: "fixer", confidence: 0.9, apply: func(_ int, is issue.Issue) (*issue.FixOutcome, error) {
		seen = is
		return &issue.FixOutcome{Success: true, FilesModified: []string{is.FilePath}}, nil
	}}
	s := newScheduler(map[issue.Type][]strategy.Strategy{issue.TypeFormatting: {fixer}})
	handler := s.TaskHandler(1)

	is := issue.Issue{ID: "i-7", Type: issue.TypeFormatting, Severity: issue.SeverityHigh, Message: "fmt", FilePath: "pkg/a.go", LineNumber: 12}
	res := handler(context.Background(), backend.ItemFromIssue(3, is))

	assert.Equal(t, "task_3_formatting", res.TaskID)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.FixesAppliedCount)
	assert.Equal(t, []string{"pkg/a.go"}, res.FilesModified)
	assert.Equal(t, "fixer", res.Metadata["strategy"])
	assert.Empty(t, res.Errors)
	assert.Equal(t, is, seen)

	unsupported := handler(context.Background(), backend.ItemFromIssue(0, newIssue("x", issue.TypeSecurity)))
	assert.False(t, unsupported.Success)
	assert.Equal(t, "false", unsupported.Metadata["attempted"])
	require.Len(t, unsupported.Errors, 1)
}
