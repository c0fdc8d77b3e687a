package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleeps replaces real sleeping and captures requested delays.
func recordSleeps(p *Policy) *[]time.Duration {
	var delays []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return &delays
}

var errFlaky = Transient(errors.New("flaky"))

func TestDoValue_SucceedsAfterKFailures(t *testing.T) {
	for k := 0; k < 4; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			p := Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, Multiplier: 2}
			recordSleeps(&p)

			calls := 0
			got, err := DoValue(context.Background(), p, func(ctx context.Context) (string, error) {
				calls++
				if calls <= k {
					return "", errFlaky
				}
				return "ok", nil
			})

			require.NoError(t, err)
			assert.Equal(t, "ok", got)
			assert.Equal(t, k+1, calls)
		})
	}
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond}
	delays := recordSleeps(&p)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Transient(fmt.Errorf("failure %d", calls))
	})

	require.Error(t, err)
	assert.Equal(t, "failure 3", err.Error())
	assert.Equal(t, 3, calls)
	assert.Len(t, *delays, 2, "no sleep after the final attempt")
}

func TestDo_NonRetryablePropagatesImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialDelay: time.Millisecond}
	delays := recordSleeps(&p)
	permanent := errors.New("bad request")

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestDo_CustomPredicate(t *testing.T) {
	sentinel := errors.New("retry me")
	p := Policy{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return errors.Is(err, sentinel) },
	}
	recordSleeps(&p)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, calls)
}

func TestNextDelay_ExponentialWithCeiling(t *testing.T) {
	p := Policy{MaxAttempts: 10, InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 500 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.NextDelay(1))
	assert.Equal(t, 200*time.Millisecond, p.NextDelay(2))
	assert.Equal(t, 400*time.Millisecond, p.NextDelay(3))
	assert.Equal(t, 500*time.Millisecond, p.NextDelay(4))
	assert.Equal(t, 500*time.Millisecond, p.NextDelay(60))
}

func TestNextDelay_JitterRange(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialDelay: time.Second, Multiplier: 2, Jitter: true}

	p.random = func() float64 { return 0 }
	assert.Equal(t, 500*time.Millisecond, p.NextDelay(1))

	p.random = func() float64 { return 1 }
	assert.Equal(t, time.Second, p.NextDelay(1))

	p.random = nil
	for i := 0; i < 100; i++ {
		d := p.NextDelay(2)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}

func TestNextDelay_JitterThenCap(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialDelay: 4 * time.Second, Multiplier: 2, Jitter: true, MaxDelay: time.Second}
	p.random = func() float64 { return 0.5 }
	assert.Equal(t, time.Second, p.NextDelay(1))
}

func TestDo_ContextCanceledDuringWait(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(ctx context.Context) error {
			calls++
			return errFlaky
		})
	}()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestValidate(t *testing.T) {
	assert.Error(t, Policy{MaxAttempts: 0}.Validate())
	assert.Error(t, Policy{MaxAttempts: 1, InitialDelay: -1}.Validate())
	assert.NoError(t, DefaultPolicy().Validate())

	_, err := DoValue(context.Background(), Policy{}, func(ctx context.Context) (int, error) { return 1, nil })
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"marked", Transient(errors.New("boom")), true},
		{"wrapped marked", fmt.Errorf("call: %w", Transient(errors.New("boom"))), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("unreachable")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
	assert.Nil(t, Transient(nil))
}
