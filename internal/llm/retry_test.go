package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowerhall/mira/internal/apperr"
)

// fakeClock records requested delays instead of sleeping.
type fakeClock struct {
	delays []time.Duration
}

func (f *fakeClock) config(jitter time.Duration) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.sleep = func(ctx context.Context, d time.Duration) error {
		f.delays = append(f.delays, d)
		return ctx.Err()
	}
	cfg.jitter = func() time.Duration { return jitter }
	return cfg
}

func (f *fakeClock) total() time.Duration {
	var sum time.Duration
	for _, d := range f.delays {
		sum += d
	}
	return sum
}

func TestWithRetriesSucceedsOnThirdAttempt(t *testing.T) {
	for _, jitter := range []time.Duration{0, 500 * time.Millisecond, time.Second - 1} {
		clock := &fakeClock{}
		cfg := clock.config(jitter)

		attempts := 0
		got, err := WithRetries(context.Background(), cfg, func(ctx context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", apperr.New(apperr.KindAPI, "test", "overloaded")
			}
			return "done", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "done", got)
		assert.Equal(t, 3, attempts)
		require.Len(t, clock.delays, 2)

		assert.GreaterOrEqual(t, clock.total(), cfg.BaseDelay)
		assert.LessOrEqual(t, clock.total(), 2*cfg.MaxDelay)
	}
}

func TestBackoffSchedule(t *testing.T) {
	cfg := (&fakeClock{}).config(250 * time.Millisecond).withDefaults()

	assert.Equal(t, 2250*time.Millisecond, cfg.backoff(2))
	assert.Equal(t, 4250*time.Millisecond, cfg.backoff(3))
	assert.Equal(t, 8250*time.Millisecond, cfg.backoff(4))
	assert.Equal(t, 10*time.Second, cfg.backoff(5))
	assert.Equal(t, 10*time.Second, cfg.backoff(60))
}

func TestWithRetriesExhausted(t *testing.T) {
	clock := &fakeClock{}
	cfg := clock.config(0)

	attempts := 0
	last := apperr.New(apperr.KindStreamGeneration, "test", "stream dropped")
	_, err := WithRetries(context.Background(), cfg, func(ctx context.Context) (int, error) {
		attempts++
		return 0, last
	})

	assert.Same(t, last, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, clock.delays, 2)
}

func TestWithRetriesStopsOnPermanentError(t *testing.T) {
	clock := &fakeClock{}
	cfg := clock.config(0)

	attempts := 0
	_, err := WithRetries(context.Background(), cfg, func(ctx context.Context) (int, error) {
		attempts++
		return 0, apperr.Validation("test", "bad request")
	})

	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Equal(t, 1, attempts)
	assert.Empty(t, clock.delays)
}

func TestWithRetriesHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultRetryConfig()
	cfg.jitter = func() time.Duration { return 0 }

	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := WithRetries(ctx, cfg, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("503 service unavailable")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), time.Second)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"api kind", apperr.New(apperr.KindAPI, "x", "boom"), true},
		{"stream kind", apperr.Wrap(apperr.KindStreamGeneration, "x", errors.New("eof")), true},
		{"validation kind", apperr.Validation("x", "503 in message but permanent"), false},
		{"tool kind", apperr.New(apperr.KindToolExecution, "x", "timeout"), false},
		{"reset pattern", errors.New("read: ECONNRESET"), true},
		{"etimedout pattern", errors.New("connect ETIMEDOUT 10.0.0.1:443"), true},
		{"rate limit pattern", errors.New("rate limit exceeded"), true},
		{"timeout pattern", errors.New("request timeout"), true},
		{"503 pattern", errors.New("upstream returned 503"), true},
		{"429 pattern", errors.New("status 429"), true},
		{"title case timeout", errors.New("Request Timeout"), true},
		{"upper case timeout", errors.New("upstream TIMEOUT"), true},
		{"capitalised reset", errors.New("Connection reset by peer"), true},
		{"lower case reset code", errors.New("read: econnreset"), true},
		{"capitalised rate limit", errors.New("Rate Limit reached"), true},
		{"plain", errors.New("invalid api key"), false},
		{"net timeout", fmt.Errorf("post: %w", timeoutErr{}), true},
		{"syscall reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"context canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), false},
		{"anthropic 429", &anthropic.Error{StatusCode: http.StatusTooManyRequests}, true},
		{"anthropic 529", &anthropic.Error{StatusCode: 529}, true},
		{"anthropic 400", &anthropic.Error{StatusCode: http.StatusBadRequest}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestClassifyProviderError(t *testing.T) {
	assert.True(t, apperr.IsKind(classifyProviderError("op", &anthropic.Error{StatusCode: 503}, false), apperr.KindAPI))
	assert.True(t, apperr.IsKind(classifyProviderError("op", &anthropic.Error{StatusCode: 401}, false), apperr.KindExternalService))
	assert.True(t, apperr.IsKind(classifyProviderError("op", errors.New("unexpected EOF"), true), apperr.KindStreamGeneration))
	assert.True(t, apperr.IsKind(classifyProviderError("op", timeoutErr{}, false), apperr.KindNetwork))
	assert.ErrorIs(t, classifyProviderError("op", context.Canceled, true), context.Canceled)
}
