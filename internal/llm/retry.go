package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/bowerhall/mira/internal/apperr"
	"github.com/bowerhall/mira/internal/logger"
)

// RetryConfig bounds WithRetries. MaxRetries counts total attempts.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.jitter == nil {
		c.jitter = func() time.Duration {
			return time.Duration(rand.Int64N(int64(time.Second)))
		}
	}
	return c
}

// backoff is the delay before attempt (attempt >= 2):
// min(MaxDelay, BaseDelay*2^(attempt-1) + jitter).
func (c RetryConfig) backoff(attempt int) time.Duration {
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}

	delay := c.BaseDelay*time.Duration(1<<shift) + c.jitter()
	if delay > c.MaxDelay || delay < 0 {
		delay = c.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WithRetries runs fn until it succeeds, returns a non-retryable error, or
// MaxRetries attempts have been made. The last error is returned as is.
func WithRetries[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var (
		zero    T
		lastErr error
	)

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := cfg.backoff(attempt)
			logger.Warn("retrying after transient error", "attempt", attempt, "delay", delay, "error", lastErr)

			if err := cfg.sleep(ctx, delay); err != nil {
				return zero, err
			}
		}

		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return zero, err
		}
	}

	return zero, lastErr
}

// transientPatterns are matched against the lowercased error message.
var transientPatterns = []string{
	"econnreset",
	"etimedout",
	"connection reset",
	"rate limit",
	"timeout",
	"503",
	"429",
}

// IsRetryable reports whether err is worth another attempt: API and
// stream-generation errors, provider 429/5xx statuses, network timeouts
// and resets, and messages matching known transient patterns.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	switch apperr.KindOf(err) {
	case apperr.KindAPI, apperr.KindStreamGeneration:
		return true
	case apperr.KindValidation, apperr.KindToolExecution, apperr.KindBusinessLogic:
		return false
	}

	if code, ok := statusCode(err); ok {
		return retryableStatus(code)
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

func statusCode(err error) (int, bool) {
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return aerr.StatusCode, true
	}

	var oerr *openai.Error
	if errors.As(err, &oerr) {
		return oerr.StatusCode, true
	}

	return 0, false
}

// classifyProviderError tags an SDK error so callers can tell transient
// provider failures from permanent ones.
func classifyProviderError(op string, err error, midStream bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if code, ok := statusCode(err); ok {
		if retryableStatus(code) {
			return apperr.Wrap(apperr.KindAPI, op, err)
		}
		return apperr.Wrap(apperr.KindExternalService, op, err)
	}

	if midStream {
		return apperr.Wrap(apperr.KindStreamGeneration, op, err)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return apperr.Wrap(apperr.KindNetwork, op, err)
	}

	return apperr.Wrap(apperr.KindExternalService, op, err)
}
