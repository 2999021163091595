package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/sfnsim/pkg/schema"
)

// ComputeBackoff returns the delay before the retry that follows a failed
// attempt: IntervalSeconds × (attempt+1) × BackoffRate, capped by MaxDelaySeconds.
func ComputeBackoff(rule schema.RetryRule, attempt int) time.Duration {
	seconds := rule.Interval() * float64(attempt+1) * rule.Backoff()
	if rule.MaxDelaySeconds != nil && seconds > *rule.MaxDelaySeconds {
		seconds = *rule.MaxDelaySeconds
	}
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// WaitForBackoff sleeps for delay or returns early if the context ends.
// The timer is stopped on every path so an abort never leaves it pending.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// matchRetry returns the first Retry rule whose ErrorEquals matches err.
func (e *Engine) matchRetry(rules []schema.RetryRule, err error) *schema.RetryRule {
	for i := range rules {
		if _, ok := e.matchAny(rules[i].ErrorEquals, err); ok {
			return &rules[i]
		}
	}
	return nil
}

// withRetry runs invoke until it succeeds or no Retry rule allows another
// attempt. The attempt number handed to invoke feeds $$.State.RetryCount.
func (e *Engine) withRetry(ctx context.Context, name string, rules []schema.RetryRule, invoke func(attempt int) (any, error)) (any, error) {
	attempt := 0
	for {
		out, err := invoke(attempt)
		if err == nil {
			return out, nil
		}
		if schema.IsKind(err, schema.ErrorAborted) {
			return nil, err
		}

		rule := e.matchRetry(rules, err)
		if rule == nil || attempt >= rule.Attempts() {
			return nil, err
		}

		delay := ComputeBackoff(*rule, attempt)
		e.logger.WarnContext(ctx, "retrying state",
			slog.String("state", name),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if werr := WaitForBackoff(ctx, delay); werr != nil {
			return nil, abortError(ctx)
		}
		attempt++
	}
}
