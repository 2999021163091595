package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/sfnsim/pkg/schema"
)

// executeWait sleeps for the state's duration or until its timestamp. The
// resolved values stay local to this invocation.
func (e *Engine) executeWait(ctx context.Context, sc *scope, name string, st *schema.State, input any, entered time.Time) (any, error) {
	eff, err := e.applyInput(ctx, st, input, sc.contextDoc(name, entered, 0))
	if err != nil {
		return nil, err
	}

	opts := sc.exec.opts
	ceiling := secondsToDuration(opts.MaxWaitSeconds)

	switch {
	case st.Seconds != nil || st.SecondsPath != "":
		seconds, err := e.waitSeconds(ctx, st, eff)
		if err != nil {
			return nil, err
		}
		d := secondsToDuration(seconds)
		if opts.RespectWaitCeiling && d > ceiling {
			d = ceiling
		}
		if err := sleep(ctx, d); err != nil {
			return nil, err
		}

	case st.Timestamp != "" || st.TimestampPath != "":
		target, err := e.waitTimestamp(ctx, st, eff)
		if err != nil {
			return nil, err
		}
		remaining := time.Until(target)
		if remaining > ceiling {
			if !opts.RespectWaitCeiling {
				e.logger.WarnContext(ctx, "wait exceeds ceiling",
					slog.String("state", name),
					slog.Time("until", target),
					slog.Duration("ceiling", ceiling),
				)
				if err := sleep(ctx, ceiling); err != nil {
					return nil, err
				}
				return nil, schema.NewErrorf(schema.ErrorTimeout,
					"wait until %s exceeds the %s ceiling", target.Format(time.RFC3339), ceiling).WithState(name)
			}
			remaining = ceiling
		}
		if err := sleep(ctx, remaining); err != nil {
			return nil, err
		}

	default:
		return nil, schema.NewError(schema.ErrorRuntime,
			"Wait state needs one of Seconds, SecondsPath, Timestamp or TimestampPath").WithState(name)
	}

	return e.selectPath(ctx, "OutputPath", st.OutputPath, eff)
}

func (e *Engine) waitSeconds(ctx context.Context, st *schema.State, doc any) (float64, error) {
	if st.Seconds != nil {
		return *st.Seconds, nil
	}
	v, found, err := e.resolver.Get(ctx, doc, st.SecondsPath)
	if err != nil {
		return 0, err
	}
	seconds, ok := toNumber(v)
	if !found || !ok || seconds < 0 {
		return 0, schema.NewErrorf(schema.ErrorRuntime, "SecondsPath %q must select a non-negative number", st.SecondsPath)
	}
	return seconds, nil
}

func (e *Engine) waitTimestamp(ctx context.Context, st *schema.State, doc any) (time.Time, error) {
	raw, field := st.Timestamp, "Timestamp"
	if raw == "" {
		field = "TimestampPath"
		v, found, err := e.resolver.Get(ctx, doc, st.TimestampPath)
		if err != nil {
			return time.Time{}, err
		}
		s, ok := v.(string)
		if !found || !ok {
			return time.Time{}, schema.NewErrorf(schema.ErrorRuntime, "TimestampPath %q must select a timestamp string", st.TimestampPath)
		}
		raw = s
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrorRuntime, "%s %q is not an RFC3339 timestamp", field, raw).WithCause(err)
	}
	return t, nil
}

// sleep waits d or until ctx ends, in which case the execution is aborted.
func sleep(ctx context.Context, d time.Duration) error {
	if err := WaitForBackoff(ctx, d); err != nil {
		return abortError(ctx)
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
