package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/sfnsim/internal/expressions"
	"github.com/rendis/sfnsim/internal/logging"
	"github.com/rendis/sfnsim/pkg/schema"
)

// invokeParallel runs the branches in batches of the runtime MaxConcurrency.
// Each batch completes before the next starts; the first failure cancels its
// siblings. Results keep branch declaration order.
func (e *Engine) invokeParallel(ctx context.Context, sc *scope, name string, st *schema.State, input any, entered time.Time, attempt int) (any, error) {
	ctxDoc := sc.contextDoc(name, entered, attempt)
	eff, err := e.applyInput(ctx, st, input, ctxDoc)
	if err != nil {
		return nil, err
	}

	n := len(st.Branches)
	results := make([]any, n)
	batch := sc.exec.opts.MaxConcurrency

	for lo := 0; lo < n; lo += batch {
		hi := min(lo+batch, n)
		pool := NewWorkerPool(ctx, hi-lo)

		var submitErr error
		for i := lo; i < hi; i++ {
			branch := st.Branches[i]
			branchInput, err := expressions.Normalize(eff)
			if err != nil {
				submitErr = err
				break
			}
			sc.record(ctx, schema.TransitionRecord{
				Label:     schema.ParallelStateStarted,
				StateName: name,
				Input:     branchInput,
				Index:     intPtr(i),
				Length:    intPtr(n),
			})

			tag := branchTag(name, i)
			bsc := sc.child(branch, tag, nil)
			submitErr = pool.Submit(func(bctx context.Context) error {
				out, err := e.run(logging.WithBranch(bctx, tag), bsc, branch.StartAt, branchInput)
				if err != nil {
					return err
				}
				results[i] = out
				return nil
			})
			if submitErr != nil {
				break
			}
		}

		waitErr := pool.Wait()
		pool.Shutdown()
		if err := firstError(ctx, waitErr, submitErr); err != nil {
			return nil, err
		}
	}

	sc.record(ctx, schema.TransitionRecord{Label: schema.ParallelStateSucceeded, StateName: name, Output: results, Length: intPtr(n)})
	return e.applyOutput(ctx, st, input, results, ctxDoc)
}

// invokeMap selects the items, runs the iterator over each one and places the
// ordered results. Iterations run sequentially unless the state allows more
// than one at a time.
func (e *Engine) invokeMap(ctx context.Context, sc *scope, name string, st *schema.State, input any, entered time.Time, attempt int) (any, error) {
	ctxDoc := sc.contextDoc(name, entered, attempt)
	items, err := e.mapItems(ctx, st, input)
	if err != nil {
		return nil, err
	}
	iterator := st.IteratorMachine()
	if iterator == nil {
		return nil, schema.NewErrorf(schema.ErrorRuntime, "Map state %s has no Iterator", name).WithState(name)
	}

	n := len(items)
	results := make([]any, n)
	sc.record(ctx, schema.TransitionRecord{Label: schema.MapStateStarted, StateName: name, Input: items, Length: intPtr(n)})

	iterate := func(ictx context.Context, i int) error {
		item := &mapItem{index: i, value: items[i]}
		tag := branchTag(name, i)
		isc := sc.child(iterator, tag, item)
		ictx = logging.WithBranch(ictx, tag)

		sc.record(ictx, schema.TransitionRecord{
			Label:     schema.MapIterationStarted,
			StateName: name,
			Input:     items[i],
			Index:     intPtr(i),
			Length:    intPtr(n),
		})

		itemInput, err := expressions.Normalize(items[i])
		if err != nil {
			return err
		}
		if st.Parameters != nil {
			itemInput, err = e.builder.Build(ictx, st.Parameters, items[i], isc.contextDoc(name, entered, attempt))
			if err != nil {
				return err
			}
		}

		out, err := e.run(ictx, isc, iterator.StartAt, itemInput)
		if err != nil {
			return err
		}
		out, err = e.selectPath(ictx, "OutputPath", st.OutputPath, out)
		if err != nil {
			return err
		}
		results[i] = out

		sc.record(ictx, schema.TransitionRecord{
			Label:     schema.MapIterationSucceeded,
			StateName: name,
			Output:    out,
			Index:     intPtr(i),
			Length:    intPtr(n),
		})
		return nil
	}

	limit := min(st.MaxConcurrency, sc.exec.opts.MaxConcurrency)
	if limit <= 1 {
		for i := range items {
			if ctx.Err() != nil {
				return nil, abortError(ctx)
			}
			if err := iterate(ctx, i); err != nil {
				return nil, err
			}
		}
	} else {
		e.logger.DebugContext(ctx, "running map iterations concurrently", slog.Int("items", n), slog.Int("limit", limit))
		pool := NewWorkerPool(ctx, limit)
		var submitErr error
		for i := range items {
			if submitErr = pool.Submit(func(ictx context.Context) error { return iterate(ictx, i) }); submitErr != nil {
				break
			}
		}
		waitErr := pool.Wait()
		pool.Shutdown()
		if err := firstError(ctx, waitErr, submitErr); err != nil {
			return nil, err
		}
	}

	sc.record(ctx, schema.TransitionRecord{Label: schema.MapStateSucceeded, StateName: name, Output: results, Length: intPtr(n)})
	return e.applyResult(ctx, st, input, results, ctxDoc)
}

// mapItems applies InputPath to the whole state input, then ItemsPath. A
// missing or null selection is an empty list; anything else must be an array.
func (e *Engine) mapItems(ctx context.Context, st *schema.State, input any) ([]any, error) {
	selected, err := e.selectPath(ctx, "InputPath", st.InputPath, input)
	if err != nil {
		return nil, err
	}

	items := selected
	if st.ItemsPath.IsSet() && !st.ItemsPath.IsNull() {
		v, found, err := e.resolver.Get(ctx, selected, st.ItemsPath.Expr)
		if err != nil {
			return nil, err
		}
		if !found {
			v = nil
		}
		items = v
	}

	switch t := items.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return t, nil
	default:
		return nil, schema.NewErrorf(schema.ErrorRuntime, "Map items must be an array, got %s", jsonTypeName(items))
	}
}

// firstError picks the error that ends a batch: the pool's first failure,
// else an abort of the parent context, else a submission failure.
func firstError(ctx context.Context, waitErr, submitErr error) error {
	if waitErr != nil {
		return waitErr
	}
	if ctx.Err() != nil {
		return abortError(ctx)
	}
	return submitErr
}
