package expressions

import "context"

// Resolver reads and writes JSON documents through reference paths.
// Documents must be in decoded-JSON form (see Normalize).
type Resolver interface {
	Get(ctx context.Context, doc any, path string) (value any, found bool, err error)
	Set(ctx context.Context, doc any, path string, value any) (any, error)
}
