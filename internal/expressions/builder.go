package expressions

import (
	"context"
	"strings"

	"github.com/rendis/sfnsim/pkg/schema"
)

// dynamicSuffix marks a template key whose value is a path or intrinsic.
const dynamicSuffix = ".$"

// Builder expands Parameters and ResultSelector templates against a document
// and a context document.
type Builder struct {
	resolver Resolver
}

// NewBuilder creates a Builder on top of the given Resolver.
func NewBuilder(r Resolver) *Builder {
	return &Builder{resolver: r}
}

// Resolver returns the underlying path resolver.
func (b *Builder) Resolver() Resolver {
	return b.resolver
}

// Build returns a new value shaped by tmpl. Keys ending in ".$" are resolved
// against doc (or ctxDoc for "$$" paths) or evaluated as intrinsics, and the
// suffix is dropped. Nested objects and arrays are expanded recursively;
// everything else is copied literally.
func (b *Builder) Build(ctx context.Context, tmpl, doc, ctxDoc any) (any, error) {
	switch t := tmpl.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, value := range t {
			if !strings.HasSuffix(key, dynamicSuffix) {
				built, err := b.Build(ctx, value, doc, ctxDoc)
				if err != nil {
					return nil, err
				}
				out[key] = built
				continue
			}

			expr, ok := value.(string)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrorRuntime,
					"field %q must be a path or intrinsic string, got %T", key, value)
			}
			resolved, err := b.evalDynamic(ctx, expr, doc, ctxDoc)
			if err != nil {
				return nil, err
			}
			out[strings.TrimSuffix(key, dynamicSuffix)] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, value := range t {
			built, err := b.Build(ctx, value, doc, ctxDoc)
			if err != nil {
				return nil, err
			}
			out[i] = built
		}
		return out, nil
	default:
		return tmpl, nil
	}
}

func (b *Builder) evalDynamic(ctx context.Context, expr string, doc, ctxDoc any) (any, error) {
	if IsIntrinsic(expr) {
		return b.EvalIntrinsic(ctx, expr, doc, ctxDoc)
	}
	return b.resolveDynamic(ctx, expr, doc, ctxDoc)
}

// resolveDynamic resolves a path that must exist, against ctxDoc when it uses
// the "$$" sigil and doc otherwise.
func (b *Builder) resolveDynamic(ctx context.Context, expr string, doc, ctxDoc any) (any, error) {
	target, path := doc, expr
	if strings.HasPrefix(strings.TrimSpace(expr), "$$") {
		target, path = ctxDoc, strings.TrimPrefix(strings.TrimSpace(expr), "$")
	}

	v, found, err := b.resolver.Get(ctx, target, path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, schema.NewErrorf(schema.ErrorRuntime, "path %q did not match any value", expr)
	}
	return v, nil
}
