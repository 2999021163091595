package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/sfnsim/pkg/schema"
)

const injectQuery = `setpath($p; $v)`

// GoJQResolver implements Resolver. Lookups walk the decoded document
// directly; injection runs a compiled gojq setpath program on a private copy,
// since gojq normalizes its input in place. Parsed paths are cached and reused
// across goroutines.
type GoJQResolver struct {
	inject *gojq.Code

	mu    sync.RWMutex
	cache map[string]*ParsedPath
}

// NewGoJQResolver compiles the injection program.
func NewGoJQResolver() (*GoJQResolver, error) {
	inject, err := compile(injectQuery, "$p", "$v")
	if err != nil {
		return nil, err
	}
	return &GoJQResolver{
		inject: inject,
		cache:  make(map[string]*ParsedPath),
	}, nil
}

// MustGoJQResolver is NewGoJQResolver for package-level defaults; the program is constant.
func MustGoJQResolver() *GoJQResolver {
	r, err := NewGoJQResolver()
	if err != nil {
		panic(err)
	}
	return r
}

func compile(src string, vars ...string) (*gojq.Code, error) {
	query, err := gojq.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse jq program: %w", err)
	}
	code, err := gojq.Compile(query,
		gojq.WithVariables(vars),
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, fmt.Errorf("compile jq program: %w", err)
	}
	return code, nil
}

// Parse returns the cached parse of a path expression.
func (r *GoJQResolver) Parse(path string) (*ParsedPath, error) {
	r.mu.RLock()
	if p, ok := r.cache[path]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock.
	if p, ok := r.cache[path]; ok {
		return p, nil
	}

	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	r.cache[path] = p
	return p, nil
}

// Get selects the value at path in doc. found is false when any segment is
// missing, so a missing field and an explicit null stay distinguishable.
func (r *GoJQResolver) Get(ctx context.Context, doc any, path string) (any, bool, error) {
	p, err := r.Parse(path)
	if err != nil {
		return nil, false, err
	}

	cur := doc
	for _, seg := range p.Segments {
		switch key := seg.(type) {
		case string:
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, false, nil
			}
			if cur, ok = obj[key]; !ok {
				return nil, false, nil
			}
		case int:
			arr, ok := cur.([]any)
			if !ok || key >= len(arr) {
				return nil, false, nil
			}
			cur = arr[key]
		}
	}
	return cur, true, nil
}

// Set returns a copy of doc with value written at path. Intermediate objects
// are created as needed; traversing through a scalar fails with States.Runtime.
func (r *GoJQResolver) Set(ctx context.Context, doc any, path string, value any) (any, error) {
	p, err := r.Parse(path)
	if err != nil {
		return nil, err
	}
	if p.Context {
		return nil, schema.NewErrorf(schema.ErrorRuntime, "cannot write to context path %q", path)
	}
	if p.IsRoot() {
		return value, nil
	}

	target, err := Normalize(doc)
	if err != nil {
		return nil, err
	}
	value, err = Normalize(value)
	if err != nil {
		return nil, err
	}
	segments := make([]any, len(p.Segments))
	copy(segments, p.Segments)

	out, err := runOne(ctx, r.inject, target, segments, value)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrorRuntime, "write path %q: %s", path, err.Error()).WithCause(err)
	}
	return out, nil
}

func runOne(ctx context.Context, code *gojq.Code, input any, vars ...any) (any, error) {
	iter := code.RunWithContext(ctx, input, vars...)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("no result")
	}
	if err, isErr := v.(error); isErr {
		return nil, err
	}
	return v, nil
}

var _ Resolver = (*GoJQResolver)(nil)
