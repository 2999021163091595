package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/internal/loader"
	"github.com/rendis/sfnsim/internal/logging"
	"github.com/rendis/sfnsim/internal/store"
	"github.com/rendis/sfnsim/internal/validation"
)

// app carries the configuration and logger shared by every command.
type app struct {
	configPath string
	cfg        Config
	logger     *slog.Logger
}

// setup loads the configuration and builds the root logger on w.
func (a *app) setup(w io.Writer, overrides func(*Config)) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	if overrides != nil {
		overrides(&cfg)
	}
	a.cfg = cfg
	a.logger = logging.New(w, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(a.logger)
	return nil
}

// openArchive opens the configured trace archive, creating its directory.
func (a *app) openArchive(ctx context.Context) (*store.TraceArchive, error) {
	path := a.cfg.DBPath
	if !strings.Contains(path, ":") || filepath.IsAbs(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
		path = "file:" + path
	}
	archive, err := store.OpenTraceArchive(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", a.cfg.DBPath, err)
	}
	return archive, nil
}

// loadDefinition reads a definition from a file or, for an ARN, from AWS
// Step Functions.
func (a *app) loadDefinition(ctx context.Context, ref string) (*loader.Definition, error) {
	if !isARN(ref) {
		return loader.LoadFile(ref)
	}
	fetcher, err := loader.NewSFNFetcher(ctx, a.cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	return fetcher.Fetch(ctx, ref)
}

// newEngine builds an engine for def with validation and the shared logger.
func (a *app) newEngine(def *loader.Definition, name string, opts ...engine.Option) (*engine.Engine, error) {
	dv, err := validation.NewDefinitionValidator()
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = def.Name
	}
	base := []engine.Option{
		engine.WithName(name),
		engine.WithLogger(a.logger),
		engine.WithValidator(dv),
	}
	return engine.New(def.Machine, append(base, opts...)...)
}

func isARN(ref string) bool {
	return strings.HasPrefix(ref, "arn:aws:states:")
}

// readInput returns the execution input from a file, inline JSON or YAML, or
// an empty object.
func readInput(path, inline string) (any, error) {
	switch {
	case path != "" && inline != "":
		return nil, fmt.Errorf("--input and --input-json are mutually exclusive")
	case path == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		return loader.ParseInput(data)
	case path != "":
		return loader.LoadInput(path)
	default:
		return loader.ParseInput([]byte(inline))
	}
}
