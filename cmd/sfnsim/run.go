package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/sfnsim/internal/diagram"
	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/internal/store"
	"github.com/rendis/sfnsim/internal/streaming"
	"github.com/rendis/sfnsim/internal/telemetry"
	"github.com/rendis/sfnsim/pkg/schema"
)

type runOptions struct {
	name               string
	inputPath          string
	inputJSON          string
	maxWaitSeconds     float64
	maxConcurrency     int
	respectWaitCeiling bool
	noArchive          bool
	output             string
	showDiagram        bool
	follow             bool
	spans              bool
	mocks              []string
	mockErrors         []string
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <definition.json|definition.yaml|arn>",
		Short: "Execute a state machine and print its trace",
		Long: `Runs a definition to completion. Task states without a mock pass their
input through. The execution is archived unless --no-archive is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("max-wait") {
				a.cfg.MaxWaitSeconds = opts.maxWaitSeconds
			}
			if cmd.Flags().Changed("max-concurrency") {
				a.cfg.MaxConcurrency = opts.maxConcurrency
			}
			if cmd.Flags().Changed("respect-wait-ceiling") {
				a.cfg.RespectWaitCeiling = opts.respectWaitCeiling
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.name, "name", "", "state machine name (default: file name or remote name)")
	f.StringVarP(&opts.inputPath, "input", "i", "", "input document file (JSON or YAML, - for stdin)")
	f.StringVar(&opts.inputJSON, "input-json", "", "inline input document")
	f.Float64Var(&opts.maxWaitSeconds, "max-wait", 0, "ceiling in seconds for Wait states")
	f.IntVar(&opts.maxConcurrency, "max-concurrency", 0, "worker pool size for Map and Parallel")
	f.BoolVar(&opts.respectWaitCeiling, "respect-wait-ceiling", false, "cap long waits instead of timing out")
	f.BoolVar(&opts.noArchive, "no-archive", false, "do not archive the execution")
	f.StringVarP(&opts.output, "output", "o", "table", "output format: table or json")
	f.BoolVar(&opts.showDiagram, "diagram", false, "print a Mermaid diagram with the status overlay")
	f.BoolVarP(&opts.follow, "follow", "f", false, "print transitions to stderr as they happen")
	f.BoolVar(&opts.spans, "spans", false, "log an OpenTelemetry span per state")
	f.StringArrayVar(&opts.mocks, "mock", nil, "bind a task to a fixed result: NAME=JSON (repeatable)")
	f.StringArrayVar(&opts.mockErrors, "mock-error", nil, "make a task fail: NAME=ERROR[:CAUSE] (repeatable)")
	return cmd
}

func (a *app) run(ctx context.Context, stdout, stderr io.Writer, ref string, opts runOptions) error {
	if opts.output != "table" && opts.output != "json" {
		return fmt.Errorf("--output must be table or json, got %q", opts.output)
	}

	def, err := a.loadDefinition(ctx, ref)
	if err != nil {
		return err
	}
	input, err := readInput(opts.inputPath, opts.inputJSON)
	if err != nil {
		return err
	}
	handlers, err := parseMocks(opts.mocks, opts.mockErrors)
	if err != nil {
		return err
	}

	engineOpts := []engine.Option{engine.WithResources(handlers)}
	var hub *streaming.MemoryHub
	if opts.follow {
		hub = streaming.NewMemoryHub()
		engineOpts = append(engineOpts, engine.WithHub(hub))
	}
	e, err := a.newEngine(def, opts.name, engineOpts...)
	if err != nil {
		return err
	}

	if !opts.noArchive {
		archive, err := a.openArchive(ctx)
		if err != nil {
			return err
		}
		defer archive.Close()

		recorder := store.NewRecorder(archive, a.logger)
		detach, err := recorder.Attach(e)
		if err != nil {
			return err
		}
		defer func() {
			detach()
			if err := recorder.Err(); err != nil {
				a.logger.Warn("execution was not fully archived", slog.String("error", err.Error()))
			}
		}()
	}

	if opts.spans {
		tp := telemetry.NewTracerProvider(telemetry.NewLogExporter(a.logger, slog.LevelInfo), "sfnsim")
		defer func() { _ = tp.Shutdown(context.Background()) }()
		defer telemetry.NewSpanRecorder(tp.Tracer("sfnsim")).Attach(e)()
	}

	if hub != nil {
		stopFollow, err := follow(ctx, hub, stderr)
		if err != nil {
			return err
		}
		defer stopFollow()
	}

	res, runErr := e.StartExecution(ctx, input, a.cfg.RuntimeOptions())
	if res == nil {
		return runErr
	}

	if opts.output == "json" {
		if err := encodeJSON(stdout, res); err != nil {
			return err
		}
	} else {
		writeTrace(stdout, res.Trace)
		fmt.Fprintln(stdout)
		writeResult(stdout, res)
	}

	if opts.showDiagram {
		if err := writeRunDiagram(stdout, e.Name(), def.Machine, res.Trace); err != nil {
			return err
		}
	}

	if res.Status != schema.ExecutionStatusSucceeded {
		return fmt.Errorf("execution %s", res.Status)
	}
	return nil
}

// follow prints every published transition until the returned stop func is
// called.
func follow(ctx context.Context, hub *streaming.MemoryHub, w io.Writer) (func(), error) {
	ch, cancel, err := hub.Subscribe(ctx, streaming.TransitionFilter{})
	if err != nil {
		return nil, err
	}
	var wg sync.WaitGroup
	wg.Go(func() {
		for rec := range ch {
			line := fmt.Sprintf("%4d %6dms %-28s %s", rec.Sequence, rec.ElapsedMillis, rec.Label, rec.StateName)
			if idx := indexCell(rec); idx != "" {
				line += " [" + idx + "]"
			}
			fmt.Fprintln(w, line)
		}
	})
	return func() {
		cancel()
		wg.Wait()
	}, nil
}

func writeRunDiagram(w io.Writer, title string, sm *schema.StateMachine, trace []schema.TransitionRecord) error {
	summaries, err := store.SummarizeTrace(trace)
	if err != nil {
		return err
	}
	model, err := diagram.Build(title, sm, summaries)
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprint(w, diagram.RenderMermaid(model))
	return nil
}
