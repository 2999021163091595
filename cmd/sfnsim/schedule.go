package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/internal/scheduler"
	"github.com/rendis/sfnsim/internal/telemetry"
)

func newScheduleCmd(a *app) *cobra.Command {
	var (
		cronExpr    string
		name        string
		inputPath   string
		inputJSON   string
		maxRuns     int
		mocks       []string
		mockErrors  []string
		metricsAddr string
		tick        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "schedule <definition|arn>",
		Short: "Run a state machine on a cron schedule",
		Long: `Runs a definition every time the cron expression fires, archiving each
execution, until interrupted or --max-runs is reached. With --metrics-addr,
serves Prometheus metrics of the runs at /metrics.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			def, err := a.loadDefinition(ctx, args[0])
			if err != nil {
				return err
			}
			input, err := readInput(inputPath, inputJSON)
			if err != nil {
				return err
			}
			handlers, err := parseMocks(mocks, mockErrors)
			if err != nil {
				return err
			}
			e, err := a.newEngine(def, name, engine.WithResources(handlers))
			if err != nil {
				return err
			}

			archive, err := a.openArchive(ctx)
			if err != nil {
				return err
			}
			defer archive.Close()

			if metricsAddr == "" {
				metricsAddr = a.cfg.MetricsAddr
			}
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				defer telemetry.NewMetrics(reg).Attach(e)()
				shutdown := serveMetrics(metricsAddr, reg, a.logger)
				defer shutdown()
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			out := cmd.OutOrStdout()
			hook := func(st scheduler.JobStatus, res *engine.ExecutionResult, runErr error) {
				switch {
				case res != nil:
					fmt.Fprintf(out, "%s run %d: %s %s (%s)\n", st.Name, st.Runs, res.ExecutionID, res.Status,
						res.Duration().Round(time.Millisecond))
				case runErr != nil:
					fmt.Fprintf(out, "%s run %d: %v\n", st.Name, st.Runs, runErr)
				}
				if !st.Enabled {
					cancel()
				}
			}

			s := scheduler.NewScheduler(archive, a.logger,
				scheduler.WithTickInterval(tick),
				scheduler.WithRunHook(hook),
			)
			id, err := s.AddJob(scheduler.Job{
				Name:       e.Name(),
				Cron:       cronExpr,
				Input:      input,
				Options:    a.cfg.RuntimeOptions(),
				Runner:     e,
				MaxRuns:    maxRuns,
				Definition: def.Machine,
			})
			if err != nil {
				return err
			}
			if st, ok := s.Job(id); ok && st.NextRunAt != nil {
				a.logger.Info("job scheduled",
					slog.String("state_machine", st.Name),
					slog.String("cron", st.Cron),
					slog.Time("next_run_at", *st.NextRunAt))
			}

			if err := s.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return s.Stop()
		},
	}

	f := cmd.Flags()
	f.StringVar(&cronExpr, "cron", "", "cron expression or descriptor such as @every 1m (required)")
	f.StringVar(&name, "name", "", "state machine name (default: file name or remote name)")
	f.StringVarP(&inputPath, "input", "i", "", "input document file (JSON or YAML)")
	f.StringVar(&inputJSON, "input-json", "", "inline input document")
	f.IntVar(&maxRuns, "max-runs", 0, "stop after this many runs (0 runs until interrupted)")
	f.StringArrayVar(&mocks, "mock", nil, "bind a task to a fixed result: NAME=JSON (repeatable)")
	f.StringArrayVar(&mockErrors, "mock-error", nil, "make a task fail: NAME=ERROR[:CAUSE] (repeatable)")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.DurationVar(&tick, "tick", time.Second, "how often the schedule is checked")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

// serveMetrics starts a metrics endpoint in the background and returns its
// shutdown func.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
