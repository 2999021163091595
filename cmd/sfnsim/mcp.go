package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/sfnsim/internal/streaming"
	"github.com/rendis/sfnsim/internal/validation"
	"github.com/rendis/sfnsim/pkg/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	var (
		transport string
		addr      string
		mocks     []string
		mockErrs  []string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the sfnsim tools over the Model Context Protocol",
		Long: `Starts an MCP server exposing validate, run, trace, executions and
diagram tools. stdio is the default transport; logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if transport != "stdio" && transport != "sse" {
				return fmt.Errorf("--transport must be stdio or sse, got %q", transport)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handlers, err := parseMocks(mocks, mockErrs)
			if err != nil {
				return err
			}
			dv, err := validation.NewDefinitionValidator()
			if err != nil {
				return err
			}
			archive, err := a.openArchive(ctx)
			if err != nil {
				return err
			}
			defer archive.Close()

			srv := mcp.NewServer(mcp.ServerDeps{
				Archive:   archive,
				Validator: dv,
				Resources: handlers,
				Options:   a.cfg.RuntimeOptions(),
				Hub:       streaming.NewMemoryHub(),
				Logger:    a.logger,
				Version:   version,
			})

			a.logger.Info("mcp server starting", slog.String("transport", transport), slog.String("db", a.cfg.DBPath))
			if transport == "sse" {
				a.logger.Info("listening", slog.String("addr", addr))
				return srv.ServeSSE(ctx, addr)
			}
			return srv.Serve(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVar(&transport, "transport", "stdio", "transport: stdio or sse")
	f.StringVar(&addr, "addr", ":8080", "listen address for the sse transport")
	f.StringArrayVar(&mocks, "mock", nil, "bind a task to a fixed result: NAME=JSON (repeatable)")
	f.StringArrayVar(&mockErrs, "mock-error", nil, "make a task fail: NAME=ERROR[:CAUSE] (repeatable)")
	return cmd
}
