package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	a := &app{}
	var logLevel, logFormat, dbPath string

	root := &cobra.Command{
		Use:   "sfnsim",
		Short: "Run Amazon States Language state machines locally",
		Long: `sfnsim executes Amazon States Language definitions on your machine,
records every state transition, and archives executions for later inspection.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr(), func(c *Config) {
				if cmd.Flags().Changed("log-level") {
					c.LogLevel = logLevel
				}
				if cmd.Flags().Changed("log-format") {
					c.LogFormat = logFormat
				}
				if cmd.Flags().Changed("db") {
					c.DBPath = dbPath
				}
			})
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "settings file (default ~/.sfnsim/settings.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&dbPath, "db", "", "trace archive path")

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newFetchCmd(a),
		newTraceCmd(a),
		newDiagramCmd(a),
		newScheduleCmd(a),
		newMCPCmd(a),
		newInitCmd(a),
		newVersionCmd(),
	)
	return root
}
