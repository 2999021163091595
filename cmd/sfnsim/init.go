package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
)

func newInitCmd(a *app) *cobra.Command {
	var (
		force bool
		cfg   Config
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file",
		Long: `Writes settings.yaml (default ~/.sfnsim/settings.yaml, or --config) from
the current configuration overlaid with the flags given here.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.configPath
			if path == "" {
				path = settingsPath()
			}
			if !force && fileExists(path) {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}

			out := a.cfg
			f := cmd.Flags()
			if f.Changed("max-wait") {
				out.MaxWaitSeconds = cfg.MaxWaitSeconds
			}
			if f.Changed("max-concurrency") {
				out.MaxConcurrency = cfg.MaxConcurrency
			}
			if f.Changed("respect-wait-ceiling") {
				out.RespectWaitCeiling = cfg.RespectWaitCeiling
			}
			if f.Changed("region") {
				out.AWSRegion = cfg.AWSRegion
			}
			if f.Changed("metrics-addr") {
				out.MetricsAddr = cfg.MetricsAddr
			}

			if err := writeConfig(path, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&force, "force", false, "overwrite an existing settings file")
	f.Float64Var(&cfg.MaxWaitSeconds, "max-wait", 0, "ceiling in seconds for Wait states")
	f.IntVar(&cfg.MaxConcurrency, "max-concurrency", 0, "worker pool size for Map and Parallel")
	f.BoolVar(&cfg.RespectWaitCeiling, "respect-wait-ceiling", false, "cap long waits instead of timing out")
	f.StringVar(&cfg.AWSRegion, "region", "", "AWS region for ARN definitions")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "default metrics address for schedule")
	return cmd
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
