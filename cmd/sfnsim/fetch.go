package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rendis/sfnsim/internal/loader"
)

func newFetchCmd(a *app) *cobra.Command {
	var (
		region string
		out    string
		format string
		list   bool
	)

	cmd := &cobra.Command{
		Use:   "fetch [state-machine-arn]",
		Short: "Download a deployed definition from AWS Step Functions",
		Long: `Fetches the definition of a deployed state machine by ARN and writes it
as JSON or YAML. With --list, prints the state machines of the account.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if region == "" {
				region = a.cfg.AWSRegion
			}
			fetcher, err := loader.NewSFNFetcher(cmd.Context(), region)
			if err != nil {
				return err
			}

			if list {
				machines, err := fetcher.List(cmd.Context())
				if err != nil {
					return err
				}
				writeMachines(cmd.OutOrStdout(), machines)
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("a state machine ARN is required unless --list is set")
			}

			def, err := fetcher.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := encodeDefinition(def.JSON, format)
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			a.logger.Info("definition written", "name", def.Name, "path", out)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&region, "region", "", "AWS region (default from config)")
	f.StringVarP(&out, "out", "o", "", "output file (default stdout)")
	f.StringVar(&format, "format", "json", "output format: json or yaml")
	f.BoolVar(&list, "list", false, "list deployed state machines")
	return cmd
}

// encodeDefinition re-encodes canonical definition JSON for output.
func encodeDefinition(raw []byte, format string) ([]byte, error) {
	switch format {
	case "json":
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return nil, err
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	case "yaml":
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		return yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("--format must be json or yaml, got %q", format)
	}
}
