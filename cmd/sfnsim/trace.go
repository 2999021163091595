package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rendis/sfnsim/internal/store"
	"github.com/rendis/sfnsim/pkg/schema"
)

func newTraceCmd(a *app) *cobra.Command {
	var (
		stateMachine string
		status       string
		stateName    string
		labels       []string
		since        int64
		limit        int
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "trace [execution-id]",
		Short: "Show archived executions and their transitions",
		Long: `Without an ID, lists archived executions, newest first. With an ID, prints
the transitions of that execution followed by a per-state summary.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			archive, err := a.openArchive(ctx)
			if err != nil {
				return err
			}
			defer archive.Close()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				if limit == 0 {
					limit = 20
				}
				records, err := archive.ListExecutions(ctx, store.ExecutionFilter{
					StateMachine: stateMachine,
					Status:       schema.ExecutionStatus(status),
					Limit:        limit,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return encodeJSON(out, records)
				}
				writeExecutions(out, records)
				return nil
			}

			rec, err := archive.GetExecution(ctx, args[0])
			if err != nil {
				return err
			}
			filter := store.TransitionFilter{Since: since, StateName: stateName, Limit: limit}
			for _, l := range labels {
				filter.Labels = append(filter.Labels, schema.TransitionLabel(l))
			}
			transitions, err := archive.ListTransitions(ctx, rec.ID, filter)
			if err != nil {
				return err
			}
			summaries, err := store.SummarizeTrace(rec.Transitions)
			if err != nil {
				return err
			}

			if asJSON {
				return encodeJSON(out, map[string]any{
					"execution":   rec,
					"transitions": transitions,
					"summary":     summaries,
				})
			}
			fmt.Fprintf(out, "Execution: %s (%s) %s\n\n", rec.StateMachine, rec.ID, rec.Status)
			writeTrace(out, transitions)
			fmt.Fprintln(out)
			writeSummary(out, summaries)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&stateMachine, "state-machine", "", "list only executions of this state machine")
	f.StringVar(&status, "status", "", "list only executions with this status")
	f.StringVar(&stateName, "state", "", "show only transitions of this state")
	f.StringArrayVar(&labels, "label", nil, "show only transitions with this label (repeatable)")
	f.Int64Var(&since, "since", 0, "show only transitions after this sequence number")
	f.IntVar(&limit, "limit", 0, "maximum rows (default 20 executions, all transitions)")
	f.BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
