package main

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/internal/loader"
	"github.com/rendis/sfnsim/internal/store"
	"github.com/rendis/sfnsim/pkg/schema"
)

const maxCellWidth = 100

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

// writeTrace renders transitions one per row.
func writeTrace(w io.Writer, trace []schema.TransitionRecord) {
	table := newTable(w, []string{"#", "Label", "State", "Elapsed (ms)", "Index", "Detail"})
	for _, rec := range trace {
		table.Append([]string{
			strconv.FormatInt(rec.Sequence, 10),
			string(rec.Label),
			rec.StateName,
			strconv.FormatInt(rec.ElapsedMillis, 10),
			indexCell(rec),
			detailCell(rec),
		})
	}
	table.Render()
}

// writeSummary renders the replayed per-state view in first-seen order.
func writeSummary(w io.Writer, summaries map[string]*store.StateSummary) {
	rows := make([]*store.StateSummary, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, s)
	}
	slices.SortFunc(rows, func(a, b *store.StateSummary) int {
		return cmp.Or(cmp.Compare(a.FirstSeenMs, b.FirstSeenMs), cmp.Compare(a.StateName, b.StateName))
	})

	table := newTable(w, []string{"State", "Status", "Entries", "Attempts", "Failures", "Duration (ms)", "Error"})
	for _, s := range rows {
		table.Append([]string{
			s.StateName,
			s.Status,
			strconv.Itoa(s.Entries),
			strconv.Itoa(s.Attempts),
			strconv.Itoa(s.Failures),
			strconv.FormatInt(s.DurationMs(), 10),
			s.Error,
		})
	}
	table.Render()
}

// writeResult prints the outcome of one execution: identity, status and the
// output or error.
func writeResult(w io.Writer, res *engine.ExecutionResult) {
	fmt.Fprintf(w, "Execution: %s (%s)\n", res.Name, res.ExecutionID)
	fmt.Fprintf(w, "Status:    %s in %s\n", res.Status, res.Duration().Round(time.Millisecond))
	if res.Error != nil {
		fmt.Fprintf(w, "Error:     %s: %s\n", res.Error.Error, res.Error.Cause)
		return
	}
	out, err := json.MarshalIndent(res.Output, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "Output:    <%v>\n", err)
		return
	}
	fmt.Fprintf(w, "Output:\n%s\n", out)
}

// writeExecutions lists archived executions.
func writeExecutions(w io.Writer, records []*store.ExecutionRecord) {
	table := newTable(w, []string{"Execution ID", "State Machine", "Status", "Started", "Duration", "Error"})
	for _, rec := range records {
		errCell := ""
		if rec.Error != nil {
			errCell = rec.Error.Error
		}
		duration := ""
		if rec.StoppedAt != nil {
			duration = rec.Duration().Round(time.Millisecond).String()
		}
		table.Append([]string{
			rec.ID,
			rec.StateMachine,
			string(rec.Status),
			rec.StartedAt.Local().Format(time.DateTime),
			duration,
			errCell,
		})
	}
	table.Render()
}

// writeMachines lists remote state machines.
func writeMachines(w io.Writer, machines []loader.RemoteMachine) {
	table := newTable(w, []string{"Name", "ARN", "Type", "Creation Date"})
	for _, m := range machines {
		created := ""
		if !m.CreationDate.IsZero() {
			created = m.CreationDate.Local().Format(time.DateTime)
		}
		table.Append([]string{m.Name, m.ARN, m.Type, created})
	}
	table.Render()
}

// writeValidation prints every issue of a validation result.
func writeValidation(w io.Writer, source string, result *schema.ValidationResult) {
	if result.Valid() {
		fmt.Fprintf(w, "%s: valid\n", source)
	} else {
		fmt.Fprintf(w, "%s: %d error(s)\n", source, len(result.Errors))
	}
	for _, issue := range result.Errors {
		fmt.Fprintf(w, "  error   %s\n", issue)
	}
	for _, issue := range result.Warnings {
		fmt.Fprintf(w, "  warning %s\n", issue)
	}
}

func indexCell(rec schema.TransitionRecord) string {
	switch {
	case rec.Index != nil && rec.Length != nil:
		return fmt.Sprintf("%d/%d", *rec.Index, *rec.Length)
	case rec.Index != nil:
		return strconv.Itoa(*rec.Index)
	case rec.Length != nil:
		return "n=" + strconv.Itoa(*rec.Length)
	default:
		return ""
	}
}

func detailCell(rec schema.TransitionRecord) string {
	if rec.Error != nil {
		return truncate(rec.Error.Error + ": " + rec.Error.Cause)
	}
	return ""
}

func truncate(s string) string {
	if len(s) > maxCellWidth {
		return s[:maxCellWidth-3] + "..."
	}
	return s
}
