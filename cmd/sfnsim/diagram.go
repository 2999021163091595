package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/sfnsim/internal/diagram"
	"github.com/rendis/sfnsim/internal/store"
	"github.com/rendis/sfnsim/pkg/schema"
)

func newDiagramCmd(a *app) *cobra.Command {
	var (
		executionID string
		format      string
		out         string
		noStatus    bool
	)

	cmd := &cobra.Command{
		Use:   "diagram [definition]",
		Short: "Draw a state machine or an archived execution",
		Long: `Renders a definition as ASCII, Mermaid or a graphviz image. With
--execution, draws the archived definition of that run with each state's
status overlaid.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if (executionID == "") == (len(args) == 0) {
				return fmt.Errorf("pass either a definition or --execution")
			}

			var model *diagram.DiagramModel
			var err error
			if executionID != "" {
				model, err = a.executionModel(ctx, executionID, !noStatus)
			} else {
				model, err = a.definitionModel(ctx, args[0])
			}
			if err != nil {
				return err
			}

			data, err := renderDiagram(ctx, model, format)
			if err != nil {
				return err
			}
			if out == "" {
				if isBinaryFormat(format) {
					return fmt.Errorf("--format %s needs --out", format)
				}
				_, err = io.WriteString(cmd.OutOrStdout(), string(data))
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}

	f := cmd.Flags()
	f.StringVar(&executionID, "execution", "", "archived execution to draw")
	f.StringVar(&format, "format", "mermaid", "output format: ascii, mermaid, png, svg or dot")
	f.StringVarP(&out, "out", "o", "", "output file (default stdout)")
	f.BoolVar(&noStatus, "no-status", false, "omit the status overlay for --execution")
	return cmd
}

func (a *app) definitionModel(ctx context.Context, ref string) (*diagram.DiagramModel, error) {
	def, err := a.loadDefinition(ctx, ref)
	if err != nil {
		return nil, err
	}
	return diagram.Build(def.Name, def.Machine, nil)
}

func (a *app) executionModel(ctx context.Context, id string, withStatus bool) (*diagram.DiagramModel, error) {
	archive, err := a.openArchive(ctx)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	rec, err := archive.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(rec.Definition) == 0 {
		return nil, fmt.Errorf("execution %s was archived without its definition", id)
	}
	sm, err := schema.ParseStateMachine(rec.Definition)
	if err != nil {
		return nil, fmt.Errorf("archived definition: %w", err)
	}

	var summaries map[string]*store.StateSummary
	if withStatus {
		if summaries, err = store.SummarizeTrace(rec.Transitions); err != nil {
			return nil, err
		}
	}
	return diagram.Build(rec.StateMachine, sm, summaries)
}

func renderDiagram(ctx context.Context, model *diagram.DiagramModel, format string) ([]byte, error) {
	switch format {
	case "ascii":
		return []byte(diagram.RenderASCII(model)), nil
	case "mermaid":
		return []byte(diagram.RenderMermaid(model)), nil
	case "png":
		return diagram.RenderImage(ctx, model, diagram.ImagePNG)
	case "svg":
		return diagram.RenderImage(ctx, model, diagram.ImageSVG)
	case "dot":
		return diagram.RenderImage(ctx, model, diagram.ImageDOT)
	default:
		return nil, fmt.Errorf("unknown diagram format %q", format)
	}
}

func isBinaryFormat(format string) bool {
	return format == "png"
}
