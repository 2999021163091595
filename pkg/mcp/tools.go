package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/sfnsim/internal/diagram"
	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/internal/loader"
	"github.com/rendis/sfnsim/internal/store"
	"github.com/rendis/sfnsim/pkg/schema"
)

var errNoArchive = errors.New("no execution archive is configured")

// handleValidate checks a definition and reports every issue found.
func (s *Server) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := definitionArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	_, result := s.validate(data)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// runResponse is an execution result plus whether it was archived.
type runResponse struct {
	*engine.ExecutionResult
	Archived bool `json:"archived"`
}

// handleRun executes a definition to completion. A failed execution is a
// normal result; only problems before or around the run are tool errors.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := definitionArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sm, result := s.validate(data)
	if !result.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", result.ToError())), nil
	}

	engineOpts := []engine.Option{engine.WithLogger(s.logger), engine.WithResources(s.resources)}
	if name := req.GetString("name", ""); name != "" {
		engineOpts = append(engineOpts, engine.WithName(name))
	}
	if s.hub != nil {
		engineOpts = append(engineOpts, engine.WithHub(s.hub))
	}
	e, err := engine.New(sm, engineOpts...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build engine: %v", err)), nil
	}
	if l, ok := s.notifier.Listener(ctx); ok {
		defer e.SubscribeAll(l)()
	}

	input := req.GetArguments()["input"]
	if input == nil {
		input = map[string]any{}
	}

	res, runErr := e.StartExecution(ctx, input, s.runtimeOptions(req))
	if res == nil {
		return mcp.NewToolResultError(fmt.Sprintf("execution could not start: %v", runErr)), nil
	}

	resp := runResponse{ExecutionResult: res}
	if s.archive != nil && req.GetBool("archive", true) {
		if err := s.save(ctx, res, sm); err != nil {
			s.logger.Warn("failed to archive execution",
				slog.String("execution_id", res.ExecutionID),
				slog.String("error", err.Error()),
			)
		} else {
			resp.Archived = true
		}
	}
	if !req.GetBool("include_trace", true) {
		trimmed := *res
		trimmed.Trace = nil
		resp.ExecutionResult = &trimmed
	}
	return marshalResult(resp)
}

// handleTrace returns the archived transitions of an execution together with
// its per-state summary.
func (s *Server) handleTrace(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	if s.archive == nil {
		return mcp.NewToolResultError(errNoArchive.Error()), nil
	}

	rec, err := s.archive.GetExecution(ctx, executionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("execution lookup failed: %v", err)), nil
	}

	filter := store.TransitionFilter{
		Since:     int64(req.GetInt("since", 0)),
		StateName: req.GetString("state_name", ""),
		Labels:    parseLabels(req.GetString("labels", "")),
		Limit:     req.GetInt("limit", 0),
	}
	transitions, err := s.archive.ListTransitions(ctx, executionID, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	out := map[string]any{
		"execution":   executionView(rec),
		"transitions": transitions,
	}
	if req.GetBool("summary", true) {
		summary, err := store.SummarizeTrace(rec.Transitions)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("summary failed: %v", err)), nil
		}
		out["summary"] = summary
	}
	return marshalResult(out)
}

// handleExecutions lists archived executions, newest first.
func (s *Server) handleExecutions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.archive == nil {
		return mcp.NewToolResultError(errNoArchive.Error()), nil
	}

	filter := store.ExecutionFilter{
		StateMachine: req.GetString("state_machine", ""),
		Status:       schema.ExecutionStatus(req.GetString("status", "")),
		Limit:        req.GetInt("limit", 50),
		Offset:       req.GetInt("offset", 0),
	}
	if since := req.GetString("since", ""); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("since must be an RFC3339 time: %v", err)), nil
		}
		filter.Since = &t
	}

	records, err := s.archive.ListExecutions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	views := make([]*store.ExecutionRecord, len(records))
	for i, rec := range records {
		views[i] = executionView(rec)
	}
	return marshalResult(map[string]any{"executions": views})
}

// handleDiagram draws a definition, or the definition of an archived
// execution with its status overlay.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	var (
		title     string
		sm        *schema.StateMachine
		summaries map[string]*store.StateSummary
	)

	if executionID := req.GetString("execution_id", ""); executionID != "" {
		if s.archive == nil {
			return mcp.NewToolResultError(errNoArchive.Error()), nil
		}
		rec, getErr := s.archive.GetExecution(ctx, executionID)
		if getErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("execution lookup failed: %v", getErr)), nil
		}
		if len(rec.Definition) == 0 {
			return mcp.NewToolResultError(fmt.Sprintf("execution %q was archived without its definition", executionID)), nil
		}
		if sm, err = schema.ParseStateMachine(rec.Definition); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("archived definition is unreadable: %v", err)), nil
		}
		title = rec.StateMachine
		if req.GetBool("include_status", true) {
			if summaries, err = store.SummarizeTrace(rec.Transitions); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("summary failed: %v", err)), nil
			}
		}
	} else {
		data, defErr := definitionArg(req)
		if defErr != nil {
			return mcp.NewToolResultError("execution_id, definition or definition_text is required"), nil
		}
		def, parseErr := loader.Parse(data, loader.FormatJSON)
		if parseErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", parseErr)), nil
		}
		sm = def.Machine
	}

	model, err := diagram.Build(title, sm, summaries)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model, diagram.ImagePNG)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// --- Internal helpers ---

// validate parses data and runs the configured validator over the raw
// document. Without a validator only parse errors and a missing StartAt are
// reported.
func (s *Server) validate(data []byte) (*schema.StateMachine, *schema.ValidationResult) {
	if s.validator != nil {
		return s.validator.ValidateDocument(data)
	}
	result := &schema.ValidationResult{}
	sm, err := schema.ParseStateMachine(data)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return nil, result
	}
	if _, ok := sm.States[sm.StartAt]; !ok {
		result.AddError("StartAt", schema.ErrCodeValidation, fmt.Sprintf("StartAt state %q is not defined", sm.StartAt))
	}
	return sm, result
}

func (s *Server) runtimeOptions(req mcp.CallToolRequest) schema.RuntimeOptions {
	opts := s.options
	if v := req.GetFloat("max_wait_seconds", 0); v > 0 {
		opts.MaxWaitSeconds = v
	}
	if v := req.GetInt("max_concurrency", 0); v > 0 {
		opts.MaxConcurrency = v
	}
	opts.RespectWaitCeiling = req.GetBool("respect_wait_ceiling", opts.RespectWaitCeiling)
	return opts
}

func (s *Server) save(ctx context.Context, res *engine.ExecutionResult, sm *schema.StateMachine) error {
	rec, err := store.NewExecutionRecord(res, sm)
	if err != nil {
		return err
	}
	return s.archive.SaveExecution(ctx, rec)
}

// definitionArg returns the definition argument as JSON. An object wins over
// text; text may be JSON or YAML.
func definitionArg(req mcp.CallToolRequest) ([]byte, error) {
	if raw := req.GetArguments()["definition"]; raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid definition: %w", err)
		}
		return data, nil
	}
	if text := req.GetString("definition_text", ""); strings.TrimSpace(text) != "" {
		data, err := loader.ToJSON([]byte(text), loader.FormatAuto)
		if err != nil {
			return nil, fmt.Errorf("invalid definition_text: %w", err)
		}
		return data, nil
	}
	return nil, errors.New("definition or definition_text is required")
}

func parseLabels(s string) []schema.TransitionLabel {
	var labels []schema.TransitionLabel
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			labels = append(labels, schema.TransitionLabel(part))
		}
	}
	return labels
}

// executionView drops the bulky columns of an archived execution.
func executionView(rec *store.ExecutionRecord) *store.ExecutionRecord {
	view := *rec
	view.Definition = nil
	view.Transitions = nil
	return &view
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
