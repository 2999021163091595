package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/sfnsim/pkg/schema"
)

// TraceArchive implements Archive on libSQL (embedded SQLite fork).
type TraceArchive struct {
	db *sql.DB
}

// NewTraceArchive opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/sfnsim.db".
func NewTraceArchive(dbPath string) (*TraceArchive, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so QueryRow is used for all of them.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &TraceArchive{db: db}, nil
}

// OpenTraceArchive opens the archive and applies pending migrations.
func OpenTraceArchive(ctx context.Context, dbPath string) (*TraceArchive, error) {
	a, err := NewTraceArchive(dbPath)
	if err != nil {
		return nil, err
	}
	if err := a.Migrate(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// DB returns the underlying *sql.DB.
func (a *TraceArchive) DB() *sql.DB { return a.db }

// Close closes the database.
func (a *TraceArchive) Close() error { return a.db.Close() }

// Migrate runs all pending database migrations.
func (a *TraceArchive) Migrate(ctx context.Context) error {
	return runMigrations(ctx, a.db)
}

// Vacuum runs VACUUM on the database.
func (a *TraceArchive) Vacuum(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Executions ---

// SaveExecution stores a finished execution and its whole trace atomically.
func (a *TraceArchive) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if err := insertExecution(ctx, tx, rec); err != nil {
		return err
	}
	for _, t := range rec.Transitions {
		if t.ExecutionID == "" {
			t.ExecutionID = rec.ID
		}
		if err := insertTransition(ctx, tx, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// BeginExecution stores the execution row of a run that is still going.
// Transitions are appended as they happen and FinishExecution closes it.
func (a *TraceArchive) BeginExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec.Status == "" {
		rec.Status = schema.ExecutionStatusRunning
	}
	return insertExecution(ctx, a.db, rec)
}

// FinishExecution records the outcome of a run opened with BeginExecution.
func (a *TraceArchive) FinishExecution(ctx context.Context, rec *ExecutionRecord) error {
	errName, cause := errorColumns(rec.Error)
	res, err := a.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, output = ?, error = ?, cause = ?, stopped_at = ? WHERE id = ?`,
		string(rec.Status), nullRaw(rec.Output), errName, cause, nullTime(rec.StoppedAt), rec.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", rec.ID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertExecution(ctx context.Context, db execer, rec *ExecutionRecord) error {
	errName, cause := errorColumns(rec.Error)
	_, err := db.ExecContext(ctx,
		`INSERT INTO executions (id, name, state_machine, status, definition, input, output, error, cause, started_at, stopped_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.StateMachine, string(rec.Status),
		nullRaw(rec.Definition), nullRaw(rec.Input), nullRaw(rec.Output), errName, cause,
		timeOrNow(rec.StartedAt), nullTime(rec.StoppedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict, "execution %q is already archived", rec.ID).WithCause(err)
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution returns an execution with its full trace.
func (a *TraceArchive) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT id, name, state_machine, status, definition, input, output, error, cause, started_at, stopped_at
		 FROM executions WHERE id = ?`, id)
	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, err
	}

	rec.Transitions, err = a.ListTransitions(ctx, id, TransitionFilter{})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListExecutions returns executions newest first, without their traces.
func (a *TraceArchive) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	query := `SELECT id, name, state_machine, status, definition, input, output, error, cause, started_at, stopped_at FROM executions`
	var where []string
	var args []any

	if filter.StateMachine != "" {
		where = append(where, "state_machine = ?")
		args = append(args, filter.StateMachine)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteExecution removes an execution and, by cascade, its trace.
func (a *TraceArchive) DeleteExecution(ctx context.Context, id string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	var status string
	var def, input, output, errName, cause sql.NullString
	var stopped sql.NullTime
	if err := row.Scan(&rec.ID, &rec.Name, &rec.StateMachine, &status, &def, &input, &output, &errName, &cause, &rec.StartedAt, &stopped); err != nil {
		return nil, err
	}
	rec.Status = schema.ExecutionStatus(status)
	rec.Definition = rawOrNil(def)
	rec.Input = rawOrNil(input)
	rec.Output = rawOrNil(output)
	rec.Error = errorDetail(errName, cause)
	if stopped.Valid {
		rec.StoppedAt = &stopped.Time
	}
	return rec, nil
}

// --- Transitions ---

// AppendTransition appends one transition. A record without a sequence gets
// the next one for its execution.
func (a *TraceArchive) AppendTransition(ctx context.Context, rec schema.TransitionRecord) error {
	if rec.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "transition has no execution id")
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if rec.Sequence == 0 {
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sequence), 0) + 1 FROM transitions WHERE execution_id = ?`, rec.ExecutionID,
		).Scan(&rec.Sequence); err != nil {
			return fmt.Errorf("get next sequence: %w", err)
		}
	}
	if err := insertTransition(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func insertTransition(ctx context.Context, db execer, rec schema.TransitionRecord) error {
	input, err := marshalValue(rec.Input)
	if err != nil {
		return fmt.Errorf("marshal transition input: %w", err)
	}
	output, err := marshalValue(rec.Output)
	if err != nil {
		return fmt.Errorf("marshal transition output: %w", err)
	}
	errName, cause := errorColumns(rec.Error)

	_, err = db.ExecContext(ctx,
		`INSERT INTO transitions (execution_id, sequence, label, state_name, elapsed_ms, timestamp, input, output, item_index, item_length, error, cause)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ExecutionID, rec.Sequence, string(rec.Label), nullStr(rec.StateName), rec.ElapsedMillis,
		timeOrNow(rec.Timestamp), input, output, nullInt(rec.Index), nullInt(rec.Length), errName, cause,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"transition %d of execution %q already exists", rec.Sequence, rec.ExecutionID).WithCause(err)
		}
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// ListTransitions returns the trace of an execution in sequence order.
func (a *TraceArchive) ListTransitions(ctx context.Context, executionID string, filter TransitionFilter) ([]schema.TransitionRecord, error) {
	query := `SELECT execution_id, sequence, label, state_name, elapsed_ms, timestamp, input, output, item_index, item_length, error, cause
		FROM transitions WHERE execution_id = ? AND sequence > ?`
	args := []any{executionID, filter.Since}

	if filter.StateName != "" {
		query += " AND state_name = ?"
		args = append(args, filter.StateName)
	}
	if len(filter.Labels) > 0 {
		placeholders := make([]string, len(filter.Labels))
		for i, l := range filter.Labels {
			placeholders[i] = "?"
			args = append(args, string(l))
		}
		query += " AND label IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY sequence ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schema.TransitionRecord
	for rows.Next() {
		var rec schema.TransitionRecord
		var label string
		var stateName, input, output, errName, cause sql.NullString
		var index, length sql.NullInt64
		if err := rows.Scan(&rec.ExecutionID, &rec.Sequence, &label, &stateName, &rec.ElapsedMillis, &rec.Timestamp,
			&input, &output, &index, &length, &errName, &cause); err != nil {
			return nil, err
		}
		rec.Label = schema.TransitionLabel(label)
		rec.StateName = stateName.String
		if rec.Input, err = unmarshalValue(input); err != nil {
			return nil, fmt.Errorf("unmarshal transition input: %w", err)
		}
		if rec.Output, err = unmarshalValue(output); err != nil {
			return nil, fmt.Errorf("unmarshal transition output: %w", err)
		}
		rec.Index = intOrNil(index)
		rec.Length = intOrNil(length)
		rec.Error = errorDetail(errName, cause)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.ExecutionError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "primary key")
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func intOrNil(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalValue(ns sql.NullString) (any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func errorColumns(d *schema.ErrorDetail) (any, any) {
	if d == nil {
		return nil, nil
	}
	return d.Error, d.Cause
}

func errorDetail(name, cause sql.NullString) *schema.ErrorDetail {
	if !name.Valid {
		return nil
	}
	return &schema.ErrorDetail{Error: name.String, Cause: cause.String}
}
