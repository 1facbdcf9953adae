package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunRecord is the persisted summary of one pipeline run.
type RunRecord struct {
	ID         string
	WorkDir    string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Error      string
	Stages     []StageRecord
}

// StageRecord is the persisted outcome of one stage within a run.
type StageRecord struct {
	Stage    string
	Outcome  string
	Items    int
	Skipped  int
	Failed   int
	Error    string
	Duration time.Duration
}

// RecordRun stores a run and its stage outcomes.
func (s *Store) RecordRun(ctx context.Context, run RunRecord) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin run tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, work_dir, started_at, finished_at, status, error) VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, run.WorkDir, formatTime(run.StartedAt), formatTime(run.FinishedAt), run.Status, nullString(run.Error),
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		for idx, stage := range run.Stages {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO run_stages (run_id, position, stage, outcome, items, skipped, failed, error, duration_ms)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				run.ID, idx, stage.Stage, stage.Outcome, stage.Items, stage.Skipped, stage.Failed,
				nullString(stage.Error), stage.Duration.Milliseconds(),
			); err != nil {
				return fmt.Errorf("insert run stage: %w", err)
			}
		}
		return tx.Commit()
	})
}

// Runs returns the most recent runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	ctx = ensureContext(ctx)
	query := "SELECT id, work_dir, started_at, finished_at, status, error FROM runs ORDER BY started_at DESC, id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	var runs []RunRecord
	for rows.Next() {
		var (
			run               RunRecord
			started, finished string
			errText           sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.WorkDir, &started, &finished, &run.Status, &errText); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		run.Error = errText.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	rows.Close()

	for i := range runs {
		stages, err := s.runStages(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Stages = stages
	}
	return runs, nil
}

func (s *Store) runStages(ctx context.Context, runID string) ([]StageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, outcome, items, skipped, failed, error, duration_ms FROM run_stages WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run stages: %w", err)
	}
	defer rows.Close()

	var stages []StageRecord
	for rows.Next() {
		var (
			stage    StageRecord
			errText  sql.NullString
			duration int64
		)
		if err := rows.Scan(&stage.Stage, &stage.Outcome, &stage.Items, &stage.Skipped, &stage.Failed, &errText, &duration); err != nil {
			return nil, fmt.Errorf("scan run stage: %w", err)
		}
		stage.Error = errText.String
		stage.Duration = time.Duration(duration) * time.Millisecond
		stages = append(stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run stages: %w", err)
	}
	return stages, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, value)
	return t
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
