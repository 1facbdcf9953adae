package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Marker records that a stage finished one work item.
type Marker struct {
	Stage       string
	Key         string
	Outputs     []string
	CompletedAt time.Time
}

// MarkComplete records that stage finished key, producing outputs. Paths
// inside the working directory are stored relative to it.
func (s *Store) MarkComplete(ctx context.Context, stage, key string, outputs []string) error {
	stage = strings.TrimSpace(stage)
	key = strings.TrimSpace(key)
	if stage == "" || key == "" {
		return errors.New("mark complete: stage and key required")
	}
	encoded, err := json.Marshal(s.relativize(outputs))
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO markers (stage, item_key, outputs, completed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(stage, item_key) DO UPDATE SET outputs = excluded.outputs, completed_at = excluded.completed_at`,
		stage, key, string(encoded), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("mark %s/%s complete: %w", stage, key, err)
	}
	return nil
}

// IsComplete reports whether stage has a marker for key whose outputs all
// still exist.
func (s *Store) IsComplete(ctx context.Context, stage, key string) (bool, error) {
	ctx = ensureContext(ctx)
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT outputs FROM markers WHERE stage = ? AND item_key = ?", stage, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query marker %s/%s: %w", stage, key, err)
	}
	outputs, err := decodeOutputs(raw)
	if err != nil {
		return false, err
	}
	return s.outputsExist(outputs), nil
}

// Completed returns the keys of stage whose markers are still valid.
func (s *Store) Completed(ctx context.Context, stage string) (map[string]struct{}, error) {
	markers, err := s.Markers(ctx, stage)
	if err != nil {
		return nil, err
	}
	done := make(map[string]struct{}, len(markers))
	for _, marker := range markers {
		if s.outputsExist(marker.Outputs) {
			done[marker.Key] = struct{}{}
		}
	}
	return done, nil
}

// Markers lists every marker of stage, ordered by key. An empty stage lists
// markers of all stages.
func (s *Store) Markers(ctx context.Context, stage string) ([]Marker, error) {
	ctx = ensureContext(ctx)
	query := "SELECT stage, item_key, outputs, completed_at FROM markers"
	var args []any
	if stage != "" {
		query += " WHERE stage = ?"
		args = append(args, stage)
	}
	query += " ORDER BY stage, item_key"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query markers: %w", err)
	}
	defer rows.Close()

	var markers []Marker
	for rows.Next() {
		var (
			marker     Marker
			raw, stamp string
		)
		if err := rows.Scan(&marker.Stage, &marker.Key, &raw, &stamp); err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		if marker.Outputs, err = decodeOutputs(raw); err != nil {
			return nil, err
		}
		marker.CompletedAt, _ = time.Parse(time.RFC3339Nano, stamp)
		markers = append(markers, marker)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate markers: %w", err)
	}
	return markers, nil
}

// Clear forgets every marker of stage and returns how many were removed.
func (s *Store) Clear(ctx context.Context, stage string) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM markers WHERE stage = ?", stage)
	if err != nil {
		return 0, fmt.Errorf("clear stage %s: %w", stage, err)
	}
	return res.RowsAffected()
}

// Resolve turns a stored output path back into an absolute path.
func (s *Store) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.root, path)
}

func (s *Store) relativize(outputs []string) []string {
	out := make([]string, 0, len(outputs))
	for _, output := range outputs {
		if rel, err := filepath.Rel(s.root, output); err == nil && filepath.IsAbs(output) && !strings.HasPrefix(rel, "..") {
			out = append(out, rel)
			continue
		}
		out = append(out, output)
	}
	return out
}

func (s *Store) outputsExist(outputs []string) bool {
	for _, output := range outputs {
		if _, err := os.Stat(s.Resolve(output)); err != nil {
			return false
		}
	}
	return true
}

func decodeOutputs(raw string) ([]string, error) {
	var outputs []string
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(raw), &outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	return outputs, nil
}
