// Package store persists nest run reports in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/cmsnest/dbopen"
	"github.com/hazyhaar/cmsnest/nest/outcome"
)

// Store is the report database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the report database at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// SaveReport writes a run and its items in one transaction. Saving the same
// run twice replaces it.
func (s *Store) SaveReport(ctx context.Context, r *outcome.Report) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM nest_runs WHERE run_id = ?`, r.RunID); err != nil {
			return fmt.Errorf("store: clear run: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO nest_runs (run_id, page_url, started_at, finished_at) VALUES (?, ?, ?, ?)`,
			r.RunID, r.PageURL, r.StartedAt, r.FinishedAt,
		); err != nil {
			return fmt.Errorf("store: insert run: %w", err)
		}
		for _, it := range r.Items {
			sub, _ := json.Marshal(nonNil(it.Substituted))
			miss, _ := json.Marshal(nonNil(it.Missing))
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO nest_items (run_id, idx, marker, href, url, status, reason, kind,
				                        error, status_code, substituted, missing, duration_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.RunID, it.Index, it.Marker, it.Href, it.URL, string(it.Status), string(it.Reason),
				string(it.Kind), it.Error, it.StatusCode, string(sub), string(miss), it.DurationMs,
			); err != nil {
				return fmt.Errorf("store: insert item %d: %w", it.Index, err)
			}
		}
		return nil
	})
}

// GetReport loads a run with its items. Returns nil, nil when the run does
// not exist.
func (s *Store) GetReport(ctx context.Context, runID string) (*outcome.Report, error) {
	r := &outcome.Report{RunID: runID}
	err := s.DB.QueryRowContext(ctx,
		`SELECT page_url, started_at, finished_at FROM nest_runs WHERE run_id = ?`, runID,
	).Scan(&r.PageURL, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT idx, marker, href, url, status, reason, kind, error, status_code,
		       substituted, missing, duration_ms
		FROM nest_items WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: get items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it outcome.Item
		var status, reason, kind, sub, miss string
		if err := rows.Scan(&it.Index, &it.Marker, &it.Href, &it.URL, &status, &reason, &kind,
			&it.Error, &it.StatusCode, &sub, &miss, &it.DurationMs); err != nil {
			return nil, fmt.Errorf("store: scan item: %w", err)
		}
		it.Status = outcome.Status(status)
		it.Reason = outcome.SkipReason(reason)
		it.Kind = outcome.FailureKind(kind)
		json.Unmarshal([]byte(sub), &it.Substituted)
		json.Unmarshal([]byte(miss), &it.Missing)
		r.Items = append(r.Items, it)
	}
	return r, rows.Err()
}

// ListRuns returns the most recent runs first, with per-status counts.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]outcome.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT r.run_id, r.page_url, r.started_at, r.finished_at,
		       COALESCE(SUM(i.status = 'succeeded'), 0),
		       COALESCE(SUM(i.status = 'skipped'), 0),
		       COALESCE(SUM(i.status = 'failed'), 0)
		FROM nest_runs r
		LEFT JOIN nest_items i ON i.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_at DESC, r.run_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []outcome.RunSummary
	for rows.Next() {
		var rs outcome.RunSummary
		if err := rows.Scan(&rs.RunID, &rs.PageURL, &rs.StartedAt, &rs.FinishedAt,
			&rs.Succeeded, &rs.Skipped, &rs.Failed); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
