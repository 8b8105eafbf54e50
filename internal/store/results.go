package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pipewatch/pipewatch/internal/checks"
	"github.com/pipewatch/pipewatch/pkg/errors"
)

// resultRow is the database shape of one check result
type resultRow struct {
	CheckName  string    `db:"check_name"`
	CheckKind  string    `db:"check_kind"`
	Connector  string    `db:"connector"`
	TableName  string    `db:"table_name"`
	Status     string    `db:"status"`
	Message    string    `db:"message"`
	LagSeconds float64   `db:"lag_seconds"`
	RowCount   int64     `db:"row_count"`
	ZScore     float64   `db:"z_score"`
	DurationMS int64     `db:"duration_ms"`
	RunAt      time.Time `db:"run_at"`
}

func (r resultRow) toResult() *checks.Result {
	return &checks.Result{
		CheckName: r.CheckName,
		CheckKind: r.CheckKind,
		Connector: r.Connector,
		Table:     r.TableName,
		Status:    checks.Status(r.Status),
		Message:   r.Message,
		Lag:       time.Duration(r.LagSeconds * float64(time.Second)),
		RowCount:  r.RowCount,
		ZScore:    r.ZScore,
		Duration:  time.Duration(r.DurationMS) * time.Millisecond,
		RunAt:     r.RunAt,
	}
}

// InsertResult persists one check result
func (s *Store) InsertResult(ctx context.Context, result *checks.Result) error {
	query := `
		INSERT INTO check_results
			(check_name, check_kind, connector, table_name, status, message,
			 lag_seconds, row_count, z_score, duration_ms, run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	// Infinite scores from a flat baseline are stored clamped
	zScore := clampZScore(result.ZScore)

	_, err := s.db.ExecContext(ctx, query,
		result.CheckName, result.CheckKind, result.Connector, result.Table,
		string(result.Status), result.Message,
		result.Lag.Seconds(), result.RowCount, zScore,
		result.Duration.Milliseconds(), result.RunAt,
	)
	if err != nil {
		return errors.NewQueryError("store", err.Error())
	}
	return nil
}

func clampZScore(z float64) float64 {
	switch {
	case z != z:
		return 0
	case z > 1e9:
		return 1e9
	case z < -1e9:
		return -1e9
	}
	return z
}

// RecentResults returns the newest results across all checks
func (s *Store) RecentResults(ctx context.Context, limit int) ([]*checks.Result, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT check_name, check_kind, connector, table_name, status, message,
		       lag_seconds, row_count, z_score, duration_ms, run_at
		FROM check_results
		ORDER BY run_at DESC
		LIMIT $1`

	var rows []resultRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, errors.NewQueryError("store", err.Error())
	}

	results := make([]*checks.Result, len(rows))
	for i, row := range rows {
		results[i] = row.toResult()
	}
	return results, nil
}

// LatestResults returns the newest result of every check
func (s *Store) LatestResults(ctx context.Context) ([]*checks.Result, error) {
	query := `
		SELECT DISTINCT ON (check_name)
		       check_name, check_kind, connector, table_name, status, message,
		       lag_seconds, row_count, z_score, duration_ms, run_at
		FROM check_results
		ORDER BY check_name, run_at DESC`

	var rows []resultRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.NewQueryError("store", err.Error())
	}

	results := make([]*checks.Result, len(rows))
	for i, row := range rows {
		results[i] = row.toResult()
	}
	return results, nil
}

// LatestResult returns the newest result of one check
func (s *Store) LatestResult(ctx context.Context, checkName string) (*checks.Result, error) {
	query := `
		SELECT check_name, check_kind, connector, table_name, status, message,
		       lag_seconds, row_count, z_score, duration_ms, run_at
		FROM check_results
		WHERE check_name = $1
		ORDER BY run_at DESC
		LIMIT 1`

	var row resultRow
	err := s.db.GetContext(ctx, &row, query, checkName)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("check " + checkName)
	}
	if err != nil {
		return nil, errors.NewQueryError("store", err.Error())
	}
	return row.toResult(), nil
}

// InsertVolumeSample records one volume observation for baseline history
func (s *Store) InsertVolumeSample(ctx context.Context, connector, table string, rowCount int64, sampledAt time.Time) error {
	query := `
		INSERT INTO volume_samples (connector, table_name, row_count, sampled_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.db.ExecContext(ctx, query, connector, table, rowCount, sampledAt); err != nil {
		return errors.NewQueryError("store", err.Error())
	}
	return nil
}

// RecentVolumeSamples returns up to limit samples, oldest first, so they can
// seed a baseline in arrival order
func (s *Store) RecentVolumeSamples(ctx context.Context, connector, table string, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 24
	}

	query := `
		SELECT row_count FROM (
			SELECT row_count, sampled_at
			FROM volume_samples
			WHERE connector = $1 AND table_name = $2
			ORDER BY sampled_at DESC
			LIMIT $3
		) recent
		ORDER BY sampled_at ASC`

	var counts []int64
	if err := s.db.SelectContext(ctx, &counts, query, connector, table, limit); err != nil {
		return nil, errors.NewQueryError("store", err.Error())
	}
	return counts, nil
}

// PruneResults deletes results older than the retention cutoff and returns
// how many rows were removed
func (s *Store) PruneResults(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM check_results WHERE run_at < $1`, olderThan)
	if err != nil {
		return 0, errors.NewQueryError("store", err.Error())
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.NewQueryError("store", err.Error())
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM volume_samples WHERE sampled_at < $1`, olderThan); err != nil {
		return affected, errors.NewQueryError("store", err.Error())
	}
	return affected, nil
}
