package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	apperrors "github.com/kurihiro0119/gitlab-inventory/internal/errors"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS inventory_runs (
		id TEXT PRIMARY KEY,
		gitlab_url TEXT NOT NULL,
		root_group TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'in_progress',
		group_count INTEGER NOT NULL DEFAULT 0,
		project_count INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_inventory_runs_started_at ON inventory_runs(started_at);

	CREATE TABLE IF NOT EXISTS inventory_groups (
		run_id TEXT NOT NULL REFERENCES inventory_runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		group_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		full_path TEXT NOT NULL,
		parent_id BIGINT NOT NULL DEFAULT 0,
		parent_path TEXT NOT NULL DEFAULT '',
		depth INTEGER NOT NULL DEFAULT 0,
		data JSONB NOT NULL,
		PRIMARY KEY (run_id, group_id)
	);

	CREATE TABLE IF NOT EXISTS inventory_records (
		run_id TEXT NOT NULL REFERENCES inventory_runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		project_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		group_path TEXT NOT NULL,
		path TEXT NOT NULL,
		status TEXT NOT NULL,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		total_commits BIGINT NOT NULL DEFAULT 0,
		repository_size_mb DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_size_mb DOUBLE PRECISION NOT NULL DEFAULT 0,
		has_large_file BOOLEAN NOT NULL DEFAULT FALSE,
		exceeds_2gb BOOLEAN NOT NULL DEFAULT FALSE,
		exceeds_6gb BOOLEAN NOT NULL DEFAULT FALSE,
		has_pipeline BOOLEAN NOT NULL DEFAULT FALSE,
		skip_reason TEXT NOT NULL DEFAULT '',
		data JSONB NOT NULL,
		PRIMARY KEY (run_id, project_id)
	);

	CREATE INDEX IF NOT EXISTS idx_inventory_records_run_position ON inventory_records(run_id, position);
	CREATE INDEX IF NOT EXISTS idx_inventory_records_run_status ON inventory_records(run_id, status);
	CREATE INDEX IF NOT EXISTS idx_inventory_records_exceeds_2gb ON inventory_records(run_id) WHERE exceeds_2gb;
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateRun inserts a new run. A missing id is filled with a new UUID.
func (s *postgresStorage) CreateRun(ctx context.Context, run *domain.InventoryRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusInProgress
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_runs (id, gitlab_url, root_group, status, group_count, project_count, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, run.ID, run.GitLabURL, run.RootGroup, string(run.Status), run.GroupCount, run.ProjectCount, run.StartedAt)
	return err
}

// FinishRun records the final status and counts of a run
func (s *postgresStorage) FinishRun(ctx context.Context, runID string, status domain.RunStatus, groupCount, projectCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_runs
		SET status = $1, group_count = $2, project_count = $3, finished_at = CURRENT_TIMESTAMP
		WHERE id = $4
	`, string(status), groupCount, projectCount, runID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError("run " + runID)
	}
	return nil
}

const runColumns = `id, gitlab_url, root_group, status, group_count, project_count, started_at, finished_at`

// GetRun retrieves a run by ID
func (s *postgresStorage) GetRun(ctx context.Context, runID string) (*domain.InventoryRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM inventory_runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run " + runID)
	}
	return run, err
}

// GetLatestRun retrieves the most recently started run
func (s *postgresStorage) GetLatestRun(ctx context.Context) (*domain.InventoryRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM inventory_runs ORDER BY started_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run")
	}
	return run, err
}

// ListRuns retrieves runs, newest first. limit <= 0 returns every run.
func (s *postgresStorage) ListRuns(ctx context.Context, limit int) ([]*domain.InventoryRun, error) {
	query := `SELECT ` + runColumns + ` FROM inventory_runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.InventoryRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.InventoryRun, error) {
	var run domain.InventoryRun
	var status string
	var finishedAt sql.NullTime

	err := row.Scan(&run.ID, &run.GitLabURL, &run.RootGroup, &status,
		&run.GroupCount, &run.ProjectCount, &run.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}

// SaveGroups saves the groups of a run in walk order
func (s *postgresStorage) SaveGroups(ctx context.Context, runID string, groups []domain.GroupNode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO inventory_groups (run_id, position, group_id, name, full_path, parent_id, parent_path, depth, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, group_id) DO UPDATE SET
			position = EXCLUDED.position,
			name = EXCLUDED.name,
			full_path = EXCLUDED.full_path,
			parent_id = EXCLUDED.parent_id,
			parent_path = EXCLUDED.parent_path,
			depth = EXCLUDED.depth,
			data = EXCLUDED.data
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, g := range groups {
		dataJSON, err := json.Marshal(g)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, runID, i, g.ID, g.Name, g.FullPath, g.ParentID, g.ParentPath, g.Depth, dataJSON)
		if err != nil {
			return fmt.Errorf("failed to save group %s: %w", g.FullPath, err)
		}
	}

	return tx.Commit()
}

// GetGroups retrieves the groups of a run in walk order
func (s *postgresStorage) GetGroups(ctx context.Context, runID string) ([]domain.GroupNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM inventory_groups
		WHERE run_id = $1
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []domain.GroupNode
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var g domain.GroupNode
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("failed to decode group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// SaveRecords saves the records of a run. Their order is kept.
func (s *postgresStorage) SaveRecords(ctx context.Context, runID string, records []domain.InventoryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var offset int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM inventory_records WHERE run_id = $1`, runID).Scan(&offset); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO inventory_records (
			run_id, position, project_id, name, group_path, path, status, archived, total_commits,
			repository_size_mb, total_size_mb, has_large_file, exceeds_2gb, exceeds_6gb, has_pipeline,
			skip_reason, data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (run_id, project_id) DO UPDATE SET
			status = EXCLUDED.status,
			archived = EXCLUDED.archived,
			total_commits = EXCLUDED.total_commits,
			repository_size_mb = EXCLUDED.repository_size_mb,
			total_size_mb = EXCLUDED.total_size_mb,
			has_large_file = EXCLUDED.has_large_file,
			exceeds_2gb = EXCLUDED.exceeds_2gb,
			exceeds_6gb = EXCLUDED.exceeds_6gb,
			has_pipeline = EXCLUDED.has_pipeline,
			skip_reason = EXCLUDED.skip_reason,
			data = EXCLUDED.data
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rec := range records {
		dataJSON, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		f := rec.Facts
		_, err = stmt.ExecContext(ctx,
			runID,
			offset+i,
			rec.Project.ID,
			rec.Project.Name,
			rec.Project.GroupPath,
			rec.Project.PathWithNamespace,
			string(rec.Status),
			rec.Project.Archived,
			f.TotalCommits,
			f.RepositorySizeMB,
			f.TotalSizeMB,
			f.HasLargeFile,
			f.Exceeds2GB,
			f.Exceeds6GB,
			f.HasPipeline,
			rec.SkipReason,
			dataJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to save record %d: %w", rec.Project.ID, err)
		}
	}

	return tx.Commit()
}

// GetRecords retrieves the records of a run in saved order
func (s *postgresStorage) GetRecords(ctx context.Context, runID string, status domain.RecordStatus) ([]domain.InventoryRecord, error) {
	query := `SELECT data FROM inventory_records WHERE run_id = $1`
	args := []any{runID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY position`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.InventoryRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec domain.InventoryRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
