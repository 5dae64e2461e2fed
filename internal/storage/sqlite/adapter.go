package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	apperrors "github.com/kurihiro0119/gitlab-inventory/internal/errors"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS inventory_runs (
		id TEXT PRIMARY KEY,
		gitlab_url TEXT NOT NULL,
		root_group TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'in_progress',
		group_count INTEGER NOT NULL DEFAULT 0,
		project_count INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_inventory_runs_started_at ON inventory_runs(started_at);

	CREATE TABLE IF NOT EXISTS inventory_groups (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		group_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		full_path TEXT NOT NULL,
		parent_id INTEGER NOT NULL DEFAULT 0,
		parent_path TEXT NOT NULL DEFAULT '',
		depth INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL,
		PRIMARY KEY (run_id, group_id),
		FOREIGN KEY (run_id) REFERENCES inventory_runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS inventory_records (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		project_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		group_path TEXT NOT NULL,
		path TEXT NOT NULL,
		status TEXT NOT NULL,
		archived INTEGER NOT NULL DEFAULT 0,
		total_commits INTEGER NOT NULL DEFAULT 0,
		repository_size_mb REAL NOT NULL DEFAULT 0,
		total_size_mb REAL NOT NULL DEFAULT 0,
		has_large_file INTEGER NOT NULL DEFAULT 0,
		exceeds_2gb INTEGER NOT NULL DEFAULT 0,
		exceeds_6gb INTEGER NOT NULL DEFAULT 0,
		has_pipeline INTEGER NOT NULL DEFAULT 0,
		skip_reason TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL,
		PRIMARY KEY (run_id, project_id),
		FOREIGN KEY (run_id) REFERENCES inventory_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_inventory_records_run_position ON inventory_records(run_id, position);
	CREATE INDEX IF NOT EXISTS idx_inventory_records_run_status ON inventory_records(run_id, status);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateRun inserts a new run. A missing id is filled with a new UUID.
func (s *sqliteStorage) CreateRun(ctx context.Context, run *domain.InventoryRun) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.GitLabURL, run.RootGroup, string(run.Status), run.GroupCount, run.ProjectCount, run.StartedAt.UTC())
	return err
}

// FinishRun records the final status and counts of a run
func (s *sqliteStorage) FinishRun(ctx context.Context, runID string, status domain.RunStatus, groupCount, projectCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_runs
		SET status = ?, group_count = ?, project_count = ?, finished_at = ?
		WHERE id = ?
	`, string(status), groupCount, projectCount, time.Now().UTC(), runID)
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
func (s *sqliteStorage) GetRun(ctx context.Context, runID string) (*domain.InventoryRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM inventory_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run " + runID)
	}
	return run, err
}

// GetLatestRun retrieves the most recently started run
func (s *sqliteStorage) GetLatestRun(ctx context.Context) (*domain.InventoryRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM inventory_runs ORDER BY started_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run")
	}
	return run, err
}

// ListRuns retrieves runs, newest first. limit <= 0 returns every run.
func (s *sqliteStorage) ListRuns(ctx context.Context, limit int) ([]*domain.InventoryRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM inventory_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
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
func (s *sqliteStorage) SaveGroups(ctx context.Context, runID string, groups []domain.GroupNode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO inventory_groups (run_id, position, group_id, name, full_path, parent_id, parent_path, depth, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		_, err = stmt.ExecContext(ctx, runID, i, g.ID, g.Name, g.FullPath, g.ParentID, g.ParentPath, g.Depth, string(dataJSON))
		if err != nil {
			return fmt.Errorf("failed to save group %s: %w", g.FullPath, err)
		}
	}

	return tx.Commit()
}

// GetGroups retrieves the groups of a run in walk order
func (s *sqliteStorage) GetGroups(ctx context.Context, runID string) ([]domain.GroupNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM inventory_groups
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []domain.GroupNode
	for rows.Next() {
		var dataStr string
		if err := rows.Scan(&dataStr); err != nil {
			return nil, err
		}
		var g domain.GroupNode
		if err := json.Unmarshal([]byte(dataStr), &g); err != nil {
			return nil, fmt.Errorf("failed to decode group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// SaveRecords saves the records of a run. Their order is kept.
func (s *sqliteStorage) SaveRecords(ctx context.Context, runID string, records []domain.InventoryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var offset int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM inventory_records WHERE run_id = ?`, runID).Scan(&offset); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO inventory_records (
			run_id, position, project_id, name, group_path, path, status, archived, total_commits,
			repository_size_mb, total_size_mb, has_large_file, exceeds_2gb, exceeds_6gb, has_pipeline,
			skip_reason, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
			boolInt(rec.Project.Archived),
			f.TotalCommits,
			f.RepositorySizeMB,
			f.TotalSizeMB,
			boolInt(f.HasLargeFile),
			boolInt(f.Exceeds2GB),
			boolInt(f.Exceeds6GB),
			boolInt(f.HasPipeline),
			rec.SkipReason,
			string(dataJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to save record %d: %w", rec.Project.ID, err)
		}
	}

	return tx.Commit()
}

// GetRecords retrieves the records of a run in saved order
func (s *sqliteStorage) GetRecords(ctx context.Context, runID string, status domain.RecordStatus) ([]domain.InventoryRecord, error) {
	query := `SELECT data FROM inventory_records WHERE run_id = ?`
	args := []any{runID}
	if status != "" {
		query += ` AND status = ?`
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
		var dataStr string
		if err := rows.Scan(&dataStr); err != nil {
			return nil, err
		}
		var rec domain.InventoryRecord
		if err := json.Unmarshal([]byte(dataStr), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database connection
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
