package storage

import (
	"context"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
)

// Storage is the abstract interface for the persistence layer.
// It holds inventory snapshots; the collection engine writes to it but never reads from it.
type Storage interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.InventoryRun) error
	FinishRun(ctx context.Context, runID string, status domain.RunStatus, groupCount, projectCount int) error
	GetRun(ctx context.Context, runID string) (*domain.InventoryRun, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.InventoryRun, error)
	GetLatestRun(ctx context.Context) (*domain.InventoryRun, error)

	// Group operations
	SaveGroups(ctx context.Context, runID string, groups []domain.GroupNode) error
	GetGroups(ctx context.Context, runID string) ([]domain.GroupNode, error)

	// Record operations. Records keep the order they were saved in.
	SaveRecords(ctx context.Context, runID string, records []domain.InventoryRecord) error
	// GetRecords returns the records of a run; an empty status returns every record.
	GetRecords(ctx context.Context, runID string, status domain.RecordStatus) ([]domain.InventoryRecord, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
