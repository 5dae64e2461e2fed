// Package memory is a process-local Storage used for dry runs and tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	apperrors "github.com/kurihiro0119/gitlab-inventory/internal/errors"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage"
)

type memoryStorage struct {
	mu      sync.RWMutex
	runs    map[string]*domain.InventoryRun
	groups  map[string][]domain.GroupNode
	records map[string][]domain.InventoryRecord
}

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() storage.Storage {
	return &memoryStorage{
		runs:    make(map[string]*domain.InventoryRun),
		groups:  make(map[string][]domain.GroupNode),
		records: make(map[string][]domain.InventoryRecord),
	}
}

func (s *memoryStorage) Migrate(ctx context.Context) error { return nil }

func (s *memoryStorage) Close() error { return nil }

func (s *memoryStorage) CreateRun(ctx context.Context, run *domain.InventoryRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusInProgress
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *run
	s.runs[run.ID] = &stored
	return nil
}

func (s *memoryStorage) FinishRun(ctx context.Context, runID string, status domain.RunStatus, groupCount, projectCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return apperrors.NewNotFoundError("run " + runID)
	}
	now := time.Now()
	run.Status = status
	run.GroupCount = groupCount
	run.ProjectCount = projectCount
	run.FinishedAt = &now
	return nil
}

func (s *memoryStorage) GetRun(ctx context.Context, runID string) (*domain.InventoryRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, apperrors.NewNotFoundError("run " + runID)
	}
	out := *run
	return &out, nil
}

func (s *memoryStorage) ListRuns(ctx context.Context, limit int) ([]*domain.InventoryRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*domain.InventoryRun, 0, len(s.runs))
	for _, r := range s.runs {
		out := *r
		runs = append(runs, &out)
	}
	slices.SortFunc(runs, func(a, b *domain.InventoryRun) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *memoryStorage) GetLatestRun(ctx context.Context) (*domain.InventoryRun, error) {
	runs, _ := s.ListRuns(ctx, 1)
	if len(runs) == 0 {
		return nil, apperrors.NewNotFoundError("run")
	}
	return runs[0], nil
}

func (s *memoryStorage) SaveGroups(ctx context.Context, runID string, groups []domain.GroupNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[runID] = append(s.groups[runID], groups...)
	return nil
}

func (s *memoryStorage) GetGroups(ctx context.Context, runID string) ([]domain.GroupNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.groups[runID]), nil
}

func (s *memoryStorage) SaveRecords(ctx context.Context, runID string, records []domain.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[runID] = append(s.records[runID], records...)
	return nil
}

func (s *memoryStorage) GetRecords(ctx context.Context, runID string, status domain.RecordStatus) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.InventoryRecord
	for _, rec := range s.records[runID] {
		if status == "" || rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}
