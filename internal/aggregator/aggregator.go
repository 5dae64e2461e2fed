package aggregator

import (
	"context"
	"math"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage"
)

// Aggregator defines the interface for summarizing stored inventory runs
type Aggregator interface {
	// RunSummary summarizes every record of a run
	RunSummary(ctx context.Context, runID string) (*domain.InventorySummary, error)

	// GroupSummaries summarizes the records of a run per owning group, in discovery order
	GroupSummaries(ctx context.Context, runID string) ([]*domain.InventorySummary, error)
}

// aggregator implements the Aggregator interface
type aggregator struct {
	storage storage.Storage
}

// NewAggregator creates a new aggregator
func NewAggregator(storage storage.Storage) Aggregator {
	return &aggregator{
		storage: storage,
	}
}

// RunSummary summarizes every record of a run
func (a *aggregator) RunSummary(ctx context.Context, runID string) (*domain.InventorySummary, error) {
	if _, err := a.storage.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	records, err := a.storage.GetRecords(ctx, runID, "")
	if err != nil {
		return nil, err
	}

	summary := Summarize(records)
	summary.RunID = runID
	return &summary, nil
}

// GroupSummaries summarizes the records of a run per owning group
func (a *aggregator) GroupSummaries(ctx context.Context, runID string) ([]*domain.InventorySummary, error) {
	if _, err := a.storage.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	records, err := a.storage.GetRecords(ctx, runID, "")
	if err != nil {
		return nil, err
	}

	summaries := ByGroup(records)
	for _, s := range summaries {
		s.RunID = runID
	}
	return summaries, nil
}

// Summarize computes the totals of a set of records
func Summarize(records []domain.InventoryRecord) domain.InventorySummary {
	var s domain.InventorySummary
	for _, rec := range records {
		add(&s, rec)
	}
	s.RepositorySizeMB = round2(s.RepositorySizeMB)
	s.TotalSizeMB = round2(s.TotalSizeMB)
	return s
}

// ByGroup computes one summary per owning group, ordered by first appearance
func ByGroup(records []domain.InventoryRecord) []*domain.InventorySummary {
	index := make(map[string]*domain.InventorySummary)
	var out []*domain.InventorySummary

	for _, rec := range records {
		s, ok := index[rec.Project.GroupPath]
		if !ok {
			s = &domain.InventorySummary{Group: rec.Project.GroupPath}
			index[rec.Project.GroupPath] = s
			out = append(out, s)
		}
		add(s, rec)
	}

	for _, s := range out {
		s.RepositorySizeMB = round2(s.RepositorySizeMB)
		s.TotalSizeMB = round2(s.TotalSizeMB)
	}
	return out
}

func add(s *domain.InventorySummary, rec domain.InventoryRecord) {
	f := rec.Facts
	s.Projects++

	switch rec.Status {
	case domain.RecordStatusActive:
		s.Active++
	case domain.RecordStatusArchived:
		s.Archived++
	case domain.RecordStatusError:
		s.Errors++
	}

	if f.HasLargeFile {
		s.WithLargeFile++
	}
	if f.Exceeds2GB {
		s.Exceeding2GB++
	}
	if f.Exceeds6GB {
		s.Exceeding6GB++
	}
	if f.HasPipeline {
		s.WithPipeline++
	}

	s.TotalCommits += int64(f.TotalCommits)
	s.RepositorySizeMB += f.RepositorySizeMB
	s.TotalSizeMB += f.TotalSizeMB

	if f.RepositorySizeMB > s.LargestProjectMB {
		s.LargestProjectMB = f.RepositorySizeMB
		s.LargestProject = rec.Project.PathWithNamespace
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
