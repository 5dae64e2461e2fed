package worker_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	"github.com/kurihiro0119/gitlab-inventory/internal/worker"
)

func TestPoolProcessesAllItems(t *testing.T) {
	projects := []domain.ProjectRef{
		{ID: 1, Name: "project-1"},
		{ID: 2, Name: "project-2"},
		{ID: 3, Name: "project-3"},
	}

	var processed atomic.Int32

	results := worker.Run(context.Background(), projects, 2, func(ctx context.Context, p domain.ProjectRef) domain.ProjectFacts {
		processed.Add(1)
		return domain.ProjectFacts{ProjectID: p.ID, TotalCommits: p.ID * 10}
	})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if int(processed.Load()) != 3 {
		t.Errorf("expected 3 processed, got %d", processed.Load())
	}
	for _, r := range results {
		if !r.Done {
			t.Errorf("project %d not marked done", r.Project.ID)
		}
		if r.Facts.ProjectID != r.Project.ID {
			t.Errorf("facts of project %d attached to project %d", r.Facts.ProjectID, r.Project.ID)
		}
	}
}

func TestPoolPreservesInputOrder(t *testing.T) {
	projects := make([]domain.ProjectRef, 20)
	for i := range projects {
		projects[i] = domain.ProjectRef{ID: i + 1, Name: fmt.Sprintf("project-%d", i+1)}
	}

	// Earlier projects take longer so that they finish last.
	results := worker.Run(context.Background(), projects, 5, func(ctx context.Context, p domain.ProjectRef) domain.ProjectFacts {
		time.Sleep(time.Duration(len(projects)-p.ID) * time.Millisecond)
		return domain.ProjectFacts{ProjectID: p.ID}
	})

	for i, r := range results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
		if r.Project.ID != i+1 {
			t.Errorf("result %d holds project %d, want %d", i, r.Project.ID, i+1)
		}
	}
}

func TestPoolRespectsConcurrencyLimit(t *testing.T) {
	projects := make([]domain.ProjectRef, 12)
	for i := range projects {
		projects[i] = domain.ProjectRef{ID: i + 1}
	}

	var running, peak atomic.Int32
	worker.Run(context.Background(), projects, 3, func(ctx context.Context, p domain.ProjectRef) domain.ProjectFacts {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return domain.ProjectFacts{ProjectID: p.ID}
	})

	if peak.Load() > 3 {
		t.Errorf("expected at most 3 concurrent workers, saw %d", peak.Load())
	}
}

func TestPoolIsolatesDegradedProjects(t *testing.T) {
	projects := []domain.ProjectRef{
		{ID: 1, Name: "good"},
		{ID: 2, Name: "bad"},
		{ID: 3, Name: "good-too"},
	}

	results := worker.Run(context.Background(), projects, 2, func(ctx context.Context, p domain.ProjectRef) domain.ProjectFacts {
		if p.Name == "bad" {
			return domain.ProjectFacts{ProjectID: p.ID, Degraded: true, Notes: []string{"project: timeout"}}
		}
		return domain.ProjectFacts{ProjectID: p.ID, TotalCommits: 5}
	})

	var degraded, healthy int
	for _, r := range results {
		if r.Facts.Degraded {
			degraded++
		} else if r.Facts.TotalCommits == 5 {
			healthy++
		}
	}
	if degraded != 1 || healthy != 2 {
		t.Errorf("expected 1 degraded and 2 healthy results, got %d and %d", degraded, healthy)
	}
}

func TestPoolReportsProgress(t *testing.T) {
	projects := []domain.ProjectRef{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}

	var calls, last atomic.Int32
	worker.RunWithProgress(context.Background(), projects, 2,
		func(ctx context.Context, p domain.ProjectRef) domain.ProjectFacts {
			return domain.ProjectFacts{ProjectID: p.ID}
		},
		func(completed, total int, p domain.ProjectRef) {
			calls.Add(1)
			if total != 4 {
				t.Errorf("expected total 4, got %d", total)
			}
			for {
				old := last.Load()
				if int32(completed) <= old || last.CompareAndSwap(old, int32(completed)) {
					break
				}
			}
		})

	if calls.Load() != 4 {
		t.Errorf("expected 4 progress calls, got %d", calls.Load())
	}
	if last.Load() != 4 {
		t.Errorf("expected final completed count 4, got %d", last.Load())
	}
}

func TestPoolRespectsContext(t *testing.T) {
	projects := make([]domain.ProjectRef, 100)
	for i := range projects {
		projects[i] = domain.ProjectRef{ID: i + 1}
	}

	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int32
	go func() {
		for started.Load() < 2 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	results := worker.Run(ctx, projects, 2, func(ctx context.Context, p domain.ProjectRef) domain.ProjectFacts {
		started.Add(1)
		<-ctx.Done()
		return domain.ProjectFacts{ProjectID: p.ID}
	})

	done := 0
	for _, r := range results {
		if r.Done {
			done++
		}
	}
	if done >= 100 {
		t.Error("expected cancellation to prevent processing all projects")
	}
}
