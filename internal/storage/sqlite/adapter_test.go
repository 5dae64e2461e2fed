package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	apperrors "github.com/kurihiro0119/gitlab-inventory/internal/errors"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage/sqlite"
)

func newStorage(t *testing.T) storage.Storage {
	t.Helper()
	s, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "inventory.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecords() []domain.InventoryRecord {
	created := time.Date(2021, 5, 6, 7, 8, 9, 0, time.UTC)
	return []domain.InventoryRecord{
		{
			Project: domain.ProjectRef{ID: 30, Name: "zeta", GroupPath: "root", PathWithNamespace: "root/zeta", CreatedAt: created},
			Facts:   domain.ProjectFacts{ProjectID: 30, TotalCommits: 10, RepositorySizeMB: 2100, Exceeds2GB: true},
			Status:  domain.RecordStatusActive,
		},
		{
			Project:    domain.ProjectRef{ID: 10, Name: "alpha", GroupPath: "root", PathWithNamespace: "root/alpha", CreatedAt: created},
			Facts:      domain.ProjectFacts{ProjectID: 10, Notes: []string{"commits: timeout"}, Degraded: true},
			Status:     domain.RecordStatusError,
			SkipReason: "commits: timeout",
		},
		{
			Project: domain.ProjectRef{ID: 20, Name: "beta", GroupPath: "root/sub", PathWithNamespace: "root/sub/beta", Archived: true, CreatedAt: created},
			Facts:   domain.ProjectFacts{ProjectID: 20, HasLargeFile: true},
			Status:  domain.RecordStatusArchived,
		},
	}
}

func TestRunLifecycle(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	run := &domain.InventoryRun{GitLabURL: "https://gitlab.example.com", RootGroup: "root"}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID == "" || run.Status != domain.RunStatusInProgress {
		t.Fatalf("run defaults not applied: %+v", run)
	}

	if err := s.FinishRun(ctx, run.ID, domain.RunStatusCompleted, 2, 3); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != domain.RunStatusCompleted || got.GroupCount != 2 || got.ProjectCount != 3 {
		t.Errorf("unexpected run %+v", got)
	}
	if got.FinishedAt == nil || got.RootGroup != "root" || got.GitLabURL != "https://gitlab.example.com" {
		t.Errorf("unexpected run %+v", got)
	}
}

func TestRunNotFound(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	if _, err := s.GetRun(ctx, "missing"); !apperrors.IsNotFound(err) {
		t.Errorf("GetRun: expected NOT_FOUND, got %v", err)
	}
	if _, err := s.GetLatestRun(ctx); !apperrors.IsNotFound(err) {
		t.Errorf("GetLatestRun: expected NOT_FOUND, got %v", err)
	}
	if err := s.FinishRun(ctx, "missing", domain.RunStatusFailed, 0, 0); !apperrors.IsNotFound(err) {
		t.Errorf("FinishRun: expected NOT_FOUND, got %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"first", "second", "third"} {
		run := &domain.InventoryRun{ID: id, GitLabURL: "https://gitlab.com", StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"third", "second", "first"}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	limited, err := s.ListRuns(ctx, 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("ListRuns(2) = %d runs, %v", len(limited), err)
	}

	latest, err := s.GetLatestRun(ctx)
	if err != nil {
		t.Fatalf("GetLatestRun: %v", err)
	}
	if latest.ID != "third" {
		t.Errorf("latest run = %s, want third", latest.ID)
	}
}

func TestRecordsRoundTripInOrder(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	run := &domain.InventoryRun{GitLabURL: "https://gitlab.com"}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	want := sampleRecords()
	if err := s.SaveRecords(ctx, run.ID, want); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}

	got, err := s.GetRecords(ctx, run.ID, "")
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	errored, err := s.GetRecords(ctx, run.ID, domain.RecordStatusError)
	if err != nil {
		t.Fatalf("GetRecords(error): %v", err)
	}
	if len(errored) != 1 || errored[0].Project.Name != "alpha" {
		t.Errorf("unexpected error records %+v", errored)
	}
}

func TestSaveRecordsAppendsBatches(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	run := &domain.InventoryRun{GitLabURL: "https://gitlab.com"}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	recs := sampleRecords()
	if err := s.SaveRecords(ctx, run.ID, recs[:1]); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}
	if err := s.SaveRecords(ctx, run.ID, recs[1:]); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}

	got, err := s.GetRecords(ctx, run.ID, "")
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	var ids []int
	for _, r := range got {
		ids = append(ids, r.Project.ID)
	}
	if diff := cmp.Diff([]int{30, 10, 20}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupsRoundTrip(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	run := &domain.InventoryRun{GitLabURL: "https://gitlab.com"}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	want := []domain.GroupNode{
		{ID: 5, Name: "root", FullPath: "root"},
		{ID: 2, Name: "sub", FullPath: "root/sub", ParentID: 5, ParentPath: "root", Depth: 1},
	}
	if err := s.SaveGroups(ctx, run.ID, want); err != nil {
		t.Fatalf("SaveGroups: %v", err)
	}

	got, err := s.GetGroups(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetGroups: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}

	other, err := s.GetGroups(ctx, "other-run")
	if err != nil || len(other) != 0 {
		t.Errorf("expected no groups for another run, got %d, %v", len(other), err)
	}
}
