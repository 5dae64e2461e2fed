package client_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/gitlab-inventory/internal/aggregator"
	"github.com/kurihiro0119/gitlab-inventory/internal/api"
	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage/memory"
	"github.com/kurihiro0119/gitlab-inventory/pkg/client"
)

func newServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	store := memory.NewMemoryStorage()
	run := &domain.InventoryRun{GitLabURL: "https://gitlab.example.com", StartedAt: time.Now()}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRecords(ctx, run.ID, []domain.InventoryRecord{
		{
			Project: domain.ProjectRef{ID: 1, Name: "api", GroupPath: "acme", PathWithNamespace: "acme/api"},
			Facts:   domain.ProjectFacts{TotalCommits: 7, HasPipeline: true},
			Status:  domain.RecordStatusActive,
		},
		{
			Project: domain.ProjectRef{ID: 2, Name: "old", GroupPath: "acme", PathWithNamespace: "acme/old", Archived: true},
			Status:  domain.RecordStatusArchived,
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveGroups(ctx, run.ID, []domain.GroupNode{{ID: 3, Name: "acme", Path: "acme", FullPath: "acme"}}); err != nil {
		t.Fatal(err)
	}

	router := api.SetupRoutes(api.NewHandler(store, aggregator.NewAggregator(store)), slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, run.ID
}

func TestClientAgainstServer(t *testing.T) {
	srv, runID := newServer(t)
	c := client.NewClient(srv.URL)

	if err := c.HealthCheck(); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}

	runs, err := c.ListRuns(5)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != runID {
		t.Errorf("unexpected runs %+v", runs)
	}

	run, err := c.GetRun("latest")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.ID != runID || run.Status != domain.RunStatusInProgress {
		t.Errorf("unexpected run %+v", run)
	}

	summary, err := c.GetSummary(runID)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary.Projects != 2 || summary.Archived != 1 || summary.WithPipeline != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}

	groups, err := c.GetGroupSummaries(runID)
	if err != nil {
		t.Fatalf("GetGroupSummaries: %v", err)
	}
	if len(groups) != 1 || groups[0].Group != "acme" {
		t.Errorf("unexpected group summaries %+v", groups)
	}

	rows, err := c.GetProjects(runID, domain.RecordStatusArchived)
	if err != nil {
		t.Fatalf("GetProjects: %v", err)
	}
	if len(rows) != 1 || rows[0].Path != "acme/old" || !rows[0].Archived {
		t.Errorf("unexpected rows %+v", rows)
	}

	nodes, err := c.GetGroups(runID)
	if err != nil {
		t.Fatalf("GetGroups: %v", err)
	}
	if len(nodes) != 1 || nodes[0].FullPath != "acme" {
		t.Errorf("unexpected groups %+v", nodes)
	}
}

func TestClientReportsAPIErrors(t *testing.T) {
	srv, _ := newServer(t)
	c := client.NewClient(srv.URL)

	_, err := c.GetRun("missing")
	if err == nil {
		t.Fatal("expected an error for an unknown run")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("unexpected error %v", err)
	}
}
