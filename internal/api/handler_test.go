package api_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/gitlab-inventory/internal/aggregator"
	"github.com/kurihiro0119/gitlab-inventory/internal/api"
	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	"github.com/kurihiro0119/gitlab-inventory/internal/report"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router *gin.Engine
	store  storage.Storage
	older  string
	newer  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	older := &domain.InventoryRun{ID: "run-1", GitLabURL: "https://gitlab.example.com", StartedAt: base}
	newer := &domain.InventoryRun{ID: "run-2", GitLabURL: "https://gitlab.example.com", StartedAt: base.Add(time.Hour)}
	for _, r := range []*domain.InventoryRun{older, newer} {
		if err := store.CreateRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	records := []domain.InventoryRecord{
		{
			Project: domain.ProjectRef{ID: 1, Name: "api", GroupPath: "acme", PathWithNamespace: "acme/api"},
			Facts:   domain.ProjectFacts{ProjectID: 1, TotalCommits: 40, RepositorySizeMB: 3000, Exceeds2GB: true},
			Status:  domain.RecordStatusActive,
		},
		{
			Project:    domain.ProjectRef{ID: 2, Name: "web", GroupPath: "acme/ui", PathWithNamespace: "acme/ui/web"},
			Facts:      domain.ProjectFacts{ProjectID: 2, Degraded: true},
			Status:     domain.RecordStatusError,
			SkipReason: "commits: timeout",
		},
	}
	if err := store.SaveRecords(ctx, newer.ID, records); err != nil {
		t.Fatal(err)
	}
	groups := []domain.GroupNode{
		{ID: 10, Name: "acme", Path: "acme", FullPath: "acme"},
		{ID: 11, Name: "ui", Path: "ui", FullPath: "acme/ui", ParentID: 10, ParentPath: "acme", Depth: 1},
	}
	if err := store.SaveGroups(ctx, newer.ID, groups); err != nil {
		t.Fatal(err)
	}

	handler := api.NewHandler(store, aggregator.NewAggregator(store))
	return &fixture{
		router: api.SetupRoutes(handler, slog.New(slog.DiscardHandler)),
		store:  store,
		older:  older.ID,
		newer:  newer.ID,
	}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.router.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decoding %s: %v (body %s)", path, err, rec.Body.String())
		}
	}
	return rec.Code
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)
	var body struct {
		Status string `json:"status"`
	}
	if code := f.get(t, "/health", &body); code != http.StatusOK || body.Status != "ok" {
		t.Errorf("health = %d %+v", code, body)
	}
}

func TestListRuns(t *testing.T) {
	f := newFixture(t)
	var body struct {
		Data []domain.InventoryRun `json:"data"`
	}
	if code := f.get(t, "/api/v1/runs", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Data) != 2 || body.Data[0].ID != f.newer {
		t.Errorf("unexpected runs %+v", body.Data)
	}

	if code := f.get(t, "/api/v1/runs?limit=1", &body); code != http.StatusOK || len(body.Data) != 1 {
		t.Errorf("limit=1 returned %d runs (status %d)", len(body.Data), code)
	}

	var bad errorBody
	if code := f.get(t, "/api/v1/runs?limit=zero", &bad); code != http.StatusBadRequest || bad.Error.Code != "BAD_REQUEST" {
		t.Errorf("bad limit = %d %+v", code, bad)
	}
}

func TestGetRunResolvesLatest(t *testing.T) {
	f := newFixture(t)
	var body struct {
		Data domain.InventoryRun `json:"data"`
	}
	if code := f.get(t, "/api/v1/runs/latest", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Data.ID != f.newer {
		t.Errorf("latest = %s, want %s", body.Data.ID, f.newer)
	}

	if code := f.get(t, "/api/v1/runs/"+f.older, &body); code != http.StatusOK || body.Data.ID != f.older {
		t.Errorf("get older = %d %+v", code, body.Data)
	}
}

func TestGetRunNotFound(t *testing.T) {
	f := newFixture(t)
	var body errorBody
	if code := f.get(t, "/api/v1/runs/missing/projects", &body); code != http.StatusNotFound {
		t.Errorf("status = %d", code)
	}
	if body.Error.Code != "NOT_FOUND" {
		t.Errorf("error code = %q", body.Error.Code)
	}
}

func TestGetRunSummary(t *testing.T) {
	f := newFixture(t)
	var body struct {
		Data domain.InventorySummary `json:"data"`
	}
	if code := f.get(t, "/api/v1/runs/latest/summary", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	s := body.Data
	if s.RunID != f.newer || s.Projects != 2 || s.Errors != 1 || s.Exceeding2GB != 1 || s.TotalCommits != 40 {
		t.Errorf("unexpected summary %+v", s)
	}

	var groups struct {
		Data []domain.InventorySummary `json:"data"`
	}
	if code := f.get(t, "/api/v1/runs/latest/summary?by=group", &groups); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(groups.Data) != 2 || groups.Data[0].Group != "acme" || groups.Data[1].Group != "acme/ui" {
		t.Errorf("unexpected group summaries %+v", groups.Data)
	}

	var bad errorBody
	if code := f.get(t, "/api/v1/runs/latest/summary?by=project", &bad); code != http.StatusBadRequest {
		t.Errorf("by=project status = %d", code)
	}
}

func TestGetRunProjects(t *testing.T) {
	f := newFixture(t)
	var body struct {
		Data []report.Row `json:"data"`
	}
	if code := f.get(t, "/api/v1/runs/"+f.newer+"/projects", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Data) != 2 || body.Data[0].Path != "acme/api" || !body.Data[0].Exceeds2GB {
		t.Errorf("unexpected rows %+v", body.Data)
	}

	if code := f.get(t, "/api/v1/runs/"+f.newer+"/projects?status=error", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Data) != 1 || body.Data[0].SkipReason != "commits: timeout" {
		t.Errorf("unexpected error rows %+v", body.Data)
	}

	var bad errorBody
	if code := f.get(t, "/api/v1/runs/"+f.newer+"/projects?status=deleted", &bad); code != http.StatusBadRequest {
		t.Errorf("unknown status = %d", code)
	}
}

func TestGetRunGroups(t *testing.T) {
	f := newFixture(t)
	var body struct {
		Data []domain.GroupNode `json:"data"`
	}
	if code := f.get(t, "/api/v1/runs/latest/groups", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Data) != 2 || body.Data[1].ParentPath != "acme" {
		t.Errorf("unexpected groups %+v", body.Data)
	}

	if code := f.get(t, "/api/v1/runs/"+f.older+"/groups", &body); code != http.StatusOK || len(body.Data) != 0 {
		t.Errorf("older run groups = %d %+v", code, body.Data)
	}
}
