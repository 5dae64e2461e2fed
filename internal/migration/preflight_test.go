package migration_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	"github.com/kurihiro0119/gitlab-inventory/internal/migration"
)

type fakeLister struct {
	repos []string
	err   error
	orgs  []string
}

func (f *fakeLister) ListRepositories(ctx context.Context, org string) ([]string, error) {
	f.orgs = append(f.orgs, org)
	return f.repos, f.err
}

func rec(id int, group, path string, status domain.RecordStatus, facts domain.ProjectFacts) domain.InventoryRecord {
	return domain.InventoryRecord{
		Project: domain.ProjectRef{ID: id, Name: path, Path: path, PathWithNamespace: group + "/" + path},
		Facts:   facts,
		Status:  status,
	}
}

func TestPreflight(t *testing.T) {
	lister := &fakeLister{repos: []string{"API", "docs"}}
	records := []domain.InventoryRecord{
		rec(1, "acme", "api", domain.RecordStatusActive, domain.ProjectFacts{}),
		rec(2, "acme", "web", domain.RecordStatusActive, domain.ProjectFacts{Exceeds2GB: true, HasLargeFile: true}),
		rec(3, "acme/legacy", "web", domain.RecordStatusArchived, domain.ProjectFacts{}),
		rec(4, "acme", "tools", domain.RecordStatusError, domain.ProjectFacts{}),
		rec(5, "acme", "cli", domain.RecordStatusActive, domain.ProjectFacts{}),
	}

	report, err := migration.Preflight(context.Background(), lister, "acme-gh", records)
	if err != nil {
		t.Fatalf("Preflight: %v", err)
	}
	if diff := cmp.Diff([]string{"acme-gh"}, lister.orgs); diff != "" {
		t.Errorf("orgs mismatch (-want +got):\n%s", diff)
	}

	want := []migration.Finding{
		{ProjectID: 1, Path: "acme/api", RepoName: "api", Collision: true},
		{ProjectID: 2, Path: "acme/web", RepoName: "web", Blockers: []string{migration.BlockerExceeds2GB, migration.BlockerLargeFile}},
		{ProjectID: 3, Path: "acme/legacy/web", RepoName: "web", DuplicateOf: "acme/web"},
		{ProjectID: 4, Path: "acme/tools", RepoName: "tools", Blockers: []string{migration.BlockerCollectionError}},
		{ProjectID: 5, Path: "acme/cli", RepoName: "cli"},
	}
	if diff := cmp.Diff(want, report.Findings); diff != "" {
		t.Errorf("findings mismatch (-want +got):\n%s", diff)
	}
	if report.ExistingRepos != 2 || report.Ready() != 1 {
		t.Errorf("existing=%d ready=%d", report.ExistingRepos, report.Ready())
	}
}

func TestPreflightListingError(t *testing.T) {
	lister := &fakeLister{err: errors.New("bad credentials")}
	if _, err := migration.Preflight(context.Background(), lister, "acme", nil); err == nil {
		t.Fatal("expected the listing error")
	}
}

func TestRepoNameFallsBackToName(t *testing.T) {
	got := migration.RepoName(domain.ProjectRef{Name: " My Project "})
	if got != "My-Project" {
		t.Errorf("RepoName = %q", got)
	}
}

func TestGitHubListerPaginates(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orgs/acme/repos" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ghp_test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/orgs/acme/repos?page=2&per_page=100>; rel="next"`, srv.URL))
			json.NewEncoder(w).Encode([]map[string]any{{"name": "api"}, {"name": "web"}})
		case "2":
			json.NewEncoder(w).Encode([]map[string]any{{"name": "docs"}})
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	lister, err := migration.NewGitHubLister("ghp_test",
		migration.WithBaseURL(srv.URL),
		migration.WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)
	if err != nil {
		t.Fatalf("NewGitHubLister: %v", err)
	}

	names, err := lister.ListRepositories(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	if diff := cmp.Diff([]string{"api", "web", "docs"}, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}
