// Package migration checks an inventory against a target GitHub organization
// before any repository is moved. It only reads from GitHub.
package migration

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
)

// Blockers reported for a project
const (
	BlockerExceeds2GB      = "exceeds_2gb"
	BlockerLargeFile       = "has_large_file_100mb"
	BlockerCollectionError = "collection_error"
)

// RepoLister lists the repository names of a GitHub organization
type RepoLister interface {
	ListRepositories(ctx context.Context, org string) ([]string, error)
}

// githubLister implements RepoLister with the GitHub REST API
type githubLister struct {
	client  *github.Client
	limiter *rate.Limiter
}

// ListerOption configures the GitHub lister
type ListerOption func(*githubLister) error

// WithBaseURL points the lister at a GitHub Enterprise or test server
func WithBaseURL(base string) ListerOption {
	return func(l *githubLister) error {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return err
		}
		l.client.BaseURL = u
		return nil
	}
}

// WithLimiter replaces the default request limiter
func WithLimiter(limiter *rate.Limiter) ListerOption {
	return func(l *githubLister) error {
		l.limiter = limiter
		return nil
	}
}

// NewGitHubLister creates a RepoLister authenticated with a static token
func NewGitHubLister(token string, opts ...ListerOption) (RepoLister, error) {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	l := &githubLister{
		client:  github.NewClient(tc),
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// ListRepositories retrieves every repository name of an organization
func (l *githubLister) ListRepositories(ctx context.Context, org string) ([]string, error) {
	var names []string
	opts := &github.RepositoryListByOrgOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		repos, resp, err := l.client.Repositories.ListByOrg(ctx, org, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories of %s: %w", org, err)
		}
		for _, repo := range repos {
			names = append(names, repo.GetName())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return names, nil
}

// Finding is the preflight verdict for one project
type Finding struct {
	ProjectID int
	Path      string
	// RepoName is the repository name the project would get on GitHub
	RepoName string
	// Collision is set when the organization already has a repository with that name
	Collision bool
	// DuplicateOf names another project of the inventory mapping to the same repository
	DuplicateOf string
	Blockers    []string
}

// Ready reports whether nothing prevents migrating the project
func (f Finding) Ready() bool {
	return !f.Collision && f.DuplicateOf == "" && len(f.Blockers) == 0
}

// Report is the result of a preflight check
type Report struct {
	Org           string
	ExistingRepos int
	Findings      []Finding
}

// Ready counts the projects without any finding
func (r *Report) Ready() int {
	n := 0
	for _, f := range r.Findings {
		if f.Ready() {
			n++
		}
	}
	return n
}

// Preflight lists the organization once and checks every record against it
func Preflight(ctx context.Context, lister RepoLister, org string, records []domain.InventoryRecord) (*Report, error) {
	names, err := lister.ListRepositories(ctx, org)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]struct{}, len(names))
	for _, n := range names {
		existing[strings.ToLower(n)] = struct{}{}
	}

	report := &Report{Org: org, ExistingRepos: len(names)}
	claimed := make(map[string]string, len(records))
	for _, rec := range records {
		f := Check(rec)
		key := strings.ToLower(f.RepoName)
		if _, ok := existing[key]; ok {
			f.Collision = true
		}
		if first, ok := claimed[key]; ok {
			f.DuplicateOf = first
		} else {
			claimed[key] = rec.Project.PathWithNamespace
		}
		report.Findings = append(report.Findings, f)
	}
	return report, nil
}

// Check derives the blockers of a single record without contacting GitHub
func Check(rec domain.InventoryRecord) Finding {
	f := Finding{
		ProjectID: rec.Project.ID,
		Path:      rec.Project.PathWithNamespace,
		RepoName:  RepoName(rec.Project),
	}
	if rec.Facts.Exceeds2GB {
		f.Blockers = append(f.Blockers, BlockerExceeds2GB)
	}
	if rec.Facts.HasLargeFile {
		f.Blockers = append(f.Blockers, BlockerLargeFile)
	}
	if rec.Status == domain.RecordStatusError {
		f.Blockers = append(f.Blockers, BlockerCollectionError)
	}
	return f
}

// RepoName is the GitHub repository name used for a project: its path slug,
// or its name with spaces replaced when the path is unknown
func RepoName(p domain.ProjectRef) string {
	if p.Path != "" {
		return p.Path
	}
	return strings.ReplaceAll(strings.TrimSpace(p.Name), " ", "-")
}
