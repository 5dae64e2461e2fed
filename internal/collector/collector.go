package collector

import (
	"context"
	"log/slog"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	"github.com/kurihiro0119/gitlab-inventory/internal/gitlab"
)

// Collector defines the interface for collecting GitLab inventory data
type Collector interface {
	// ValidateToken checks the token against the API; AUTH_FAILURE here aborts a run
	ValidateToken(ctx context.Context) (*gitlab.User, error)

	// DiscoverGroups walks every group and subgroup reachable by the token
	DiscoverGroups(ctx context.Context) ([]domain.GroupNode, error)

	// DiscoverProjects lists the projects owned directly by a group
	DiscoverProjects(ctx context.Context, group domain.GroupNode) ([]domain.ProjectRef, error)

	// DescribeGroup gathers project, subgroup and member counts for a group
	DescribeGroup(ctx context.Context, group domain.GroupNode) domain.GroupDetails

	// CollectProject gathers the facts of one project. It never fails:
	// skipped sub-steps leave sentinel values and a note.
	CollectProject(ctx context.Context, project domain.ProjectRef) domain.ProjectFacts

	// CollectInventory runs the whole pipeline and returns the classified,
	// filtered records in discovery order
	CollectInventory(ctx context.Context, onProgress ProgressCallback) (*Inventory, error)
}

// ProgressCallback is a callback function for reporting progress
type ProgressCallback func(completed, total int, project domain.ProjectRef)

// Options tunes how much of each project is scanned
type Options struct {
	// RootGroup restricts the walk to one group (full path or id); empty walks every reachable group
	RootGroup string
	// Concurrency is the number of projects collected in parallel; 1 is sequential
	Concurrency int
	// MaxBranches caps the branches scanned for the cross-branch file count
	MaxBranches int
	// MaxTreePages caps the default branch tree listing (100 entries per page)
	MaxTreePages int
	// MaxBranchTreePages caps the tree listing of every other scanned branch
	MaxBranchTreePages int
	// MaxLargeFileProbes caps HEAD requests used to size files the tree listing did not size
	MaxLargeFileProbes int
	// Filter is applied after collection; nil keeps every record
	Filter *domain.FilterSpec
}

// DefaultOptions returns the limits used by the original inventory scripts
func DefaultOptions() Options {
	return Options{
		Concurrency:        1,
		MaxBranches:        10,
		MaxTreePages:       50,
		MaxBranchTreePages: 5,
		MaxLargeFileProbes: 10,
	}
}

// Inventory is the result of a complete collection run
type Inventory struct {
	Groups []domain.GroupNode
	// Records holds the rows that passed the filter, in discovery order
	Records []domain.InventoryRecord
	// Collected is the number of projects collected before filtering
	Collected int
}

// gitlabCollector implements Collector using the GitLab REST API
type gitlabCollector struct {
	client *gitlab.Client
	opts   Options
	logger *slog.Logger
}

// NewGitLabCollector creates a new GitLab collector
func NewGitLabCollector(client *gitlab.Client, opts Options, logger *slog.Logger) Collector {
	defaults := DefaultOptions()
	if opts.Concurrency < 1 {
		opts.Concurrency = defaults.Concurrency
	}
	if opts.MaxBranches < 1 {
		opts.MaxBranches = defaults.MaxBranches
	}
	if opts.MaxTreePages < 1 {
		opts.MaxTreePages = defaults.MaxTreePages
	}
	if opts.MaxBranchTreePages < 1 {
		opts.MaxBranchTreePages = defaults.MaxBranchTreePages
	}
	if opts.MaxLargeFileProbes < 1 {
		opts.MaxLargeFileProbes = defaults.MaxLargeFileProbes
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &gitlabCollector{
		client: client,
		opts:   opts,
		logger: logger,
	}
}

// ValidateToken checks the token by fetching the current user
func (c *gitlabCollector) ValidateToken(ctx context.Context) (*gitlab.User, error) {
	return c.client.CurrentUser(ctx)
}
