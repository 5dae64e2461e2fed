package domain

import "time"

// ProjectRef identifies a GitLab project as returned by a group project listing.
// It is immutable once fetched.
type ProjectRef struct {
	ID                int
	Name              string
	Path              string
	PathWithNamespace string

	// Owning group (back-reference by id and path)
	GroupID   int
	GroupName string
	GroupPath string

	Visibility    string
	Archived      bool
	WebURL        string
	CreatedAt     time.Time
	DefaultBranch string
	CIConfigPath  string

	// Listing carries the counters the listing endpoint already returned,
	// used to seed ProjectFacts before any secondary call is made.
	Listing ProjectListing
}

// ProjectListing holds the counters embedded in a project listing payload
type ProjectListing struct {
	Stars          int
	Forks          int
	OpenIssues     int
	LastActivityAt time.Time
	RepositorySize int64
	StorageSize    int64
	CommitCount    int
}

// ProjectFacts is the per-project aggregate built by the fact collector.
// Every numeric field defaults to zero when its sub-step was skipped.
type ProjectFacts struct {
	ProjectID int

	Stars          int
	Forks          int
	OpenIssues     int
	MergeRequests  int
	LastActivityAt time.Time

	Contributors         int
	TotalCommits         int
	BranchCount          int
	TagCount             int
	FileCount            int
	AllBranchesFileCount int
	HasLargeFile         bool
	HasPipeline          bool

	RepositorySizeBytes int64
	StorageSizeBytes    int64

	// Derived by the classifier
	RepositorySizeMB float64
	TotalSizeMB      float64
	TotalObjects     int
	Exceeds2GB       bool
	Exceeds6GB       bool

	// Notes lists the sub-steps that were skipped and why.
	Notes []string
	// Degraded is set when a sub-step failed in a way that makes the row
	// unreliable (remote unavailable, timeout, or the project itself could not be fetched).
	Degraded bool
}
