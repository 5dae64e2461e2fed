package gitlab

import "time"

// User is the subset of /user used to validate a token.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Group is a GitLab group or subgroup.
type Group struct {
	ID          int              `json:"id"`
	Name        string           `json:"name"`
	Path        string           `json:"path"`
	FullPath    string           `json:"full_path"`
	Description string           `json:"description"`
	Visibility  string           `json:"visibility"`
	WebURL      string           `json:"web_url"`
	CreatedAt   *time.Time       `json:"created_at"`
	ParentID    *int             `json:"parent_id"`
	Statistics  *GroupStatistics `json:"statistics"`
}

// GroupStatistics is returned when statistics=true is requested by an admin or owner.
type GroupStatistics struct {
	StorageSize    int64 `json:"storage_size"`
	RepositorySize int64 `json:"repository_size"`
}

// Namespace is the owning namespace embedded in a project payload.
type Namespace struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	FullPath string `json:"full_path"`
}

// Project is a project as returned by listing and detail endpoints.
// Optional fields are pointers so that absence can be told apart from zero.
type Project struct {
	ID                int                `json:"id"`
	Name              string             `json:"name"`
	Path              string             `json:"path"`
	PathWithNamespace string             `json:"path_with_namespace"`
	Visibility        string             `json:"visibility"`
	Archived          bool               `json:"archived"`
	WebURL            string             `json:"web_url"`
	CreatedAt         *time.Time         `json:"created_at"`
	LastActivityAt    *time.Time         `json:"last_activity_at"`
	DefaultBranch     string             `json:"default_branch"`
	CIConfigPath      string             `json:"ci_config_path"`
	StarCount         int                `json:"star_count"`
	ForksCount        int                `json:"forks_count"`
	OpenIssuesCount   int                `json:"open_issues_count"`
	Namespace         *Namespace         `json:"namespace"`
	Statistics        *ProjectStatistics `json:"statistics"`
}

// ProjectStatistics is returned when statistics=true is requested.
type ProjectStatistics struct {
	CommitCount    int   `json:"commit_count"`
	StorageSize    int64 `json:"storage_size"`
	RepositorySize int64 `json:"repository_size"`
}

// Branch is a repository branch.
type Branch struct {
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

// TreeEntry is one item of a repository tree listing.
// Size is not part of every GitLab version's payload; nil means unknown.
type TreeEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
	Mode string `json:"mode"`
	Size *int64 `json:"size,omitempty"`
}

// IsBlob reports whether the entry is a file.
func (e TreeEntry) IsBlob() bool {
	return e.Type == "blob"
}

// Contributor is one entry of the repository contributors endpoint.
type Contributor struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Commits int    `json:"commits"`
}
