package domain

import "time"

// GroupNode represents a GitLab group or subgroup discovered by the hierarchy walk
type GroupNode struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	FullPath string `json:"full_path"`

	// ParentID is 0 for root groups. The parent is referenced, never owned.
	ParentID   int    `json:"parent_id,omitempty"`
	ParentPath string `json:"parent_path,omitempty"`

	Description string    `json:"description,omitempty"`
	Visibility  string    `json:"visibility,omitempty"`
	WebURL      string    `json:"web_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Depth is 0 for root groups.
	Depth int `json:"depth"`

	// Byte sizes reported by the listing; zero unless the token may read group statistics.
	StorageSize    int64 `json:"storage_size,omitempty"`
	RepositorySize int64 `json:"repository_size,omitempty"`
}

// IsRoot reports whether the group has no parent
func (g GroupNode) IsRoot() bool {
	return g.ParentID == 0
}

// GroupDetails holds per-group counters gathered on request for the group report
type GroupDetails struct {
	Group            GroupNode
	ProjectCount     int
	SubgroupCount    int
	MemberCount      int
	StorageSizeMB    float64
	RepositorySizeMB float64
	Notes            []string
}
