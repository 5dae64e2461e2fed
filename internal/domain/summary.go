package domain

// InventorySummary represents aggregated figures over a set of inventory records
type InventorySummary struct {
	RunID            string  `json:"run_id,omitempty"`
	Group            string  `json:"group,omitempty"`
	Projects         int     `json:"projects"`
	Active           int     `json:"active"`
	Archived         int     `json:"archived"`
	Errors           int     `json:"errors"`
	WithLargeFile    int     `json:"with_large_file_100mb"`
	Exceeding2GB     int     `json:"exceeding_2gb"`
	Exceeding6GB     int     `json:"exceeding_6gb"`
	WithPipeline     int     `json:"with_pipeline"`
	TotalCommits     int64   `json:"total_commits"`
	RepositorySizeMB float64 `json:"repository_size_mb"`
	TotalSizeMB      float64 `json:"total_size_mb"`
	LargestProject   string  `json:"largest_project,omitempty"`
	LargestProjectMB float64 `json:"largest_project_mb"`
}
