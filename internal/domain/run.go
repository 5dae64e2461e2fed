package domain

import "time"

// RunStatus represents the lifecycle state of an inventory run
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// LatestRun is accepted wherever a run id is expected and names the newest run
const LatestRun = "latest"

// InventoryRun represents one persisted inventory snapshot
type InventoryRun struct {
	ID           string     `json:"id"`
	GitLabURL    string     `json:"gitlab_url"`
	RootGroup    string     `json:"root_group,omitempty"` // empty when every reachable group was walked
	Status       RunStatus  `json:"status"`
	GroupCount   int        `json:"group_count"`
	ProjectCount int        `json:"project_count"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
