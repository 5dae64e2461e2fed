// Package report renders inventory records and groups as CSV and JSON files.
package report

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
)

// NotAvailable is written for timestamps and strings the remote did not report
const NotAvailable = "N/A"

// Default file names inside the data directory
const (
	StatsFile  = "gitlab-stats.csv"
	GroupsFile = "gitlab-groups.csv"
)

// Row is one line of the project inventory report
type Row struct {
	ID                   int     `json:"id"`
	GroupName            string  `json:"group_name"`
	ProjectName          string  `json:"project_name"`
	GroupPath            string  `json:"group_path"`
	Path                 string  `json:"path"`
	Status               string  `json:"status"`
	Archived             bool    `json:"archived"`
	Stars                int     `json:"stars"`
	Forks                int     `json:"forks"`
	OpenIssues           int     `json:"open_issues"`
	MergeRequests        int     `json:"merge_requests"`
	LastActivity         string  `json:"last_activity"`
	Contributors         int     `json:"contributors"`
	TotalCommits         int     `json:"total_commits"`
	BranchCount          int     `json:"branch_count"`
	FileCount            int     `json:"file_count"`
	AllBranchesFileCount int     `json:"all_branches_file_count"`
	TotalObjects         int     `json:"total_objects"`
	RepositorySizeMB     float64 `json:"repository_size_mb"`
	TotalSizeMB          float64 `json:"total_size_mb"`
	HasLargeFile         bool    `json:"has_large_file_100mb"`
	Exceeds2GB           bool    `json:"exceeds_2gb"`
	Exceeds6GB           bool    `json:"exceeds_6gb"`
	Pipeline             bool    `json:"pipeline"`
	Visibility           string  `json:"visibility"`
	CreatedAt            string  `json:"created_at"`
	DefaultBranch        string  `json:"default_branch"`
	WebURL               string  `json:"web_url"`
	SkipReason           string  `json:"skip_reason,omitempty"`
}

// Columns is the header of the project report, in output order
var Columns = []string{
	"id", "group_name", "project_name", "group_path", "path", "status", "archived",
	"stars", "forks", "open_issues", "merge_requests",
	"last_activity", "contributors", "total_commits", "branch_count",
	"file_count", "all_branches_file_count", "total_objects",
	"repository_size_mb", "total_size_mb", "has_large_file_100mb",
	"exceeds_2gb", "exceeds_6gb", "pipeline", "visibility",
	"created_at", "default_branch", "web_url", "skip_reason",
}

// NewRow flattens a record into a report row
func NewRow(rec domain.InventoryRecord) Row {
	p, f := rec.Project, rec.Facts
	return Row{
		ID:                   p.ID,
		GroupName:            orNA(p.GroupName),
		ProjectName:          p.Name,
		GroupPath:            orNA(p.GroupPath),
		Path:                 p.PathWithNamespace,
		Status:               string(rec.Status),
		Archived:             p.Archived,
		Stars:                f.Stars,
		Forks:                f.Forks,
		OpenIssues:           f.OpenIssues,
		MergeRequests:        f.MergeRequests,
		LastActivity:         timestamp(f.LastActivityAt),
		Contributors:         f.Contributors,
		TotalCommits:         f.TotalCommits,
		BranchCount:          f.BranchCount,
		FileCount:            f.FileCount,
		AllBranchesFileCount: f.AllBranchesFileCount,
		TotalObjects:         f.TotalObjects,
		RepositorySizeMB:     f.RepositorySizeMB,
		TotalSizeMB:          f.TotalSizeMB,
		HasLargeFile:         f.HasLargeFile,
		Exceeds2GB:           f.Exceeds2GB,
		Exceeds6GB:           f.Exceeds6GB,
		Pipeline:             f.HasPipeline,
		Visibility:           orNA(p.Visibility),
		CreatedAt:            timestamp(p.CreatedAt),
		DefaultBranch:        orNA(p.DefaultBranch),
		WebURL:               orNA(p.WebURL),
		SkipReason:           rec.SkipReason,
	}
}

// Rows flattens records, keeping their order
func Rows(records []domain.InventoryRecord) []Row {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, NewRow(rec))
	}
	return rows
}

func (r Row) values() []string {
	return []string{
		strconv.Itoa(r.ID), r.GroupName, r.ProjectName, r.GroupPath, r.Path, r.Status,
		strconv.FormatBool(r.Archived),
		strconv.Itoa(r.Stars), strconv.Itoa(r.Forks), strconv.Itoa(r.OpenIssues), strconv.Itoa(r.MergeRequests),
		r.LastActivity, strconv.Itoa(r.Contributors), strconv.Itoa(r.TotalCommits), strconv.Itoa(r.BranchCount),
		strconv.Itoa(r.FileCount), strconv.Itoa(r.AllBranchesFileCount), strconv.Itoa(r.TotalObjects),
		mb(r.RepositorySizeMB), mb(r.TotalSizeMB), strconv.FormatBool(r.HasLargeFile),
		strconv.FormatBool(r.Exceeds2GB), strconv.FormatBool(r.Exceeds6GB), strconv.FormatBool(r.Pipeline),
		r.Visibility, r.CreatedAt, r.DefaultBranch, r.WebURL, r.SkipReason,
	}
}

// WriteCSV writes the project report with a header line
func WriteCSV(w io.Writer, records []domain.InventoryRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(NewRow(rec).values()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the project report as an indented JSON array
func WriteJSON(w io.Writer, records []domain.InventoryRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Rows(records))
}

// GroupColumns is the header of the group report
var GroupColumns = []string{"id", "name", "path", "full_path", "parent_id", "parent_path", "depth", "visibility", "created_at", "web_url"}

// GroupDetailColumns extends GroupColumns with the counters of a detailed group report
var GroupDetailColumns = append(slices.Clone(GroupColumns),
	"project_count", "subgroup_count", "member_count", "storage_size_mb", "repository_size_mb", "notes")

func groupValues(g domain.GroupNode) []string {
	parentID := ""
	if !g.IsRoot() {
		parentID = strconv.Itoa(g.ParentID)
	}
	return []string{
		strconv.Itoa(g.ID), g.Name, g.Path, g.FullPath, parentID, g.ParentPath,
		strconv.Itoa(g.Depth), orNA(g.Visibility), timestamp(g.CreatedAt), orNA(g.WebURL),
	}
}

// WriteGroupsCSV writes the flat group list
func WriteGroupsCSV(w io.Writer, groups []domain.GroupNode) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(GroupColumns); err != nil {
		return err
	}
	for _, g := range groups {
		if err := cw.Write(groupValues(g)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteGroupDetailsCSV writes the group list with per-group counters
func WriteGroupDetailsCSV(w io.Writer, details []domain.GroupDetails) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(GroupDetailColumns); err != nil {
		return err
	}
	for _, d := range details {
		row := append(groupValues(d.Group),
			strconv.Itoa(d.ProjectCount),
			strconv.Itoa(d.SubgroupCount),
			strconv.Itoa(d.MemberCount),
			mb(d.StorageSizeMB),
			mb(d.RepositorySizeMB),
			strings.Join(d.Notes, "; "),
		)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile creates path (and its directory) and hands the file to write
func WriteFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return NotAvailable
	}
	return t.UTC().Format(time.RFC3339)
}

func orNA(s string) string {
	if s == "" {
		return NotAvailable
	}
	return s
}

func mb(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
