// Package classify derives the size flags and object estimate of a project
// from the raw facts collected for it.
package classify

import (
	"math"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
)

// Thresholds in MB, matching the GitHub repository size limits that drive
// migration decisions.
const (
	Limit2GBMB = 2048
	Limit6GBMB = 6144
)

const bytesPerMB = 1024 * 1024

// Classify returns facts with the derived fields recomputed. It reads only the
// raw fields, so applying it twice gives the same result.
func Classify(f domain.ProjectFacts) domain.ProjectFacts {
	f.RepositorySizeMB = BytesToMB(f.RepositorySizeBytes)
	f.TotalSizeMB = BytesToMB(f.StorageSizeBytes)
	f.Exceeds2GB = f.RepositorySizeMB >= Limit2GBMB
	f.Exceeds6GB = f.RepositorySizeMB >= Limit6GBMB
	f.TotalObjects = EstimateObjects(f)
	return f
}

// EstimateObjects approximates the Git object count: one commit object per
// commit, one ref per branch and tag, one ref per merge request, every blob
// plus roughly one tree per ten blobs. It is an estimate, not a count.
func EstimateObjects(f domain.ProjectFacts) int {
	blobs := max(f.AllBranchesFileCount, f.FileCount, 0)
	return nonNeg(f.TotalCommits) + nonNeg(f.BranchCount) + nonNeg(f.TagCount) +
		nonNeg(f.MergeRequests) + blobs + blobs/10
}

// BytesToMB converts bytes to MB rounded to two decimals.
func BytesToMB(b int64) float64 {
	if b <= 0 {
		return 0
	}
	return math.Round(float64(b)/bytesPerMB*100) / 100
}

func nonNeg(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
