// Package inventory turns collected facts into inventory records and applies
// the optional project allow-list.
package inventory

import (
	"strings"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
)

// Assemble merges a project and its classified facts into one record.
// Status precedence is error, then archived, then active; the archived flag of
// the project is kept as-is either way.
func Assemble(ref domain.ProjectRef, facts domain.ProjectFacts) domain.InventoryRecord {
	rec := domain.InventoryRecord{
		Project: ref,
		Facts:   facts,
		Status:  domain.RecordStatusActive,
	}
	rec.Facts.ProjectID = ref.ID

	switch {
	case facts.Degraded:
		rec.Status = domain.RecordStatusError
	case ref.Archived:
		rec.Status = domain.RecordStatusArchived
	}

	if len(facts.Notes) > 0 {
		rec.SkipReason = strings.Join(facts.Notes, "; ")
	}
	return rec
}

// ApplyFilter keeps the records whose project name is on the allow-list, in
// their original order. A nil filter keeps every record.
func ApplyFilter(records []domain.InventoryRecord, filter *domain.FilterSpec) []domain.InventoryRecord {
	if filter == nil {
		return records
	}

	out := make([]domain.InventoryRecord, 0, min(len(records), filter.Len()))
	for _, rec := range records {
		if filter.Allows(rec.Project.Name) {
			out = append(out, rec)
		}
	}
	return out
}
