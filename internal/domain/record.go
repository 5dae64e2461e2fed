package domain

import "strings"

// RecordStatus is the status column of an inventory record
type RecordStatus string

const (
	RecordStatusActive   RecordStatus = "active"
	RecordStatusArchived RecordStatus = "archived"
	RecordStatusError    RecordStatus = "error"
)

// Valid reports whether s is one of the known statuses
func (s RecordStatus) Valid() bool {
	switch s {
	case RecordStatusActive, RecordStatusArchived, RecordStatusError:
		return true
	}
	return false
}

// InventoryRecord is one row of the project inventory
type InventoryRecord struct {
	Project    ProjectRef
	Facts      ProjectFacts
	Status     RecordStatus
	SkipReason string
}

// FilterSpec is an allow-list of project names applied after collection.
type FilterSpec struct {
	names map[string]struct{}
}

// NewFilterSpec builds a FilterSpec from project names. Blank names are ignored.
func NewFilterSpec(names ...string) *FilterSpec {
	f := &FilterSpec{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			f.names[n] = struct{}{}
		}
	}
	return f
}

// Allows reports whether a project with the given name is on the allow-list
func (f *FilterSpec) Allows(name string) bool {
	if f == nil {
		return true
	}
	_, ok := f.names[name]
	return ok
}

// Len returns the number of names on the allow-list
func (f *FilterSpec) Len() int {
	if f == nil {
		return 0
	}
	return len(f.names)
}
