package inventory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
)

// Column names of the project list file.
const (
	NameColumn    = "Name"
	MigrateColumn = "Migrate Repo"
)

// DefaultMigrateValues are the accepted "Migrate Repo" values when none are configured.
var DefaultMigrateValues = []string{"Migrate"}

// ErrMissingColumns is returned when the project list lacks a required column.
var ErrMissingColumns = errors.New("project list must have 'Name' and 'Migrate Repo' columns")

// LoadFilter reads a project list CSV and returns the allow-list of projects
// whose "Migrate Repo" value is one of accepted. It returns a nil filter, which
// keeps every project, when no row matches.
func LoadFilter(r io.Reader, accepted []string) (*domain.FilterSpec, error) {
	if len(accepted) == 0 {
		accepted = DefaultMigrateValues
	}
	acceptedSet := make(map[string]bool, len(accepted))
	for _, v := range accepted {
		acceptedSet[strings.TrimSpace(v)] = true
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingColumns
		}
		return nil, fmt.Errorf("failed to read project list header: %w", err)
	}

	nameIdx, migrateIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.TrimPrefix(col, "\uFEFF")) {
		case NameColumn:
			nameIdx = i
		case MigrateColumn:
			migrateIdx = i
		}
	}
	if nameIdx < 0 || migrateIdx < 0 {
		return nil, ErrMissingColumns
	}

	var names []string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read project list: %w", err)
		}
		if nameIdx >= len(row) || migrateIdx >= len(row) {
			continue
		}
		name := strings.TrimSpace(row[nameIdx])
		if name != "" && acceptedSet[strings.TrimSpace(row[migrateIdx])] {
			names = append(names, name)
		}
	}

	if len(names) == 0 {
		return nil, nil
	}
	return domain.NewFilterSpec(names...), nil
}

// LoadFilterFile opens path and calls LoadFilter. An empty path means no filter.
func LoadFilterFile(path string, accepted []string) (*domain.FilterSpec, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open project list: %w", err)
	}
	defer f.Close()
	return LoadFilter(f, accepted)
}
