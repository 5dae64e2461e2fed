package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/kurihiro0119/gitlab-inventory/internal/classify"
	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	apperrors "github.com/kurihiro0119/gitlab-inventory/internal/errors"
	"github.com/kurihiro0119/gitlab-inventory/internal/inventory"
	"github.com/kurihiro0119/gitlab-inventory/internal/worker"
)

// CollectInventory runs a full collection: token check, group walk, project
// discovery, fact collection, classification, assembly and filtering.
// Only an authentication failure on the token check or a failed group walk
// aborts the run; everything else is recorded on the affected record.
func (c *gitlabCollector) CollectInventory(ctx context.Context, onProgress ProgressCallback) (*Inventory, error) {
	start := time.Now()

	user, err := c.ValidateToken(ctx)
	switch {
	case err == nil:
		c.logger.Info("authenticated", "user", user.Username)
	case apperrors.IsAuthFailure(err):
		return nil, err
	default:
		c.logger.Warn("could not validate token, continuing", "error", err)
	}

	groups, err := c.DiscoverGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover groups: %w", err)
	}

	projects, err := c.discoverAllProjects(ctx, groups)
	if err != nil {
		return nil, fmt.Errorf("failed to discover projects: %w", err)
	}

	results := worker.RunWithProgress(ctx, projects, c.opts.Concurrency,
		func(ctx context.Context, ref domain.ProjectRef) domain.ProjectFacts {
			facts := c.CollectProject(ctx, ref)
			if len(facts.Notes) > 0 {
				c.logger.Debug("project collected with gaps", "project", ref.PathWithNamespace, "notes", facts.Notes)
			}
			return facts
		},
		worker.ProgressFunc(onProgress))

	records := make([]domain.InventoryRecord, 0, len(results))
	for _, r := range results {
		if !r.Done {
			continue
		}
		records = append(records, inventory.Assemble(r.Project, classify.Classify(r.Facts)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filtered := inventory.ApplyFilter(records, c.opts.Filter)
	if c.opts.Filter != nil {
		c.logger.Info("applied project filter", "kept", len(filtered), "collected", len(records))
	}

	c.logger.Info("inventory collected",
		"groups", len(groups),
		"projects", len(records),
		"elapsed", time.Since(start).Round(time.Millisecond))

	return &Inventory{
		Groups:    groups,
		Records:   filtered,
		Collected: len(records),
	}, nil
}
