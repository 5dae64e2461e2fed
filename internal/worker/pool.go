package worker

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
)

// Result holds the outcome of collecting a single project.
type Result struct {
	Index   int
	Project domain.ProjectRef
	Facts   domain.ProjectFacts
	// Done is false when the run was cancelled before the project was processed.
	Done bool
}

// ProgressFunc is called after each project is processed.
type ProgressFunc func(completed, total int, project domain.ProjectRef)

// ProcessFunc collects the facts of a single project. It never fails; partial
// failures are carried inside the facts.
type ProcessFunc func(ctx context.Context, project domain.ProjectRef) domain.ProjectFacts

// Run processes projects concurrently using a bounded worker pool.
func Run(ctx context.Context, projects []domain.ProjectRef, concurrency int, process ProcessFunc) []Result {
	return RunWithProgress(ctx, projects, concurrency, process, nil)
}

// RunWithProgress processes projects concurrently with an optional progress callback.
// Results are indexed by input position, so the output order matches the input
// order whatever the scheduling. A slow or failing project never cancels its siblings.
func RunWithProgress(ctx context.Context, projects []domain.ProjectRef, concurrency int, process ProcessFunc, onProgress ProgressFunc) []Result {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]Result, len(projects))
	for i, p := range projects {
		results[i] = Result{Index: i, Project: p}
	}

	var (
		mu        sync.Mutex
		completed int
	)

	// No WithContext: a worker never cancels its siblings.
	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, project := range projects {
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			facts := process(ctx, project)

			mu.Lock()
			results[i].Facts = facts
			results[i].Done = true
			completed++
			c := completed
			mu.Unlock()

			if onProgress != nil {
				onProgress(c, len(projects), project)
			}
			return nil
		})
	}

	_ = g.Wait()
	return results
}
