package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/gitlab-inventory/internal/aggregator"
	"github.com/kurihiro0119/gitlab-inventory/internal/config"
	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	"github.com/kurihiro0119/gitlab-inventory/internal/report"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage"
	"github.com/kurihiro0119/gitlab-inventory/pkg/client"
)

var (
	remote       bool
	statusFilter string
	runLimit     int
	byGroup      bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored inventory runs",
	Long:  `Display stored inventory runs, their summaries and their projects, from local storage or from the API server.`,
}

var showRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs",
	Args:  cobra.NoArgs,
	RunE:  runShowRuns,
}

var showSummaryCmd = &cobra.Command{
	Use:   "summary [run]",
	Short: "Show the summary of a run",
	Long:  `Display the totals of a run (default: the latest run).`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShowSummary,
}

var showProjectsCmd = &cobra.Command{
	Use:   "projects [run]",
	Short: "Show the projects of a run",
	Long:  `Display the inventory rows of a run (default: the latest run).`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShowProjects,
}

func init() {
	showCmd.PersistentFlags().BoolVar(&remote, "remote", false, "read from the API server at API_ENDPOINT")
	showRunsCmd.Flags().IntVar(&runLimit, "limit", 20, "number of runs to list")
	showSummaryCmd.Flags().BoolVar(&byGroup, "by-group", false, "one summary per group")
	showProjectsCmd.Flags().StringVar(&statusFilter, "status", "", "only projects with this status (active, archived, error)")

	showCmd.AddCommand(showRunsCmd)
	showCmd.AddCommand(showSummaryCmd)
	showCmd.AddCommand(showProjectsCmd)
}

func runArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return domain.LatestRun
}

// openStorage loads the configuration and opens the snapshot storage
func openStorage() (*config.Config, storage.Storage, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if remote {
		return cfg, nil, nil
	}
	store, err := getStorage(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return cfg, store, nil
}

func resolveRun(ctx context.Context, store storage.Storage, id string) (*domain.InventoryRun, error) {
	if id == domain.LatestRun {
		return store.GetLatestRun(ctx)
	}
	return store.GetRun(ctx, id)
}

func runShowRuns(cmd *cobra.Command, args []string) error {
	cfg, store, err := openStorage()
	if err != nil {
		return err
	}

	var runs []*domain.InventoryRun
	if remote {
		runs, err = client.NewClient(cfg.APIEndpoint).ListRuns(runLimit)
	} else {
		defer store.Close()
		runs, err = store.ListRuns(context.Background(), runLimit)
	}
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if outputJSON {
		return printJSON(runs)
	}

	table := newTable("Run", "Status", "Started", "Groups", "Projects", "Root Group")
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			string(r.Status),
			r.StartedAt.Format("2006-01-02 15:04:05"),
			strconv.Itoa(r.GroupCount),
			strconv.Itoa(r.ProjectCount),
			r.RootGroup,
		})
	}
	table.Render()
	return nil
}

func runShowSummary(cmd *cobra.Command, args []string) error {
	cfg, store, err := openStorage()
	if err != nil {
		return err
	}
	runID := runArg(args)

	var summaries []*domain.InventorySummary
	switch {
	case remote && byGroup:
		summaries, err = client.NewClient(cfg.APIEndpoint).GetGroupSummaries(runID)
	case remote:
		var s *domain.InventorySummary
		s, err = client.NewClient(cfg.APIEndpoint).GetSummary(runID)
		summaries = []*domain.InventorySummary{s}
	default:
		defer store.Close()
		ctx := context.Background()
		var run *domain.InventoryRun
		if run, err = resolveRun(ctx, store, runID); err != nil {
			break
		}
		agg := aggregator.NewAggregator(store)
		if byGroup {
			summaries, err = agg.GroupSummaries(ctx, run.ID)
		} else {
			var s *domain.InventorySummary
			s, err = agg.RunSummary(ctx, run.ID)
			summaries = []*domain.InventorySummary{s}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to get summary: %w", err)
	}

	if outputJSON {
		if !byGroup {
			return printJSON(summaries[0])
		}
		return printJSON(summaries)
	}

	if !byGroup {
		fmt.Printf("\nInventory Summary: run %s\n\n", summaries[0].RunID)
		printSummary(summaries[0])
		return nil
	}

	table := newTable("Group", "Projects", "Archived", "Errors", "Large File", ">2GB", ">6GB", "Repository MB")
	for _, s := range summaries {
		table.Append([]string{
			s.Group,
			strconv.Itoa(s.Projects),
			strconv.Itoa(s.Archived),
			strconv.Itoa(s.Errors),
			strconv.Itoa(s.WithLargeFile),
			strconv.Itoa(s.Exceeding2GB),
			strconv.Itoa(s.Exceeding6GB),
			fmt.Sprintf("%.2f", s.RepositorySizeMB),
		})
	}
	table.Render()
	return nil
}

func runShowProjects(cmd *cobra.Command, args []string) error {
	status := domain.RecordStatus(statusFilter)
	if status != "" && !status.Valid() {
		return fmt.Errorf("unknown status %q (want active, archived or error)", statusFilter)
	}

	cfg, store, err := openStorage()
	if err != nil {
		return err
	}
	runID := runArg(args)

	var rows []report.Row
	if remote {
		rows, err = client.NewClient(cfg.APIEndpoint).GetProjects(runID, status)
	} else {
		defer store.Close()
		ctx := context.Background()
		var run *domain.InventoryRun
		if run, err = resolveRun(ctx, store, runID); err == nil {
			var records []domain.InventoryRecord
			records, err = store.GetRecords(ctx, run.ID, status)
			rows = report.Rows(records)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to get projects: %w", err)
	}

	if outputJSON {
		return printJSON(rows)
	}

	table := newTable("ID", "Path", "Status", "Commits", "Branches", "Files", "Repository MB", "Large File", ">2GB", "Pipeline", "Skip Reason")
	for _, r := range rows {
		table.Append([]string{
			strconv.Itoa(r.ID),
			r.Path,
			r.Status,
			strconv.Itoa(r.TotalCommits),
			strconv.Itoa(r.BranchCount),
			strconv.Itoa(r.FileCount),
			fmt.Sprintf("%.2f", r.RepositorySizeMB),
			strconv.FormatBool(r.HasLargeFile),
			strconv.FormatBool(r.Exceeds2GB),
			strconv.FormatBool(r.Pipeline),
			r.SkipReason,
		})
	}
	table.Render()
	return nil
}
