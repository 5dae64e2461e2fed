package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/gitlab-inventory/internal/aggregator"
	"github.com/kurihiro0119/gitlab-inventory/internal/collector"
	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	"github.com/kurihiro0119/gitlab-inventory/internal/inventory"
	"github.com/kurihiro0119/gitlab-inventory/internal/report"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage"
)

var (
	groupDetails bool
	noStore      bool
	concurrency  int
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List GitLab groups",
	Long:  `Walk every group and subgroup reachable by the token and write the flat group list to the data directory.`,
	Args:  cobra.NoArgs,
	RunE:  runGroups,
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect the project inventory",
	Long: `Collect per-project facts for every project of every reachable group,
write them to the data directory and store the run as a snapshot.`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

func init() {
	groupsCmd.Flags().BoolVar(&groupDetails, "details", false, "count projects, subgroups and members of every group")

	collectCmd.Flags().BoolVar(&noStore, "no-store", false, "do not store the run as a snapshot")
	collectCmd.Flags().IntVar(&concurrency, "concurrency", 0, "projects collected in parallel (default from CONCURRENCY)")
}

func runGroups(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	coll, err := newCollector(cfg, logger, collector.Options{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if _, err := coll.ValidateToken(ctx); err != nil {
		return fmt.Errorf("token check failed: %w", err)
	}

	groups, err := coll.DiscoverGroups(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover groups: %w", err)
	}
	fmt.Printf("Found %d groups\n", len(groups))

	path := filepath.Join(cfg.DataDir, report.GroupsFile)
	if !groupDetails {
		if err := report.WriteFile(path, func(w io.Writer) error { return report.WriteGroupsCSV(w, groups) }); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		if outputJSON {
			return printJSON(groups)
		}

		table := newTable("ID", "Full Path", "Parent", "Depth")
		for _, g := range groups {
			table.Append([]string{strconv.Itoa(g.ID), g.FullPath, g.ParentPath, strconv.Itoa(g.Depth)})
		}
		table.Render()
		fmt.Printf("Wrote %s\n", path)
		return nil
	}

	details := make([]domain.GroupDetails, 0, len(groups))
	for i, g := range groups {
		fmt.Printf("\rDescribing groups: %d/%d", i+1, len(groups))
		details = append(details, coll.DescribeGroup(ctx, g))
	}
	fmt.Println()

	if err := report.WriteFile(path, func(w io.Writer) error { return report.WriteGroupDetailsCSV(w, details) }); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if outputJSON {
		return printJSON(details)
	}

	table := newTable("ID", "Full Path", "Projects", "Subgroups", "Members", "Storage MB")
	for _, d := range details {
		table.Append([]string{
			strconv.Itoa(d.Group.ID),
			d.Group.FullPath,
			strconv.Itoa(d.ProjectCount),
			strconv.Itoa(d.SubgroupCount),
			strconv.Itoa(d.MemberCount),
			fmt.Sprintf("%.2f", d.StorageSizeMB),
		})
	}
	table.Render()
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	filter, err := inventory.LoadFilterFile(cfg.ProjectListFile, cfg.MigrateRepoValues)
	if err != nil {
		return fmt.Errorf("failed to load project list %s: %w", cfg.ProjectListFile, err)
	}
	if filter != nil {
		logger.Info("filtering projects", "file", cfg.ProjectListFile, "names", filter.Len(), "values", cfg.MigrateRepoValues)
	}

	coll, err := newCollector(cfg, logger, collector.Options{Concurrency: concurrency, Filter: filter})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		store storage.Storage
		run   *domain.InventoryRun
	)
	if !noStore {
		store, err = getStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer store.Close()

		run = &domain.InventoryRun{GitLabURL: cfg.GitLabURL, RootGroup: cfg.GitLabGroup}
		if err := store.CreateRun(ctx, run); err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}
		logger.Info("started run", "run", run.ID)
	}

	inv, err := coll.CollectInventory(ctx, func(completed, total int, project domain.ProjectRef) {
		fmt.Printf("\rProgress: %d/%d (%s)", completed, total, project.PathWithNamespace)
	})
	fmt.Println()
	if err != nil {
		if run != nil {
			// The collection context may be cancelled already.
			if ferr := store.FinishRun(context.Background(), run.ID, domain.RunStatusFailed, 0, 0); ferr != nil {
				logger.Error("failed to mark run as failed", "run", run.ID, "error", ferr)
			}
		}
		return fmt.Errorf("failed to collect inventory: %w", err)
	}

	statsPath := filepath.Join(cfg.DataDir, report.StatsFile)
	if err := report.WriteFile(statsPath, func(w io.Writer) error { return report.WriteCSV(w, inv.Records) }); err != nil {
		return fmt.Errorf("failed to write %s: %w", statsPath, err)
	}
	fmt.Printf("Wrote %d records to %s\n", len(inv.Records), statsPath)

	groupsPath := filepath.Join(cfg.DataDir, report.GroupsFile)
	if err := report.WriteFile(groupsPath, func(w io.Writer) error { return report.WriteGroupsCSV(w, inv.Groups) }); err != nil {
		return fmt.Errorf("failed to write %s: %w", groupsPath, err)
	}

	if outputJSON {
		jsonPath := filepath.Join(cfg.DataDir, "gitlab-stats.json")
		if err := report.WriteFile(jsonPath, func(w io.Writer) error { return report.WriteJSON(w, inv.Records) }); err != nil {
			return fmt.Errorf("failed to write %s: %w", jsonPath, err)
		}
		fmt.Printf("Wrote %s\n", jsonPath)
	}

	if run != nil {
		if err := store.SaveGroups(ctx, run.ID, inv.Groups); err != nil {
			return fmt.Errorf("failed to save groups: %w", err)
		}
		if err := store.SaveRecords(ctx, run.ID, inv.Records); err != nil {
			return fmt.Errorf("failed to save records: %w", err)
		}
		if err := store.FinishRun(ctx, run.ID, domain.RunStatusCompleted, len(inv.Groups), len(inv.Records)); err != nil {
			return fmt.Errorf("failed to finish run: %w", err)
		}
		fmt.Printf("Stored run %s\n", run.ID)
	}

	if filter != nil {
		fmt.Printf("Filter kept %d of %d collected projects\n", len(inv.Records), inv.Collected)
	}

	summary := aggregator.Summarize(inv.Records)
	printSummary(&summary)
	return nil
}

func printSummary(s *domain.InventorySummary) {
	table := newTable("Metric", "Value")
	table.Append([]string{"Projects", strconv.Itoa(s.Projects)})
	table.Append([]string{"Active", strconv.Itoa(s.Active)})
	table.Append([]string{"Archived", strconv.Itoa(s.Archived)})
	table.Append([]string{"Errors", strconv.Itoa(s.Errors)})
	table.Append([]string{"Large file (>100MB)", strconv.Itoa(s.WithLargeFile)})
	table.Append([]string{"Exceeding 2GB", strconv.Itoa(s.Exceeding2GB)})
	table.Append([]string{"Exceeding 6GB", strconv.Itoa(s.Exceeding6GB)})
	table.Append([]string{"With pipeline", strconv.Itoa(s.WithPipeline)})
	table.Append([]string{"Total commits", strconv.FormatInt(s.TotalCommits, 10)})
	table.Append([]string{"Repository size (MB)", fmt.Sprintf("%.2f", s.RepositorySizeMB)})
	table.Append([]string{"Total size (MB)", fmt.Sprintf("%.2f", s.TotalSizeMB)})
	if s.LargestProject != "" {
		table.Append([]string{"Largest project", fmt.Sprintf("%s (%.2f MB)", s.LargestProject, s.LargestProjectMB)})
	}
	table.Render()
}
