package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	"github.com/kurihiro0119/gitlab-inventory/internal/migration"
)

var preflightRun string

var preflightCmd = &cobra.Command{
	Use:   "preflight [github-org]",
	Short: "Check a stored run against a GitHub organization",
	Long: `Compare the projects of a stored run with the repositories of a GitHub
organization and report name collisions and migration blockers.
Nothing is created or changed on GitHub or GitLab.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPreflight,
}

func init() {
	preflightCmd.Flags().StringVar(&preflightRun, "run", domain.LatestRun, "run to check")
}

func runPreflight(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	org := cfg.GitHubOrg
	if len(args) == 1 {
		org = args[0]
	}
	if org == "" {
		return errors.New("a GitHub organization is required (argument or GITHUB_ORG)")
	}
	if cfg.GitHubToken == "" {
		return errors.New("GITHUB_TOKEN is required for preflight")
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	run, err := resolveRun(ctx, store, preflightRun)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	records, err := store.GetRecords(ctx, run.ID, "")
	if err != nil {
		return fmt.Errorf("failed to get records: %w", err)
	}

	lister, err := migration.NewGitHubLister(cfg.GitHubToken)
	if err != nil {
		return err
	}
	logger.Info("checking run against GitHub", "run", run.ID, "org", org, "projects", len(records))

	result, err := migration.Preflight(ctx, lister, org, records)
	if err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	if outputJSON {
		return printJSON(result)
	}

	table := newTable("ID", "GitLab Path", "GitHub Repo", "Collision", "Duplicate Of", "Blockers")
	for _, f := range result.Findings {
		if f.Ready() {
			continue
		}
		table.Append([]string{
			strconv.Itoa(f.ProjectID),
			f.Path,
			f.RepoName,
			strconv.FormatBool(f.Collision),
			f.DuplicateOf,
			strings.Join(f.Blockers, ", "),
		})
	}
	table.Render()
	fmt.Printf("%d of %d projects ready for %s (%d existing repositories)\n",
		result.Ready(), len(result.Findings), org, result.ExistingRepos)
	return nil
}
