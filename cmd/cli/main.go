package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/gitlab-inventory/internal/collector"
	"github.com/kurihiro0119/gitlab-inventory/internal/config"
	"github.com/kurihiro0119/gitlab-inventory/internal/gitlab"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage/memory"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage/postgres"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage/sqlite"
)

var (
	tokenFile  string
	outputJSON bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "gitlab-inventory",
	Short: "GitLab inventory tool",
	Long: `A CLI tool for building a migration-planning inventory of a GitLab instance.

This tool walks every group and subgroup reachable by the token, collects
per-project repository facts (size, commits, branches, files, large files,
CI pipelines) and writes them as CSV, JSON and stored snapshots.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", config.DefaultTokenFile, "JSON file holding the token and settings")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")

	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(preflightCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and installs the logger
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFrom(tokenFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, level := config.SetupLog(cfg, os.Stderr)
	if verbose {
		level.Set(slog.LevelDebug)
	}
	return cfg, logger, nil
}

func getStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	case "memory":
		return memory.NewMemoryStorage(), nil
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

func newCollector(cfg *config.Config, logger *slog.Logger, opts collector.Options) (collector.Collector, error) {
	client, err := gitlab.NewClient(cfg.GitLabURL, cfg.GitLabToken,
		gitlab.WithRateLimiter(gitlab.NewRateLimiter(cfg.MinRequestInterval)),
		gitlab.WithTimeout(cfg.RequestTimeout),
		gitlab.WithRetry(cfg.MaxRetries, 0),
		gitlab.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	opts.RootGroup = cfg.GitLabGroup
	opts.MaxBranches = cfg.MaxBranches
	opts.MaxTreePages = cfg.MaxTreePages
	opts.MaxBranchTreePages = cfg.MaxBranchTreePages
	opts.MaxLargeFileProbes = cfg.MaxLargeFileProbes
	if opts.Concurrency == 0 {
		opts.Concurrency = cfg.Concurrency
	}

	logger.Info("using GitLab", "url", cfg.GitLabURL, "token", config.MaskToken(cfg.GitLabToken), "concurrency", opts.Concurrency)
	return collector.NewGitLabCollector(client, opts, logger), nil
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	return table
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
