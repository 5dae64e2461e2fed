package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultTokenFile is the JSON credentials file read from the working directory
const DefaultTokenFile = ".token"

// Config holds the application configuration
type Config struct {
	// GitLab
	GitLabToken string
	GitLabURL   string
	GitLabGroup string // full path or id; empty walks every reachable group

	// Collection tuning
	Concurrency        int
	RequestTimeout     time.Duration
	MinRequestInterval time.Duration
	MaxRetries         int
	MaxBranches        int
	MaxTreePages       int
	MaxBranchTreePages int
	MaxLargeFileProbes int

	// Project filter
	ProjectListFile   string
	MigrateRepoValues []string

	// GitHub (migration preflight)
	GitHubToken string
	GitHubOrg   string

	// Output
	DataDir string

	// Storage
	StorageType string // "sqlite", "postgres" or "memory"
	SQLitePath  string
	PostgresURL string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string

	LogLevel slog.Level
}

// keys maps every setting to its environment variable
var keys = map[string]string{
	"token":                 "GITLAB_TOKEN",
	"gitlab_url":            "GITLAB_URL",
	"gitlab_group":          "GITLAB_GROUP",
	"github_token":          "GITHUB_TOKEN",
	"github_org":            "GITHUB_ORG",
	"project_list_file":     "PROJECT_LIST_FILE",
	"migrate_repo_values":   "MIGRATE_REPO_VALUES",
	"concurrency":           "CONCURRENCY",
	"request_timeout":       "REQUEST_TIMEOUT",
	"min_request_interval":  "MIN_REQUEST_INTERVAL",
	"max_retries":           "MAX_RETRIES",
	"max_branches":          "MAX_BRANCHES",
	"max_tree_pages":        "MAX_TREE_PAGES",
	"max_branch_tree_pages": "MAX_BRANCH_TREE_PAGES",
	"max_large_file_probes": "MAX_LARGE_FILE_PROBES",
	"data_dir":              "DATA_DIR",
	"storage_type":          "STORAGE_TYPE",
	"sqlite_path":           "SQLITE_PATH",
	"postgres_url":          "POSTGRES_URL",
	"api_host":              "API_HOST",
	"api_port":              "API_PORT",
	"api_endpoint":          "API_ENDPOINT",
	"log_level":             "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gitlab_url", "https://gitlab.com")
	v.SetDefault("migrate_repo_values", []string{"Migrate"})
	v.SetDefault("concurrency", 1)
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("min_request_interval", "100ms")
	v.SetDefault("max_retries", 3)
	v.SetDefault("max_branches", 10)
	v.SetDefault("max_tree_pages", 50)
	v.SetDefault("max_branch_tree_pages", 5)
	v.SetDefault("max_large_file_probes", 10)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("storage_type", "sqlite")
	v.SetDefault("sqlite_path", "./inventory.db")
	v.SetDefault("api_host", "localhost")
	v.SetDefault("api_port", "8080")
	v.SetDefault("api_endpoint", "http://localhost:8080")
	v.SetDefault("log_level", "info")
}

// Load loads the configuration from the environment, .env and the .token file
func Load() (*Config, error) {
	return LoadFrom(DefaultTokenFile)
}

// LoadFrom loads the configuration using tokenFile as the JSON credentials file.
// Environment variables take precedence over the file, the file over defaults.
func LoadFrom(tokenFile string) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	for key, env := range keys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	if tokenFile != "" {
		v.SetConfigFile(tokenFile)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigError{Field: tokenFile, Message: err.Error()}
		}
	}

	cfg := &Config{
		GitLabToken:        strings.TrimSpace(v.GetString("token")),
		GitLabURL:          strings.TrimRight(v.GetString("gitlab_url"), "/"),
		GitLabGroup:        v.GetString("gitlab_group"),
		Concurrency:        v.GetInt("concurrency"),
		RequestTimeout:     v.GetDuration("request_timeout"),
		MinRequestInterval: v.GetDuration("min_request_interval"),
		MaxRetries:         v.GetInt("max_retries"),
		MaxBranches:        v.GetInt("max_branches"),
		MaxTreePages:       v.GetInt("max_tree_pages"),
		MaxBranchTreePages: v.GetInt("max_branch_tree_pages"),
		MaxLargeFileProbes: v.GetInt("max_large_file_probes"),
		ProjectListFile:    v.GetString("project_list_file"),
		MigrateRepoValues:  stringList(v.Get("migrate_repo_values")),
		GitHubToken:        v.GetString("github_token"),
		GitHubOrg:          v.GetString("github_org"),
		DataDir:            v.GetString("data_dir"),
		StorageType:        v.GetString("storage_type"),
		SQLitePath:         v.GetString("sqlite_path"),
		PostgresURL:        v.GetString("postgres_url"),
		APIPort:            v.GetString("api_port"),
		APIHost:            v.GetString("api_host"),
		APIEndpoint:        v.GetString("api_endpoint"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return nil, &ConfigError{Field: "LOG_LEVEL", Message: err.Error()}
	}
	return cfg, nil
}

// stringList accepts a JSON list, a single string or a comma separated string
func stringList(raw any) []string {
	var items []string
	switch val := raw.(type) {
	case string:
		items = strings.Split(val, ",")
	case []string:
		items = val
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate validates the configuration needed to talk to GitLab
func (c *Config) Validate() error {
	if c.GitLabToken == "" {
		return &ConfigError{Field: "GITLAB_TOKEN", Message: "GitLab token is required (environment or .token file)"}
	}
	if c.Concurrency < 1 {
		return &ConfigError{Field: "CONCURRENCY", Message: "must be at least 1"}
	}
	if c.MaxRetries < 0 {
		return &ConfigError{Field: "MAX_RETRIES", Message: "must not be negative"}
	}
	if c.RequestTimeout <= 0 {
		return &ConfigError{Field: "REQUEST_TIMEOUT", Message: "must be a positive duration"}
	}
	return c.ValidateStorage()
}

// ValidateStorage validates the storage settings only; the API server needs no GitLab token
func (c *Config) ValidateStorage() error {
	switch c.StorageType {
	case "sqlite", "postgres", "memory":
	default:
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite', 'postgres' or 'memory'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	return nil
}

// MaskToken keeps the first 8 and last 4 characters of a token for logging
func MaskToken(token string) string {
	if len(token) <= 12 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "..." + token[len(token)-4:]
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
