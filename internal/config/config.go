package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrCredential classifies failures around credential files (the GitHub
// token file and the staged Datum API secrets).
var ErrCredential = errors.New("credential error")

// Layout selects where published results land inside the results repository.
type Layout string

const (
	LayoutRoot   Layout = "root"
	LayoutSubdir Layout = "subdir"
)

// Well-known names inside the OriON home directory.
const (
	StrategiesDirname = "STRATEGIES"
	SignalsDirname    = "signals"
	StatusDirname     = "status"
	OpsDirname        = "ops"
	CracenDirname     = "CRACEN"
)

// Config represents the ops configuration for a daily run.
type Config struct {
	StrategiesRepo   string `json:"strategies_repo"`
	StrategiesBranch string `json:"strategies_branch"`
	ResultsRepo      string `json:"results_repo"`
	ResultsBranch    string `json:"results_branch"`
	ResultsLayout    Layout `json:"results_layout"`
	ResultsSubdir    string `json:"results_subdir"`
	UseCloneSwap     bool   `json:"use_clone_swap"`

	Serve ServeConfig `json:"serve"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled           bool     `json:"enabled"`
	ListenAddr        string   `json:"listen_addr"`
	WebhookSecretFile string   `json:"webhook_secret_file"`
	AllowedEventTypes []string `json:"allowed_event_types"`
	AllowedRefs       []string `json:"allowed_refs"`
}

// Defaults returns a Config with every recognized key at its default value.
func Defaults() *Config {
	return &Config{
		StrategiesRepo:   "https://github.com/bohdan6992/OriON-strategies.git",
		StrategiesBranch: "main",
		ResultsRepo:      "https://github.com/bohdan6992/OriON-stats.git",
		ResultsBranch:    "main",
		ResultsLayout:    LayoutRoot,
		ResultsSubdir:    "",
		UseCloneSwap:     true,
	}
}

// Load reads and parses the ops configuration file. Keys absent from the
// file keep their default values.
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ops config: %w", err)
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse ops config: %w", err)
	}

	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ops config: %w", err)
	}

	return cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.StrategiesRepo = os.ExpandEnv(c.StrategiesRepo)
	c.StrategiesBranch = os.ExpandEnv(c.StrategiesBranch)
	c.ResultsRepo = os.ExpandEnv(c.ResultsRepo)
	c.ResultsBranch = os.ExpandEnv(c.ResultsBranch)
	c.ResultsSubdir = os.ExpandEnv(c.ResultsSubdir)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.WebhookSecretFile = os.ExpandEnv(c.Serve.WebhookSecretFile)
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.StrategiesRepo == "" {
		return fmt.Errorf("strategies_repo is required")
	}
	if c.StrategiesBranch == "" {
		return fmt.Errorf("strategies_branch is required")
	}
	if c.ResultsRepo == "" {
		return fmt.Errorf("results_repo is required")
	}
	if c.ResultsBranch == "" {
		return fmt.Errorf("results_branch is required")
	}

	switch c.ResultsLayout {
	case LayoutRoot, LayoutSubdir:
		// valid
	default:
		return fmt.Errorf("invalid results_layout: %s (must be root or subdir)", c.ResultsLayout)
	}

	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.WebhookSecretFile == "" {
			return fmt.Errorf("serve.webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

// SubdirLayout reports whether published results go under a subdirectory of
// the results repository rather than its root.
func (c *Config) SubdirLayout() bool {
	return c.ResultsLayout == LayoutSubdir || strings.TrimSpace(c.ResultsSubdir) != ""
}

// ResolveHome returns the OriON home directory: the explicit value when
// given, else the ORION_HOME environment variable (which must point to an
// existing directory), else the directory containing the running executable.
func ResolveHome(explicit string) (string, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return "", fmt.Errorf("failed to resolve home path: %w", err)
		}
		return abs, nil
	}

	if env := os.Getenv("ORION_HOME"); env != "" {
		abs, err := filepath.Abs(env)
		if err != nil {
			return "", fmt.Errorf("failed to resolve ORION_HOME: %w", err)
		}
		if _, err := os.Stat(abs); err != nil {
			return "", fmt.Errorf("ORION_HOME points to missing path: %s", abs)
		}
		return abs, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	return filepath.Dir(exe), nil
}

// OpsConfigPath returns the path to the ops configuration file
func OpsConfigPath(home string) string {
	return filepath.Join(home, OpsDirname, "config.json")
}

// TokenFilePath returns the path to the GitHub token file. This lives under
// ops/ and is distinct from the Datum API access_token.json at the home root.
func TokenFilePath(home string) string {
	return filepath.Join(home, OpsDirname, "access_token.json")
}

// StrategiesDir returns the path of the strategies checkout
func StrategiesDir(home string) string {
	return filepath.Join(home, StrategiesDirname)
}

// SignalsDir returns the path where strategy notebooks write their signals
func SignalsDir(home string) string {
	return filepath.Join(home, SignalsDirname)
}

// StatusDir returns the path holding the persisted status report
func StatusDir(home string) string {
	return filepath.Join(home, StatusDirname)
}

// FinalArtifactPath returns the artifact the primary job must produce
func FinalArtifactPath(home string) string {
	return filepath.Join(home, CracenDirname, "final.parquet")
}

// RepoRoot returns the directory one level above home, where externally
// supplied Datum API secrets may live.
func RepoRoot(home string) string {
	return filepath.Dir(home)
}
