package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directory layout the pipelines read from and write to.
type Paths struct {
	DataRoot        string `toml:"data_root"`
	TractoflowRoot  string `toml:"tractoflow_root"`
	MultishellRoot  string `toml:"multishell_root"`
	RecoxAtlasDir   string `toml:"recox_atlas_dir"`
	RecoxOutputDir  string `toml:"recox_output_dir"`
	NoddiMapsDir    string `toml:"noddi_maps_dir"`
	NoddiWarpsDir   string `toml:"noddi_warps_dir"`
	NoddiCoregDir   string `toml:"noddi_coreg_dir"`
	ReportDir       string `toml:"report_dir"`
	LogDir          string `toml:"log_dir"`
	MNITemplateName string `toml:"mni_template_name"`
}

// Cohort lists the fixed, ordered vocabularies used for discovery and reporting.
type Cohort struct {
	Groups     []string `toml:"groups"`
	Tracts     []string `toml:"tracts"`
	Measures   []string `toml:"measures"`
	AtlasGroup string   `toml:"atlas_group"`
}

// Pipeline controls runner behaviour shared by every command.
type Pipeline struct {
	Workers   int  `toml:"workers"`
	DryRun    bool `toml:"dry_run"`
	AssumeYes bool `toml:"assume_yes"`
}

// Recobundles holds the bundle recognition parameters.
type Recobundles struct {
	ConfigFile      string  `toml:"config_file"`
	MinimalVote     float64 `toml:"minimal_vote"`
	MultiParameters int     `toml:"multi_parameters"`
	Clustering      []int   `toml:"tractogram_clustering"`
	Processes       int     `toml:"processes"`
	Seeds           int     `toml:"seeds"`
}

// ManualTracking holds tckgen defaults for manual tractography.
type ManualTracking struct {
	Algorithm string `toml:"algorithm"`
	Select    int    `toml:"select"`
	Seeds     int    `toml:"seeds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Storage configures report upload to S3-compatible object storage.
type Storage struct {
	Enabled   bool   `toml:"enabled"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Events configures publication of stage lifecycle events to Kafka.
type Events struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// Database configures export of tractometry rows to PostgreSQL.
type Database struct {
	Enabled bool   `toml:"enabled"`
	DSN     string `toml:"dsn"`
	Table   string `toml:"table"`
}

// Config encapsulates all configuration values for tractkit.
//
// Configuration sections by subsystem:
//   - Paths: tractoflow inputs, RecobundlesX atlas and outputs, NODDI maps, reports
//   - Cohort: groups, tracts, and measures in reporting order
//   - Pipeline: worker count, dry-run, and prompt behaviour
//   - Recobundles: scil_recognize_multi_bundles parameters
//   - ManualTracking: tckgen defaults
//   - Tools: per-binary overrides for external programs
//   - Logging: log format and level
//   - Storage, Events, Database: optional report and event sinks
type Config struct {
	Paths          Paths             `toml:"paths"`
	Cohort         Cohort            `toml:"cohort"`
	Pipeline       Pipeline          `toml:"pipeline"`
	Recobundles    Recobundles       `toml:"recobundles"`
	ManualTracking ManualTracking    `toml:"manual_tracking"`
	Tools          map[string]string `toml:"tools"`
	Logging        Logging           `toml:"logging"`
	Storage        Storage           `toml:"storage"`
	Events         Events            `toml:"events"`
	Database       Database          `toml:"database"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tractkit/config.toml")
}

// LoadEnv reads a .env file from dir when present so credentials for the
// optional sinks can live next to the data instead of in the TOML file.
// Variables already set in the environment win.
func LoadEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tractkit.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories tractkit writes into. Input roots
// are left alone; preflight reports them when missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.ReportDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// Binary returns the executable to run for a tool, honouring [tools] overrides.
func (c *Config) Binary(name string) string {
	if c != nil {
		if override := strings.TrimSpace(c.Tools[name]); override != "" {
			return override
		}
	}
	return name
}

// MNITemplate returns the MNI template used to coregister atlas tracts that
// live in dir.
func (c *Config) MNITemplate(dir string) string {
	return filepath.Join(dir, c.Paths.MNITemplateName)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
