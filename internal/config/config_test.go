package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"tractkit/internal/config"
)

func clearSinkEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_USE_SSL",
		"KAFKA_BROKERS", "KAFKA_TOPIC", "TRACTKIT_DATABASE_URL", "DATABASE_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfigDerivesLayoutFromDataRoot(t *testing.T) {
	clearSinkEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	root := filepath.Join(tempHome, "diffusion")
	if cfg.Paths.DataRoot != root {
		t.Fatalf("unexpected data root: got %q want %q", cfg.Paths.DataRoot, root)
	}
	cases := map[string]string{
		cfg.Paths.TractoflowRoot: filepath.Join(root, "1_Tractoflow_Singleshell"),
		cfg.Paths.RecoxAtlasDir:  filepath.Join(root, "2_RecobundlesX", "3_recox_atlas"),
		cfg.Paths.RecoxOutputDir: filepath.Join(root, "2_RecobundlesX", "4_RecoX_outputs"),
		cfg.Paths.NoddiCoregDir:  filepath.Join(root, "4_NODDI", "3_metric_maps_coregistered"),
		cfg.Paths.ReportDir:      filepath.Join(root, "3_Tractometry"),
		cfg.Paths.LogDir:         filepath.Join(tempHome, ".local", "share", "tractkit", "logs"),
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("unexpected derived path: got %q want %q", got, want)
		}
	}
	if got := strings.Join(cfg.Cohort.Groups, ","); got != "TDC,AIS_L,AIS_R,PVI_L,PVI_R" {
		t.Fatalf("unexpected default groups: %s", got)
	}
	if cfg.Pipeline.Workers != 1 {
		t.Fatalf("expected one worker by default, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Storage.Enabled || cfg.Events.Enabled || cfg.Database.Enabled {
		t.Fatal("expected optional sinks disabled by default")
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected log format %q", cfg.Logging.Format)
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearSinkEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
data_root = "~/scans"
report_dir = "/tmp/tractkit-reports"

[cohort]
groups = ["TDC", " AIS_L ", "TDC"]
tracts = ["AF_L"]
measures = ["FA", "md", "fa"]

[pipeline]
workers = 4

[tools]
mrstats = " /opt/mrtrix/bin/mrstats "

[logging]
format = "JSON"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataRoot != filepath.Join(tempHome, "scans") {
		t.Fatalf("expected tilde expansion, got %q", cfg.Paths.DataRoot)
	}
	if cfg.Paths.TractoflowRoot != filepath.Join(tempHome, "scans", "1_Tractoflow_Singleshell") {
		t.Fatalf("unexpected tractoflow root %q", cfg.Paths.TractoflowRoot)
	}
	if cfg.Paths.ReportDir != "/tmp/tractkit-reports" {
		t.Fatalf("explicit report dir not kept: %q", cfg.Paths.ReportDir)
	}
	if got := strings.Join(cfg.Cohort.Groups, ","); got != "TDC,AIS_L" {
		t.Fatalf("groups not deduplicated: %s", got)
	}
	if got := strings.Join(cfg.Cohort.Measures, ","); got != "fa,md" {
		t.Fatalf("measures not normalized: %s", got)
	}
	if cfg.Pipeline.Workers != 4 {
		t.Fatalf("unexpected workers %d", cfg.Pipeline.Workers)
	}
	if cfg.Binary("mrstats") != "/opt/mrtrix/bin/mrstats" {
		t.Fatalf("tool override not applied: %q", cfg.Binary("mrstats"))
	}
	if cfg.Binary("tckmap") != "tckmap" {
		t.Fatalf("expected bare binary name without override, got %q", cfg.Binary("tckmap"))
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("unexpected log format %q", cfg.Logging.Format)
	}
}

func TestEnvFallbacksForSinks(t *testing.T) {
	clearSinkEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MINIO_ENDPOINT", "minio.local:9000")
	t.Setenv("MINIO_ACCESS_KEY", "access")
	t.Setenv("MINIO_SECRET_KEY", "secret")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("TRACTKIT_DATABASE_URL", "postgres://localhost/tract")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[storage]
enabled = true
bucket = "reports"
secret_key = "from-file"

[events]
enabled = true

[database]
enabled = true
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storage.Endpoint != "minio.local:9000" || cfg.Storage.AccessKey != "access" {
		t.Fatalf("storage env fallback not applied: %+v", cfg.Storage)
	}
	if cfg.Storage.SecretKey != "from-file" {
		t.Fatalf("config file value should win over env, got %q", cfg.Storage.SecretKey)
	}
	if got := strings.Join(cfg.Events.Brokers, ","); got != "k1:9092,k2:9092" {
		t.Fatalf("unexpected brokers %q", got)
	}
	if cfg.Events.Topic != "tractkit.stages" {
		t.Fatalf("unexpected topic %q", cfg.Events.Topic)
	}
	if cfg.Database.DSN != "postgres://localhost/tract" {
		t.Fatalf("unexpected dsn %q", cfg.Database.DSN)
	}
}

func TestLoadEnvReadsDotEnvWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRACTKIT_TEST_EXISTING", "kept")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TRACTKIT_TEST_EXISTING=replaced\nTRACTKIT_TEST_NEW=loaded\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("TRACTKIT_TEST_NEW") })

	if err := config.LoadEnv(dir); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("TRACTKIT_TEST_EXISTING"); got != "kept" {
		t.Fatalf("existing env overwritten: %q", got)
	}
	if got := os.Getenv("TRACTKIT_TEST_NEW"); got != "loaded" {
		t.Fatalf("expected value from .env, got %q", got)
	}
	if err := config.LoadEnv(t.TempDir()); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if len(cfg.Cohort.Groups) != 5 || cfg.Cohort.Groups[0] != "TDC" {
		t.Fatalf("unexpected sample groups %v", cfg.Cohort.Groups)
	}
	if cfg.Recobundles.MultiParameters != 18 || len(cfg.Recobundles.Clustering) != 2 {
		t.Fatalf("unexpected sample recobundles section %+v", cfg.Recobundles)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no groups", func(c *config.Config) { c.Cohort.Groups = nil }},
		{"group with separator", func(c *config.Config) { c.Cohort.Groups = []string{"TDC/x"} }},
		{"no tracts", func(c *config.Config) { c.Cohort.Tracts = nil }},
		{"unknown measure", func(c *config.Config) { c.Cohort.Measures = []string{"fa", "kurtosis"} }},
		{"zero workers", func(c *config.Config) { c.Pipeline.Workers = 0 }},
		{"vote out of range", func(c *config.Config) { c.Recobundles.MinimalVote = 1.5 }},
		{"negative clustering", func(c *config.Config) { c.Recobundles.Clustering = []int{10, -1} }},
		{"storage without endpoint", func(c *config.Config) {
			c.Storage.Enabled = true
			c.Storage.Bucket = "b"
		}},
		{"events without brokers", func(c *config.Config) { c.Events.Enabled = true }},
		{"database without dsn", func(c *config.Config) { c.Database.Enabled = true }},
		{"database bad table", func(c *config.Config) {
			c.Database.Enabled = true
			c.Database.DSN = "postgres://x"
			c.Database.Table = "rows; drop"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
