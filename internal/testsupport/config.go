package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"tractkit/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config whose directory layout lives under a fresh
// temp directory. Input roots are created empty; callers populate them.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataRoot = base
	cfgVal.Paths.TractoflowRoot = filepath.Join(base, "1_Tractoflow_Singleshell")
	cfgVal.Paths.MultishellRoot = filepath.Join(base, "1_Tractoflow_Multishell")
	cfgVal.Paths.RecoxAtlasDir = filepath.Join(base, "2_RecobundlesX", "3_recox_atlas")
	cfgVal.Paths.RecoxOutputDir = filepath.Join(base, "2_RecobundlesX", "4_RecoX_outputs")
	cfgVal.Paths.NoddiMapsDir = filepath.Join(base, "4_NODDI", "1_metric_maps")
	cfgVal.Paths.NoddiWarpsDir = filepath.Join(base, "4_NODDI", "2_multishell_to_singleshell_warps")
	cfgVal.Paths.NoddiCoregDir = filepath.Join(base, "4_NODDI", "3_metric_maps_coregistered")
	cfgVal.Paths.ReportDir = filepath.Join(base, "3_Tractometry")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range []string{
		cfgVal.Paths.TractoflowRoot,
		cfgVal.Paths.RecoxAtlasDir,
		cfgVal.Paths.RecoxOutputDir,
		cfgVal.Paths.ReportDir,
		cfgVal.Paths.LogDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return builder.cfg
}

// WithCohort replaces the group, tract, and measure lists.
func WithCohort(groups, tracts, measures []string) ConfigOption {
	return func(b *configBuilder) {
		if groups != nil {
			b.cfg.Cohort.Groups = groups
		}
		if tracts != nil {
			b.cfg.Cohort.Tracts = tracts
		}
		if measures != nil {
			b.cfg.Cohort.Measures = measures
		}
	}
}

// WithWorkers sets the item concurrency.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Workers = n
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH for the duration of the test.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return cfg.Paths.DataRoot
}
