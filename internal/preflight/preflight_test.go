package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tractkit/internal/config"
	"tractkit/internal/deps"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckReadableDirectory_EmptyPath(t *testing.T) {
	result := CheckReadableDirectory("inputs", "  ")
	if result.Passed || result.Detail != "path not configured" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCheckObjectStorage_MissingEndpoint(t *testing.T) {
	result := CheckObjectStorage(context.Background(), config.Storage{Enabled: true})
	if result.Passed {
		t.Fatal("expected failure for missing endpoint")
	}
}

func TestCheckKafka_NoBrokers(t *testing.T) {
	result := CheckKafka(context.Background(), config.Events{Enabled: true})
	if result.Passed {
		t.Fatal("expected failure without brokers")
	}
}

func TestCheckDatabase_MissingDSN(t *testing.T) {
	result := CheckDatabase(context.Background(), config.Database{Enabled: true})
	if result.Passed {
		t.Fatal("expected failure for missing dsn")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.TractoflowRoot = t.TempDir()
	cfg.Paths.RecoxAtlasDir = t.TempDir()
	cfg.Paths.RecoxOutputDir = t.TempDir()
	cfg.Paths.ReportDir = t.TempDir()
	cfg.Paths.NoddiMapsDir = filepath.Join(t.TempDir(), "absent")

	results := RunAll(context.Background(), &cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestSinkStatusReportsDisabled(t *testing.T) {
	cfg := config.Default()
	results := SinkStatus(context.Background(), &cfg)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Passed || r.Detail != "Disabled" {
			t.Errorf("%s: unexpected %+v", r.Name, r)
		}
	}
}

func TestCheckSystemDepsHonoursOverrides(t *testing.T) {
	bin := t.TempDir()
	stub := filepath.Join(bin, "my-mrstats")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", bin)

	cfg := config.Default()
	cfg.Tools = map[string]string{deps.MRStats: "my-mrstats"}

	statuses := CheckSystemDeps(&cfg, deps.PipelineTractometry)
	var found bool
	for _, s := range statuses {
		if s.Name == deps.MRStats {
			found = true
			if !s.Available || s.Command != "my-mrstats" {
				t.Fatalf("unexpected mrstats status %+v", s)
			}
		} else if s.Available {
			t.Fatalf("%s should be missing with an empty PATH", s.Name)
		}
	}
	if !found {
		t.Fatal("mrstats not checked")
	}
}

func TestCheckSystemDepsAllPipelinesDeduplicates(t *testing.T) {
	cfg := config.Default()
	statuses := CheckSystemDeps(&cfg, "")
	seen := map[string]bool{}
	for _, s := range statuses {
		if seen[s.Name] {
			t.Fatalf("duplicate requirement %s", s.Name)
		}
		seen[s.Name] = true
	}
	if !seen[deps.TckGen] || !seen[deps.RecognizeMultiBundles] {
		t.Fatalf("expected tools from every pipeline, got %v", seen)
	}
}
