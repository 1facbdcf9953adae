package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tractkit/internal/logging"
	"tractkit/internal/manualtrack"
	"tractkit/internal/manifest"
	"tractkit/internal/pipeline"
	"tractkit/internal/testsupport"
	"tractkit/internal/tractometry"
)

func TestSubjectsListsDiscoveredSubjects(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.Mkdirs(t,
		filepath.Join(env.cfg.Paths.TractoflowRoot, "AIS_L", "02-0002"),
		filepath.Join(env.cfg.Paths.TractoflowRoot, "TDC", "01-0001"),
	)

	out, _, err := runCLI(t, []string{"subjects"}, env.configPath)
	if err != nil {
		t.Fatalf("subjects: %v", err)
	}
	requireContains(t, out, "2 subject(s)")
	if strings.Index(out, "01-0001") > strings.Index(out, "02-0002") {
		t.Fatalf("expected cohort order (TDC first):\n%s", out)
	}
}

func TestSubjectsEmptyRoot(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"subjects"}, env.configPath)
	if !errors.Is(err, errNoSubjects) {
		t.Fatalf("expected errNoSubjects, got %v", err)
	}
}

func TestStatusReportsSections(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStubbedBinaries("tckgen"))
	out, _, err := runCLI(t, []string{"status", "--pipeline", "manual"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Directories ==")
	requireContains(t, out, "== Tools: manual ==")
	requireContains(t, out, "[OK] Ready")
	requireContains(t, out, "[INFO] Disabled")
	if strings.Contains(out, "Tools: atlas") {
		t.Fatal("--pipeline should restrict tool checks")
	}

	if _, _, err := runCLI(t, []string{"status", "--pipeline", "bogus"}, env.configPath); err == nil {
		t.Fatal("expected unknown pipeline error")
	}
}

func TestManifestCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := env.cfg.Paths.RecoxOutputDir

	out, _, err := runCLI(t, []string{"manifest", "runs"}, env.configPath)
	if err != nil {
		t.Fatalf("manifest runs: %v", err)
	}
	requireContains(t, out, "No runs recorded")

	store, err := manifest.Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	ctx := context.Background()
	if err := store.MarkComplete(ctx, "mask", "TDC/01-0001", nil); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	if err := store.MarkComplete(ctx, "mask", "TDC/01-0002", nil); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	now := time.Now()
	if err := store.RecordRun(ctx, manifest.RunRecord{
		ID: "run-1", WorkDir: dir, StartedAt: now.Add(-time.Minute), FinishedAt: now, Status: "completed",
		Stages: []manifest.StageRecord{{Stage: "mask", Outcome: "completed", Items: 2}},
	}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	store.Close()

	out, _, err = runCLI(t, []string{"manifest", "runs", "--dir", dir}, env.configPath)
	if err != nil {
		t.Fatalf("manifest runs: %v", err)
	}
	requireContains(t, out, "Run run-1 completed")
	requireContains(t, out, "Mask")

	out, _, err = runCLI(t, []string{"manifest", "markers", "mask"}, env.configPath)
	if err != nil {
		t.Fatalf("manifest markers: %v", err)
	}
	requireContains(t, out, "2 marker(s)")

	out, _, err = runCLI(t, []string{"manifest", "clear", "mask"}, env.configPath)
	if err != nil {
		t.Fatalf("manifest clear: %v", err)
	}
	requireContains(t, out, "Cleared 2 marker(s) for stage mask")
}

func TestManualInitDryRun(t *testing.T) {
	env := setupCLITestEnv(t)
	subjectDir := filepath.Join(env.cfg.Paths.TractoflowRoot, "TDC", "01-0001")
	testsupport.Touch(t,
		filepath.Join(subjectDir, "Extract_DTI_Shell", "01-0001__dwi_dti.nii.gz"),
		filepath.Join(subjectDir, "DTI_Metrics", "01-0001__rgb.nii.gz"),
	)

	out, _, err := runCLI(t, []string{"--dry-run", "manual", "init", subjectDir, "AF_L"}, env.configPath)
	if err != nil {
		t.Fatalf("manual init: %v", err)
	}
	tractDir := manualtrack.TractDir(subjectDir, "AF_L")
	requireContains(t, out, tractDir)
	if info, err := os.Stat(tractDir); err != nil || !info.IsDir() {
		t.Fatalf("expected tract folder %s: %v", tractDir, err)
	}
}

func TestManualNeedsTag(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := t.TempDir()
	_, _, err := runCLI(t, []string{"--dry-run", "manual", "init", dir, "AF_L"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "--tag") {
		t.Fatalf("expected missing tag error, got %v", err)
	}
}

func TestPrintRunReport(t *testing.T) {
	var buf bytes.Buffer
	printRunReport(&buf, pipeline.RunReport{
		RunID:  "abc",
		DryRun: true,
		Stages: []pipeline.StageResult{
			{Stage: "flip_register", Outcome: pipeline.OutcomeCompleted, Items: 3, Duration: 1500 * time.Millisecond},
			{Stage: "flip_fuse", Outcome: pipeline.OutcomeFailed, Items: 3, Failed: 1},
		},
	})
	out := buf.String()
	requireContains(t, out, "Flip Register")
	requireContains(t, out, "1.5s")
	requireContains(t, out, "Run abc failed (dry run)")
}

func TestRenderReportPreviewTruncates(t *testing.T) {
	table := tractometry.NewTable([]string{"fa"})
	stat := tractometry.Stat{Mean: "0.4", Std: "0.1", Count: "10"}
	for _, tag := range []string{"01-0001", "01-0002", "01-0003"} {
		if err := table.Append(tractometry.Row{Group: "TDC", Subject: tag, Tract: "AF_L", Stats: []tractometry.Stat{stat}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	out := renderReportPreview(table, 2)
	requireContains(t, out, "FA_mean")
	requireContains(t, out, "01-0002")
	requireContains(t, out, "(1 more rows)")
	if strings.Contains(out, "01-0003") {
		t.Fatal("preview should stop at the limit")
	}
}

func TestLogsFiltersByRun(t *testing.T) {
	env := setupCLITestEnv(t)
	content := `{"ts":"2026-01-02T10:00:00Z","level":"info","msg":"first run","run_id":"r1"}
{"ts":"2026-01-02T11:00:00Z","level":"info","msg":"second run","run_id":"r2"}
`
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.LogDir, logging.LogFileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err := runCLI(t, []string{"logs", "--run", "r2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "second run")
	if strings.Contains(out, "first run") {
		t.Fatalf("filter ignored:\n%s", out)
	}
}
