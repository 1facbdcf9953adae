package command_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tractkit/internal/command"
	"tractkit/internal/logging"
	"tractkit/internal/services"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestLocalRunCapturesOutputAndVerifiesOutputs(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "result.txt")
	script := writeScript(t, dir, "tool", `echo "0.42 0.01 1200"; echo progress >&2; touch "$1"`)

	exec := command.NewLocal(logging.NewNop())
	result, err := exec.Run(context.Background(), command.New(script, out).Expect(out))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "0.42 0.01 1200" {
		t.Fatalf("unexpected stdout %q", result.Stdout)
	}
	if strings.TrimSpace(result.Stderr) != "progress" {
		t.Fatalf("unexpected stderr %q", result.Stderr)
	}
	if result.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d", result.ExitCode)
	}
}

func TestLocalRunReportsNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "fail", `echo "bad input" >&2; exit 3`)

	ctx := services.WithStage(context.Background(), "convert")
	result, err := command.NewLocal(nil).Run(ctx, command.New(script))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
	msg := err.Error()
	if !strings.Contains(msg, "convert") || !strings.Contains(msg, "exit status 3") || !strings.Contains(msg, "bad input") {
		t.Fatalf("error lacks context: %q", msg)
	}
}

func TestLocalRunReportsMissingOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "quiet", `exit 0`)
	missing := filepath.Join(dir, "never.trk")

	_, err := command.NewLocal(nil).Run(context.Background(), command.New(script).Expect(missing))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
	if !strings.Contains(err.Error(), "produced no output") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestLocalRunMissingBinary(t *testing.T) {
	_, err := command.NewLocal(nil).Run(context.Background(), command.New(filepath.Join(t.TempDir(), "absent")))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
}

func TestLocalRunCancelKillsProcess(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "slow", `sleep 30`)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := command.NewLocal(nil).Run(ctx, command.New(script))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("process group was not killed on cancel")
	}
}

func TestInvocationString(t *testing.T) {
	inv := command.New("scil_smooth_streamlines", "in file.trk", "out.trk", "--gaussian", "10")
	want := `scil_smooth_streamlines 'in file.trk' out.trk --gaussian 10`
	if inv.String() != want {
		t.Fatalf("got %q want %q", inv.String(), want)
	}
	if command.New("echo", "it's").String() != `echo 'it'\''s'` {
		t.Fatalf("single quotes not escaped: %s", command.New("echo", "it's").String())
	}
}

func TestRecorderCreatesOutputs(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "nested", "a.trk")
	rec := command.NewRecorder()
	if _, err := rec.Run(context.Background(), command.New("tool").Expect(out)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected output created: %v", err)
	}
	if got := rec.Programs(); len(got) != 1 || got[0] != "tool" {
		t.Fatalf("unexpected programs %v", got)
	}

	rec = &command.Recorder{}
	if _, err := rec.Run(context.Background(), command.New("tool").Expect(filepath.Join(dir, "missing"))); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected missing output error, got %v", err)
	}
}

func TestDryRunDoesNotExecute(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	script := writeScript(t, dir, "touchit", `touch "`+marker+`"`)
	if _, err := command.NewDryRun(nil).Run(context.Background(), command.New(script)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(marker); err == nil {
		t.Fatal("dry run executed the program")
	}
}
