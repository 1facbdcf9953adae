package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tractkit/internal/logs"
)

const sampleLog = `{"ts":"2026-01-02T10:00:00Z","level":"info","msg":"run started","run_id":"r1"}
not json
{"ts":"2026-01-02T10:00:01Z","level":"debug","msg":"mrstats","run_id":"r1","stage":"metrics","subject":"TDC/01-0001"}
{"ts":"2026-01-02T10:00:02Z","level":"warn","msg":"report publish failed","run_id":"r1","stage":"metrics","error":"bucket missing"}
{"ts":"2026-01-02T11:00:00Z","level":"info","msg":"run started","run_id":"r2"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tractkit.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestTailLastEntries(t *testing.T) {
	path := writeLog(t, sampleLog)
	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(result.Entries) != 2 || result.Entries[0].Message != "report publish failed" || result.Entries[1].RunID != "r2" {
		t.Fatalf("unexpected entries: %#v", result.Entries)
	}
	if result.Offset != int64(len(sampleLog)) {
		t.Fatalf("offset = %d, want %d", result.Offset, len(sampleLog))
	}
}

func TestTailFilters(t *testing.T) {
	path := writeLog(t, sampleLog)
	tests := []struct {
		name   string
		filter logs.Filter
		want   []string
	}{
		{"run", logs.Filter{RunID: "r1"}, []string{"run started", "mrstats", "report publish failed"}},
		{"stage and level", logs.Filter{Stage: "metrics", Level: "info"}, []string{"report publish failed"}},
		{"subject", logs.Filter{Subject: "TDC/01-0001"}, []string{"mrstats"}},
		{"errors only", logs.Filter{Level: "error"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 10, Filter: tt.filter})
			if err != nil {
				t.Fatalf("Tail: %v", err)
			}
			var got []string
			for _, entry := range result.Entries {
				got = append(got, entry.Message)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTailMissingFile(t *testing.T) {
	result, err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "absent.log"), logs.TailOptions{Offset: -1, Limit: 5})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(result.Entries) != 0 || result.Offset != 0 {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestTailFollowWaits(t *testing.T) {
	path := writeLog(t, sampleLog)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan logs.TailResult, 1)
	go func() {
		res, err := logs.Tail(ctx, path, logs.TailOptions{
			Offset: int64(len(sampleLog)),
			Follow: true,
			Wait:   5 * time.Second,
			Filter: logs.Filter{RunID: "r3"},
		})
		if err != nil {
			t.Errorf("follow tail error: %v", err)
		}
		done <- res
	}()

	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString(`{"level":"info","msg":"other","run_id":"r2"}` + "\n" + `{"level":"info","msg":"later","run_id":"r3"}` + "\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	_ = f.Close()

	select {
	case res := <-done:
		if len(res.Entries) != 1 || res.Entries[0].Message != "later" {
			t.Fatalf("unexpected follow entries: %#v", res.Entries)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("tail follow did not return")
	}
}

func TestFormat(t *testing.T) {
	entry, ok := logs.Parse(`{"ts":"2026-01-02T10:00:02Z","level":"warn","msg":"publish failed","component":"tractometry","stage":"metrics","error":"boom"}`)
	if !ok {
		t.Fatal("expected entry to parse")
	}
	want := "2026-01-02T10:00:02Z WARN [tractometry] [metrics] publish failed: boom"
	if got := logs.Format(entry); got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
	if _, ok := logs.Parse("plain text"); ok {
		t.Fatal("plain text should not parse")
	}
}
