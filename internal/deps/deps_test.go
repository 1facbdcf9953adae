package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for empty command: %s", results[2].Detail)
	}
	if missing := Missing(results); len(missing) != 2 {
		t.Fatalf("expected two missing requirements, got %d", len(missing))
	}
}

func TestRequirementsApplyOverrides(t *testing.T) {
	reqs := Requirements(PipelineTractometry, func(name string) string {
		if name == MRStats {
			return "/opt/mrtrix/bin/mrstats"
		}
		return name
	})
	if len(reqs) == 0 {
		t.Fatal("expected tractometry requirements")
	}
	var found bool
	for _, req := range reqs {
		if req.Name == MRStats {
			found = req.Command == "/opt/mrtrix/bin/mrstats"
		}
		if req.Optional {
			t.Fatalf("tractometry tools must be required: %+v", req)
		}
	}
	if !found {
		t.Fatal("override not applied to mrstats")
	}
	if Requirements("unknown", nil) != nil {
		t.Fatal("unknown pipeline must yield no requirements")
	}
	for _, req := range Requirements(PipelineManual, nil) {
		if !req.Optional {
			t.Fatalf("manual tools should be optional: %+v", req)
		}
	}
}
