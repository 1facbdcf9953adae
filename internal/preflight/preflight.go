package preflight

import (
	"context"

	"tractkit/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Sink checks are only run when the corresponding sink is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckReadableDirectory("Tractoflow root", cfg.Paths.TractoflowRoot),
		CheckReadableDirectory("RecoX atlas", cfg.Paths.RecoxAtlasDir),
		CheckDirectoryAccess("RecoX outputs", cfg.Paths.RecoxOutputDir),
		CheckDirectoryAccess("Report directory", cfg.Paths.ReportDir),
	}

	// NODDI maps are optional input; only report them when present.
	if cfg.Paths.NoddiMapsDir != "" && dirExists(cfg.Paths.NoddiMapsDir) {
		results = append(results, CheckReadableDirectory("NODDI maps", cfg.Paths.NoddiMapsDir))
	}

	if cfg.Storage.Enabled {
		results = append(results, CheckObjectStorage(ctx, cfg.Storage))
	}
	if cfg.Events.Enabled {
		results = append(results, CheckKafka(ctx, cfg.Events))
	}
	if cfg.Database.Enabled {
		results = append(results, CheckDatabase(ctx, cfg.Database))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
