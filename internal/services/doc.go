// Package services defines shared utilities consumed by the pipeline stages and
// the external tool boundary.
//
// Key responsibilities:
//   - Context helpers that stamp stage names, work item keys, and run
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so a failed tool, a missing
//     prerequisite, and a malformed subject directory stay distinguishable all
//     the way up to the run report.
//
// Use these helpers when wiring new stage logic so failure reporting stays
// uniform across the pipeline.
package services
