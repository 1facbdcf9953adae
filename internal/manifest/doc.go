// Package manifest persists per-item completion markers and run history in a
// SQLite database kept inside each working directory.
//
// A marker records that a stage finished one work item and which files that
// produced. The marker only counts while those files still exist, so deleting
// an output makes the item run again on the next invocation. Runs and their
// per-stage outcomes are recorded for `tractkit manifest runs`.
//
// The database holds resumability state, not results. Schema changes bump the
// version in schema.go; users clear the manifest to adopt the new schema.
package manifest
