// Package pipeline runs ordered, idempotent stages over a working directory.
//
// A run validates the stage list, takes an exclusive lock on the working
// directory, and walks the stages in order. Stages whose completion predicate
// already holds are skipped. Otherwise the stage discovers its work items,
// drops items recorded as finished in the manifest, and executes the rest
// with bounded concurrency. Every finished item is recorded so an interrupted
// run resumes where it stopped. The first failed stage ends the run.
package pipeline
