// Package preflight provides readiness checks for the directories, external
// programs, and optional sinks that tractkit depends on.
//
// These checks run in two contexts:
//   - The pipeline runner calls CheckDirectoryAccess on the working directory
//     before taking the run lock.
//   - The CLI "tractkit status" command runs RunAll and CheckSystemDeps to
//     display readiness.
//
// Sink checks are gated by their config toggle; disabled sinks are reported
// as such without contacting anything.
package preflight
