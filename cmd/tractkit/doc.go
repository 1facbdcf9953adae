// Package main hosts the tractkit CLI entrypoint and command graph.
//
// Each pipeline (atlas, recobundles, tractometry) is a command that builds its
// stages from internal packages and hands them to the shared runner. The
// remaining commands cover manual tractography, subject listing, environment
// status, manifest maintenance, and configuration scaffolding. Configuration
// resolution, logging, executor selection, and event wiring live in the
// command context so subcommands stay declarative.
package main
