// Package tractometry computes per-tract diffusion statistics for every
// subject with recognized bundles.
//
// Three stages run over the RecoX output root. The mask stage turns each
// bundle into a .tck file and a binary .nii mask, the noddi stage brings
// multishell NODDI maps into single-shell space when they exist, and the
// metrics stage runs mrstats for every (subject, tract, measure) and writes
// the dated CSV report. Missing inputs never fail the report; they are
// recorded with the "no tract" and "no map" sentinels.
package tractometry
