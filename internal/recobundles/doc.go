// Package recobundles recognizes white-matter bundles in every subject's
// whole-brain tractogram using a RecobundlesX atlas.
//
// Subjects are discovered under the tractoflow root. Each one is first
// registered to the atlas MNI template with ANTs, then
// scil_recognize_multi_bundles writes the recognized bundles into
// "<recox_output_dir>/<group>/<tag>/1_recox_tracts".
package recobundles
