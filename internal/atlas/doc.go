// Package atlas turns manually segmented exemplar tracts into a RecobundlesX
// atlas.
//
// The working directory holds one "<tag>_<tract>.tck" file per exemplar
// subject and tract. Ten stages convert, validate, and downsample the tracts,
// fuse each with its flipped contralateral partner, cluster them for manual
// review, smooth the reviewed bundles, coregister them to an MNI template,
// and finally copy them into "final_renamed/subj_<n>/<tract>.trk".
package atlas
