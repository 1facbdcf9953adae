package atlas

import (
	"path/filepath"
	"strings"

	"tractkit/internal/subject"
)

// Sub-directories created inside the atlas working directory.
const (
	ValidatedDir     = "validated"
	DownsampleDir    = "downsample"
	FlipDir          = "flip"
	FuseDir          = "fuse"
	ManualCleanDir   = "manually_clean"
	SmoothCleanDir   = "smooth_clean"
	CoregisteredDir  = "coregistered"
	FinalRenamedDir  = "final_renamed"
	referenceSuffix  = "__t1_warped_trk_reference.nii.gz"
	flipOutputPrefix = "_output_"
	mniOutputPrefix  = "_mni_output_"
	affineSuffix     = "0GenericAffine.mat"
)

func referencePath(dir, tag string) string {
	return filepath.Join(dir, tag+referenceSuffix)
}

func flippedReferencePath(dir, tag string) string {
	name := strings.TrimSuffix(tag+referenceSuffix, ".nii.gz") + "_flipped.nii.gz"
	return filepath.Join(dir, FlipDir, name)
}

func flipAffinePath(dir, tag string) string {
	return filepath.Join(dir, FlipDir, tag+flipOutputPrefix+affineSuffix)
}

func mniAffinePath(dir, tag string) string {
	return filepath.Join(dir, CoregisteredDir, tag+mniOutputPrefix+affineSuffix)
}

// withSuffix returns dir/<base of path><suffix>.trk.
func withSuffix(dir, path, suffix string) string {
	return filepath.Join(dir, subject.TrimExt(path)+suffix+".trk")
}

// Contralateral returns the name of the opposite-hemisphere tract by swapping
// the last "L" or "R" token of an underscore separated name. Names without a
// hemisphere token have no partner.
func Contralateral(name string) (string, bool) {
	parts := strings.Split(name, "_")
	for i := len(parts) - 1; i >= 0; i-- {
		switch parts[i] {
		case "L":
			parts[i] = "R"
			return strings.Join(parts, "_"), true
		case "R":
			parts[i] = "L"
			return strings.Join(parts, "_"), true
		}
	}
	return name, false
}

// TractName extracts the tract from a processed file name such as
// "01-0001_AF_L_downsample_fuse_smooth_clean_coregistered.trk".
func TractName(file, tag string) string {
	name := subject.TrimExt(file)
	if idx := strings.Index(name, "_downsample"); idx >= 0 {
		name = name[:idx]
	}
	if idx := strings.Index(name, tag+"_"); idx >= 0 {
		name = name[idx+len(tag)+1:]
	}
	return name
}
