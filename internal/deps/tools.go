package deps

// External program names. Pipelines resolve them through config.Binary so
// [tools] overrides apply.
const (
	MRConvert             = "mrconvert"
	MRView                = "mrview"
	MRStats               = "mrstats"
	TckGen                = "tckgen"
	TckMap                = "tckmap"
	ConvertTractogram     = "scil_convert_tractogram"
	RemoveInvalid         = "scil_remove_invalid_streamlines"
	RemoveSimilar         = "scil_remove_similar_streamlines"
	FlipVolume            = "scil_flip_volume"
	FlipStreamlines       = "scil_flip_streamlines"
	ApplyTransformTracto  = "scil_apply_transform_to_tractogram"
	StreamlinesMath       = "scil_streamlines_math"
	ComputeQBX            = "scil_compute_qbx"
	CleanQBXClusters      = "scil_clean_qbx_clusters"
	SmoothStreamlines     = "scil_smooth_streamlines"
	OutlierRejection      = "scil_outlier_rejection"
	RecognizeMultiBundles = "scil_recognize_multi_bundles"
	ANTsRegistrationQuick = "antsRegistrationSyNQuick.sh"
	ANTsRegistration      = "antsRegistrationSyN.sh"
	ANTsApplyTransforms   = "antsApplyTransforms"
	ConvertTransformFile  = "ConvertTransformFile"
)

// Pipeline names used to select requirement sets.
const (
	PipelineAtlas       = "atlas"
	PipelineRecobundles = "recobundles"
	PipelineTractometry = "tractometry"
	PipelineManual      = "manual"
)

type tool struct {
	name        string
	description string
}

var pipelineTools = map[string][]tool{
	PipelineAtlas: {
		{MRConvert, "T1 reference conversion"},
		{ConvertTractogram, "tck to trk conversion"},
		{RemoveInvalid, "streamline validation"},
		{RemoveSimilar, "downsampling and fusion"},
		{FlipVolume, "reference flipping"},
		{FlipStreamlines, "tract flipping"},
		{ApplyTransformTracto, "tract transforms"},
		{StreamlinesMath, "tract concatenation"},
		{ComputeQBX, "QuickBundlesX clustering"},
		{CleanQBXClusters, "manual cluster review"},
		{SmoothStreamlines, "streamline smoothing"},
		{OutlierRejection, "outlier rejection"},
		{ANTsRegistrationQuick, "flip and MNI registration"},
		{ConvertTransformFile, "transform conversion"},
	},
	PipelineRecobundles: {
		{ANTsRegistration, "subject to MNI registration"},
		{ConvertTransformFile, "transform conversion"},
		{RecognizeMultiBundles, "bundle recognition"},
	},
	PipelineTractometry: {
		{ConvertTractogram, "trk to tck conversion"},
		{TckMap, "tract masks"},
		{ANTsRegistrationQuick, "multishell to singleshell registration"},
		{ANTsApplyTransforms, "NODDI map coregistration"},
		{MRStats, "per-tract statistics"},
	},
	PipelineManual: {
		{MRView, "ROI drawing"},
		{TckGen, "manual tractography"},
	},
}

// Requirements returns the programs a pipeline needs, resolved through
// binary (typically config.Binary). Unknown pipeline names yield nil.
func Requirements(pipeline string, binary func(string) string) []Requirement {
	tools := pipelineTools[pipeline]
	if len(tools) == 0 {
		return nil
	}
	if binary == nil {
		binary = func(name string) string { return name }
	}
	reqs := make([]Requirement, 0, len(tools))
	for _, t := range tools {
		reqs = append(reqs, Requirement{
			Name:        t.name,
			Command:     binary(t.name),
			Description: "Required for " + t.description,
			Optional:    pipeline == PipelineManual,
		})
	}
	return reqs
}

// Pipelines lists the known pipeline names in display order.
func Pipelines() []string {
	return []string{PipelineAtlas, PipelineRecobundles, PipelineTractometry, PipelineManual}
}
