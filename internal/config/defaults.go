package config

const (
	defaultDataRoot        = "~/diffusion"
	defaultLogDir          = "~/.local/share/tractkit/logs"
	defaultMNITemplateName = "mni_masked.nii.gz"
	defaultAtlasGroup      = "TDC"
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultWorkers         = 1
	defaultMinimalVote     = 0.50
	defaultMultiParameters = 18
	defaultRecoxProcesses  = 8
	defaultRecoxConfigFile = "bg_recox_config_v4.json"
	defaultTrackAlgorithm  = "Tensor_Prob"
	defaultTrackSelect     = 5000
	defaultTrackSeeds      = 1000000
	defaultEventsTopic     = "tractkit.stages"
	defaultDatabaseTable   = "tractometry"
	defaultStoragePrefix   = "tractometry"
)

// Sub-directories of the data root, matching the processing layout the
// pipelines were written against.
const (
	tractoflowDirName = "1_Tractoflow_Singleshell"
	multishellDirName = "1_Tractoflow_Multishell"
	recoxDirName      = "2_RecobundlesX"
	recoxAtlasName    = "3_recox_atlas"
	recoxOutputName   = "4_RecoX_outputs"
	reportDirName     = "3_Tractometry"
	noddiDirName      = "4_NODDI"
	noddiMapsName     = "1_metric_maps"
	noddiWarpsName    = "2_multishell_to_singleshell_warps"
	noddiCoregName    = "3_metric_maps_coregistered"
)

// KnownMeasures lists the scalar maps tractometry knows how to locate.
var KnownMeasures = []string{"fa", "md", "ad", "rd", "ficvf", "odi"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataRoot:        defaultDataRoot,
			LogDir:          defaultLogDir,
			MNITemplateName: defaultMNITemplateName,
		},
		Cohort: Cohort{
			Groups:     []string{"TDC", "AIS_L", "AIS_R", "PVI_L", "PVI_R"},
			Tracts:     []string{"AF_L_m", "AF_R_m", "UF_L_m", "UF_R_m"},
			Measures:   []string{"fa", "md", "ad", "rd", "ficvf", "odi"},
			AtlasGroup: defaultAtlasGroup,
		},
		Pipeline: Pipeline{
			Workers: defaultWorkers,
		},
		Recobundles: Recobundles{
			ConfigFile:      defaultRecoxConfigFile,
			MinimalVote:     defaultMinimalVote,
			MultiParameters: defaultMultiParameters,
			Clustering:      []int{10, 12},
			Processes:       defaultRecoxProcesses,
			Seeds:           0,
		},
		ManualTracking: ManualTracking{
			Algorithm: defaultTrackAlgorithm,
			Select:    defaultTrackSelect,
			Seeds:     defaultTrackSeeds,
		},
		Tools: map[string]string{},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Storage: Storage{
			Prefix: defaultStoragePrefix,
		},
		Events: Events{
			Topic: defaultEventsTopic,
		},
		Database: Database{
			Table: defaultDatabaseTable,
		},
	}
}
