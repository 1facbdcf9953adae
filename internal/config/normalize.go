package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCohort()
	c.normalizePipeline()
	c.normalizeRecobundles()
	c.normalizeManualTracking()
	c.normalizeTools()
	c.normalizeStorage()
	c.normalizeEvents()
	c.normalizeDatabase()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataRoot) == "" {
		c.Paths.DataRoot = defaultDataRoot
	}
	if c.Paths.DataRoot, err = expandPath(strings.TrimSpace(c.Paths.DataRoot)); err != nil {
		return fmt.Errorf("paths.data_root: %w", err)
	}
	root := c.Paths.DataRoot
	derived := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.tractoflow_root", &c.Paths.TractoflowRoot, filepath.Join(root, tractoflowDirName)},
		{"paths.multishell_root", &c.Paths.MultishellRoot, filepath.Join(root, multishellDirName)},
		{"paths.recox_atlas_dir", &c.Paths.RecoxAtlasDir, filepath.Join(root, recoxDirName, recoxAtlasName)},
		{"paths.recox_output_dir", &c.Paths.RecoxOutputDir, filepath.Join(root, recoxDirName, recoxOutputName)},
		{"paths.noddi_maps_dir", &c.Paths.NoddiMapsDir, filepath.Join(root, noddiDirName, noddiMapsName)},
		{"paths.noddi_warps_dir", &c.Paths.NoddiWarpsDir, filepath.Join(root, noddiDirName, noddiWarpsName)},
		{"paths.noddi_coreg_dir", &c.Paths.NoddiCoregDir, filepath.Join(root, noddiDirName, noddiCoregName)},
		{"paths.report_dir", &c.Paths.ReportDir, filepath.Join(root, reportDirName)},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
	}
	for _, entry := range derived {
		value := strings.TrimSpace(*entry.value)
		if value == "" {
			value = entry.fallback
		}
		if *entry.value, err = expandPath(value); err != nil {
			return fmt.Errorf("%s: %w", entry.key, err)
		}
	}
	c.Paths.MNITemplateName = strings.TrimSpace(c.Paths.MNITemplateName)
	if c.Paths.MNITemplateName == "" {
		c.Paths.MNITemplateName = defaultMNITemplateName
	}
	return nil
}

func (c *Config) normalizeCohort() {
	c.Cohort.Groups = dedupeTrimmed(c.Cohort.Groups, false)
	c.Cohort.Tracts = dedupeTrimmed(c.Cohort.Tracts, false)
	c.Cohort.Measures = dedupeTrimmed(c.Cohort.Measures, true)
	c.Cohort.AtlasGroup = strings.TrimSpace(c.Cohort.AtlasGroup)
	if c.Cohort.AtlasGroup == "" {
		c.Cohort.AtlasGroup = defaultAtlasGroup
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = defaultWorkers
	}
}

func (c *Config) normalizeRecobundles() {
	c.Recobundles.ConfigFile = strings.TrimSpace(c.Recobundles.ConfigFile)
	if c.Recobundles.ConfigFile == "" {
		c.Recobundles.ConfigFile = defaultRecoxConfigFile
	}
	if c.Recobundles.MultiParameters <= 0 {
		c.Recobundles.MultiParameters = defaultMultiParameters
	}
	if c.Recobundles.Processes <= 0 {
		c.Recobundles.Processes = defaultRecoxProcesses
	}
	if len(c.Recobundles.Clustering) == 0 {
		c.Recobundles.Clustering = []int{10, 12}
	}
}

func (c *Config) normalizeManualTracking() {
	c.ManualTracking.Algorithm = strings.TrimSpace(c.ManualTracking.Algorithm)
	if c.ManualTracking.Algorithm == "" {
		c.ManualTracking.Algorithm = defaultTrackAlgorithm
	}
	if c.ManualTracking.Select <= 0 {
		c.ManualTracking.Select = defaultTrackSelect
	}
	if c.ManualTracking.Seeds <= 0 {
		c.ManualTracking.Seeds = defaultTrackSeeds
	}
}

func (c *Config) normalizeTools() {
	if c.Tools == nil {
		c.Tools = map[string]string{}
	}
	for name, binary := range c.Tools {
		c.Tools[name] = strings.TrimSpace(binary)
	}
}

func (c *Config) normalizeStorage() {
	c.Storage.Endpoint = envFallback(c.Storage.Endpoint, "MINIO_ENDPOINT")
	c.Storage.AccessKey = envFallback(c.Storage.AccessKey, "MINIO_ACCESS_KEY")
	c.Storage.SecretKey = envFallback(c.Storage.SecretKey, "MINIO_SECRET_KEY")
	c.Storage.Bucket = envFallback(c.Storage.Bucket, "MINIO_BUCKET")
	if !c.Storage.UseSSL {
		if value, ok := os.LookupEnv("MINIO_USE_SSL"); ok {
			c.Storage.UseSSL = strings.EqualFold(strings.TrimSpace(value), "true")
		}
	}
	c.Storage.Prefix = strings.Trim(strings.TrimSpace(c.Storage.Prefix), "/")
}

func (c *Config) normalizeEvents() {
	if len(c.Events.Brokers) == 0 {
		if value, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
			c.Events.Brokers = strings.Split(value, ",")
		}
	}
	c.Events.Brokers = dedupeTrimmed(c.Events.Brokers, false)
	c.Events.Topic = envFallback(c.Events.Topic, "KAFKA_TOPIC")
	if c.Events.Topic == "" {
		c.Events.Topic = defaultEventsTopic
	}
}

func (c *Config) normalizeDatabase() {
	c.Database.DSN = envFallback(c.Database.DSN, "TRACTKIT_DATABASE_URL")
	c.Database.DSN = envFallback(c.Database.DSN, "DATABASE_URL")
	c.Database.Table = strings.TrimSpace(c.Database.Table)
	if c.Database.Table == "" {
		c.Database.Table = defaultDatabaseTable
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format != "json" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// envFallback keeps a configured value and consults the environment only when
// the value is empty.
func envFallback(value, key string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	if env, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(env)
	}
	return ""
}

func dedupeTrimmed(values []string, lower bool) []string {
	if len(values) == 0 {
		return values
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := strings.TrimSpace(value)
		if lower {
			normalized = strings.ToLower(normalized)
		}
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
