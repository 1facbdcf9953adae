package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCohort(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateRecobundles(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCohort() error {
	if len(c.Cohort.Groups) == 0 {
		return errors.New("cohort.groups must include at least one group")
	}
	for _, group := range c.Cohort.Groups {
		if strings.ContainsAny(group, `/\`) {
			return fmt.Errorf("cohort.groups: %q must not contain path separators", group)
		}
	}
	if len(c.Cohort.Tracts) == 0 {
		return errors.New("cohort.tracts must include at least one tract")
	}
	if len(c.Cohort.Measures) == 0 {
		return errors.New("cohort.measures must include at least one measure")
	}
	for _, measure := range c.Cohort.Measures {
		if !slices.Contains(KnownMeasures, measure) {
			return fmt.Errorf("cohort.measures: unknown measure %q (known: %s)", measure, strings.Join(KnownMeasures, ", "))
		}
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Workers <= 0 {
		return errors.New("pipeline.workers must be positive")
	}
	return nil
}

func (c *Config) validateRecobundles() error {
	if c.Recobundles.MinimalVote <= 0 || c.Recobundles.MinimalVote > 1 {
		return errors.New("recobundles.minimal_vote must be between 0 and 1")
	}
	if err := ensurePositiveMap(map[string]int{
		"recobundles.multi_parameters": c.Recobundles.MultiParameters,
		"recobundles.processes":        c.Recobundles.Processes,
		"manual_tracking.select":       c.ManualTracking.Select,
		"manual_tracking.seeds":        c.ManualTracking.Seeds,
	}); err != nil {
		return err
	}
	for _, size := range c.Recobundles.Clustering {
		if size <= 0 {
			return errors.New("recobundles.tractogram_clustering values must be positive")
		}
	}
	if c.Recobundles.Seeds < 0 {
		return errors.New("recobundles.seeds must be >= 0")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !c.Storage.Enabled {
		return nil
	}
	if c.Storage.Endpoint == "" {
		return errors.New("storage.endpoint must be set when storage.enabled is true (or set MINIO_ENDPOINT)")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return errors.New("storage.access_key and storage.secret_key must be set when storage.enabled is true")
	}
	if c.Storage.Bucket == "" {
		return errors.New("storage.bucket must be set when storage.enabled is true")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if !c.Events.Enabled {
		return nil
	}
	if len(c.Events.Brokers) == 0 {
		return errors.New("events.brokers must be set when events.enabled is true (or set KAFKA_BROKERS)")
	}
	if c.Events.Topic == "" {
		return errors.New("events.topic must be set when events.enabled is true")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if !c.Database.Enabled {
		return nil
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn must be set when database.enabled is true (or set TRACTKIT_DATABASE_URL)")
	}
	for _, r := range c.Database.Table {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("database.table: %q must be a plain identifier", c.Database.Table)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
