// Package config provides structures and utilities for managing the engine's
// application configuration.
package config

import (
	"time"

	model "accord/pkg/provision/core/domain/model"
)

// EmbeddedConfig holds the content of the configuration file, typically
// embedded into the binary and passed from main.go.
type EmbeddedConfig []byte

// RetryConfig holds the backoff configuration for provisioning retries.
type RetryConfig struct {
	// InitialInterval is the first backoff interval in milliseconds.
	InitialInterval int `yaml:"initial_interval"`
	// MaxInterval caps the backoff interval in milliseconds.
	MaxInterval int `yaml:"max_interval"`
	// Factor is the multiplier applied per attempt (e.g. 2.0).
	Factor float64 `yaml:"factor"`
}

// ProvisioningConfig holds configuration of the provisioning engine proper.
type ProvisioningConfig struct {
	// Workers is the number of goroutines draining the operation queue.
	Workers int `yaml:"workers"`
	// PollIntervalSeconds is the idle queue polling interval.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	// MaxAttempts bounds retries of one operation.
	MaxAttempts int `yaml:"max_attempts"`
	// ConnectorTimeoutSeconds bounds one blocking connector call.
	ConnectorTimeoutSeconds int `yaml:"connector_timeout_seconds"`
	// Retry is the backoff configuration.
	Retry RetryConfig `yaml:"retry"`
}

// SyncActionsConfig maps each situation to its configured resolution.
type SyncActionsConfig struct {
	Linked         model.SyncAction `yaml:"linked"`
	Unlinked       model.SyncAction `yaml:"unlinked"`
	MissingEntity  model.SyncAction `yaml:"missing_entity"`
	MissingAccount model.SyncAction `yaml:"missing_account"`
}

// SyncConfig describes one pull-based synchronization of a system.
type SyncConfig struct {
	// Name identifies the configuration; the run lock is per name.
	Name string `yaml:"name"`
	// MappingID selects the system mapping driving correlation and
	// re-provisioning.
	MappingID string `yaml:"mapping_id"`
	// Filter is the connector-specific enumeration filter, may be empty.
	Filter string `yaml:"filter"`
	// IntervalSeconds schedules periodic runs; zero runs once at startup.
	IntervalSeconds int `yaml:"interval_seconds"`
	// Actions maps situations to resolutions.
	Actions SyncActionsConfig `yaml:"actions"`
}

// Interval returns the scheduling interval as a duration.
func (c *SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// VirtualConfig holds the implementer authorization of virtual systems.
type VirtualConfig struct {
	// Implementers lists identities allowed to realize/cancel requests.
	Implementers []string `yaml:"implementers"`
	// ImplementerRoles lists roles whose members are implementers.
	ImplementerRoles []string `yaml:"implementer_roles"`
}

// DatabaseConfig holds the database connection settings.
type DatabaseConfig struct {
	// Type selects the driver: "sqlite", "postgres" or "mysql".
	Type string `yaml:"type"`
	// Database is the database name, or the file path for sqlite.
	Database string `yaml:"database"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g. "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g. "UTC").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// ExportConfig holds archive export settings.
type ExportConfig struct {
	// Enabled turns the Parquet archive exporter on.
	Enabled bool `yaml:"enabled"`
	// OutputDir is the directory exported Parquet files are written to.
	OutputDir string `yaml:"output_dir"`
	// Compression is the Parquet compression codec: "SNAPPY", "GZIP" or
	// "NONE". Defaults to SNAPPY.
	Compression string `yaml:"compression"`
}

// AccordConfig holds all configuration under the "accord" top-level key.
type AccordConfig struct {
	System       SystemConfig          `yaml:"system"`
	Database     DatabaseConfig        `yaml:"database"`
	Provisioning ProvisioningConfig    `yaml:"provisioning"`
	Mappings     []model.SystemMapping `yaml:"mappings"`
	Sync         []SyncConfig          `yaml:"sync"`
	Virtual      VirtualConfig         `yaml:"virtual"`
	Export       ExportConfig          `yaml:"export"`
}

// MappingByID returns the configured system mapping with the given id.
func (c *AccordConfig) MappingByID(id string) (*model.SystemMapping, bool) {
	for i := range c.Mappings {
		if c.Mappings[i].ID == id {
			return &c.Mappings[i], true
		}
	}
	return nil, false
}

// Config is the root configuration object.
type Config struct {
	Accord AccordConfig `yaml:"accord"`
}

// NewConfig returns a Config populated with engine defaults.
func NewConfig() *Config {
	return &Config{
		Accord: AccordConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Database: DatabaseConfig{
				Type:     "sqlite",
				Database: "accord.db",
			},
			Provisioning: ProvisioningConfig{
				Workers:                 4,
				PollIntervalSeconds:     5,
				MaxAttempts:             6,
				ConnectorTimeoutSeconds: 30,
				Retry: RetryConfig{
					InitialInterval: 1000,
					MaxInterval:     300000,
					Factor:          2.0,
				},
			},
			Export: ExportConfig{
				OutputDir:   "export",
				Compression: "SNAPPY",
			},
		},
	}
}

// ConnectorTimeout returns the connector call timeout as a duration.
func (c *ProvisioningConfig) ConnectorTimeout() time.Duration {
	return time.Duration(c.ConnectorTimeoutSeconds) * time.Second
}

// PollInterval returns the queue polling interval as a duration.
func (c *ProvisioningConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
