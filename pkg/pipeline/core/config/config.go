package config

// Package config provides structures and utilities for managing application configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// EmbeddedPipeline holds the content of the pipeline definition file.
type EmbeddedPipeline []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelSilent LogLevel = "SILENT"
)

// Trigger modes.
const (
	TriggerOnce     = "once"
	TriggerInterval = "interval"
)

// Source kinds for the landing area.
const (
	SourceKindLocal = "local"
	SourceKindGCS   = "gcs"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// TriggerConfig controls when the orchestrator runs the chains.
type TriggerConfig struct {
	// Mode is "once" (run every chain once and exit) or "interval"
	// (re-run on a fixed cadence until stopped).
	Mode string `yaml:"mode"`
	// IntervalSeconds is the cadence for interval mode.
	IntervalSeconds int `yaml:"interval_seconds"`
}

// SourceConfig locates the landing area ingestion stages read from.
type SourceConfig struct {
	// Kind is "local" (directory tree) or "gcs" (bucket).
	Kind string `yaml:"kind"`
	// Root is the base directory for local sources.
	Root string `yaml:"root"`
	// Bucket is the bucket name for gcs sources.
	Bucket string `yaml:"bucket"`
	// Prefix is an optional object prefix inside the bucket.
	Prefix string `yaml:"prefix"`
}

// BatchConfig bounds how much a single stage run ingests.
type BatchConfig struct {
	// MaxFiles limits how many new files one run picks up. Zero means all.
	MaxFiles int `yaml:"max_files"`
	// ReadLimit limits how many rows one run reads from an upstream table.
	// Zero means all.
	ReadLimit int `yaml:"read_limit"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint is the OTLP gRPC collector endpoint (host:port).
	Endpoint string `yaml:"endpoint"`
	// ServiceName is reported as the otel service.name resource attribute.
	ServiceName string `yaml:"service_name"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// ListenAddr is where the /metrics endpoint is served.
	ListenAddr string `yaml:"listen_addr"`
}

// ExportConfig configures the optional parquet export of finished tables.
type ExportConfig struct {
	Enabled bool `yaml:"enabled"`
	// Tables lists the tables to export after a successful run.
	Tables []string `yaml:"tables"`
	// Prefix is the object key prefix the exporter writes under.
	Prefix string `yaml:"prefix"`
}

// DatabaseConfig holds connection settings for one named database.
type DatabaseConfig struct {
	// Driver is one of "sqlite", "postgres", "mysql".
	Driver string `yaml:"driver"`
	// DSN is used verbatim when set; otherwise assembled from the parts below.
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// MedleyConfig holds all configuration under the "medley" top-level key.
type MedleyConfig struct {
	System  SystemConfig  `yaml:"system"`
	Trigger TriggerConfig `yaml:"trigger"`
	Source  SourceConfig  `yaml:"source"`
	Batch   BatchConfig   `yaml:"batch"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Export  ExportConfig  `yaml:"export"`
	// Databases maps a logical name ("default") to its connection settings.
	Databases map[string]DatabaseConfig `yaml:"database"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Medley MedleyConfig `yaml:"medley"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// DefaultDatabase returns the "default" database settings.
func (c *Config) DefaultDatabase() (DatabaseConfig, bool) {
	db, ok := c.Medley.Databases["default"]
	return db, ok
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		Medley: MedleyConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Trigger: TriggerConfig{
				Mode:            TriggerOnce,
				IntervalSeconds: 30,
			},
			Source: SourceConfig{
				Kind: SourceKindLocal,
				Root: "./landing",
			},
			Batch: BatchConfig{
				MaxFiles:  0,
				ReadLimit: 0,
			},
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "localhost:4317",
				ServiceName: "medley",
			},
			Metrics: MetricsConfig{
				Enabled:    false,
				ListenAddr: ":9090",
			},
			Export: ExportConfig{
				Enabled: false,
				Prefix:  "export",
			},
			Databases: map[string]DatabaseConfig{},
		},
	}
}
