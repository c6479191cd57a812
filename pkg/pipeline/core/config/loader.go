package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/coraldata/medley/pkg/pipeline/support/exception"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"

	"go.uber.org/fx"
)

// Package config provides utilities for loading and managing application configuration
// from various sources, including YAML files and environment variables.

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig // EmbeddedConfig contains the raw bytes of the configuration file.
	EnvFilePath    string         `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
}

// loadConfig loads configuration from a file and environment variables.
// This function is intended to be called only once during application startup.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	// 1. Defaults from NewConfig()

	// 2. Load configuration from embedded YAML into a temporary Config struct.
	var yamlConfig Config
	if err := yaml.Unmarshal(embeddedConfig, &yamlConfig); err != nil {
		return nil, exception.New(moduleName, exception.KindConfig, "failed to unmarshal embedded config", err)
	}

	// 3. Merge YAML configuration into the default configuration.
	mergeConfig(cfg, &yamlConfig)

	// 4. Override with environment variables.
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.New(moduleName, exception.KindConfig, "failed to load config from environment variables", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It initializes the application configuration by loading defaults,
// merging from embedded YAML, and overriding with environment variables.
// It also sets the global logger level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Medley.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Medley.System.Logging.Level)

	return cfg, nil
}

// LoadConfig loads configuration from configuration files and environment variables.
// This function is expected to be called only once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// validate rejects configurations the orchestrator cannot run with.
func validate(cfg *Config) error {
	switch cfg.Medley.Trigger.Mode {
	case TriggerOnce:
	case TriggerInterval:
		if cfg.Medley.Trigger.IntervalSeconds <= 0 {
			return exception.Newf(moduleName, exception.KindConfig,
				"trigger interval_seconds must be positive, got %d", cfg.Medley.Trigger.IntervalSeconds)
		}
	default:
		return exception.Newf(moduleName, exception.KindConfig,
			"unknown trigger mode %q", cfg.Medley.Trigger.Mode)
	}

	switch cfg.Medley.Source.Kind {
	case SourceKindLocal:
		if cfg.Medley.Source.Root == "" {
			return exception.Newf(moduleName, exception.KindConfig, "local source requires a root directory")
		}
	case SourceKindGCS:
		if cfg.Medley.Source.Bucket == "" {
			return exception.Newf(moduleName, exception.KindConfig, "gcs source requires a bucket name")
		}
	default:
		return exception.Newf(moduleName, exception.KindConfig,
			"unknown source kind %q", cfg.Medley.Source.Kind)
	}
	return nil
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig overwrite corresponding values in destConfig
// if they are not zero/empty values for their type.
func mergeConfig(destConfig, sourceConfig *Config) {
	mergeMedleyConfig(&destConfig.Medley, &sourceConfig.Medley)
}

func mergeMedleyConfig(dest, source *MedleyConfig) {
	mergeSystemConfig(&dest.System, &source.System)

	if source.Trigger.Mode != "" {
		dest.Trigger.Mode = source.Trigger.Mode
	}
	if source.Trigger.IntervalSeconds != 0 {
		dest.Trigger.IntervalSeconds = source.Trigger.IntervalSeconds
	}

	if source.Source.Kind != "" {
		dest.Source.Kind = source.Source.Kind
	}
	if source.Source.Root != "" {
		dest.Source.Root = source.Source.Root
	}
	if source.Source.Bucket != "" {
		dest.Source.Bucket = source.Source.Bucket
	}
	if source.Source.Prefix != "" {
		dest.Source.Prefix = source.Source.Prefix
	}

	if source.Batch.MaxFiles != 0 {
		dest.Batch.MaxFiles = source.Batch.MaxFiles
	}
	if source.Batch.ReadLimit != 0 {
		dest.Batch.ReadLimit = source.Batch.ReadLimit
	}

	if source.Tracing.Enabled {
		dest.Tracing.Enabled = true
	}
	if source.Tracing.Endpoint != "" {
		dest.Tracing.Endpoint = source.Tracing.Endpoint
	}
	if source.Tracing.ServiceName != "" {
		dest.Tracing.ServiceName = source.Tracing.ServiceName
	}

	if source.Metrics.Enabled {
		dest.Metrics.Enabled = true
	}
	if source.Metrics.ListenAddr != "" {
		dest.Metrics.ListenAddr = source.Metrics.ListenAddr
	}

	if source.Export.Enabled {
		dest.Export.Enabled = true
	}
	if source.Export.Tables != nil {
		dest.Export.Tables = source.Export.Tables
	}
	if source.Export.Prefix != "" {
		dest.Export.Prefix = source.Export.Prefix
	}

	if source.Databases != nil {
		if dest.Databases == nil {
			dest.Databases = make(map[string]DatabaseConfig)
		}
		for key, value := range source.Databases {
			dest.Databases[key] = value
		}
	}
}

func mergeSystemConfig(dest, source *SystemConfig) {
	if source.Timezone != "" {
		dest.Timezone = source.Timezone
	}
	if source.Logging.Level != "" {
		dest.Logging.Level = source.Logging.Level
	}
}

// loadStructFromEnv recursively loads configuration values into a struct from
// environment variables. It uses the "yaml" tag to determine the environment
// variable name, e.g. MEDLEY_TRIGGER_MODE or MEDLEY_DATABASE_DEFAULT_DSN.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct {
			// For map[string]struct, process nested environment variables.
			// Example: MEDLEY_DATABASE_DEFAULT_DRIVER=postgres
			if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}

		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv loads fields of type map[string]struct from environment
// variables, inferring map keys and struct field names from the variable name.
//
// Example: MEDLEY_DATABASE_DEFAULT_HOST=localhost sets the Host field of the
// DatabaseConfig stored under the key "default".
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}

	elemType := mapField.Type().Elem()

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}

		keyPartWithValue := strings.TrimPrefix(env, prefix)
		parts := strings.SplitN(keyPartWithValue, "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := parts[0] // e.g., "DEFAULT_DSN"
		envValue := parts[1]

		keyAndFieldParts := strings.Split(keyAndField, "_")
		if len(keyAndFieldParts) < 2 {
			continue
		}
		mapKey := strings.ToLower(keyAndFieldParts[0])
		structFieldName := strings.Join(keyAndFieldParts[1:], "_")

		structVal := mapField.MapIndex(reflect.ValueOf(mapKey))
		var settable reflect.Value
		if structVal.IsValid() {
			settable = reflect.New(elemType).Elem()
			settable.Set(structVal)
		} else {
			settable = reflect.New(elemType).Elem()
		}

		if err := setStructFieldFromEnv(settable, structFieldName, envValue); err != nil {
			return err
		}
		mapField.SetMapIndex(reflect.ValueOf(mapKey), settable)
	}
	return nil
}

// setStructFieldFromEnv sets the value of a struct field whose yaml tag matches
// fieldName case-insensitively.
func setStructFieldFromEnv(structVal reflect.Value, fieldName string, value string) error {
	typ := structVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := structVal.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		if strings.EqualFold(yamlTag, fieldName) {
			return setField(field, value)
		}
	}
	return nil // field not found is not an error
}

// setField sets the value of a reflect.Value field based on its kind.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
