package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/ingot/pkg/ingest/support/util/exception"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
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

	// 1. Defaults from NewConfig()
	cfg := NewConfig()

	// 2. Load configuration from embedded YAML into a temporary Config struct.
	var yamlConfig Config
	if err := yaml.Unmarshal(embeddedConfig, &yamlConfig); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
	}

	// 3. Merge YAML configuration into the default configuration.
	mergeConfig(cfg, &yamlConfig)

	// 4. Override with environment variables.
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
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
		return nil, exception.NewBatchError(moduleName, "failed to load application config", err, false, false)
	}

	GlobalConfig = cfg

	logger.SetLogLevel(cfg.Ingot.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Ingot.System.Logging.Level)

	return cfg, nil
}

// LoadConfig loads configuration from configuration files and environment variables.
// This function is expected to be called only once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig overwrite corresponding values in destConfig
// when they are not zero/empty values for their type.
func mergeConfig(destConfig, sourceConfig *Config) {
	mergeIngotConfig(&destConfig.Ingot, &sourceConfig.Ingot)
}

// mergeIngotConfig merges source into dest.
func mergeIngotConfig(dest, source *IngotConfig) {
	mergeBatchConfig(&dest.Batch, &source.Batch)
	mergeReconcileConfig(&dest.Reconcile, &source.Reconcile)
	mergeProgressConfig(&dest.Progress, &source.Progress)
	mergeSystemConfig(&dest.System, &source.System)

	if source.Server.Addr != "" {
		dest.Server.Addr = source.Server.Addr
	}
	if source.Infrastructure.RepositoryDBRef != "" {
		dest.Infrastructure.RepositoryDBRef = source.Infrastructure.RepositoryDBRef
	}
	if source.Infrastructure.FileStoreRef != "" {
		dest.Infrastructure.FileStoreRef = source.Infrastructure.FileStoreRef
	}

	if source.AdaptorConfigs != nil {
		if dest.AdaptorConfigs == nil {
			dest.AdaptorConfigs = make(map[string]interface{})
		}
		for key, value := range source.AdaptorConfigs {
			dest.AdaptorConfigs[key] = value
		}
	}
	if source.StorageConfigs != nil {
		if dest.StorageConfigs == nil {
			dest.StorageConfigs = make(map[string]interface{})
		}
		for key, value := range source.StorageConfigs {
			dest.StorageConfigs[key] = value
		}
	}
}

// mergeBatchConfig merges source into dest.
func mergeBatchConfig(dest, source *BatchConfig) {
	if source.ChunkThreshold != 0 {
		dest.ChunkThreshold = source.ChunkThreshold
	}
	if source.ChunkSize != 0 {
		dest.ChunkSize = source.ChunkSize
	}
	if source.RetryLimit != 0 {
		dest.RetryLimit = source.RetryLimit
	}
	if source.ChunkTimeoutSeconds != 0 {
		dest.ChunkTimeoutSeconds = source.ChunkTimeoutSeconds
	}
	if source.QueueWorkers != 0 {
		dest.QueueWorkers = source.QueueWorkers
	}
	if source.DegradedFailureRatio != 0 {
		dest.DegradedFailureRatio = source.DegradedFailureRatio
	}
	if source.KeyColumnCandidates != nil {
		dest.KeyColumnCandidates = source.KeyColumnCandidates
	}
	if source.CancelCheckInterval != 0 {
		dest.CancelCheckInterval = source.CancelCheckInterval
	}
}

// mergeReconcileConfig merges source into dest.
func mergeReconcileConfig(dest, source *ReconcileConfig) {
	if source.GraceSeconds != 0 {
		dest.GraceSeconds = source.GraceSeconds
	}
	if source.PollIntervalSeconds != 0 {
		dest.PollIntervalSeconds = source.PollIntervalSeconds
	}
	if source.MaxWaitSeconds != 0 {
		dest.MaxWaitSeconds = source.MaxWaitSeconds
	}
}

// mergeProgressConfig merges source into dest.
func mergeProgressConfig(dest, source *ProgressConfig) {
	if source.ChunkTTLHours != 0 {
		dest.ChunkTTLHours = source.ChunkTTLHours
	}
	if source.SummaryTTLHours != 0 {
		dest.SummaryTTLHours = source.SummaryTTLHours
	}
	if source.CacheSize != 0 {
		dest.CacheSize = source.CacheSize
	}
}

// mergeSystemConfig merges source into dest.
func mergeSystemConfig(dest, source *SystemConfig) {
	if source.Timezone != "" {
		dest.Timezone = source.Timezone
	}
	if source.Logging.Level != "" {
		dest.Logging.Level = source.Logging.Level
	}
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag to determine the environment variable name.
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

		envValue, exists := os.LookupEnv(envVarName)
		if !exists && field.Kind() != reflect.Map {
			continue
		}

		if field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct {
			// For map[string]struct{}, process nested environment variables
			// Example: DATABASE_METADATA_HOST
			if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv loads fields of type map[string]struct{} from environment variables.
// It infers map keys and struct field names from environment variable names.
//
// Example: For a field `Databases map[string]DatabaseConfig`, an environment variable
// `DATABASE_METADATA_HOST=localhost` sets the `Host` field of the instance keyed "metadata".
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
		keyAndField := parts[0]
		envValue := parts[1]

		keyAndFieldParts := strings.Split(keyAndField, "_")
		if len(keyAndFieldParts) < 2 {
			continue
		}
		mapKey := strings.ToLower(keyAndFieldParts[0])
		structFieldName := strings.Join(keyAndFieldParts[1:], "_")

		structVal := mapField.MapIndex(reflect.ValueOf(mapKey))
		if !structVal.IsValid() {
			structVal = reflect.New(elemType).Elem()
		}

		if err := setStructFieldFromEnv(structVal, structFieldName, envValue); err != nil {
			return err
		}
		mapField.SetMapIndex(reflect.ValueOf(mapKey), structVal)
	}
	return nil
}

// setStructFieldFromEnv sets the value of a specific struct field from an environment variable.
// The fieldName is matched case-insensitively against the field's `yaml` tag.
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
	return nil
}

// setField sets the value of a reflect.Value field based on its kind.
// It handles string, int, float, and bool types.
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
