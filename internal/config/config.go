package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete enhancement run configuration
type Config struct {
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" envconfig:"TELEMETRY"`
	Paths       PathsConfig       `yaml:"paths" envconfig:"PATHS"`
	Imputation  ImputationConfig  `yaml:"imputation" envconfig:"IMPUTATION"`
	Blend       BlendConfig       `yaml:"blend" envconfig:"BLEND"`
	Calibration CalibrationConfig `yaml:"calibration" envconfig:"CALIBRATION"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/enhance.log"`
}

// TelemetryConfig controls OpenTelemetry metrics and tracing
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	TraceToStdout  bool   `yaml:"trace_to_stdout" envconfig:"TRACE_TO_STDOUT" default:"false"`
	MetricsFile    string `yaml:"metrics_file" envconfig:"METRICS_FILE" default:"output/metrics.prom"`
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME" default:"microfit"`
	ServiceVersion string `yaml:"service_version" envconfig:"SERVICE_VERSION" default:"dev"`
}

// PathsConfig contains file system paths for run inputs and outputs.
// Survey tables are CSV files named <survey>_<entity>.csv under DataDir.
type PathsConfig struct {
	DataDir     string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	GroupsFile  string `yaml:"groups_file" envconfig:"GROUPS_FILE" default:"data/groups.yaml"`
	TargetsFile string `yaml:"targets_file" envconfig:"TARGETS_FILE" default:"data/targets.xlsx"`
	BandsFile   string `yaml:"bands_file" envconfig:"BANDS_FILE" default:"data/gains_bands.yaml"`
	OutputDir   string `yaml:"output_dir" envconfig:"OUTPUT_DIR" default:"output"`
	LogsDir     string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// ImputationConfig contains the cross-survey model settings
type ImputationConfig struct {
	Trees          int     `yaml:"trees" envconfig:"TREES" default:"50"`
	MaxDepth       int     `yaml:"max_depth" envconfig:"MAX_DEPTH" default:"12"`
	MinLeafSize    int     `yaml:"min_leaf_size" envconfig:"MIN_LEAF_SIZE" default:"5"`
	SampleFraction float64 `yaml:"sample_fraction" envconfig:"SAMPLE_FRACTION" default:"1.0"`
	MinTrainRows   int     `yaml:"min_train_rows" envconfig:"MIN_TRAIN_ROWS" default:"30"`
	QuantileCount  int     `yaml:"quantile_count" envconfig:"QUANTILE_COUNT" default:"10"`
	Seed           uint64  `yaml:"seed" envconfig:"SEED" default:"0"`
	Concurrent     bool    `yaml:"concurrent" envconfig:"CONCURRENT" default:"true"`
}

// BlendConfig contains synthetic capital-gains blending settings
type BlendConfig struct {
	Epochs       int     `yaml:"epochs" envconfig:"EPOCHS" default:"100"`
	LearningRate float64 `yaml:"learning_rate" envconfig:"LEARNING_RATE" default:"0.1"`
	Tolerance    float64 `yaml:"tolerance" envconfig:"TOLERANCE" default:"0.001"`
	Seed         uint64  `yaml:"seed" envconfig:"SEED" default:"0"`
}

// CalibrationConfig contains weight calibration settings
type CalibrationConfig struct {
	Epochs           int      `yaml:"epochs" envconfig:"EPOCHS" default:"10000"`
	LearningRate     float64  `yaml:"learning_rate" envconfig:"LEARNING_RATE" default:"0.1"`
	DropoutRate      float64  `yaml:"dropout_rate" envconfig:"DROPOUT_RATE" default:"0.05"`
	Seed             uint64   `yaml:"seed" envconfig:"SEED" default:"0"`
	SnapshotInterval int      `yaml:"snapshot_interval" envconfig:"SNAPSHOT_INTERVAL" default:"10"`
	ExcludedTargets  []string `yaml:"excluded_targets" envconfig:"EXCLUDED_TARGETS"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom loads configuration from environment variables layered over
// the named YAML file. Environment variables take precedence.
func LoadFrom(configFile string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process("MICROFIT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileConfig, err := loadFromFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			cfg = mergeConfigs(*fileConfig, cfg)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence).
// Defaults from envconfig tags populate env fields, so a file value wins
// only where the env field differs from the default by being zero.
func mergeConfigs(fileConfig, envConfig Config) Config {
	merged := fileConfig

	defaults := Default()
	if envConfig.Logging != defaults.Logging {
		merged.Logging = envConfig.Logging
	}
	if envConfig.Telemetry != defaults.Telemetry {
		merged.Telemetry = envConfig.Telemetry
	}
	if envConfig.Paths != defaults.Paths {
		merged.Paths = envConfig.Paths
	}
	if envConfig.Imputation != defaults.Imputation {
		merged.Imputation = envConfig.Imputation
	}
	if envConfig.Blend != defaults.Blend {
		merged.Blend = envConfig.Blend
	}
	if envConfig.Calibration.Epochs != defaults.Calibration.Epochs ||
		envConfig.Calibration.LearningRate != defaults.Calibration.LearningRate ||
		envConfig.Calibration.DropoutRate != defaults.Calibration.DropoutRate ||
		envConfig.Calibration.Seed != defaults.Calibration.Seed ||
		envConfig.Calibration.SnapshotInterval != defaults.Calibration.SnapshotInterval ||
		len(envConfig.Calibration.ExcludedTargets) > 0 {
		merged.Calibration = envConfig.Calibration
	}

	fillZero(&merged)
	return merged
}

// fillZero replaces zero-valued fields with defaults so a sparse YAML
// file does not blank out whole sections
func fillZero(cfg *Config) {
	defaults := Default()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = defaults.Logging.FilePath
	}
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = defaults.Paths.DataDir
	}
	if cfg.Paths.OutputDir == "" {
		cfg.Paths.OutputDir = defaults.Paths.OutputDir
	}
	if cfg.Paths.LogsDir == "" {
		cfg.Paths.LogsDir = defaults.Paths.LogsDir
	}
	if cfg.Imputation.Trees == 0 {
		cfg.Imputation.Trees = defaults.Imputation.Trees
	}
	if cfg.Imputation.MaxDepth == 0 {
		cfg.Imputation.MaxDepth = defaults.Imputation.MaxDepth
	}
	if cfg.Imputation.MinLeafSize == 0 {
		cfg.Imputation.MinLeafSize = defaults.Imputation.MinLeafSize
	}
	if cfg.Imputation.SampleFraction == 0 {
		cfg.Imputation.SampleFraction = defaults.Imputation.SampleFraction
	}
	if cfg.Imputation.MinTrainRows == 0 {
		cfg.Imputation.MinTrainRows = defaults.Imputation.MinTrainRows
	}
	if cfg.Imputation.QuantileCount == 0 {
		cfg.Imputation.QuantileCount = defaults.Imputation.QuantileCount
	}
	if cfg.Blend.Epochs == 0 {
		cfg.Blend.Epochs = defaults.Blend.Epochs
	}
	if cfg.Blend.LearningRate == 0 {
		cfg.Blend.LearningRate = defaults.Blend.LearningRate
	}
	if cfg.Blend.Tolerance == 0 {
		cfg.Blend.Tolerance = defaults.Blend.Tolerance
	}
	if cfg.Calibration.Epochs == 0 {
		cfg.Calibration.Epochs = defaults.Calibration.Epochs
	}
	if cfg.Calibration.LearningRate == 0 {
		cfg.Calibration.LearningRate = defaults.Calibration.LearningRate
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Imputation.Trees < 1 {
		return fmt.Errorf("imputation trees must be positive: %d", c.Imputation.Trees)
	}
	if c.Imputation.SampleFraction <= 0 || c.Imputation.SampleFraction > 1 {
		return fmt.Errorf("imputation sample fraction must be in (0, 1]: %g", c.Imputation.SampleFraction)
	}
	if c.Blend.LearningRate <= 0 {
		return fmt.Errorf("blend learning rate must be positive: %g", c.Blend.LearningRate)
	}
	if c.Calibration.LearningRate <= 0 {
		return fmt.Errorf("calibration learning rate must be positive: %g", c.Calibration.LearningRate)
	}
	if c.Calibration.DropoutRate < 0 || c.Calibration.DropoutRate >= 1 {
		return fmt.Errorf("calibration dropout rate must be in [0, 1): %g", c.Calibration.DropoutRate)
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output != "both" && c.Logging.Output != "file" && c.Logging.Output != "stdout" {
		c.Logging.Output = "both"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/enhance.log"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// TablePath returns the CSV path for a survey entity table
func (c *Config) TablePath(survey, entity string) string {
	return filepath.Join(c.Paths.DataDir, strings.ToLower(survey)+"_"+strings.ToLower(entity)+".csv")
}

// OutputPath returns a path under the output directory
func (c *Config) OutputPath(name string) string {
	return filepath.Join(c.Paths.OutputDir, name)
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: "logs/enhance.log",
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			TraceToStdout:  false,
			MetricsFile:    "output/metrics.prom",
			ServiceName:    "microfit",
			ServiceVersion: "dev",
		},
		Paths: PathsConfig{
			DataDir:     "data",
			GroupsFile:  "data/groups.yaml",
			TargetsFile: "data/targets.xlsx",
			BandsFile:   "data/gains_bands.yaml",
			OutputDir:   "output",
			LogsDir:     "logs",
		},
		Imputation: ImputationConfig{
			Trees:          50,
			MaxDepth:       12,
			MinLeafSize:    5,
			SampleFraction: 1.0,
			MinTrainRows:   30,
			QuantileCount:  10,
			Concurrent:     true,
		},
		Blend: BlendConfig{
			Epochs:       100,
			LearningRate: 0.1,
			Tolerance:    0.001,
		},
		Calibration: CalibrationConfig{
			Epochs:           10_000,
			LearningRate:     0.1,
			DropoutRate:      0.05,
			SnapshotInterval: 10,
		},
	}
}
