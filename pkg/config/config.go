// Package config loads trainkit settings from a YAML file, environment
// variables and defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Sumatoshi-tech/trainkit/pkg/persist"
)

// Config is the top-level configuration.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Training   TrainingConfig   `mapstructure:"training"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Cluster    ClusterConfig    `mapstructure:"cluster"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// CheckpointConfig holds checkpoint storage settings.
type CheckpointConfig struct {
	Dir      string `mapstructure:"dir"`
	Codec    string `mapstructure:"codec"`
	Compress bool   `mapstructure:"compress"`
	KeepLast int    `mapstructure:"keep_last"`
	Resume   bool   `mapstructure:"resume"`
}

// TrainingConfig holds epoch loop settings.
type TrainingConfig struct {
	Epochs      int `mapstructure:"epochs"`
	LogInterval int `mapstructure:"log_interval"`
	TopK        int `mapstructure:"top_k"`
}

// MetricsConfig holds streaming AUC settings.
type MetricsConfig struct {
	NumThresholds int `mapstructure:"num_thresholds"`
	SlideSteps    int `mapstructure:"slide_steps"`
}

// ClusterConfig identifies this process among its peers.
type ClusterConfig struct {
	Rank      int `mapstructure:"rank"`
	WorldSize int `mapstructure:"world_size"`
}

// LoggingConfig holds slog settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	Environment  string `mapstructure:"environment"`
	Prometheus   bool   `mapstructure:"prometheus"`
}

// Sentinel errors for configuration validation.
var (
	// ErrInvalidCheckpointDir indicates an empty checkpoint directory.
	ErrInvalidCheckpointDir = errors.New("checkpoint.dir must not be empty")
	// ErrInvalidCodec indicates an unknown artifact codec.
	ErrInvalidCodec = errors.New("checkpoint.codec must be json or gob")
	// ErrInvalidKeepLast indicates a negative retention count.
	ErrInvalidKeepLast = errors.New("checkpoint.keep_last must be non-negative")
	// ErrInvalidEpochs indicates a negative epoch count.
	ErrInvalidEpochs = errors.New("training.epochs must be non-negative")
	// ErrInvalidLogInterval indicates a non-positive progress interval.
	ErrInvalidLogInterval = errors.New("training.log_interval must be positive")
	// ErrInvalidTopK indicates a non-positive k.
	ErrInvalidTopK = errors.New("training.top_k must be positive")
	// ErrInvalidNumThresholds indicates a non-positive bucket count.
	ErrInvalidNumThresholds = errors.New("metrics.num_thresholds must be positive")
	// ErrInvalidSlideSteps indicates a negative window length.
	ErrInvalidSlideSteps = errors.New("metrics.slide_steps must be non-negative")
	// ErrInvalidWorldSize indicates a non-positive world size.
	ErrInvalidWorldSize = errors.New("cluster.world_size must be positive")
	// ErrInvalidRank indicates a rank outside [0, world_size).
	ErrInvalidRank = errors.New("cluster.rank must be in [0, world_size)")
	// ErrInvalidLogLevel indicates an unknown slog level name.
	ErrInvalidLogLevel = errors.New("logging.level must be debug, info, warn or error")
)

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	checks := []struct {
		bad bool
		err error
	}{
		{strings.TrimSpace(c.Checkpoint.Dir) == "", ErrInvalidCheckpointDir},
		{!validCodec(c.Checkpoint.Codec), ErrInvalidCodec},
		{c.Checkpoint.KeepLast < 0, ErrInvalidKeepLast},
		{c.Training.Epochs < 0, ErrInvalidEpochs},
		{c.Training.LogInterval <= 0, ErrInvalidLogInterval},
		{c.Training.TopK <= 0, ErrInvalidTopK},
		{c.Metrics.NumThresholds <= 0, ErrInvalidNumThresholds},
		{c.Metrics.SlideSteps < 0, ErrInvalidSlideSteps},
		{c.Cluster.WorldSize <= 0, ErrInvalidWorldSize},
		{c.Cluster.Rank < 0 || c.Cluster.Rank >= max(c.Cluster.WorldSize, 1), ErrInvalidRank},
	}

	for _, check := range checks {
		if check.bad {
			return check.err
		}
	}

	_, err := c.Logging.SlogLevel()

	return err
}

func validCodec(name string) bool {
	_, err := persist.CodecByName(name, false)

	return err == nil
}

// ArtifactCodec builds the persistence codec named by the checkpoint settings.
func (c CheckpointConfig) ArtifactCodec() (persist.Codec, error) {
	codec, err := persist.CodecByName(c.Codec, c.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCodec, err)
	}

	return codec, nil
}

// SlogLevel parses the configured level name.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level

	name := strings.TrimSpace(l.Level)
	if name == "" {
		return slog.LevelInfo, nil
	}

	err := level.UnmarshalText([]byte(name))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}

	return level, nil
}

// IsPrimary reports whether this process is rank 0.
func (c ClusterConfig) IsPrimary() bool {
	return c.Rank == 0
}
