package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".trainkit"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for trainkit settings.
const envPrefix = "TRAINKIT"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// CheckpointPathEnv names the checkpoint directory for jobs launched by a scheduler.
const CheckpointPathEnv = "CHECKPOINT_PATH"

// Launcher-provided variables consulted after the prefixed ones.
var (
	rankEnvs      = []string{"RANK", "PADDLE_TRAINER_ID"}
	worldSizeEnvs = []string{"WORLD_SIZE", "PADDLE_TRAINERS_NUM"}
)

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	err := bindEnvs(viperCfg)
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, homeErr := os.UserHomeDir()
		if homeErr == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

// bindEnvs adds unprefixed aliases. The prefixed name stays first so it wins.
func bindEnvs(viperCfg *viper.Viper) error {
	bindings := map[string][]string{
		"checkpoint.dir":     {prefixed("checkpoint.dir"), CheckpointPathEnv},
		"cluster.rank":       append([]string{prefixed("cluster.rank")}, rankEnvs...),
		"cluster.world_size": append([]string{prefixed("cluster.world_size")}, worldSizeEnvs...),
	}

	for key, envs := range bindings {
		err := viperCfg.BindEnv(append([]string{key}, envs...)...)
		if err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	return nil
}

func prefixed(key string) string {
	return envPrefix + envKeySeparator + strings.ToUpper(strings.ReplaceAll(key, ".", envKeySeparator))
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("checkpoint.dir", DefaultCheckpointDir)
	viperCfg.SetDefault("checkpoint.codec", DefaultCheckpointCodec)
	viperCfg.SetDefault("checkpoint.compress", DefaultCheckpointCompress)
	viperCfg.SetDefault("checkpoint.keep_last", DefaultCheckpointKeepLast)
	viperCfg.SetDefault("checkpoint.resume", DefaultCheckpointResume)

	viperCfg.SetDefault("training.epochs", DefaultTrainingEpochs)
	viperCfg.SetDefault("training.log_interval", DefaultTrainingLogInterval)
	viperCfg.SetDefault("training.top_k", DefaultTrainingTopK)

	viperCfg.SetDefault("metrics.num_thresholds", DefaultMetricsNumThresholds)
	viperCfg.SetDefault("metrics.slide_steps", DefaultMetricsSlideSteps)

	viperCfg.SetDefault("cluster.rank", DefaultClusterRank)
	viperCfg.SetDefault("cluster.world_size", DefaultClusterWorldSize)

	viperCfg.SetDefault("logging.level", DefaultLoggingLevel)
	viperCfg.SetDefault("logging.json", DefaultLoggingJSON)

	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.environment", DefaultTelemetryEnvironment)
	viperCfg.SetDefault("telemetry.prometheus", DefaultTelemetryPrometheus)
}
