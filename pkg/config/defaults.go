package config

// Checkpoint defaults.
const (
	DefaultCheckpointDir      = "/checkpoint/"
	DefaultCheckpointCodec    = "gob"
	DefaultCheckpointCompress = false
	DefaultCheckpointKeepLast = 0
	DefaultCheckpointResume   = true
)

// Training loop defaults.
const (
	DefaultTrainingEpochs      = 10
	DefaultTrainingLogInterval = 10
	DefaultTrainingTopK        = 5
)

// Metric defaults.
const (
	DefaultMetricsNumThresholds = 4096
	DefaultMetricsSlideSteps    = 20
)

// Cluster defaults for a single-process run.
const (
	DefaultClusterRank      = 0
	DefaultClusterWorldSize = 1
)

// Logging and telemetry defaults.
const (
	DefaultLoggingLevel         = "info"
	DefaultLoggingJSON          = false
	DefaultTelemetryEnvironment = "development"
	DefaultTelemetryPrometheus  = false
)
