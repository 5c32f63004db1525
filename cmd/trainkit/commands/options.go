// Package commands implements CLI command handlers for trainkit.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/trainkit/pkg/checkpoint"
	"github.com/Sumatoshi-tech/trainkit/pkg/config"
)

// Options carries the root command's persistent flags into subcommands.
type Options struct {
	// ConfigPath is an explicit config file; empty searches CWD and $HOME.
	ConfigPath string
}

// RegisterFlags binds the persistent flags on root.
func (o *Options) RegisterFlags(root *cobra.Command) {
	root.PersistentFlags().StringVar(&o.ConfigPath, "config", "", "Config file (default: ./.trainkit.yaml or ~/.trainkit.yaml)")
}

// Load reads the configuration and applies a checkpoint directory override.
func (o *Options) Load(dirOverride string) (*config.Config, error) {
	cfg, err := config.LoadConfig(o.ConfigPath)
	if err != nil {
		return nil, err
	}

	if dirOverride != "" {
		cfg.Checkpoint.Dir = dirOverride
	}

	return cfg, nil
}

// newManager builds the checkpoint manager described by cfg.
func newManager(cfg *config.Config) (*checkpoint.Manager, error) {
	codec, err := cfg.Checkpoint.ArtifactCodec()
	if err != nil {
		return nil, err
	}

	mgr := checkpoint.NewManager(cfg.Checkpoint.Dir, codec)
	mgr.KeepLast = cfg.Checkpoint.KeepLast

	return mgr, nil
}
