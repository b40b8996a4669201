package main

import (
	"github.com/spf13/cobra"

	"comfy-relay/server/internal/config"
	"comfy-relay/server/internal/logging"
)

const defaultConfigPath = "configs/config.yaml"

func newRootCommand() *cobra.Command {
	var configPath string

	serve := newServeCommand(&configPath)

	rootCmd := &cobra.Command{
		Use:           "comfy-relay",
		Short:         "HTTP and websocket relay in front of a ComfyUI server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Configuration file path")

	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(newWorkflowCommand(&configPath))

	return rootCmd
}

// setup loads configuration and installs the process logger. The returned
// function flushes and restores the previous logger.
func setup(configPath string) (*config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	restore, err := logging.Install(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, restore, nil
}
