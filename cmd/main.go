/*
Package main is the entry point for the Agora gateway.

The agora command has three subcommands: serve runs the gateway, token mints a
development token and config prints the effective configuration.
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"agora/internal/configs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "agora",
		Short:         "Agora real-time gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML configuration file")

	load := func() (*configs.AppConfig, error) {
		cfg, err := configs.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(newServeCmd(load), newTokenCmd(load), newConfigCmd(load))
	return root
}
