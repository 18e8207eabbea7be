// Package cmd holds the enginehost command tree and the host run loop shared
// by the enginehost and testserver binaries.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/seantiz/enginehost/internal/config"
)

// Version is the host build version, set with -ldflags at release time.
var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "enginehost",
	Short: "Host process for an embedded browser engine",
	Long: `enginehost initializes an embedded browser engine, keeps its lifecycle
state, and shuts it down in order when the process is told to stop. An admin
HTTP server exposes the engine state, lifecycle events and shutdown journal.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (YAML); environment variables override it")
	rootCmd.AddCommand(serveCmd, versionCmd, crashKeysCmd)
}

// loadConfig reads the --config file when given, otherwise the environment.
func loadConfig() (config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}
