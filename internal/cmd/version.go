package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/seantiz/enginehost/internal/native"
)

type versionOutput struct {
	Host   string             `json:"host"`
	Engine native.VersionInfo `json:"engine"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the host and engine versions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		eng, err := newRegistry(nil).Resolve(cfg.Engine)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(versionOutput{Host: Version, Engine: eng.Version()})
	},
}
