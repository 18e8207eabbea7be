package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seantiz/enginehost/internal/crash"
)

var crashKeysCmd = &cobra.Command{
	Use:   "crash-keys",
	Short: "List the crash keys declared in crash_reporter.cfg",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		crashCfg, err := crash.LoadConfig(cfg.CrashConfigPath)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !crashCfg.Loaded {
			fmt.Fprintf(out, "crash reporting disabled: %s not found\n", cfg.CrashConfigPath)
			return nil
		}
		fmt.Fprintf(out, "crash reporting enabled for %s %s\n", crashCfg.ProductName, crashCfg.ProductVersion)

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tSIZE\tMAX BYTES")
		for _, key := range crashCfg.KeyNames() {
			size := crashCfg.Keys[key]
			fmt.Fprintf(tw, "%s\t%s\t%d\n", key, size, size.Bytes())
		}
		return tw.Flush()
	},
}
