package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	quicktabs "github.com/dep2p/go-quicktabs"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), quicktabs.VersionInfo())
	},
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "列出可用的预设配置",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDESCRIPTION")
		for _, p := range quicktabs.ListPresets() {
			fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.Description)
		}
		return tw.Flush()
	},
}
