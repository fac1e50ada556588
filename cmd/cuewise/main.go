package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cuewise/pkg/cli"
	"cuewise/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "cuewise",
		Short:   "cuewise - synchronized multi-room playback control",
		Version: version.String(),
		Long: `cuewise keeps a small fleet of playback instances in agreement:
one elected leader drives the audio hardware while every instance
mirrors the shared playback intent and serves the same control API.`,
	}

	cli.RegisterGlobalFlags(rootCmd)

	rootCmd.AddCommand(cli.AgentCmd())
	rootCmd.AddCommand(cli.StatusCmd())
	rootCmd.AddCommand(cli.PlayCmd())
	rootCmd.AddCommand(cli.PauseCmd())
	rootCmd.AddCommand(cli.StopCmd())
	rootCmd.AddCommand(cli.VolumeCmd())
	rootCmd.AddCommand(cli.SourceCmd())
	rootCmd.AddCommand(cli.HistoryCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
