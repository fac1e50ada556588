package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cuewise/pkg/intent"
)

// PlayCmd activates a source (optionally selecting an item) and starts
// playback.
func PlayCmd() *cobra.Command {
	var selection string

	cmd := &cobra.Command{
		Use:   "play <source>",
		Short: "Start playback on a source (AMBIENT or EXTERNAL)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFromFlags(cmd)
			source := strings.ToUpper(args[0])

			if selection != "" {
				if err := client.Select(source, selection); err != nil {
					return err
				}
			} else if err := client.SetSource(source); err != nil {
				return err
			}
			if err := client.SetTransport(string(intent.TransportPlaying)); err != nil {
				return err
			}
			fmt.Printf("Playing on %s\n", color.CyanString(source))
			return nil
		},
	}

	cmd.Flags().StringVarP(&selection, "item", "i", "", "item to select before playing")
	return cmd
}

// PauseCmd pauses playback.
func PauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause playback",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFromFlags(cmd).SetTransport(string(intent.TransportPaused)); err != nil {
				return err
			}
			fmt.Println("Paused")
			return nil
		},
	}
}

// StopCmd stops playback, keeping the active source.
func StopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop playback",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFromFlags(cmd).SetTransport(string(intent.TransportStopped)); err != nil {
				return err
			}
			fmt.Println("Stopped")
			return nil
		},
	}
}

// VolumeCmd sets a source's volume.
func VolumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "volume <source> <0-100>",
		Short: "Set a source's volume",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := strings.ToUpper(args[0])
			var value int
			if _, err := fmt.Sscanf(args[1], "%d", &value); err != nil {
				return fmt.Errorf("volume must be a number: %q", args[1])
			}
			if err := clientFromFlags(cmd).SetVolume(source, value); err != nil {
				return err
			}
			fmt.Printf("Volume for %s set to %d\n", source, value)
			return nil
		},
	}
	return cmd
}

// SourceCmd switches the active source without starting playback.
func SourceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "source <NONE|AMBIENT|EXTERNAL>",
		Short: "Switch the active source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := strings.ToUpper(args[0])
			if err := clientFromFlags(cmd).SetSource(source); err != nil {
				return err
			}
			fmt.Printf("Active source: %s\n", source)
			return nil
		},
	}
}

// HistoryCmd lists recent playback sessions.
func HistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent playback sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := clientFromFlags(cmd).Sessions(limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions recorded")
				return nil
			}
			for _, s := range sessions {
				line := fmt.Sprintf("%s  %-8s %-24s",
					s.StartedAt.Format("2006-01-02 15:04:05"), s.Source, s.Selection)
				if s.EndedAt != nil {
					line += fmt.Sprintf("  %.0fs", s.DurationSeconds)
				} else {
					line += "  " + color.GreenString("ongoing")
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum sessions to list")
	return cmd
}
