package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cuewise/pkg/intent"
)

// StatusCmd shows the replicated playback state as one instance sees it.
func StatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show playback state and cluster roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFromFlags(cmd)

			state, err := client.State()
			if err != nil {
				return err
			}

			bold := color.New(color.Bold)
			bold.Println("Playback")
			fmt.Printf("  Source:    %s\n", colorSource(state.Intent.ActiveSource))
			fmt.Printf("  Transport: %s\n", colorTransport(state.Intent.Transport))
			if sel := state.Intent.Selection(state.Intent.ActiveSource); sel != "" {
				fmt.Printf("  Selection: %s\n", sel)
			}
			fmt.Printf("  Volume:    ambient %d / external %d\n",
				state.Intent.AmbientVolume, state.Intent.ExternalVolume)
			if !state.Intent.UpdatedAt.IsZero() {
				fmt.Printf("  Updated:   %s by %s\n",
					state.Intent.UpdatedAt.Format("2006-01-02 15:04:05"), state.Intent.UpdatedBy)
			}
			fmt.Println()

			bold.Println("Instance")
			fmt.Printf("  ID:     %s\n", state.Instance)
			role := "observer"
			if state.Leader {
				role = color.GreenString("leader")
			}
			if state.Degraded {
				role += color.YellowString(" (degraded: lock service unavailable)")
			}
			fmt.Printf("  Role:   %s\n", role)
			fmt.Printf("  Sync:   %s\n", state.SyncState)
			if state.LastError != "" {
				fmt.Printf("  Error:  %s\n", color.RedString(state.LastError))
			}

			instances, err := client.Instances()
			if err == nil && len(instances) > 0 {
				fmt.Println()
				bold.Println("Cluster")
				for _, inst := range instances {
					fmt.Printf("  %s  %s (pid %d, %d MB)\n",
						inst.ID, inst.Hostname, inst.PID, inst.TotalMemMB)
				}
			}
			return nil
		},
	}
	return cmd
}

func colorSource(s intent.Source) string {
	switch s {
	case intent.SourceNone:
		return color.HiBlackString(string(s))
	default:
		return color.CyanString(string(s))
	}
}

func colorTransport(t intent.Transport) string {
	switch t {
	case intent.TransportPlaying:
		return color.GreenString(string(t))
	case intent.TransportPaused:
		return color.YellowString(string(t))
	default:
		return color.HiBlackString(string(t))
	}
}
