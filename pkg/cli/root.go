package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// RegisterGlobalFlags adds the connection flags shared by every
// client-side command.
func RegisterGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().String("addr", defaultAddr(), "control API address of any instance")
	root.PersistentFlags().String("api-key", os.Getenv("CUEWISE_API_KEY"), "API key, if the agent requires one")
}

func defaultAddr() string {
	if addr := os.Getenv("CUEWISE_ADDR"); addr != "" {
		return addr
	}
	return "http://localhost:8710"
}

func clientFromFlags(cmd *cobra.Command) *Client {
	addr, _ := cmd.Flags().GetString("addr")
	apiKey, _ := cmd.Flags().GetString("api-key")
	return NewClient(addr, apiKey)
}
