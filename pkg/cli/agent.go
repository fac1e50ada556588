package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	config "cuewise/configs"
	"cuewise/pkg/agent"
	"cuewise/pkg/logger"
	tracing "cuewise/pkg/observability"
	"cuewise/pkg/version"
)

// AgentCmd runs the long-lived agent process.
func AgentCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the playback agent",
		Long: `Run the long-lived agent: it joins the cluster, contends for
leadership, mirrors the shared playback intent and, while leading,
drives the local media backends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if _, err := logger.Init(logger.Config{
				Level:      cfg.Log.Level,
				Encoding:   cfg.Log.Encoding,
				OutputPath: "stdout",
				Service:    "cuewise",
			}); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tp, err := tracing.Init(ctx, tracing.Config{
				ServiceName:    "cuewise",
				ServiceVersion: version.Version,
				Endpoint:       cfg.Tracing.Endpoint,
				Enabled:        cfg.Tracing.Enabled,
				SamplingRate:   cfg.Tracing.SamplingRate,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize tracing: %w", err)
			}
			defer tp.Shutdown(context.Background())

			a, err := agent.New(cfg)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cuewise.toml", "path to config file")
	return cmd
}
