// Command shard is a chat front end for the generation engine: an
// interactive REPL, a websocket bridge and an MCP server for the lookups.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/shard/config"
	"github.com/sweetpotato0/shard/pkg/logging"
	"github.com/sweetpotato0/shard/pkg/telemetry"
)

var version = "dev"

type rootFlags struct {
	configPath string
	envFile    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	var (
		cfg             *config.Config
		shutdownTracing func(context.Context) error
	)

	root := &cobra.Command{
		Use:           "shard",
		Short:         "Chat with live lookups, streamed from Gemini or OpenRouter",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var envFiles []string
			if flags.envFile != "" {
				envFiles = append(envFiles, flags.envFile)
			}
			loaded, err := config.Load(flags.configPath, envFiles...)
			if err != nil {
				return err
			}
			cfg = loaded
			logging.SetLogger(logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format))

			shutdownTracing, err = telemetry.Init(cmd.Context(), telemetry.Config{
				ServiceName:    "shard",
				ServiceVersion: version,
				Environment:    cfg.Telemetry.Environment,
				Disable:        !cfg.Telemetry.Enabled,
			})
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if shutdownTracing == nil {
				return nil
			}
			return shutdownTracing(context.WithoutCancel(cmd.Context()))
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "dotenv file to load (default .env)")

	current := func() *config.Config { return cfg }
	root.AddCommand(
		newChatCmd(current),
		newServeCmd(current),
		newMCPCmd(current),
		newModelsCmd(),
	)
	return root
}
