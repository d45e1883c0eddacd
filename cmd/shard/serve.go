package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/shard/config"
	"github.com/sweetpotato0/shard/mcp"
	"github.com/sweetpotato0/shard/pkg/logging"
	"github.com/sweetpotato0/shard/server"
)

func newServeCmd(current func() *config.Config) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat engine over a websocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := current()
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(a.engine, a.bus,
				server.WithDefaultModel(cfg.Model.Default),
				server.WithWebSearch(cfg.Model.WebSearch),
				server.WithLogger(logging.WithComponent("server")),
			)
			return srv.ListenAndServe(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newMCPCmd(current func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Expose the lookups as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := build(ctx, current())
			if err != nil {
				return err
			}
			defer a.Close()

			opts := []mcp.Option{
				mcp.WithVersion(version),
				mcp.WithLogger(logging.WithComponent("mcp")),
			}
			if a.research != nil {
				opts = append(opts, mcp.WithResearch(a.research))
			}
			return ignoreCanceled(mcp.NewServer(a.lookups, opts...).RunStdio(ctx))
		},
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
