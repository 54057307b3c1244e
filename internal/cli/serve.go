package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sjawhar/intake/internal/server"
)

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local API and event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := deps.App
			for _, w := range a.Warnings {
				deps.formatter().Warning(w)
			}
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			return server.Serve(ctx, addr, a.Hub, a.Services(), a.Logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
