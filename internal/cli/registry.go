package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sjawhar/intake/internal/registry"
)

func NewRegistryCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Serve or inspect the allowed patient id registry",
	}

	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registry settings file over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := deps.App.Config
			store, err := registry.OpenFileStore(cfg.Registry.Path, deps.App.Logger)
			if err != nil {
				return err
			}
			if err := store.Watch(ctx); err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Registry.Addr
			}
			return registry.Serve(ctx, addr, store, deps.App.Logger)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.AddCommand(serve)

	var local bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List allowed patient ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := listRegistry(cmd.Context(), deps, local)
			if err != nil {
				return err
			}
			f := deps.formatter()
			if len(ids) == 0 {
				f.Info("No patients registered")
				return nil
			}
			for _, id := range ids {
				f.Text(id)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&local, "local", false, "read the settings file instead of the registry server")
	cmd.AddCommand(list)

	return cmd
}

func listRegistry(ctx context.Context, deps *Dependencies, local bool) ([]string, error) {
	if local || deps.App.Registry == nil {
		store, err := registry.OpenFileStore(deps.App.Config.Registry.Path, deps.App.Logger)
		if err != nil {
			return nil, err
		}
		return store.List(ctx)
	}
	return deps.App.Registry.List(ctx)
}
