package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/0xcro3dile/docrag/internal/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr, watchDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  `The 'serve' command starts the query API and, when a watch directory is configured, keeps the index in sync with it.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.withApp(ctx, func(ctx context.Context, a *app.App) error {
				if addr != "" {
					a.Cfg.Server.Addr = addr
				}
				if watchDir != "" {
					a.Cfg.Watch.Dir = watchDir
				}
				return a.Serve(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&watchDir, "watch", "", "directory to watch and index (overrides watch.dir)")
	return cmd
}
