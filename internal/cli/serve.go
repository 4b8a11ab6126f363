package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"claudeview/internal/server"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Index session logs and serve them over HTTP and websocket",
		Long: `Index the session log root, watch it for changes and serve:

  GET /api/sessions             session listing (?project= to filter)
  GET /api/projects             project listing
  GET /api/sessions/{id}        conversation records (?offset= for incremental reads)
  GET /ws                       change notifications and followed-session records
  GET /healthz                  liveness`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				s.Server.Listen = listen
			}
			logger := newLogger(cmd, s, false)

			rt, err := openRuntime(s, logger, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(rt, server.Options{Addr: s.Server.Listen, Logger: logger})
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default 127.0.0.1:9316)")
	return cmd
}
