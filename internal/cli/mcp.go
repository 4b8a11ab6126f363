package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"claudeview/internal/mcpserver"
)

func newMCPCmd(g *globalFlags) *cobra.Command {
	var sseAddr string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start an MCP server over the session history",
		Long: `Start an MCP (Model Context Protocol) server exposing list_sessions,
list_projects, get_session and get_conversation. Serves stdio by default, or
server-sent events with --sse.

Configure in Claude Code (~/.claude.json):
  {
    "mcpServers": {
      "claudeview": {
        "command": "claudeview",
        "args": ["mcp"]
      }
    }
  }
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings(cmd)
			if err != nil {
				return err
			}
			// stdout carries the protocol; logs stay on stderr.
			logger := newLogger(cmd, s, sseAddr == "")

			rt, err := openRuntime(s, logger, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			svc := mcpserver.New(rt, mcpserver.Options{Version: versionInfo, Logger: logger})
			if sseAddr == "" {
				if err := svc.ServeStdio(); err != nil {
					return fmt.Errorf("MCP server failed: %w", err)
				}
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			httpServer := &http.Server{
				Addr:              sseAddr,
				Handler:           svc.SSEHandler("http://" + sseAddr),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("serving MCP over SSE", "addr", sseAddr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("MCP server failed: %w", err)
			}
		},
	}
	cmd.Flags().StringVar(&sseAddr, "sse", "", "Serve server-sent events on this address instead of stdio")
	return cmd
}
