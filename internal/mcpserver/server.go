package mcpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"claudeview/internal/index"
	"claudeview/internal/types"
)

// Core is the read side of the runtime the MCP tools query.
type Core interface {
	ListSessions(ctx context.Context) ([]types.Session, error)
	ListProjects(ctx context.Context) ([]types.Project, error)
	LookupSession(sessionID string) (index.Entry, bool)
	GetConversationIncremental(sessionID string, offset int) ([]types.Record, int, error)
}

// Options configures a Service.
type Options struct {
	Name    string
	Version string
	Logger  *slog.Logger
}

// Service exposes session history to MCP clients
type Service struct {
	core   Core
	logger *slog.Logger
	server *server.MCPServer
}

// New builds the MCP server and registers its tools.
func New(core Core, opts Options) *Service {
	if opts.Name == "" {
		opts.Name = "claudeview"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	s := &Service{core: core, logger: opts.Logger}
	mcpServer := server.NewMCPServer(
		opts.Name,
		opts.Version,
		server.WithToolCapabilities(false),
	)

	mcpServer.AddTool(CreateListSessionsTool(), s.handleListSessions)
	mcpServer.AddTool(CreateListProjectsTool(), s.handleListProjects)
	mcpServer.AddTool(CreateGetSessionTool(), s.handleGetSession)
	mcpServer.AddTool(CreateGetConversationTool(), s.handleGetConversation)

	s.server = mcpServer
	return s
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *Service) ServeStdio() error {
	s.logger.Info("serving MCP over stdio")
	return server.ServeStdio(s.server)
}

// SSEHandler returns an HTTP handler serving MCP over server-sent events.
func (s *Service) SSEHandler(baseURL string) http.Handler {
	return server.NewSSEServer(s.server, server.WithBaseURL(baseURL))
}
