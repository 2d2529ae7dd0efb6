// Package mcpserver implements the in-process MCP tool server each spawned
// agent's relaycast MCP config entry points back at, exposing the
// mcp__relaycast__* tool names. It exposes send_dm, post_message,
// reply_to_thread, and check_inbox over both SSE and Streamable HTTP
// transports on the relaycast server name "relaycast", so that an agent's
// fully-qualified tool name is "mcp__relaycast__<tool>". Grounded almost
// directly on the teacher's internal/mcpserver/server.go (NewMCPServer +
// NewSSEServer + NewStreamableHTTPServer, RegisterRoutes via gin.WrapH).
package mcpserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agent-relay/broker/internal/delivery"
	"github.com/agent-relay/broker/internal/events"
	"github.com/agent-relay/broker/internal/logging"
	"github.com/agent-relay/broker/internal/registry"
	"github.com/agent-relay/broker/internal/relaycast"
)

// Server wraps the MCP server plus its SSE and Streamable HTTP transports.
type Server struct {
	registry *registry.Registry
	pipeline *delivery.Pipeline
	relay    *relaycast.Client
	bus      events.Bus
	log      *logging.Logger

	mcpServer  *server.MCPServer
	sseServer  *server.SSEServer
	httpServer *server.StreamableHTTPServer

	mu      sync.Mutex
	running bool
}

// New creates a Server wired to the broker's registry, delivery pipeline,
// remote Relaycast client, and event bus.
func New(reg *registry.Registry, pipeline *delivery.Pipeline, relay *relaycast.Client, bus events.Bus, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}
	s := &Server{
		registry: reg,
		pipeline: pipeline,
		relay:    relay,
		bus:      bus,
		log:      log.WithFields(zap.String("component", "mcp-server")),
	}

	s.mcpServer = server.NewMCPServer(
		"relaycast",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()

	s.sseServer = server.NewSSEServer(s.mcpServer)
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer, server.WithEndpointPath("/mcp"))

	return s
}

// RegisterRoutes adds the MCP routes to a gin router group. The broker
// mounts them on a standalone router bound to the port recorded in each
// spawned agent's relaycast MCP config; the HTTP mirror does not serve them.
func (s *Server) RegisterRoutes(router gin.IRouter) {
	router.GET("/sse", gin.WrapH(s.sseServer.SSEHandler()))
	router.POST("/message", gin.WrapH(s.sseServer.MessageHandler()))
	router.Any("/mcp", gin.WrapH(s.httpServer))

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.log.Info("registered relaycast MCP routes", zap.String("sse", "/sse"), zap.String("http", "/mcp"))
}

// Close shuts down both transports.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()
	if !running {
		return nil
	}

	var err error
	if e := s.sseServer.Shutdown(ctx); e != nil {
		err = fmt.Errorf("sse shutdown: %w", e)
	}
	if e := s.httpServer.Shutdown(ctx); e != nil && err == nil {
		err = fmt.Errorf("streamable http shutdown: %w", e)
	}
	return err
}

// authorize checks that token is the live credential for agentName, so a
// tool call can only act on behalf of the agent whose own per-agent token
// was injected at spawn time; credential injection is per-agent, not
// broker-wide.
func (s *Server) authorize(agentName, token string) bool {
	if token == "" {
		return false
	}
	rec, err := s.registry.Get(agentName)
	if err != nil {
		return false
	}
	return rec.Credentials.AgentToken == token
}
