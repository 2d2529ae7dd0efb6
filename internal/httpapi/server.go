// Package httpapi implements the optional HTTP mirror (C11): a REST view
// of the control plane's nine ops plus an SSE stream that replays the
// event bus's recent ring and then follows it live. Grounded on the
// teacher's internal/agentctl/api/server.go (gin.Engine, /health, grouped
// /api/v1 routes, one handler method per op).
package httpapi

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agent-relay/broker/internal/events"
	"github.com/agent-relay/broker/internal/logging"
	"github.com/agent-relay/broker/internal/protocol"
)

// Dispatcher is the subset of *broker.Broker this mirror calls through;
// kept as an interface so internal/httpapi never imports internal/broker.
type Dispatcher interface {
	Dispatch(ctx context.Context, req protocol.Request) (map[string]interface{}, error)
}

// Server is the HTTP mirror of the control plane.
type Server struct {
	disp   Dispatcher
	bus    events.Bus
	log    *logging.Logger
	router *gin.Engine
	srv    *http.Server
}

// New builds the gin router. Routes are registered but nothing is bound
// until Start.
func New(disp Dispatcher, bus events.Bus, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		disp:   disp,
		bus:    bus,
		log:    log.WithFields(zap.String("component", "httpapi")),
		router: gin.New(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api/v1")
	{
		api.GET("/agents", s.opHandler("list_agents"))
		api.POST("/agents", s.opHandler("spawn_pty"))
		api.DELETE("/agents/:name", s.handleRelease)
		api.POST("/messages", s.opHandler("send_message"))
		api.POST("/input", s.opHandler("send_input"))
		api.GET("/status", s.opHandler("status"))
		api.GET("/metrics", s.opHandler("metrics"))
		api.GET("/crash-insights", s.opHandler("crash_insights"))
		api.POST("/shutdown", s.opHandler("shutdown"))
		api.GET("/events/stream", s.handleEventStream)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// opHandler decodes the gin request body as the op's field map and runs it
// through the same Dispatch path the stdin/stdout codec uses, so the two
// transports can never drift in behavior.
func (s *Server) opHandler(op string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var fields map[string]interface{}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&fields); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": protocol.CodeInvalidRequest, "message": err.Error()}})
				return
			}
		}
		if fields == nil {
			fields = map[string]interface{}{}
		}
		for k, v := range c.Request.URL.Query() {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
		s.dispatch(c, op, fields)
	}
}

func (s *Server) handleRelease(c *gin.Context) {
	s.dispatch(c, "release", map[string]interface{}{"name": c.Param("name")})
}

func (s *Server) dispatch(c *gin.Context, op string, fields map[string]interface{}) {
	result, err := s.disp.Dispatch(c.Request.Context(), protocol.Request{ID: "http", Op: op, Fields: fields})
	if err != nil {
		perr, ok := err.(*protocol.Error)
		if !ok {
			perr = protocol.NewError(protocol.CodeInternalError, err.Error())
		}
		c.JSON(statusForCode(perr.Code), gin.H{"ok": false, "error": perr})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
}

func statusForCode(code protocol.Code) int {
	switch code {
	case protocol.CodeAgentNotFound:
		return http.StatusNotFound
	case protocol.CodeDuplicateAgent, protocol.CodeDeliveryRejected:
		return http.StatusConflict
	case protocol.CodeInvalidRequest, protocol.CodeUnsupportedOperation:
		return http.StatusBadRequest
	case protocol.CodeACLDenied:
		return http.StatusForbidden
	case protocol.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleEventStream replays the bus's recent ring, oldest first, then
// streams subsequent events live until the client disconnects.
func (s *Server) handleEventStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	recent := s.bus.Recent(500)
	out := make(chan events.Event, len(recent)+256)
	for _, evt := range recent {
		out <- evt
	}

	sub, err := s.bus.Subscribe(events.All, func(evt events.Event) {
		select {
		case out <- evt:
		default:
			s.log.Warn("http event stream backpressure, dropping event")
		}
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer sub.Unsubscribe()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-out:
			if !ok {
				return false
			}
			c.SSEvent("message", evt)
			return true
		case <-c.Request.Context().Done():
			return false
		case <-time.After(15 * time.Second):
			c.SSEvent("ping", gin.H{})
			return true
		}
	})
}

// Start binds the mirror to port and serves in the background. Per the
// teacher's cmd/agentctl startup convention, it announces readiness on
// stderr once the listener is bound.
func (s *Server) Start(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("bind http mirror: %w", err)
	}
	s.srv = &http.Server{Handler: s.router}
	go func() {
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http mirror stopped unexpectedly")
		}
	}()
	fmt.Fprintf(os.Stderr, "[agent-relay] API listening on %s\n", listener.Addr())
	return nil
}

// Shutdown gracefully stops the mirror's HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
