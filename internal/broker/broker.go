// Package broker implements the Control Plane (C10): the top-level request
// dispatcher that wires every other component (lock, event bus, registry,
// delivery pipeline, PTY supervisor, CLI hooks, continuity store, inbound
// pull) behind the control plane's nine ops. Grounded on the teacher's
// cmd/agentctl/main.go lifecycle wiring and server/instance/manager.go's
// CreateInstance/remove-instance flow, generalized to agent spawn/release.
package broker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agent-relay/broker/internal/config"
	"github.com/agent-relay/broker/internal/continuity"
	"github.com/agent-relay/broker/internal/delivery"
	"github.com/agent-relay/broker/internal/events"
	"github.com/agent-relay/broker/internal/inbound"
	"github.com/agent-relay/broker/internal/lock"
	"github.com/agent-relay/broker/internal/logging"
	"github.com/agent-relay/broker/internal/mcpserver"
	"github.com/agent-relay/broker/internal/protocol"
	"github.com/agent-relay/broker/internal/ptysup"
	"github.com/agent-relay/broker/internal/registry"
	"github.com/agent-relay/broker/internal/relaycast"
	"github.com/agent-relay/broker/internal/tracing"
)

// Broker owns every broker-wide component and serves the control-plane ops.
type Broker struct {
	cfg  *config.Config
	log  *logging.Logger
	lock *lock.InstanceLock

	Bus        events.Bus
	Registry   *registry.Registry
	Pipeline   *delivery.Pipeline
	Continuity *continuity.Store
	Relay      *relaycast.Client
	MCP        *mcpserver.Server

	mcpListener net.Listener
	mcpPort     int

	machineID   string
	projectID   string
	workspaceID string

	pullCancel context.CancelFunc

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New constructs a Broker and starts its always-on background tasks (the
// relaycast MCP server and the inbound pull loop). The instance lock must
// already be held by the caller.
func New(cfg *config.Config, lk *lock.InstanceLock, log *logging.Logger) (*Broker, error) {
	if log == nil {
		log = logging.Default()
	}

	bus, err := events.New(cfg.NATSURL, 4000, log)
	if err != nil {
		return nil, fmt.Errorf("create event bus: %w", err)
	}

	contStore, err := continuity.New(lk.Dir(), log)
	if err != nil {
		return nil, fmt.Errorf("create continuity store: %w", err)
	}

	reg := registry.New()
	pipeline := delivery.New(bus, log,
		time.Duration(cfg.QuiescenceMillis)*time.Millisecond,
		time.Duration(cfg.InjectGraceMillis)*time.Millisecond)
	relayClient := relaycast.New(cfg.BaseURL, cfg.APIKey, log)

	b := &Broker{
		cfg:         cfg,
		log:         log.WithFields(zap.String("component", "broker")),
		lock:        lk,
		Bus:         bus,
		Registry:    reg,
		Pipeline:    pipeline,
		Continuity:  contStore,
		Relay:       relayClient,
		machineID:   hostIdentity(),
		projectID:   uuid.NewString(),
		workspaceID: uuid.NewString(),
		shutdownCh:  make(chan struct{}),
	}

	b.MCP = mcpserver.New(reg, pipeline, relayClient, bus, log)
	if err := b.startMCPServer(); err != nil {
		return nil, fmt.Errorf("start relaycast mcp server: %w", err)
	}

	pullCtx, cancel := context.WithCancel(context.Background())
	b.pullCancel = cancel
	puller := inbound.New(relayClient, pipeline, reg, bus, log, inbound.Config{
		Interval:   time.Duration(cfg.PollIntervalMillis) * time.Millisecond,
		BatchSize:  cfg.PollBatchSize,
		Backoff:    time.Duration(cfg.PollBackoffMillis) * time.Millisecond,
		MaxBackoff: time.Minute,
	})
	go puller.Run(pullCtx)

	watchCh, err := contStore.Watch(pullCtx)
	if err != nil {
		log.WithError(err).Warn("continuity snapshot watch unavailable")
	} else {
		go func() {
			for name := range watchCh {
				bus.Publish(events.AgentSubject(name, events.KindContinuitySaved), events.ContinuitySaved(name))
			}
		}()
	}

	return b, nil
}

// startMCPServer binds the relaycast MCP server to an OS-assigned local
// port (per-agent hooks write this port into each CLI's MCP config).
func (b *Broker) startMCPServer() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	b.mcpListener = listener
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		b.mcpPort = tcpAddr.Port
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	b.MCP.RegisterRoutes(router)

	srv := &http.Server{Handler: router}
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			b.log.WithError(err).Error("relaycast mcp server stopped unexpectedly")
		}
	}()
	return nil
}

// MCPPort returns the local port the relaycast MCP server is listening on.
func (b *Broker) MCPPort() int { return b.mcpPort }

// hostIdentity returns a stable per-host identifier for AgentRecord's
// credentials.machine_id; falling back to a random id keeps Spawn working
// even when the hostname can't be read.
func hostIdentity() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return uuid.NewString()
}

// ShutdownRequested returns a channel closed once a "shutdown" op has been
// accepted, for the main loop to select on alongside stdin EOF and signals.
func (b *Broker) ShutdownRequested() <-chan struct{} { return b.shutdownCh }

// Shutdown releases every live agent (in unspecified order), stops the
// inbound puller and MCP server, and closes the event bus. Safe to call
// multiple times.
func (b *Broker) Shutdown(ctx context.Context) {
	b.shutdownOnce.Do(func() {
		close(b.shutdownCh)
	})

	for _, rec := range b.Registry.List() {
		_ = b.releaseAgent(rec, "shutdown")
	}

	if b.pullCancel != nil {
		b.pullCancel()
	}
	if b.MCP != nil {
		_ = b.MCP.Close(ctx)
	}
	if b.mcpListener != nil {
		_ = b.mcpListener.Close()
	}
	_ = tracing.Shutdown(ctx)
	b.Bus.Close()
}

// dispatchError satisfies the protocol.Handler error contract: Dispatch
// always returns either nil or a *protocol.Error, so the codec never has
// to guess at a stable error code.
func dispatchError(code protocol.Code, format string, args ...interface{}) error {
	return protocol.NewError(code, fmt.Sprintf(format, args...))
}

