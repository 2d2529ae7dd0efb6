// Package main is the entry point for agent-relay, the local broker that
// supervises PTY-based CLI assistants and relays messages to and from
// them over a line-delimited JSON protocol on stdin/stdout. Grounded on
// the teacher's cmd/agentctl/main.go lifecycle wiring, generalized from
// a single-process HTTP control server to a stdin/stdout control plane
// with an optional HTTP mirror.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agent-relay/broker/internal/broker"
	"github.com/agent-relay/broker/internal/config"
	"github.com/agent-relay/broker/internal/events"
	"github.com/agent-relay/broker/internal/httpapi"
	"github.com/agent-relay/broker/internal/lock"
	"github.com/agent-relay/broker/internal/logging"
	"github.com/agent-relay/broker/internal/protocol"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Println("agent-relay " + version)
			return
		case "init":
			runInit(os.Args[2:])
			return
		}
	}
	run()
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	apiPort := fs.Int("api-port", 0, "optional HTTP mirror port")
	name := fs.String("name", "", "unused label, accepted for operator convenience")
	channels := fs.String("channels", "", "comma-separated default spawn channels")
	_ = fs.Parse(args)

	if *apiPort != 0 {
		os.Setenv("RELAY_API_PORT", fmt.Sprintf("%d", *apiPort))
	}
	if *channels != "" {
		os.Setenv("RELAY_DEFAULT_CHANNELS", *channels)
	}
	_ = name // accepted, not yet surfaced anywhere the broker reads back

	run()
}

func run() {
	cfg := config.Load()

	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, OutputPath: "stderr"})
	if err != nil {
		log = logging.Default()
	}
	logging.SetDefault(log)
	defer log.Sync()

	lk, err := lock.Acquire(cfg.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[agent-relay] %v\n", err)
		os.Exit(1)
	}
	defer lk.Release()

	b, err := broker.New(cfg, lk, log)
	if err != nil {
		log.Error("failed to initialize broker", zap.Error(err))
		fmt.Fprintf(os.Stderr, "[agent-relay] failed to start: %v\n", err)
		os.Exit(1)
	}

	codec := protocol.New(os.Stdin, os.Stdout, log)

	eventSub, err := b.Bus.Subscribe(events.All, func(evt events.Event) {
		codec.WriteEvent(evt)
	})
	if err != nil {
		log.Error("failed to subscribe protocol codec to event bus", zap.Error(err))
	} else {
		defer eventSub.Unsubscribe()
	}

	var httpSrv *httpapi.Server
	if cfg.APIPort != 0 {
		httpSrv = httpapi.New(b, b.Bus, log)
		if err := httpSrv.Start(cfg.APIPort); err != nil {
			log.Error("failed to start http mirror", zap.Error(err))
			fmt.Fprintf(os.Stderr, "[agent-relay] failed to start http mirror: %v\n", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	codecDone := make(chan error, 1)
	go func() {
		codecDone <- codec.Run(ctx, b.Bus, b.Dispatch)
	}()

	select {
	case <-sigCh:
		log.Info("received shutdown signal")
	case <-b.ShutdownRequested():
		log.Info("shutdown requested over control plane")
	case err := <-codecDone:
		if err != nil {
			log.Error("protocol codec stopped with error", zap.Error(err))
		} else {
			log.Info("stdin closed, shutting down")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	b.Shutdown(shutdownCtx)

	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}

	log.Info("agent-relay stopped")
}
