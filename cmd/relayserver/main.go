// Package main provides the multiworld relay server binary: the TCP
// acceptor, the liveness and resend sweeps, and the operator console.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/multiworld/internal/config"
	"github.com/cory-johannsen/multiworld/internal/game/generation"
	"github.com/cory-johannsen/multiworld/internal/observability"
	"github.com/cory-johannsen/multiworld/internal/relay"
	"github.com/cory-johannsen/multiworld/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	noConsole := flag.Bool("no-console", false, "disable the interactive operator console")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	srv := relay.NewServer(cfg, generation.NewShuffleRandomizer(), logger)
	acceptor := relay.NewAcceptor(cfg.Server, srv, logger)

	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("acceptor", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn: func() {
			// Disconnect clients first so blocked read loops unwind before
			// the acceptor waits on them.
			srv.Shutdown()
			acceptor.Stop()
		},
	})
	lifecycle.Add("ping-sweep", server.NewPeriodic(cfg.Server.PingInterval, func(time.Time) {
		srv.PingSweep()
	}))
	lifecycle.Add("resend-sweep", server.NewPeriodic(cfg.Session.ResendInterval, func(time.Time) {
		srv.ResendSweep()
	}))

	if !*noConsole {
		console := NewConsole(srv, os.Stdin, os.Stdout, logger)
		console.OnQuit = cancel
		lifecycle.Add("console", console)
	}

	logger.Info("relay server initialized",
		zap.String("name", cfg.Server.Name),
		zap.String("addr", cfg.Server.Addr()),
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
