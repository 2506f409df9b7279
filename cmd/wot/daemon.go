package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyphanet/wot/internal/fetcher"
	"github.com/hyphanet/wot/internal/inserter"
	"github.com/hyphanet/wot/internal/network"
	"github.com/hyphanet/wot/internal/puzzle"
	"github.com/hyphanet/wot/internal/rpc"
	"github.com/hyphanet/wot/internal/telemetry"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background wot daemon",
	}
	cmd.AddCommand(newDaemonRunCmd())
	return cmd
}

func newDaemonRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground: RPC facade plus the fetcher/inserter/introduction workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd)
		},
	}
}

// runDaemon starts the RPC facade and one supervised goroutine each for the
// fetcher, the inserter and the introduction-server (daily generation plus
// reaping). The introduction-client has no goroutine of its own: it runs
// only when a get_puzzles request reaches the RPC facade.
func runDaemon(cmd *cobra.Command) error {
	ctx := cmd.Context()

	shutdownTelemetry, err := telemetry.Init(os.Stderr)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(ctx); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	net := network.NewFake()

	fetchWorker := fetcher.New(store, eng, net, log, cfg.FetchConcurrency())
	insertWorker := inserter.New(store, eng, net, log)
	puzzleServer := puzzle.NewServer(store, eng, net, net, log)
	puzzleClient, err := puzzle.NewClient(store, net, net, net, log)
	if err != nil {
		return fmt.Errorf("create introduction-client: %w", err)
	}

	server := rpc.NewServer(store, eng, puzzleServer, puzzleClient)
	socket := flagSocket
	if socket == "" {
		socket = cfg.SocketPath()
	}
	if socket == "" {
		return fmt.Errorf("no socket path configured (set socket-path in config.yaml or pass --socket)")
	}
	server.SetSocketPath(socket)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start rpc server: %w", err)
	}
	log.Info("daemon listening", "socket", socket)

	go runPeriodically(ctx, 5*time.Minute, func() {
		if err := fetchWorker.RunOnce(ctx); err != nil {
			log.Warn("fetch pass failed", "error", err)
		}
	})
	go insertWorker.Run(ctx)
	go runPeriodically(ctx, 24*time.Hour, func() {
		if err := puzzleServer.GenerateAndUploadDaily(ctx); err != nil {
			log.Warn("puzzle generation failed", "error", err)
		}
		if n, err := puzzleServer.Reap(ctx); err != nil {
			log.Warn("puzzle reap failed", "error", err)
		} else if n > 0 {
			log.Info("reaped expired puzzles", "count", n)
		}
	})

	<-ctx.Done()
	log.Info("daemon shutting down")
	return nil
}

func runPeriodically(ctx interface {
	Done() <-chan struct{}
}, interval time.Duration, fn func()) {
	fn()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
