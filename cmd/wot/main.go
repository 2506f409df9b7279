// Command wot is the CLI front end for the trust graph engine: a cobra
// command tree over the RPC facade, mirroring the teacher's daemon/direct
// dual-mode cmd/bd structure but scoped to this spec's operations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hyphanet/wot/internal/config"
	"github.com/hyphanet/wot/internal/engine"
	"github.com/hyphanet/wot/internal/rpc"
	"github.com/hyphanet/wot/internal/storage"
	"github.com/hyphanet/wot/internal/storage/sqlite"
)

var (
	flagConfigPath string
	flagDBPath     string
	flagSocket     string
	flagNoDaemon   bool

	cfg       *config.Config
	store     storage.Store
	eng       *engine.Engine
	log       *slog.Logger
	rootCtx   context.Context
	rootCtxFn context.CancelFunc
)

func main() {
	rootCtx, rootCtxFn = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCtxFn()

	if err := newRootCmd().ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, "wot:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wot",
		Short:         "Web of Trust reputation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initGlobals()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if store != nil {
				return store.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flagConfigPath, "config", defaultConfigPath(), "path to config.yaml")
	root.PersistentFlags().StringVar(&flagDBPath, "db", "", "path to the SQLite database (overrides config.yaml)")
	root.PersistentFlags().StringVar(&flagSocket, "socket", "", "path to the daemon's Unix socket (overrides config.yaml)")
	root.PersistentFlags().BoolVar(&flagNoDaemon, "no-daemon", false, "operate directly on the database instead of through the daemon")

	root.AddCommand(newDaemonCmd())
	root.AddCommand(newIdentityCmd())
	root.AddCommand(newTrustCmd())
	root.AddCommand(newPuzzleCmd())
	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".wot", "config.yaml")
}

func initGlobals() error {
	var err error
	cfg, err = config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))

	dbPath := flagDBPath
	if dbPath == "" {
		dbPath = cfg.DBPath()
	}
	if dbPath == "" {
		dbPath = "wot.db"
	}

	store, err = sqlite.New(rootCtx, dbPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	eng = engine.New(store, log)
	return nil
}

// dialClient connects to a running daemon unless --no-daemon was passed,
// matching the teacher's "prefer the daemon, fall back to direct" posture.
func dialClient() (*rpc.Client, error) {
	if flagNoDaemon {
		return nil, nil
	}
	socket := flagSocket
	if socket == "" {
		socket = cfg.SocketPath()
	}
	if socket == "" {
		return nil, nil
	}
	client, err := rpc.Dial(socket, 0)
	if err != nil {
		return nil, nil // daemon unavailable: caller falls back to direct mode
	}
	return client, nil
}
