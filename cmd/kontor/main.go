// Command kontor runs the indexer/execution-host process: it wires the
// state store, contract registry, runtime dispatcher, chain follower,
// result bus and result API together and drives the reactor loop until
// interrupted. Shutdown is graceful, via os/signal + context, and flags
// are parsed with spf13/cobra.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ouziel-slama/kontor/internal/api"
	"github.com/ouziel-slama/kontor/internal/config"
	"github.com/ouziel-slama/kontor/internal/follower"
	"github.com/ouziel-slama/kontor/internal/log"
	"github.com/ouziel-slama/kontor/internal/pubsub"
	"github.com/ouziel-slama/kontor/internal/reactor"
	"github.com/ouziel-slama/kontor/internal/registry"
	"github.com/ouziel-slama/kontor/internal/runtime"
	_ "github.com/ouziel-slama/kontor/internal/runtime/native"
	"github.com/ouziel-slama/kontor/internal/state"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "kontor",
		Short:        "Bitcoin Layer-2 indexer and contract execution host",
		RunE:         run,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (optional, env overrides always apply)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := log.New(log.Options{Level: cfg.LogLevel, Format: log.Format(cfg.LogFormat)})
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go waitForShutdown(cancel, logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir %s: %w", cfg.DataDir, err)
	}
	dbPath := cfg.DataDir + "/kontor.db"

	store, err := state.Open(dbPath, cfg.ViewPoolSize)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	engine := runtime.NewEngine(ctx, logger)
	defer engine.Close(ctx)

	reg, err := registry.New(store, cfg.RegistryCacheCapacity, engine.Decode)
	if err != nil {
		return fmt.Errorf("building registry: %w", err)
	}
	dispatcher := runtime.NewDispatcher(reg, cfg.GasDefaultLimit)

	rpc, err := follower.DialRPC(cfg.BitcoinRPCURL, cfg.BitcoinRPCUser, cfg.BitcoinRPCPassword)
	if err != nil {
		return fmt.Errorf("connecting to bitcoind RPC: %w", err)
	}
	dialZMQ := func() (follower.ZMQSource, error) {
		return follower.DialZMQ(cfg.ZMQAddress, time.Second)
	}
	followerCfg := follower.DefaultConfig()
	followerCfg.ReconnectBackoff = time.Duration(cfg.ZMQReconnectBackoffMS) * time.Millisecond
	followerCfg.RPCBackoffMin = time.Duration(cfg.RPCBackoffMinMS) * time.Millisecond
	followerCfg.RPCBackoffMax = time.Duration(cfg.RPCBackoffMaxMS) * time.Millisecond
	f := follower.New(rpc, dialZMQ, followerCfg, logger)

	bus := pubsub.NewBus(cfg.ResultSubscriberBuffer)
	r := reactor.New(store, dispatcher, bus, f, reactor.Config{
		StartingBlockHeight: cfg.StartingHeight,
		IssuanceAmount:      cfg.IssuanceAmount,
	}, logger)

	httpServer := newHTTPServer(cfg.APIPort, bus, store.ResultsForTx, logger)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "api: http server stopped unexpectedly")
		}
	}()

	logger.Info(fmt.Sprintf("kontor: starting, api on :%d, data dir %s", cfg.APIPort, cfg.DataDir))
	runErr := r.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("reactor stopped: %w", runErr)
	}
	return nil
}

func newHTTPServer(port int, bus *pubsub.Bus, lookup api.ResultLookup, logger *log.Logger) *http.Server {
	hub := api.NewHub(bus, lookup, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.HandleFunc("/results", hub.HandleResults)
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
}

func waitForShutdown(cancel context.CancelFunc, logger *log.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("kontor: shutdown signal received")
	cancel()
}
