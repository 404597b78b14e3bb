package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpccreds "google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/ferrydock/ferry/pkg/api"
	"github.com/ferrydock/ferry/pkg/config"
	"github.com/ferrydock/ferry/pkg/credentials"
	"github.com/ferrydock/ferry/pkg/events"
	"github.com/ferrydock/ferry/pkg/executions"
	"github.com/ferrydock/ferry/pkg/ingest"
	"github.com/ferrydock/ferry/pkg/log"
	"github.com/ferrydock/ferry/pkg/monitor"
	"github.com/ferrydock/ferry/pkg/queue"
	"github.com/ferrydock/ferry/pkg/registry"
	"github.com/ferrydock/ferry/pkg/relay"
	"github.com/ferrydock/ferry/pkg/relay/wire"
	"github.com/ferrydock/ferry/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ferryd",
	Short: "Ferry - control plane for multi-tenant agent execution",
	Long: `Ferry is the control plane of an agent execution platform. Customer
clusters run a relayer that connects out to Ferry over a single
bidirectional stream; Ferry queues work per cluster, tracks execution
lifecycles, and ingests telemetry, so no inbound connectivity to the
customer network is ever required.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Ferry version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane",
	Long: `Run the control plane: the relayer stream listener, the HTTP API,
the health monitor, and the queue and storage backends configured via
the environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("ferryd")

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	q, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	broker.Start()

	reg := registry.New()
	creds := credentials.NewManager(store)
	execs := executions.NewService(store, q, broker)
	ing := ingest.NewService(store)

	relaySrv := relay.NewServer(store, creds, q, reg, execs, ing, broker, relay.Options{
		HeartbeatInterval: cfg.GRPCKeepaliveTime,
		IdleTimeout:       cfg.SessionIdleTimeout,
		LogLevel:          cfg.LogLevel,
	})
	mon := monitor.New(store, reg, q, broker, cfg.HeartbeatTimeout, 0)

	grpcServer, err := newGRPCServer(cfg)
	if err != nil {
		return err
	}
	wire.RegisterRelayServer(grpcServer, relaySrv)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: api.NewServer(store, creds, execs, reg, []byte(cfg.JWTSecret)),
	}

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr(), err)
	}

	mon.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.GRPCAddr()).Msg("Stream listener started")
		return grpcServer.Serve(grpcLis)
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr()).Msg("HTTP listener started")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-signalCh():
			logger.Info().Msg("Shutdown signal received")
		}

		// Stop in dependency order: no new sweeps, then detach
		// sessions so in-flight messages requeue, then the listeners,
		// then the backends.
		mon.Stop()
		for _, conn := range reg.Snapshot() {
			conn.RequestDetach()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP shutdown did not finish cleanly")
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}

		broker.Stop()
		if err := q.Close(); err != nil {
			logger.Warn().Err(err).Msg("Queue close failed")
		}
		logger.Info().Msg("Shutdown complete")
		return nil
	})

	return g.Wait()
}

func signalCh() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory storage")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewPostgresStore(ctx, cfg.DatabaseURL)
}

func openQueue(ctx context.Context, cfg *config.Config) (queue.Queue, error) {
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not set, using in-memory queues")
		return queue.NewMemoryQueue(cfg.QueueDepthLimit), nil
	}
	return queue.NewRedisQueue(ctx, cfg.RedisURL, cfg.QueueDepthLimit)
}

func newGRPCServer(cfg *config.Config) (*grpc.Server, error) {
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionAge:      cfg.GRPCMaxConnectionAge,
			MaxConnectionAgeGrace: 30 * time.Second,
			Time:                  cfg.GRPCKeepaliveTime,
			Timeout:               cfg.GRPCKeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if cfg.GRPCTLSEnabled {
		tls, err := grpccreds.NewServerTLSFromFile(cfg.GRPCTLSCertFile, cfg.GRPCTLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(tls))
	}
	return grpc.NewServer(opts...), nil
}
