package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cuemby/moo/internal/config"
	"github.com/cuemby/moo/internal/health"
	"github.com/cuemby/moo/internal/obslog"
	"github.com/cuemby/moo/internal/obsmetrics"
	"github.com/cuemby/moo/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the world server",
	Long: `serve starts the storage, commit box, VM and scheduler, then
exposes the Session gRPC service and a Prometheus /metrics endpoint
until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("backing", "", "Path to the backing bbolt file (overrides config)")
	serveCmd.Flags().String("transport-addr", "", "gRPC listen address (overrides config)")
	serveCmd.Flags().String("metrics-addr", "", "Metrics HTTP listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if v, _ := cmd.Flags().GetString("backing"); v != "" {
		cfg.BackingPath = v
	}
	if v, _ := cmd.Flags().GetString("transport-addr"); v != "" {
		cfg.TransportAddr = v
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}

	srv, err := buildServer(cfg)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer srv.Close()

	instanceID := uuid.New().String()
	log := obslog.WithComponent("serve")
	log.Info().Str("instance", instanceID).Msg("starting moo")

	healthReg := health.NewRegistry(health.RelBoxChecker{Box: srv.box})

	mux := http.NewServeMux()
	mux.Handle("/metrics", obsmetrics.Handler())
	mux.Handle("/healthz", health.Handler(healthReg))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint listening")

	lis, err := net.Listen("tcp", cfg.TransportAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.TransportAddr, err)
	}
	grpcServer := grpc.NewServer()
	transport.Register(grpcServer, srv.sched)

	errCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	log.Info().Str("addr", cfg.TransportAddr).Msg("session service listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("transport server error")
	}

	grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	return nil
}
