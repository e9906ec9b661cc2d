package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/config"
	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/observability"
	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/server"
	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

func main() {
	port := flag.String("port", "", "HTTP port (overrides PORT)")
	grpcPort := flag.String("grpc-port", "", "gRPC port (overrides GRPC_PORT)")
	filter := flag.String("filter", "", "Verbosity directive (overrides TRACE_FILTER)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *grpcPort != "" {
		cfg.Server.GRPCPort = *grpcPort
	}
	if *filter != "" {
		cfg.Tracing.Filter = *filter
	}

	logger, err := logging.FromConfig(cfg.Logging, cfg.Tracing.Service)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	obs, err := observability.Setup(cfg, logger,
		observability.WithRootSpanFields(telemetry.Declare(server.FieldUser)),
	)
	if err != nil {
		logger.Fatal("Failed to set up tracing", zap.Error(err))
	}

	srv := server.NewServer(cfg, logger, obs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := srv.Run(ctx)
	if runErr != nil {
		logger.Error("Server error", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to flush telemetry", zap.Error(err))
	}

	if runErr != nil {
		os.Exit(1)
	}
}
