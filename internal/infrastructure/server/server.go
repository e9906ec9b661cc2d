package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/config"
	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/observability"
)

// Server wraps the HTTP server, the optional gRPC server and their
// telemetry.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	obs        *observability.Observability
	logger     *logging.Logger
	config     *config.Config
}

// NewServer creates a new server instance.
func NewServer(cfg *config.Config, logger *logging.Logger, obs *observability.Observability) *Server {
	logger.Info("Initializing server",
		zap.String("port", cfg.Server.Port),
		zap.String("grpc_port", cfg.Server.GRPCPort),
	)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Recovery sits outside tracing so the root span records the panic
	// before gin turns it into a 500.
	router.Use(gin.Recovery())
	router.Use(obs.Middleware.Handler())
	router.Use(CORS(DefaultCORSConfig(cfg.Tracing.RequestIDHeader)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(RateLimit(RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := &Handlers{
		dispatcher: obs.Dispatcher,
		metrics:    obs.Metrics,
		log:        obs.Logger("app"),
	}

	router.GET("/health", handlers.Health)
	router.GET("/hello/:name", handlers.Hello)
	router.GET("/fail", handlers.Fail)
	router.GET("/work", handlers.Work)
	router.GET("/stats", handlers.Stats)
	if obs.Metrics != nil {
		router.GET(cfg.Metrics.Path, gin.WrapH(obs.Metrics.Handler()))
	}

	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		obs:    obs,
		logger: logger,
		config: cfg,
	}

	if cfg.Server.GRPCPort != "" {
		s.grpcServer = grpc.NewServer(
			grpc.ChainUnaryInterceptor(obs.Middleware.UnaryServerInterceptor()),
			grpc.ChainStreamInterceptor(obs.Middleware.StreamServerInterceptor()),
		)
		s.health = health.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
	}

	logger.Info("Server initialized successfully")
	return s
}

// Router exposes the HTTP handler chain.
func (s *Server) Router() *gin.Engine { return s.router }

// GRPC returns the gRPC server, nil when no gRPC port is configured.
func (s *Server) GRPC() *grpc.Server { return s.grpcServer }

// Run serves until ctx is cancelled, then drains both servers within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.grpcServer != nil {
		addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.GRPCPort)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		g.Go(func() error {
			s.logger.Info("Starting gRPC server", zap.String("addr", addr))
			s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
			if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return s.Close()
	})

	return g.Wait()
}

// Close gracefully shuts down both servers.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if s.grpcServer != nil {
		s.health.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.grpcServer.Stop()
		}
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shut down HTTP server", zap.Error(err))
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}
