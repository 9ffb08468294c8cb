package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetMon/internal/api"
	"Go2NetMon/internal/config"
	"Go2NetMon/internal/engine/manager"
	"Go2NetMon/internal/logging"
	"Go2NetMon/internal/metrics"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "netmon.Engine"

func main() {
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	envFile := flag.String("env", ".env", "Optional dotenv file with credentials")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("Starting nm-engine...", zap.String("config", *configFile))

	src, err := config.NewSource(*configFile, logger)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr, err := manager.NewManager(ctx, src, logger)
	if err != nil {
		logger.Fatal("Failed to create manager", zap.Error(err))
	}
	if err := mgr.Start(ctx); err != nil {
		logger.Fatal("Failed to start manager", zap.Error(err))
	}

	server := &http.Server{
		Addr: cfg.API.HTTPListenAddr,
		Handler: api.NewRouter(api.Options{
			Store:   mgr.Store,
			Worker:  mgr.Scheduler,
			Metrics: mgr.Collectors,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Status server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Could not listen", zap.String("addr", server.Addr), zap.Error(err))
		}
	}()

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	lis, err := net.Listen("tcp", cfg.API.GRPCListenAddr)
	if err != nil {
		logger.Fatal("Failed to listen", zap.String("addr", cfg.API.GRPCListenAddr), zap.Error(err))
	}
	go func() {
		logger.Info("gRPC health server starting", zap.String("addr", cfg.API.GRPCListenAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("Failed to serve gRPC", zap.Error(err))
		}
	}()
	go reportHealth(ctx, mgr, healthServer)

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping engine...")

	healthServer.Shutdown()
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Status server forced to shutdown", zap.Error(err))
	}
	mgr.Stop()
	logger.Info("Shutdown complete.")
}

// reportHealth mirrors the scheduler's health into the gRPC health service.
func reportHealth(ctx context.Context, mgr *manager.Manager, hs *health.Server) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		status := healthpb.HealthCheckResponse_SERVING
		if mgr.Scheduler.Health().Status != metrics.StatusHealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(serviceName, status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
