package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetMon/internal/api"
	"Go2NetMon/internal/config"
	"Go2NetMon/internal/logging"
	"Go2NetMon/internal/query"
	"Go2NetMon/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	envFile := flag.String("env", ".env", "Optional dotenv file with credentials")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer st.Close()

	opts := api.Options{Store: st, Logger: logger}

	// History is served from the first enabled ClickHouse archive sink.
	for _, def := range cfg.Archive.Sinks {
		if !def.Enabled || def.Type != "clickhouse" {
			continue
		}
		querier, err := query.NewClickHouseQuerier(ctx, def.ClickHouse)
		if err != nil {
			logger.Warn("History queries disabled", zap.Error(err))
			break
		}
		defer querier.Close()
		opts.History = querier
		break
	}

	server := &http.Server{
		Addr:              cfg.API.HTTPListenAddr,
		Handler:           api.NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API server starting", zap.String("addr", server.Addr), zap.Bool("history", opts.History != nil))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Could not listen", zap.String("addr", server.Addr), zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("API server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("API server exited.")
}
