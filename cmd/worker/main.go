// Command wgkex-worker runs the bus client and the supervised set of
// kernel-facing loops: peer installer, per-domain metrics, per-domain
// stale-peer flusher.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"wgkex/internal/config"
	"wgkex/internal/logger"
	"wgkex/internal/workerapp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment")
	}

	cfg, err := config.Load(config.ConfigFilePath())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := logger.Init(cfg.Log.Development, cfg.Log.File); err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime, err := workerapp.Build(cfg)
	if err != nil {
		logger.L().Fatal("building worker runtime", zap.Error(err))
	}

	runtime.Run()
	logger.L().Info("worker started")

	<-ctx.Done()
	logger.L().Info("worker shutting down")
	runtime.Close()
}
