// Command wgkex-broker runs the HTTP key-exchange API and the fleet
// registry bus client.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"wgkex/internal/brokerapp"
	"wgkex/internal/config"
	"wgkex/internal/logger"
)

const gracefulShutdownTimeout = 10 * time.Second

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

	runtime, err := brokerapp.Build(ctx, cfg)
	if err != nil {
		logger.L().Fatal("building broker runtime", zap.Error(err))
	}
	defer runtime.Close()

	srv := &http.Server{
		Addr:    cfg.BrokerListen.Addr(),
		Handler: runtime.Router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.L().Error("shutting down http server", zap.Error(err))
		}
	}()

	logger.L().Info("broker listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L().Fatal("http server exited", zap.Error(err))
	}
}
