package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stakewave/config"
	"stakewave/native/staking"
	"stakewave/observability/logging"
	"stakewave/rpc"
	"stakewave/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to daemon configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup("stakewaved", "local", "info").Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup("stakewaved", cfg.Environment, cfg.LogLevel)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := staking.NewStore(db)
	vaults := staking.NewLedgerVaults(db)

	engine := staking.NewEngine()
	engine.SetState(store)
	engine.SetVaults(vaults.Assets(), vaults.Rewards())

	server := rpc.NewServer(rpc.Config{
		Engine:             engine,
		Store:              store,
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	httpSrv := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", "address", cfg.RPCAddress)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("stopped")
}
