package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/oren0115/cartsync/internal/adapter/gateway"
	"github.com/oren0115/cartsync/internal/adapter/handler"
	"github.com/oren0115/cartsync/internal/adapter/storage"
	"github.com/oren0115/cartsync/internal/config"
	"github.com/oren0115/cartsync/internal/core/service"
	"github.com/oren0115/cartsync/internal/port"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the local snapshot store
	var store port.CartStore
	var closeStore func()

	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		db, err := sql.Open("sqlite3", cfg.Storage.SQLitePath)
		if err != nil {
			logger.Fatal("failed to open sqlite", zap.Error(err))
		}
		sqliteStore := storage.NewSQLiteStore(db, cfg.Storage.Key, logger)
		if err := sqliteStore.Init(ctx); err != nil {
			logger.Fatal("failed to init sqlite store", zap.Error(err))
		}
		store = sqliteStore
		closeStore = func() { db.Close() }
		logger.Info("using sqlite snapshot store", zap.String("path", cfg.Storage.SQLitePath))

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		store = storage.NewRedisStore(rdb, cfg.Storage.Key, cfg.Storage.RedisTTL.Std(), logger)
		closeStore = func() { rdb.Close() }
		logger.Info("using redis snapshot store", zap.String("addr", cfg.Storage.RedisAddr))
	}
	defer closeStore()

	// Initialize the remote gateway
	httpClient := &http.Client{Timeout: cfg.Remote.Timeout.Std()}
	token := func() string { return cfg.Remote.Token }
	remote := gateway.NewHTTPGateway(cfg.Remote.BaseURL, httpClient, token, logger)

	// Initialize the sync engine
	session := service.NewSessionObserver()
	cart := service.NewSyncService(remote, store, session, logger, cfg.QueueSize)

	// HTTP facade
	mux := http.NewServeMux()
	handler.NewHTTPHandler(cart, session).Register(mux)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("cartd listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("http server stopped")

	cart.Close()
	logger.Info("sync engine stopped")
}
