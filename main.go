package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"diapredict/config"
	"diapredict/db"
	dhttp "diapredict/http"
	"diapredict/logger"
	"diapredict/ml"
	"diapredict/monitoring"
	"diapredict/session"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 3. Initialize database
	if err := db.InitDB(cfg.Database.Path); err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	log.Info("database initialized", zap.String("path", cfg.Database.Path))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Sessions, metrics and the prediction feed
	sessions := session.NewStore(cfg.Session.Capacity, cfg.Session.TTL, log)
	metrics := monitoring.NewMetrics(sessions.Len)
	hub := monitoring.NewHub(log)
	go hub.Run(ctx)

	server := dhttp.NewServer(dhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
		MaxUploadBytes: cfg.Http.MaxUploadBytes,
		MaxBatchRows:   cfg.Batch.MaxRows,
		StrictColumns:  cfg.Batch.StrictColumns,
	}, dhttp.Dependencies{
		Sessions: sessions,
		Metrics:  metrics,
		Hub:      hub,
		Logger:   log,
	})

	// 5. Default model, reloaded when the file changes
	if path := cfg.Model.DefaultPath; path != "" {
		loadDefaultModel(server, metrics, log, path)
		if cfg.Model.Watch {
			watcher, err := config.NewWatcher(path, func(path string) {
				loadDefaultModel(server, metrics, log, path)
			}, log)
			if err != nil {
				log.Warn("default model will not be reloaded", zap.String("path", path), zap.Error(err))
			} else {
				go watcher.Run(ctx)
			}
		}
	}

	// 6. Start HTTP server
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 7. Handle graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}
	log.Info("exiting")
}

// loadDefaultModel keeps the previous default model when the new file does
// not load.
func loadDefaultModel(server *dhttp.Server, metrics *monitoring.Metrics, log *zap.Logger, path string) {
	handle, err := ml.LoadFile(path)
	if err != nil {
		metrics.ObserveModelLoad("", false)
		log.Warn("failed to load default model", zap.String("path", path), zap.Error(err))
		return
	}
	metrics.ObserveModelLoad(handle.Codec, true)
	server.SetDefaultModel(handle)
	log.Info("default model loaded",
		zap.String("path", path),
		zap.String("kind", handle.Kind),
		zap.String("codec", handle.Codec),
		zap.String("checksum", handle.Checksum),
	)
}
