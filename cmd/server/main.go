package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nebula/termhost/internal/api"
	"github.com/nebula/termhost/internal/config"
	"github.com/nebula/termhost/internal/logging"
	"github.com/nebula/termhost/internal/storage"
	"github.com/nebula/termhost/internal/terminal"
	"github.com/nebula/termhost/internal/websocket"
	"go.uber.org/zap"
)

// @title Termhost API
// @version 1.0
// @description PTY session host for desktop terminal views
// @host localhost:8787
// @BasePath /api/v1
func main() {
	bootLogger := logging.NewDefault()

	configPath := "config.yaml"
	if envPath := os.Getenv("TERMHOST_CONFIG"); envPath != "" {
		configPath = envPath
	}

	// Storage is optional; the config layer reads its overrides from it.
	storePath := "termhost.db"
	if envPath := os.Getenv("TERMHOST_STORAGE_PATH"); envPath != "" {
		storePath = envPath
	}
	store, err := storage.New(storePath)
	if err != nil {
		bootLogger.Warn("storage unavailable, continuing without journal", zap.Error(err))
	}
	if store != nil {
		defer store.Close()
	}

	cfg, err := config.NewManager(configPath, store)
	if err != nil {
		bootLogger.Fatal("failed to load configuration", zap.Error(err))
	}
	appConfig := cfg.Get()

	logger, err := logging.New(logging.Config{
		Level:       appConfig.Logging.Level,
		Development: appConfig.Logging.Development,
	})
	if err != nil {
		bootLogger.Warn("invalid logging config, using defaults", zap.Error(err))
		logger = bootLogger
	}
	defer logger.Sync()
	logger.Info("configuration loaded", zap.String("path", configPath))

	var journal *storage.Journal
	options := []terminal.Option{terminal.WithLogger(logger.Named("terminal"))}
	if store != nil {
		journal = storage.NewJournal(store)
		if n, err := journal.Prune(appConfig.Storage.JournalRetention); err != nil {
			logger.Warn("journal prune failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("journal pruned", zap.Int("entries", n))
		}
		options = append(options, terminal.WithJournal(journal))
	}

	hub := websocket.NewHub(websocket.Options{
		SendBuffer:   appConfig.WebSocket.SendBuffer,
		WriteTimeout: appConfig.WebSocket.WriteTimeout,
		PingInterval: appConfig.WebSocket.PingInterval,
	}, logger.Named("websocket"))

	terminalManager := terminal.NewManager(hub, terminalOptions(appConfig), options...)
	cfg.OnReload(func(c *config.Config) {
		terminalManager.SetOptions(terminalOptions(c))
		logger.Info("terminal options reloaded")
	})

	router := api.NewRouter(cfg, terminalManager, hub, journal)
	go hub.Run()

	server := &http.Server{
		Addr:         appConfig.Address(),
		Handler:      router.Engine(),
		ReadTimeout:  appConfig.Server.ReadTimeout,
		WriteTimeout: appConfig.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", "http://"+appConfig.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range quit {
		if sig != syscall.SIGHUP {
			logger.Info("received signal", zap.String("signal", sig.String()))
			break
		}
		logger.Info("reloading configuration")
		if err := cfg.Reload(); err != nil {
			logger.Warn("failed to reload config", zap.Error(err))
		}
	}

	// Refuse new sessions and kill every shell while the listeners are still
	// up; pumps wind down on their own as PTYs hit EOF.
	terminalManager.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
	hub.Stop()

	logger.Info("server stopped")
}

func terminalOptions(c *config.Config) terminal.Options {
	return terminal.Options{
		DefaultShell:   c.Terminal.DefaultShell,
		ReadBufferSize: c.Terminal.ReadBufferSize,
		MaxSessions:    c.Terminal.MaxSessions,
		Term:           c.Terminal.Term,
		KillTree:       c.Terminal.KillTree,
	}
}
