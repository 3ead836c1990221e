package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/calendar2image/c2i-service/internal/config"
	"github.com/calendar2image/c2i-service/internal/service"
	"github.com/calendar2image/c2i-service/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the generation control plane server",
	RunE:  runServe,
}

var (
	flagConfigDir string
	flagCacheDir  string
	flagPort      int
)

func init() {
	serveCmd.Flags().StringVar(&flagConfigDir, "config-dir", "", "configuration directory (overrides CONFIG_DIR)")
	serveCmd.Flags().StringVar(&flagCacheDir, "cache-dir", "", "cache directory (overrides CACHE_DIR)")
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "HTTP listen port (overrides C2I_SERVER_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// Flags win over env and file, matching viper's usual precedence even
	// though these three aren't registered with it.
	if flagConfigDir != "" {
		cfg.Directories.Config = flagConfigDir
	}
	if flagCacheDir != "" {
		cfg.Directories.Cache = flagCacheDir
	}
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	executablePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}

	svc := service.New(cfg, executablePath, log)

	ctx, cancelInit := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelInit()
	if err := svc.Init(ctx); err != nil {
		return fmt.Errorf("initializing service: %w", err)
	}

	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.Handle("/", svc.HTTP)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      logger.LoggingMiddleware(log)(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		svc.Stop()
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	svc.Stop()
	return nil
}
