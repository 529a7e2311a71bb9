// LanVault Server
//
// Features:
// - Sandboxed shared and per-user private partitions
// - File listing, upload, download, move, copy, zip and search endpoints
// - Share links with expiry for guest access
// - Chunked uploads with resume
// - SSE change notifications
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/lanvault/lanvault/internal/access"
	"github.com/lanvault/lanvault/internal/api"
	"github.com/lanvault/lanvault/internal/auth"
	"github.com/lanvault/lanvault/internal/config"
	"github.com/lanvault/lanvault/internal/events"
	"github.com/lanvault/lanvault/internal/logging"
	"github.com/lanvault/lanvault/internal/metrics"
	"github.com/lanvault/lanvault/internal/sandbox"
	"github.com/lanvault/lanvault/internal/share"
	"github.com/lanvault/lanvault/internal/upload"
)

const welcomeText = `This is your private folder. Only you can see it.
Files in the shared partition are visible to every user.
`

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.L().Info("LanVault Server starting...",
		zap.String("listen", cfg.Server.ListenAddr),
		zap.String("metrics", cfg.Server.MetricsAddr),
		zap.String("root", cfg.Vault.Root))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Provision partitions before anything resolves paths
	if err := provisionPartitions(cfg); err != nil {
		logging.L().Fatal("partition provisioning failed", zap.Error(err))
	}

	resolver, err := sandbox.New(cfg.Vault.Root)
	if err != nil {
		logging.L().Fatal("vault root rejected", zap.Error(err))
	}

	// Share store: badger when a directory is configured, memory otherwise
	var store share.Store
	if cfg.Shares.StoreDir != "" {
		badgerStore, err := share.OpenBadger(cfg.Shares.StoreDir)
		if err != nil {
			logging.L().Fatal("share store open failed", zap.Error(err))
		}
		store = badgerStore
		logging.L().Info("share store opened", zap.String("dir", cfg.Shares.StoreDir))
	} else {
		store = share.NewMemoryStore()
		logging.L().Warn("no share store directory configured, shares will not survive restarts")
	}
	defer store.Close()

	registry := share.NewRegistry(store, cfg.Shares.DefaultTTL)
	gate := access.NewGate(resolver, registry)

	coordinator, err := upload.NewCoordinator(
		cfg.Vault.StagingDir,
		cfg.Uploads.ChunkSize,
		cfg.Uploads.MaxSize,
		cfg.Uploads.SessionIdleTimeout,
	)
	if err != nil {
		logging.L().Fatal("upload staging init failed", zap.Error(err))
	}
	coordinator.StartSweeper(ctx, cfg.Uploads.SweepInterval)

	broadcaster := events.NewBroadcaster()

	srv := api.NewServer(cfg, auth.New(cfg.Auth), gate, coordinator, broadcaster)

	// Metrics server on its own listener
	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: metrics.Handler(),
		}
		go func() {
			logging.L().Info("metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.L().Error("metrics server error", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.L().Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.L().Error("shutdown error", zap.Error(err))
		}
		if metricsServer != nil {
			metricsServer.Close()
		}
	}()

	logging.L().Info("server listening", zap.String("addr", cfg.Server.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.L().Fatal("server error", zap.Error(err))
	}
}

// provisionPartitions makes sure the shared partition and every configured
// user's private folder exist. New private folders get a welcome file.
func provisionPartitions(cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Join(cfg.Vault.Root, access.PartitionShared), 0o755); err != nil {
		return err
	}

	for _, user := range cfg.Auth.Users {
		dir := filepath.Join(cfg.Vault.Root, access.PartitionPrivate, user.Username)
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		welcome := filepath.Join(dir, "welcome.txt")
		if err := os.WriteFile(welcome, []byte(welcomeText), 0o644); err != nil {
			return err
		}
		logging.L().Info("provisioned private folder", zap.String("user", user.Username))
	}
	return nil
}
