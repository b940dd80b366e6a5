package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Fantasim/btcwalletsync/internal/blockheight"
	"github.com/Fantasim/btcwalletsync/internal/config"
	"github.com/Fantasim/btcwalletsync/internal/descriptor"
	"github.com/Fantasim/btcwalletsync/internal/logging"
	"github.com/Fantasim/btcwalletsync/internal/nodeclient"
	"github.com/Fantasim/btcwalletsync/internal/notify"
	"github.com/Fantasim/btcwalletsync/internal/pipeline"
	"github.com/Fantasim/btcwalletsync/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	slog.Info("syncd starting",
		"port", cfg.Port,
		"network", cfg.Network,
		"nodeType", cfg.NodeType,
		"dbPath", cfg.DBPath,
		"addressGapLimit", cfg.AddressGapLimit,
		"syncIntervalSeconds", cfg.SyncIntervalSeconds,
	)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database ready", "path", cfg.DBPath)

	registry, err := nodeclient.NewRegistry(cfg)
	if err != nil {
		slog.Error("failed to build node client registry", "error", err)
		os.Exit(1)
	}

	client, err := registry.For(cfg.Network)
	if err != nil {
		slog.Error("failed to resolve node client", "error", err)
		os.Exit(1)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), config.NodeRequestTimeout)
	if err := client.Connect(bootCtx); err != nil {
		slog.Error("failed to connect to remote node", "error", err)
		bootCancel()
		os.Exit(1)
	}
	bootCancel()
	slog.Info("connected to remote node", "nodeType", cfg.NodeType, "host", cfg.NodeHost, "port", cfg.NodePort)

	heightsSvc, err := blockheight.New(client)
	if err != nil {
		slog.Error("failed to initialize block-height service", "error", err)
		os.Exit(1)
	}
	heights := map[string]*blockheight.Service{cfg.Network: heightsSvc}

	deriver := descriptor.NewBIP32Deriver()
	hub := notify.NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	runtime := pipeline.NewRuntime(st, registry, heights, deriver, hub, cfg)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"status":      "ok",
				"network":     cfg.Network,
				"tipHeight":   heightsSvc.Height(),
				"subscribers": hub.ClientCount(),
			},
		})
	})

	r.Post("/api/wallets/{walletId}/sync", func(w http.ResponseWriter, req *http.Request) {
		walletID := chi.URLParam(req, "walletId")
		result, err := runtime.Run(req.Context(), walletID, pipeline.RunOptions{Order: pipeline.DefaultOrder})
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			slog.Error("manual sync failed", "walletId", walletID, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"data": result})
	})

	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		notify.ServeWebSocket(hub, w, req)
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	go runSyncTicker(ctx, cfg, st, runtime)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("syncd HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := <-done
	slog.Info("shutdown signal received", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := client.Disconnect(); err != nil {
		slog.Error("node client disconnect error", "error", err)
	}

	slog.Info("syncd stopped")
}

// runSyncTicker drives the background quick-poll sync loop for every wallet
// in the store, whatever its network.
func runSyncTicker(ctx context.Context, cfg *config.Config, st *store.Store, runtime *pipeline.Runtime) {
	interval := time.Duration(cfg.SyncIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wallets, err := st.ListWallets(ctx)
			if err != nil {
				slog.Error("sync ticker: list wallets failed", "error", err)
				continue
			}
			for _, w := range wallets {
				result, err := runtime.Run(ctx, w.ID, pipeline.RunOptions{Order: pipeline.QuickOrder})
				if err != nil {
					slog.Error("sync ticker: wallet sync failed", "walletId", w.ID, "error", err)
					continue
				}
				slog.Info("sync ticker: wallet synced",
					"walletId", w.ID,
					"newTransactions", result.Stats.NewTransactionsCreated,
					"utxosInserted", result.Stats.UTXOsInserted,
					"elapsed", result.Elapsed,
				)
			}
		}
	}
}
