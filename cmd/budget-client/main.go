// Package main runs the offline-first budget client daemon: it owns the
// local store and sync queue, keeps them reconciled with the remote API,
// and exposes a localhost WebSocket hub for attached UIs.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joselitz123/budget-planner/internal/api"
	"github.com/joselitz123/budget-planner/internal/config"
	"github.com/joselitz123/budget-planner/internal/db"
	"github.com/joselitz123/budget-planner/internal/logging"
	"github.com/joselitz123/budget-planner/internal/netx"
	"github.com/joselitz123/budget-planner/internal/notify"
	"github.com/joselitz123/budget-planner/internal/store"
	syncpkg "github.com/joselitz123/budget-planner/internal/sync"
	"github.com/joselitz123/budget-planner/internal/sync/queue"
	"github.com/joselitz123/budget-planner/internal/sync/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init(os.Stderr, "info")
		logging.Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}

	logging.Init(os.Stderr, cfg.Logging.Level)
	logging.Info("Budget client starting", logging.Fields{
		"api":      cfg.API.BaseURL,
		"data_dir": cfg.Storage.DataDir,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.Storage.DataDir)
	if err != nil {
		logging.Error("Failed to open database", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logging.Error("Failed to run migrations", err, nil)
		os.Exit(1)
	}

	st := store.New(database.DB)
	q := queue.New(database.DB, cfg.Sync.QueueCapacity)
	client := api.NewClient(cfg.API.BaseURL, api.StaticToken(cfg.API.Token), cfg.API.Timeout)

	var monitorOpts []netx.Option
	if cfg.Sync.ProbeURL != "" {
		monitorOpts = append(monitorOpts, netx.WithProbe(cfg.Sync.ProbeURL, cfg.Sync.ProbeInterval))
	}
	monitor := netx.NewMonitor(monitorOpts...)
	monitor.Start()
	defer monitor.Stop()

	hub := notify.NewHub()
	notifier := notify.Multi{notify.LogNotifier{}, hub}

	engine := syncpkg.NewEngine(q, st, client, monitor, notifier)
	sched := scheduler.New(engine, monitor, notifier, hub, cfg.Sync.Interval)
	sched.Start(ctx)
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", notify.HandleWebSocket(hub))
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"budget-client"}`))
	})

	srv := &http.Server{Addr: cfg.Hub.ListenAddr, Handler: mux}
	go func() {
		logging.Info("Event hub listening", logging.Fields{"addr": cfg.Hub.ListenAddr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Event hub server failed", err, nil)
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Event hub shutdown failed", err, nil)
	}
}
