package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dialhub/dialhub/internal/api"
	"github.com/dialhub/dialhub/internal/call"
	"github.com/dialhub/dialhub/internal/config"
	"github.com/dialhub/dialhub/internal/database"
	"github.com/dialhub/dialhub/internal/metrics"
	"github.com/dialhub/dialhub/internal/registry"
	"github.com/dialhub/dialhub/internal/stasis"
	"github.com/dialhub/dialhub/internal/telephony"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("starting dialhub",
		"http_port", cfg.HTTPPort,
		"ari_url", cfg.ARIURL,
		"data_dir", cfg.DataDir,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	calls := database.NewCallRepository(db)
	events := database.NewCallEventRepository(db)
	contacts := database.NewContactRepository(db)
	campaigns := database.NewCampaignRepository(db)

	reconciler := call.NewReconciler(calls, events, contacts, logger)
	channels := registry.New()

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Supervised ARI connection covering both stasis applications.
	conn := telephony.Connect(telephony.Options{
		URL:          cfg.ARIURL,
		WebsocketURL: cfg.ARIWebsocketURL,
		Username:     cfg.ARIUsername,
		Password:     cfg.ARIPassword,
		Applications: []string{cfg.AIApp, cfg.BridgeApp},
	}, cfg.ReconnectMaxAttempts, cfg.ReconnectBaseDelay, logger)

	aiFlow := stasis.NewAIFlow(conn, reconciler, channels, cfg.EngineContext, cfg.RatePerMinute, logger)
	bridgeFlow := stasis.NewBridgeFlow(conn, reconciler, channels, contacts, stasis.BridgeConfig{
		App:             cfg.BridgeApp,
		TrunkEndpoint:   cfg.TrunkEndpoint,
		CallerID:        cfg.CallerID,
		AgentReadyDelay: cfg.AgentReadyDelay,
		RatePerMinute:   cfg.RatePerMinute,
	}, logger)

	dispatcher := stasis.NewDispatcher(logger)
	dispatcher.Register(cfg.AIApp, aiFlow)
	dispatcher.Register(cfg.BridgeApp, bridgeFlow)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		conn.Run(appCtx)
	}()
	go func() {
		defer wg.Done()
		dispatcher.Run(appCtx, conn.Events())
	}()

	// Prometheus metrics over pull-based providers.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(aiFlow, bridgeFlow, conn, channels, calls, time.Now()),
	)

	apiServer := api.NewServer(cfg, api.Deps{
		Client:     conn,
		Conn:       conn,
		Reconciler: reconciler,
		AI:         aiFlow,
		Manual:     bridgeFlow,
		Calls:      calls,
		Events:     events,
		Contacts:   contacts,
		Campaigns:  campaigns,
		Registry:   promRegistry,
	})
	defer apiServer.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      apiServer,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	appCancel()
	wg.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("dialhub stopped")
}
