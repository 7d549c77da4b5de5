// Conveyor API — HTTP API для executions, pipelines и schedules.
//
// API не продвигает executions сам: StartExecution записывает
// execution и публикует execution.pending для orchestrator.
// С хранилищем в памяти (CONVEYOR_STORE=memory) процесс работает
// в одиночном режиме и сам крутит tick loop orchestrator и scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/Conveyor/internal/api"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/scheduler"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("conveyor-api")
	logger.Info("starting conveyor-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load("")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTracing, err := telemetry.SetupTracing(ctx, "conveyor-api", logger)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	stores, err := repo.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	rt, err := config.Assemble(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to assemble pipelines", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	standalone := stores.Pool == nil

	// RabbitMQ нужен только для уведомления orchestrator
	var publisher orchestrator.EventPublisher
	if !standalone {
		mqConn, err := mq.NewConnection(mq.URLFromEnv(), logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, orchestrator will pick executions up by polling", "error", err)
		} else {
			defer mqConn.Close()
			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			publisher = mq.NewPublisher(mqConn, logger)
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Store:        stores.Executions,
		Pipelines:    rt.Registry,
		Publisher:    publisher,
		TickInterval: cfg.Orchestrator.TickInterval,
		Lease:        cfg.Orchestrator.Lease,
		Concurrency:  cfg.Orchestrator.Concurrency,
		BatchSize:    cfg.Orchestrator.BatchSize,
		Logger:       logger,
	})

	if standalone {
		logger.Info("standalone mode, running orchestrator and scheduler in-process")
		if err := orch.Start(ctx); err != nil {
			logger.Error("failed to start orchestrator", "error", err)
			os.Exit(1)
		}
		defer orch.Stop()
		go runScheduler(ctx, scheduler.New(scheduler.Config{
			Schedules: stores.Schedules,
			Starter:   orch,
			Logger:    logger,
		}), logger)
	}

	handler := api.NewHandler(api.Config{
		Executions: orch,
		Schedules:  stores.Schedules,
		Logger:     logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
	})
	mux.Handle("/metrics", telemetry.MetricsHandler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}

	logger.Info("stopped")
}

// runScheduler тикает scheduler раз в секунду до отмены ctx.
func runScheduler(ctx context.Context, sched *scheduler.Scheduler, logger *slog.Logger) {
	tk := time.NewTicker(time.Second)
	defer tk.Stop()

	for {
		select {
		case <-tk.C:
			if err := sched.Tick(ctx); err != nil {
				logger.Error("scheduler tick failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
