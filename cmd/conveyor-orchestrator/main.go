// Conveyor Orchestrator — продвигает executions по стадиям pipeline.
//
// Orchestrator:
//   - Получает execution.pending и внешние триггеры из RabbitMQ
//   - Раз в tick забирает due executions из хранилища
//   - Запускает и опрашивает jobs сервисов стадий
//   - Финализирует executions и публикует execution.finished
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("conveyor-orchestrator")
	logger.Info("starting conveyor-orchestrator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load("")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTracing, err := telemetry.SetupTracing(ctx, "conveyor-orchestrator", logger)
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

	// RabbitMQ
	var publisher orchestrator.EventPublisher
	mqConn, err := mq.NewConnection(mq.URLFromEnv(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		} else {
			logger.Debug("topology ready", "topology", mq.TopologyInfo())
		}
		publisher = mq.NewPublisher(mqConn, logger)
	}

	orch := orchestrator.New(orchestrator.Config{
		Store:        stores.Executions,
		Pipelines:    rt.Registry,
		Publisher:    publisher,
		Conn:         mqConn,
		TickInterval: cfg.Orchestrator.TickInterval,
		Lease:        cfg.Orchestrator.Lease,
		Concurrency:  cfg.Orchestrator.Concurrency,
		BatchSize:    cfg.Orchestrator.BatchSize,
		Logger:       logger,
	})

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if orch.IsStopped() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok active=%d mq=%t", orch.ActiveCount(), mqConn != nil && mqConn.IsConnected())
	})
	mux.Handle("/metrics", telemetry.MetricsHandler())

	port := ":8083"
	if v := os.Getenv("ORCH_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}
	logger.Info("conveyor-orchestrator stopped")
}
