// Conveyor Scheduler — запускает executions по расписаниям.
//
// Несколько реплик могут работать одновременно: тикает только лидер,
// удерживающий advisory lock в Postgres. Повторный запуск одного
// срабатывания отсекается ключом идемпотентности.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/scheduler"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

const schedLockKey int64 = 424242

func main() {
	logger := telemetry.SetupLogger("conveyor-scheduler")
	logger.Info("starting conveyor-scheduler")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load("")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Store != config.StorePostgres {
		logger.Error("scheduler requires the postgres store", "store", cfg.Store)
		os.Exit(1)
	}

	stores, err := repo.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	// Реестр нужен только для проверки имени pipeline
	rt, err := config.Assemble(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to assemble pipelines", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	var publisher orchestrator.EventPublisher
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

	// Orchestrator без Start: только запись executions и уведомление
	starter := orchestrator.New(orchestrator.Config{
		Store:     stores.Executions,
		Pipelines: rt.Registry,
		Publisher: publisher,
		Logger:    logger,
	})

	sched := scheduler.New(scheduler.Config{
		Schedules: stores.Schedules,
		Starter:   starter,
		Logger:    logger,
	})

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", telemetry.MetricsHandler())

	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		leaderLoop(ctx, repo.NewSessionLock(stores.Pool, schedLockKey), sched, logger)
	}()

	port := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
		port = ":" + v
	}
	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	<-leaderDone
	logger.Info("conveyor-scheduler stopped")
}

// leaderLoop раз в секунду пытается стать лидером (или подтвердить
// лидерство) и, будучи лидером, выполняет тик scheduler.
func leaderLoop(ctx context.Context, lock *repo.SessionLock, sched *scheduler.Scheduler, logger *slog.Logger) {
	tk := time.NewTicker(time.Second)
	defer tk.Stop()

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			logger.Warn("failed to release leader lock", "error", err)
		}
	}()

	for {
		select {
		case <-tk.C:
			wasLeader := lock.Held()
			ok, err := lock.TryAcquire(ctx)
			if err != nil {
				logger.Error("leader lock error", "error", err)
				continue
			}
			if ok != wasLeader {
				logger.Info("leadership changed", "leader", ok)
			}
			if !ok {
				// не лидер — пропускаем тик
				continue
			}

			if err := sched.Tick(ctx); err != nil {
				logger.Error("scheduler tick failed", "error", err)
			}

		case <-ctx.Done():
			return
		}
	}
}
