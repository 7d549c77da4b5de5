package repo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Виды хранилища executions и schedules.
const (
	KindPostgres = "postgres"
	KindMemory   = "memory"
)

// Stores — хранилища одного процесса.
// Pool == nil, если выбрано хранилище в памяти.
type Stores struct {
	Executions ExecutionStore
	Schedules  ScheduleStore
	Pool       *pgxpool.Pool
}

// Open открывает хранилища указанного вида.
// Для postgres подключается по DB_URL и применяет схему.
func Open(ctx context.Context, kind string, logger *slog.Logger) (*Stores, error) {
	switch kind {
	case KindMemory:
		logger.Warn("using in-memory store, executions are lost on restart")
		return &Stores{
			Executions: NewMemoryExecutionStore(),
			Schedules:  NewMemoryScheduleStore(),
		}, nil

	case KindPostgres, "":
		pool, err := NewPool(ctx)
		if err != nil {
			return nil, err
		}
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("connected to database")
		return &Stores{
			Executions: NewExecutionRepo(pool),
			Schedules:  NewScheduleRepo(pool),
			Pool:       pool,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}

// Close закрывает пул соединений.
func (s *Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}
