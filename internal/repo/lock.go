package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionLock — advisory lock уровня сессии Postgres.
//
// Lock живёт, пока живёт соединение, поэтому SessionLock держит
// выделенное соединение из пула, а не берёт случайное на каждый запрос.
type SessionLock struct {
	pool *pgxpool.Pool
	key  int64
	conn *pgxpool.Conn
}

// NewSessionLock создаёт lock с ключом key.
func NewSessionLock(pool *pgxpool.Pool, key int64) *SessionLock {
	return &SessionLock{pool: pool, key: key}
}

// TryAcquire пытается взять lock или подтверждает, что он всё ещё наш.
// Потеря соединения означает потерю lock.
func (l *SessionLock) TryAcquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		if err := l.conn.Ping(ctx); err == nil {
			return true, nil
		}
		l.conn.Release()
		l.conn = nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Held сообщает, держим ли мы lock.
func (l *SessionLock) Held() bool {
	return l.conn != nil
}

// Release отпускает lock и возвращает соединение в пул.
func (l *SessionLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()
	if _, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.key); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
