package modelstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Поля hash-записи.
const (
	fieldVersion    = "model_version"
	fieldSegmentJob = "segment_job"

	defaultKey = "conveyor:model:latest"
)

// RedisConfig — параметры подключения.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Key — ключ hash-записи (default: "conveyor:model:latest").
	Key string `yaml:"key"`
}

// RedisStore хранит единственную запись "latest" в Redis hash:
//
//	HSET conveyor:model:latest model_version {json} segment_job {json}
type RedisStore struct {
	rdb *goredis.Client
	key string
}

// NewRedisStore подключается к Redis и проверяет соединение.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisStoreFromClient(rdb, cfg.Key), nil
}

// NewRedisStoreFromClient оборачивает готовый клиент.
func NewRedisStoreFromClient(rdb *goredis.Client, key string) *RedisStore {
	if key == "" {
		key = defaultKey
	}
	return &RedisStore{rdb: rdb, key: key}
}

// Close закрывает соединение.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// CurrentVersion возвращает текущую версию модели.
func (s *RedisStore) CurrentVersion(ctx context.Context) (ModelVersion, error) {
	var v ModelVersion
	if err := s.get(ctx, fieldVersion, &v); err != nil {
		if errors.Is(err, goredis.Nil) {
			return ModelVersion{}, ErrNoVersion
		}
		return ModelVersion{}, err
	}
	return v, nil
}

// SetCurrentVersion публикует версию модели.
func (s *RedisStore) SetCurrentVersion(ctx context.Context, v ModelVersion) error {
	return s.set(ctx, fieldVersion, v)
}

// RecordSegmentJob перезаписывает учёт последнего segment job.
func (s *RedisStore) RecordSegmentJob(ctx context.Context, job SegmentJob) error {
	return s.set(ctx, fieldSegmentJob, job)
}

// LastSegmentJob возвращает последний segment job.
func (s *RedisStore) LastSegmentJob(ctx context.Context) (SegmentJob, error) {
	var job SegmentJob
	if err := s.get(ctx, fieldSegmentJob, &job); err != nil {
		if errors.Is(err, goredis.Nil) {
			return SegmentJob{}, ErrNoSegmentJob
		}
		return SegmentJob{}, err
	}
	return job, nil
}

func (s *RedisStore) get(ctx context.Context, field string, dst any) error {
	raw, err := s.rdb.HGet(ctx, s.key, field).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return err
		}
		return fmt.Errorf("redis hget %s: %w", field, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", field, err)
	}
	return nil
}

func (s *RedisStore) set(ctx context.Context, field string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", field, err)
	}
	if err := s.rdb.HSet(ctx, s.key, field, raw).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", field, err)
	}
	return nil
}
