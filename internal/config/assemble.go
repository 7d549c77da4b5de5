package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/jobs"
	"github.com/shaiso/Conveyor/internal/modelstore"
	"github.com/shaiso/Conveyor/internal/objects"
)

// Runtime — собранные pipeline и их зависимости.
type Runtime struct {
	Registry   *engine.Registry
	ModelStore modelstore.Store

	closers []func() error
}

// Close освобождает соединения зависимостей.
func (r *Runtime) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Assemble собирает pipeline integration и segment из конфигурации.
//
// Ошибка сборки — это *engine.ConfigurationError: процесс не должен
// стартовать с некорректной топологией.
func Assemble(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	svcs := jobs.NewServices(cfg.Services.Endpoints, jobs.Options{
		Timeout: cfg.Services.Timeout,
		Headers: cfg.Services.Headers,
	})

	if cfg.Redis.Addr != "" {
		rs, err := modelstore.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect model store: %w", err)
		}
		rt.ModelStore = rs
		rt.closers = append(rt.closers, rs.Close)
	} else {
		logger.Warn("REDIS_ADDR not set, model version pointer is kept in memory")
		rt.ModelStore = modelstore.NewMemoryStore()
	}

	fins := engine.Finalizers{
		VersionModel: &modelstore.VersionPublisher{Store: rt.ModelStore, Logger: logger},
	}

	if cfg.Identity.Bucket != "" || cfg.Segment.ResultsURI != "" {
		store, err := objects.NewS3Store(ctx, cfg.S3)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("init object store: %w", err)
		}

		if cfg.Identity.Bucket != "" {
			fins.IdentityResolution = &objects.IdentityPublisher{
				Store:        store,
				Bucket:       cfg.Identity.Bucket,
				SourcePrefix: cfg.Identity.SourcePrefix,
				DestPrefix:   cfg.Identity.DestPrefix,
				Logger:       logger,
			}
		}
		if cfg.Segment.ResultsURI != "" {
			results, _ := objects.ParseURI(cfg.Segment.ResultsURI)
			target, _ := objects.ParseURI(cfg.Segment.TargetURI)
			fins.BatchInference = &objects.SegmentExporter{
				Store:   store,
				Segment: results,
				Target:  target,
				Logger:  logger,
			}
		}
	}

	if svcs.BatchInference != nil {
		svcs.BatchInference = modelstore.NewCurrentVersionInvoker(svcs.BatchInference, rt.ModelStore, logger)
	}

	pipelines, err := BuildPipelines(cfg, svcs, fins)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Registry = engine.NewRegistry(pipelines...)

	for _, p := range pipelines {
		logger.Info("pipeline built", "pipeline", p.Name, "stages", p.StageNames())
	}
	return rt, nil
}

// BuildPipelines строит integration и, если настроен batch inference,
// segment pipeline.
func BuildPipelines(cfg *Config, svcs engine.Services, fins engine.Finalizers) ([]*engine.Pipeline, error) {
	opts := cfg.EngineOptions()

	integration, err := engine.BuildIntegration(cfg.Flags, svcs, fins, opts)
	if err != nil {
		return nil, err
	}
	pipelines := []*engine.Pipeline{integration}

	if svcs.BatchInference != nil {
		segment, err := engine.BuildSegment(svcs.BatchInference, fins.BatchInference, opts)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, segment)
	}
	return pipelines, nil
}
