package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/jobs"
	"github.com/shaiso/Conveyor/internal/modelstore"
	"github.com/shaiso/Conveyor/internal/objects"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Хранилища execution.
const (
	StorePostgres = repo.KindPostgres
	StoreMemory   = repo.KindMemory
)

// ErrInvalid — конфигурация не прошла проверку.
var ErrInvalid = errors.New("invalid configuration")

// Config — конфигурация Conveyor.
//
// Источники в порядке приоритета:
//  1. Переменные окружения (CONVEYOR_*, REDIS_ADDR, S3_*)
//  2. YAML-файл из CONVEYOR_CONFIG
//  3. Значения по умолчанию (Default)
type Config struct {
	// Store — где хранятся executions: postgres или memory.
	Store string `yaml:"store"`

	// Flags — какие сегменты входят в integration pipeline.
	Flags engine.Flags `yaml:"flags"`

	// PollInterval — пауза между poll одной стадии.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Retry — повторы transient ошибок poll внутри одной проверки.
	Retry engine.RetryPolicy `yaml:"retry"`

	Services     ServicesConfig         `yaml:"services"`
	Redis        modelstore.RedisConfig `yaml:"redis"`
	S3           objects.S3Config       `yaml:"s3"`
	Identity     IdentityConfig         `yaml:"identity"`
	Segment      SegmentConfig          `yaml:"segment"`
	Orchestrator OrchestratorConfig     `yaml:"orchestrator"`
}

// ServicesConfig — адреса и параметры HTTP-сервисов стадий.
type ServicesConfig struct {
	jobs.Endpoints `yaml:",inline"`

	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// IdentityConfig — публикация результатов identity resolution.
// Пустой Bucket отключает финализатор.
type IdentityConfig struct {
	Bucket       string `yaml:"bucket"`
	SourcePrefix string `yaml:"source_prefix"`
	DestPrefix   string `yaml:"dest_prefix"`
}

// SegmentConfig — экспорт результатов batch inference в CSV.
// Пустой ResultsURI отключает финализатор.
type SegmentConfig struct {
	// ResultsURI — s3://bucket/prefix, куда сервис пишет *.json.out.
	ResultsURI string `yaml:"results_uri"`

	// TargetURI — s3://bucket/prefix для CSV.
	TargetURI string `yaml:"target_uri"`
}

// OrchestratorConfig — параметры tick loop.
type OrchestratorConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	Lease        time.Duration `yaml:"lease"`
	Concurrency  int           `yaml:"concurrency"`
	BatchSize    int           `yaml:"batch_size"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		Store:        StorePostgres,
		PollInterval: engine.DefaultPollInterval,
		Retry:        engine.DefaultRetryPolicy(),
		Services: ServicesConfig{
			Timeout: 30 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			TickInterval: time.Second,
			Lease:        2 * time.Minute,
			Concurrency:  8,
			BatchSize:    32,
		},
	}
}

// Load читает YAML (path или CONVEYOR_CONFIG), применяет env и проверяет результат.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONVEYOR_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv переопределяет поля заданными переменными окружения.
func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("CONVEYOR_STORE", &c.Store)
	flag("CONVEYOR_IDENTITY_RESOLUTION", &c.Flags.IdentityResolution)
	flag("CONVEYOR_RECOMMENDATION", &c.Flags.Recommendation)
	flag("CONVEYOR_BATCH_INFERENCE", &c.Flags.BatchInference)
	dur("CONVEYOR_POLL_INTERVAL", &c.PollInterval)

	str("CONVEYOR_IDENTITY_RESOLUTION_URL", &c.Services.IdentityResolution)
	str("CONVEYOR_DATASET_IMPORT_URL", &c.Services.DatasetImport)
	str("CONVEYOR_TRAIN_MODEL_URL", &c.Services.TrainModel)
	str("CONVEYOR_VERSION_MODEL_URL", &c.Services.VersionModel)
	str("CONVEYOR_BATCH_INFERENCE_URL", &c.Services.BatchInference)
	dur("CONVEYOR_SERVICE_TIMEOUT", &c.Services.Timeout)

	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("S3_REGION", &c.S3.Region)
	str("S3_ENDPOINT", &c.S3.Endpoint)
	flag("S3_PATH_STYLE", &c.S3.PathStyle)

	str("CONVEYOR_IDENTITY_BUCKET", &c.Identity.Bucket)
	str("CONVEYOR_SEGMENT_RESULTS_URI", &c.Segment.ResultsURI)
	str("CONVEYOR_SEGMENT_TARGET_URI", &c.Segment.TargetURI)

	return errors.Join(errs...)
}

// Validate проверяет значения, которые нельзя исправить молча.
// Совместимость флагов и сервисов проверяет сборка pipeline.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		problems = append(problems, fmt.Sprintf("store must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store))
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "poll_interval must be positive")
	}
	if c.Retry.MaxAttempts < 0 {
		problems = append(problems, "retry.max_attempts must not be negative")
	}
	switch c.Retry.Backoff {
	case "", "fixed", "exponential":
	default:
		problems = append(problems, fmt.Sprintf("retry.backoff %q is not supported", c.Retry.Backoff))
	}
	if c.Orchestrator.Concurrency <= 0 || c.Orchestrator.BatchSize <= 0 {
		problems = append(problems, "orchestrator.concurrency and orchestrator.batch_size must be positive")
	}
	if c.Orchestrator.Lease <= 0 || c.Orchestrator.TickInterval <= 0 {
		problems = append(problems, "orchestrator.lease and orchestrator.tick_interval must be positive")
	}
	if c.Services.Timeout >= c.Orchestrator.Lease {
		problems = append(problems, fmt.Sprintf("services.timeout %s must be shorter than orchestrator.lease %s", c.Services.Timeout, c.Orchestrator.Lease))
	}
	if c.Identity.Bucket != "" && strings.Trim(c.Identity.DestPrefix, "/") == "" {
		problems = append(problems, "identity.dest_prefix is required when identity.bucket is set")
	}
	for name, uri := range map[string]string{
		"segment.results_uri": c.Segment.ResultsURI,
		"segment.target_uri":  c.Segment.TargetURI,
	} {
		if uri == "" {
			continue
		}
		if _, ok := objects.ParseURI(uri); !ok {
			problems = append(problems, fmt.Sprintf("%s %q is not an s3:// uri", name, uri))
		}
	}
	if (c.Segment.ResultsURI == "") != (c.Segment.TargetURI == "") {
		problems = append(problems, "segment.results_uri and segment.target_uri must be set together")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// EngineOptions возвращает параметры сборки pipeline.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		PollInterval: c.PollInterval,
		Retry:        c.Retry,
	}
}
