package engine

import (
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Flags — включённые подсистемы.
type Flags struct {
	// IdentityResolution — сегмент identity_resolution.
	IdentityResolution bool `yaml:"identity_resolution" json:"identity_resolution"`

	// Recommendation — цепочка dataset_import → train_model → version_model.
	Recommendation bool `yaml:"recommendation" json:"recommendation"`

	// BatchInference — batch_inference в конце цепочки рекомендаций.
	BatchInference bool `yaml:"batch_inference" json:"batch_inference"`
}

// Services — внешние сервисы по стадиям. Nil — сервис не настроен.
type Services struct {
	IdentityResolution Service
	DatasetImport      Service
	TrainModel         Service
	VersionModel       Service
	BatchInference     Service
}

// Finalizers — финализаторы по стадиям. Nil — без финализации.
type Finalizers struct {
	IdentityResolution Finalizer
	VersionModel       Finalizer
	BatchInference     Finalizer
}

// Options — общие параметры pipeline.
type Options struct {
	PollInterval time.Duration
	Retry        RetryPolicy
}

// Segment строит участок цепочки. prevKey — ключ последней стадии
// перед сегментом ("" если сегмент первый, вход — payload триггера).
type Segment func(prevKey string) ([]StageDescriptor, error)

// Builder собирает Pipeline из независимых сегментов.
//
// Пример:
//
//	p, err := NewBuilder("integration", opts).
//		Add(IdentityResolutionSegment(svc, fin)).
//		Add(RecommendationSegment(svcs, fins, true)).
//		Build()
type Builder struct {
	name     string
	opts     Options
	segments []Segment
}

// NewBuilder создаёт Builder.
func NewBuilder(name string, opts Options) *Builder {
	return &Builder{name: name, opts: opts}
}

// Add добавляет сегмент в конец цепочки.
func (b *Builder) Add(seg Segment) *Builder {
	b.segments = append(b.segments, seg)
	return b
}

// Build собирает сегменты, связывает Next и проверяет цепочку.
//
// Все ошибки — *ConfigurationError: неверный pipeline не доходит
// до запуска ни одного execution.
func (b *Builder) Build() (*Pipeline, error) {
	if b.name == "" {
		return nil, NewConfigurationError("", "name", "pipeline name is required", ErrEmptyStageName)
	}

	var stages []StageDescriptor
	prevKey := ""
	for _, seg := range b.segments {
		part, err := seg(prevKey)
		if err != nil {
			return nil, err
		}
		stages = append(stages, part...)
		if len(stages) > 0 {
			prevKey = stages[len(stages)-1].Key()
		}
	}

	seen := make(map[string]bool, len(stages))
	for i := range stages {
		s := &stages[i]

		if s.Name == "" {
			return nil, NewConfigurationError("", "name", "stage name is required", ErrEmptyStageName)
		}
		if seen[s.Name] || (s.Key() != s.Name && seen[s.Key()]) {
			return nil, NewConfigurationError(s.Name, "name", "duplicate stage name or output key", ErrDuplicateStage)
		}
		if s.Invoke == nil {
			return nil, NewConfigurationError(s.Name, "invoke", "invoke operation is required", ErrMissingService)
		}
		if s.InputPath != "" && !seen[s.InputPath] {
			return nil, NewConfigurationError(s.Name, "input_path", "input "+s.InputPath+" is not produced by an earlier stage", ErrUnknownInput)
		}

		seen[s.Name] = true
		seen[s.Key()] = true

		if i+1 < len(stages) {
			s.Next = i + 1
		} else {
			s.Next = Terminal
		}
	}

	return &Pipeline{
		Name:         b.name,
		Stages:       stages,
		PollInterval: b.opts.PollInterval,
		Retry:        b.opts.Retry,
	}, nil
}

// BuildIntegration собирает pipeline "integration" по флагам.
//
//	none           → пустой pipeline (сразу SUCCEEDED)
//	identity       → identity_resolution
//	recommendation → dataset_import → train_model → version_model → [batch_inference]
//	both           → identity_resolution, затем цепочка рекомендаций
func BuildIntegration(flags Flags, svcs Services, fins Finalizers, opts Options) (*Pipeline, error) {
	if flags.BatchInference && !flags.Recommendation {
		return nil, NewConfigurationError(StageBatchInference, "flags.batch_inference",
			"batch inference needs a model version from the recommendation chain", ErrMissingDependency)
	}

	b := NewBuilder(domain.PipelineIntegration, opts)
	if flags.IdentityResolution {
		b.Add(IdentityResolutionSegment(svcs.IdentityResolution, fins.IdentityResolution))
	}
	if flags.Recommendation {
		b.Add(RecommendationSegment(svcs, fins, flags.BatchInference))
	}
	return b.Build()
}

// BuildSegment собирает pipeline "segment": один batch_inference
// по payload триггера.
func BuildSegment(svc Service, fin Finalizer, opts Options) (*Pipeline, error) {
	return NewBuilder(domain.PipelineSegment, opts).
		Add(BatchInferenceSegment(svc, fin)).
		Build()
}

// IdentityResolutionSegment — сегмент identity resolution.
func IdentityResolutionSegment(svc Service, fin Finalizer) Segment {
	return func(prevKey string) ([]StageDescriptor, error) {
		s, err := pollStage(StageIdentityResolution, domain.JobKindIdentityResolution, svc, prevKey)
		if err != nil {
			return nil, err
		}
		s.Finalize = fin
		return []StageDescriptor{s}, nil
	}
}

// RecommendationSegment — цепочка обучения модели и, опционально,
// batch inference на новой версии.
func RecommendationSegment(svcs Services, fins Finalizers, withBatch bool) Segment {
	return func(prevKey string) ([]StageDescriptor, error) {
		importStage, err := pollStage(StageDatasetImport, domain.JobKindDatasetImport, svcs.DatasetImport, prevKey)
		if err != nil {
			return nil, err
		}
		train, err := pollStage(StageTrainModel, domain.JobKindModelTraining, svcs.TrainModel, StageDatasetImport)
		if err != nil {
			return nil, err
		}
		version, err := pollStage(StageVersionModel, domain.JobKindModelVersion, svcs.VersionModel, StageTrainModel)
		if err != nil {
			return nil, err
		}
		version.Finalize = fins.VersionModel

		stages := []StageDescriptor{importStage, train, version}
		if !withBatch {
			return stages, nil
		}

		batch, err := BatchInferenceSegment(svcs.BatchInference, fins.BatchInference)(StageVersionModel)
		if err != nil {
			return nil, err
		}
		return append(stages, batch...), nil
	}
}

// BatchInferenceSegment — batch inference со skip-ahead gate.
func BatchInferenceSegment(svc Service, fin Finalizer) Segment {
	return func(prevKey string) ([]StageDescriptor, error) {
		s, err := pollStage(StageBatchInference, domain.JobKindBatchInference, svc, prevKey)
		if err != nil {
			return nil, err
		}
		s.Skip = SkipWhenSatisfied
		s.Finalize = fin
		return []StageDescriptor{s}, nil
	}
}

// pollStage строит стадию invoke + poll поверх одного сервиса.
func pollStage(name string, kind domain.JobKind, svc Service, input string) (StageDescriptor, error) {
	if svc == nil {
		return StageDescriptor{}, NewConfigurationError(name, "services."+name, "service is not configured", ErrMissingService)
	}
	return StageDescriptor{
		Name:      name,
		Kind:      kind,
		Invoke:    svc,
		Poll:      svc,
		Completed: Succeeded,
		InputPath: input,
		OutputKey: name,
		Next:      Terminal,
	}, nil
}
