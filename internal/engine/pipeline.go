package engine

import (
	"context"
	"sort"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Terminal — индекс "после последней стадии".
const Terminal = -1

// Pipeline — собранная цепочка стадий.
//
// Стадии лежат в массиве и связаны индексами Next: граф ацикличен
// и полностью известен при сборке. Pipeline неизменяем после Build
// и безопасен для использования из нескольких execution одновременно.
type Pipeline struct {
	// Name — имя pipeline ("integration", "segment").
	Name string

	// Stages — стадии в порядке выполнения.
	Stages []StageDescriptor

	// PollInterval — интервал WaitPollLoop для всех стадий.
	PollInterval time.Duration

	// Retry — повторы временных ошибок poll.
	Retry RetryPolicy
}

// Entry возвращает индекс первой стадии (Terminal для пустого pipeline).
func (p *Pipeline) Entry() int {
	if len(p.Stages) == 0 {
		return Terminal
	}
	return 0
}

// Index возвращает индекс стадии по имени.
func (p *Pipeline) Index(name string) (int, bool) {
	for i := range p.Stages {
		if p.Stages[i].Name == name {
			return i, true
		}
	}
	return Terminal, false
}

// Stage возвращает стадию по индексу.
func (p *Pipeline) Stage(i int) (*StageDescriptor, bool) {
	if i < 0 || i >= len(p.Stages) {
		return nil, false
	}
	return &p.Stages[i], true
}

// Loop возвращает WaitPollLoop стадии или nil для fire-and-forget.
func (p *Pipeline) Loop(i int) *WaitPollLoop {
	stage, ok := p.Stage(i)
	if !ok || stage.Poll == nil {
		return nil
	}
	return &WaitPollLoop{
		Key:       stage.Key(),
		Kind:      stage.Kind,
		Poller:    stage.Poll,
		Completed: stage.completed(),
		Interval:  p.interval(),
		Retry:     p.Retry,
	}
}

func (p *Pipeline) interval() time.Duration {
	if p.PollInterval > 0 {
		return p.PollInterval
	}
	return DefaultPollInterval
}

// NextWake возвращает время следующего poll.
func (p *Pipeline) NextWake(now time.Time) time.Time {
	return now.Add(p.interval())
}

// StageNames возвращает имена стадий по порядку.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.Stages))
	for i := range p.Stages {
		names[i] = p.Stages[i].Name
	}
	return names
}

// StageInfo — описание стадии для API и CLI.
type StageInfo struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	InputPath string `json:"input_path,omitempty"`
	OutputKey string `json:"output_key"`
	Polls     bool   `json:"polls"`
	Skippable bool   `json:"skippable,omitempty"`
	Finalizer bool   `json:"finalizer,omitempty"`
	Next      int    `json:"next"`
}

// Describe возвращает описание стадий.
func (p *Pipeline) Describe() []StageInfo {
	out := make([]StageInfo, len(p.Stages))
	for i := range p.Stages {
		s := &p.Stages[i]
		out[i] = StageInfo{
			Name:      s.Name,
			Kind:      string(s.Kind),
			InputPath: s.InputPath,
			OutputKey: s.Key(),
			Polls:     s.Poll != nil,
			Skippable: s.Skip != nil,
			Finalizer: s.Finalize != nil,
			Next:      s.Next,
		}
	}
	return out
}

// InvokeOutcome — результат запуска стадии.
type InvokeOutcome struct {
	// Handle — handle для опроса. Пустой, если стадия уже завершена.
	Handle domain.JobHandle

	// Done — стадия завершена без poll (skip или fire-and-forget).
	Done bool

	// Skipped — сработал skip-ahead gate.
	Skipped bool

	// Next — следующая стадия (только при Done).
	Next int
}

// InvokeStage запускает стадию i и открывает её ключ в c.
//
// Порядок:
//  1. Проекция входа из Context
//  2. Invoke (без retry)
//  3. Open ключа стадии результатом запуска
//  4. Skip-ahead gate: переход сразу в Terminal, без poll и финализации
//  5. Fire-and-forget: стадия сразу завершается
func (p *Pipeline) InvokeStage(ctx context.Context, executionID string, i int, c *domain.Context) (InvokeOutcome, error) {
	stage, ok := p.Stage(i)
	if !ok {
		return InvokeOutcome{}, ErrTopologyOutOfRange
	}

	input, err := c.Project(stage.InputPath)
	if err != nil {
		return InvokeOutcome{}, stageError(stage.Name, ErrInvocation, err)
	}

	result, err := stage.Invoke.Invoke(ctx, InvokeRequest{
		ExecutionID: executionID,
		Stage:       stage.Name,
		Input:       input,
	})
	if err != nil {
		return InvokeOutcome{}, stageError(stage.Name, ErrInvocation, err)
	}

	if result.Handle.Kind == "" {
		result.Handle.Kind = stage.Kind
	}

	if err := c.Open(stage.Key(), acceptance(result)); err != nil {
		return InvokeOutcome{}, stageError(stage.Name, ErrInvocation, err)
	}

	if stage.Skip != nil && stage.Skip(result) {
		if err := c.Seal(stage.Key()); err != nil {
			return InvokeOutcome{}, stageError(stage.Name, ErrInvocation, err)
		}
		return InvokeOutcome{Done: true, Skipped: true, Next: Terminal}, nil
	}

	if stage.Poll == nil {
		next, err := p.CompleteStage(ctx, executionID, i, c, domain.PollResult{State: domain.JobSucceeded})
		if err != nil {
			return InvokeOutcome{}, err
		}
		return InvokeOutcome{Done: true, Next: next}, nil
	}

	if result.Handle.IsZero() {
		return InvokeOutcome{}, stageError(stage.Name, ErrInvocation, ErrMissingJobID)
	}

	return InvokeOutcome{Handle: result.Handle}, nil
}

// CompleteStage сливает результат poll в ключ стадии, запускает
// финализатор и запечатывает ключ. Возвращает индекс следующей стадии.
func (p *Pipeline) CompleteStage(ctx context.Context, executionID string, i int, c *domain.Context, result domain.PollResult) (int, error) {
	stage, ok := p.Stage(i)
	if !ok {
		return Terminal, ErrTopologyOutOfRange
	}
	key := stage.Key()

	if err := c.Merge(key, result.Fields); err != nil {
		return Terminal, stageError(stage.Name, ErrFinalize, err)
	}

	if stage.Finalize != nil {
		output, _ := c.Output(key)
		fields, err := stage.Finalize.Finalize(ctx, FinalizeRequest{
			ExecutionID: executionID,
			Stage:       stage.Name,
			Output:      output,
		})
		if err != nil {
			return Terminal, stageError(stage.Name, ErrFinalize, err)
		}
		if err := c.Merge(key, fields); err != nil {
			return Terminal, stageError(stage.Name, ErrFinalize, err)
		}
	}

	if err := c.Seal(key); err != nil {
		return Terminal, stageError(stage.Name, ErrFinalize, err)
	}
	return stage.Next, nil
}

// acceptance — поля, которые стадия пишет при запуске.
func acceptance(r domain.InvokeResult) map[string]any {
	fields := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		fields[k] = v
	}
	if !r.Handle.IsZero() {
		fields["jobId"] = r.Handle.ID
	}
	if r.Skipped {
		fields["skipped"] = true
	}
	if r.Completed {
		fields["isCompleted"] = true
	}
	return fields
}

// Registry — набор собранных pipeline по имени.
type Registry struct {
	pipelines map[string]*Pipeline
}

// NewRegistry создаёт Registry из pipeline.
func NewRegistry(pipelines ...*Pipeline) *Registry {
	r := &Registry{pipelines: make(map[string]*Pipeline, len(pipelines))}
	for _, p := range pipelines {
		if p != nil {
			r.pipelines[p.Name] = p
		}
	}
	return r
}

// Get возвращает pipeline по имени.
func (r *Registry) Get(name string) (*Pipeline, bool) {
	p, ok := r.pipelines[name]
	return p, ok
}

// List возвращает pipeline, отсортированные по имени.
func (r *Registry) List() []*Pipeline {
	out := make([]*Pipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
