package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

// --- BuildIntegration Tests ---

func TestBuildIntegration_Topologies(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		want  []string
	}{
		{"none", Flags{}, []string{}},
		{"identity only", Flags{IdentityResolution: true}, []string{StageIdentityResolution}},
		{"recommendation only", Flags{Recommendation: true},
			[]string{StageDatasetImport, StageTrainModel, StageVersionModel}},
		{"recommendation with batch", Flags{Recommendation: true, BatchInference: true},
			[]string{StageDatasetImport, StageTrainModel, StageVersionModel, StageBatchInference}},
		{"both", Flags{IdentityResolution: true, Recommendation: true, BatchInference: true},
			[]string{StageIdentityResolution, StageDatasetImport, StageTrainModel, StageVersionModel, StageBatchInference}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeServices()
			p, err := BuildIntegration(tt.flags, fs.services(), Finalizers{}, Options{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := p.StageNames(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("stages = %v, want %v", got, tt.want)
			}

			// Цепочка линейна и заканчивается в Terminal
			visited := 0
			for i := p.Entry(); i != Terminal; {
				stage, ok := p.Stage(i)
				if !ok {
					t.Fatalf("next index %d out of range", i)
				}
				visited++
				if visited > len(p.Stages) {
					t.Fatal("chain does not terminate")
				}
				i = stage.Next
			}
			if visited != len(tt.want) {
				t.Errorf("visited %d stages, want %d", visited, len(tt.want))
			}
		})
	}
}

func TestBuildIntegration_EmptyPipelineIsTerminal(t *testing.T) {
	p, err := BuildIntegration(Flags{}, Services{}, Finalizers{}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Entry() != Terminal {
		t.Errorf("empty pipeline should start at Terminal, got %d", p.Entry())
	}
	if p.Name != domain.PipelineIntegration {
		t.Errorf("unexpected name %q", p.Name)
	}
}

func TestBuildIntegration_InputChaining(t *testing.T) {
	fs := newFakeServices()

	both, err := BuildIntegration(Flags{IdentityResolution: true, Recommendation: true}, fs.services(), Finalizers{}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	imp, _ := both.Stage(1)
	if imp.InputPath != StageIdentityResolution {
		t.Errorf("dataset_import should read identity_resolution output, got %q", imp.InputPath)
	}

	recOnly, err := BuildIntegration(Flags{Recommendation: true, BatchInference: true}, fs.services(), Finalizers{}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantInputs := []string{"", StageDatasetImport, StageTrainModel, StageVersionModel}
	for i, want := range wantInputs {
		s, _ := recOnly.Stage(i)
		if s.InputPath != want {
			t.Errorf("stage %s input = %q, want %q", s.Name, s.InputPath, want)
		}
	}

	batch, _ := recOnly.Stage(3)
	if batch.Skip == nil {
		t.Error("batch_inference should carry the skip-ahead gate")
	}
}

func TestBuildIntegration_BatchWithoutRecommendation(t *testing.T) {
	fs := newFakeServices()
	_, err := BuildIntegration(Flags{IdentityResolution: true, BatchInference: true}, fs.services(), Finalizers{}, Options{})

	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T", err)
	}
	if cfgErr.Stage != StageBatchInference {
		t.Errorf("expected stage batch_inference, got %q", cfgErr.Stage)
	}
	if fs.totalInvokes() != 0 {
		t.Error("configuration errors must be reported before any invoke")
	}
}

func TestBuildIntegration_MissingService(t *testing.T) {
	fs := newFakeServices()
	svcs := fs.services()
	svcs.TrainModel = nil

	_, err := BuildIntegration(Flags{Recommendation: true}, svcs, Finalizers{}, Options{})
	if !errors.Is(err, ErrMissingService) {
		t.Fatalf("expected ErrMissingService, got %v", err)
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) && cfgErr.Stage != StageTrainModel {
		t.Errorf("expected stage train_model, got %q", cfgErr.Stage)
	}

	// Отключённой стадии сервис не нужен
	if _, err := BuildIntegration(Flags{IdentityResolution: true}, svcs, Finalizers{}, Options{}); err != nil {
		t.Errorf("unused service should not be required: %v", err)
	}
}

// --- Builder Tests ---

func staticSegment(stages ...StageDescriptor) Segment {
	return func(string) ([]StageDescriptor, error) { return stages, nil }
}

func TestBuilder_DuplicateStage(t *testing.T) {
	svc := newFakeService("a", domain.JobKindDatasetImport)
	_, err := NewBuilder("p", Options{}).
		Add(staticSegment(StageDescriptor{Name: "a", Invoke: svc})).
		Add(staticSegment(StageDescriptor{Name: "a", Invoke: svc})).
		Build()
	if !errors.Is(err, ErrDuplicateStage) {
		t.Errorf("expected ErrDuplicateStage, got %v", err)
	}
}

func TestBuilder_UnknownInput(t *testing.T) {
	svc := newFakeService("a", domain.JobKindDatasetImport)
	_, err := NewBuilder("p", Options{}).
		Add(staticSegment(StageDescriptor{Name: "a", Invoke: svc, InputPath: "b"})).
		Add(staticSegment(StageDescriptor{Name: "b", Invoke: svc})).
		Build()
	if !errors.Is(err, ErrUnknownInput) {
		t.Errorf("expected ErrUnknownInput, got %v", err)
	}
}

func TestBuilder_EmptyName(t *testing.T) {
	svc := newFakeService("a", domain.JobKindDatasetImport)
	if _, err := NewBuilder("", Options{}).Build(); !errors.Is(err, ErrEmptyStageName) {
		t.Errorf("expected error for empty pipeline name, got %v", err)
	}
	_, err := NewBuilder("p", Options{}).Add(staticSegment(StageDescriptor{Invoke: svc})).Build()
	if !errors.Is(err, ErrEmptyStageName) {
		t.Errorf("expected ErrEmptyStageName, got %v", err)
	}
}

func TestBuilder_LinksNext(t *testing.T) {
	svc := newFakeService("a", domain.JobKindDatasetImport)
	p, err := NewBuilder("p", Options{}).
		Add(staticSegment(StageDescriptor{Name: "a", Invoke: svc}, StageDescriptor{Name: "b", Invoke: svc, InputPath: "a"})).
		Add(staticSegment(StageDescriptor{Name: "c", Invoke: svc, InputPath: "b"})).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []int{1, 2, Terminal}
	for i, next := range want {
		if p.Stages[i].Next != next {
			t.Errorf("stage %d next = %d, want %d", i, p.Stages[i].Next, next)
		}
	}
}

func TestBuilder_SegmentError(t *testing.T) {
	boom := NewConfigurationError("x", "f", "bad segment", ErrMissingDependency)
	_, err := NewBuilder("p", Options{}).
		Add(func(string) ([]StageDescriptor, error) { return nil, boom }).
		Build()
	if !errors.Is(err, ErrMissingDependency) {
		t.Errorf("segment error should propagate, got %v", err)
	}
}

// --- Pipeline Tests ---

func TestPipeline_Describe(t *testing.T) {
	fs := newFakeServices()
	fin := FinalizerFunc(func(context.Context, FinalizeRequest) (map[string]any, error) { return nil, nil })
	p, err := BuildSegment(fs.batch, fin, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info := p.Describe()
	if len(info) != 1 {
		t.Fatalf("expected 1 stage, got %d", len(info))
	}
	if !info[0].Polls || !info[0].Skippable || !info[0].Finalizer {
		t.Errorf("unexpected stage info: %+v", info[0])
	}
	if info[0].Next != Terminal {
		t.Errorf("single stage should link to Terminal, got %d", info[0].Next)
	}
}

func TestPipeline_Index(t *testing.T) {
	fs := newFakeServices()
	p, err := BuildIntegration(Flags{Recommendation: true}, fs.services(), Finalizers{}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	i, ok := p.Index(StageTrainModel)
	if !ok || i != 1 {
		t.Errorf("Index(%q) = %d, %v, want 1, true", StageTrainModel, i, ok)
	}
	if i, ok := p.Index(StageIdentityResolution); ok || i != Terminal {
		t.Errorf("stage outside topology should not be found, got %d", i)
	}
}

func TestRegistry(t *testing.T) {
	fs := newFakeServices()
	integration, _ := BuildIntegration(Flags{IdentityResolution: true}, fs.services(), Finalizers{}, Options{})
	segment, _ := BuildSegment(fs.batch, nil, Options{})

	r := NewRegistry(segment, integration, nil)
	if _, ok := r.Get(domain.PipelineSegment); !ok {
		t.Error("segment pipeline should be registered")
	}
	if _, ok := r.Get("unknown"); ok {
		t.Error("unknown pipeline should not be found")
	}

	list := r.List()
	if len(list) != 2 || list[0].Name != domain.PipelineIntegration {
		t.Errorf("expected sorted list, got %d pipelines", len(list))
	}
}
