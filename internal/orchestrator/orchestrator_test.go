package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

const interval = time.Minute

// clock — управляемое время для tick.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// service — заскриптованный сервис стадии.
// После окончания скрипта poll возвращает succeeded.
type service struct {
	mu sync.Mutex

	invokeErr error
	result    domain.InvokeResult
	script    []pollResponse

	invokes int
	polls   int
}

type pollResponse struct {
	state domain.JobState
	err   error
}

func (s *service) Invoke(_ context.Context, req engine.InvokeRequest) (domain.InvokeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invokes++
	if s.invokeErr != nil {
		return domain.InvokeResult{}, s.invokeErr
	}
	res := s.result
	if res.Handle.ID == "" && !res.AlreadySatisfied() {
		res.Handle.ID = "job-" + req.Stage
	}
	return res, nil
}

func (s *service) Poll(_ context.Context, _ domain.JobHandle) (domain.PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.polls
	s.polls++
	if i >= len(s.script) {
		return domain.PollResult{State: domain.JobSucceeded, Fields: map[string]any{"status": "ACTIVE"}}, nil
	}
	r := s.script[i]
	return domain.PollResult{State: r.state, FailureReason: "quota exceeded"}, r.err
}

func (s *service) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invokes, s.polls
}

// publisher записывает события.
type publisher struct {
	mu       sync.Mutex
	pending  []uuid.UUID
	finished []domain.ExecutionStatus
}

func (p *publisher) PublishExecutionPending(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, id)
	return nil
}

func (p *publisher) PublishExecutionFinished(_ context.Context, exec *domain.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = append(p.finished, exec.Status)
	return nil
}

// gate держит вызов, пока тест не откроет release.
type gate struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) wait(ctx context.Context) error {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// gatedService задерживает Invoke на gate.
type gatedService struct {
	*service
	gate *gate
}

func (s *gatedService) Invoke(ctx context.Context, req engine.InvokeRequest) (domain.InvokeResult, error) {
	if err := s.gate.wait(ctx); err != nil {
		return domain.InvokeResult{}, err
	}
	return s.service.Invoke(ctx, req)
}

// hangingPoller отвечает на Poll только отменой ctx.
type hangingPoller struct {
	*service
	gate *gate
}

func (s *hangingPoller) Poll(ctx context.Context, _ domain.JobHandle) (domain.PollResult, error) {
	return domain.PollResult{}, s.gate.wait(ctx)
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

type fixture struct {
	orch  *Orchestrator
	store *repo.MemoryExecutionStore
	clock *clock
	svc   *service
	pub   *publisher
}

func identityPipeline(t *testing.T, svc engine.Service) *engine.Pipeline {
	t.Helper()
	p, err := engine.BuildIntegration(
		engine.Flags{IdentityResolution: true},
		engine.Services{IdentityResolution: svc},
		engine.Finalizers{},
		engine.Options{PollInterval: interval, Retry: engine.RetryPolicy{MaxAttempts: 1}},
	)
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}
	return p
}

func newFixture(t *testing.T, pipelines ...*engine.Pipeline) *fixture {
	t.Helper()
	f := &fixture{
		store: repo.NewMemoryExecutionStore(),
		clock: &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		svc:   &service{},
		pub:   &publisher{},
	}
	if len(pipelines) == 0 {
		pipelines = []*engine.Pipeline{identityPipeline(t, f.svc)}
	}
	f.orch = f.newOrchestrator(pipelines...)
	return f
}

func (f *fixture) newOrchestrator(pipelines ...*engine.Pipeline) *Orchestrator {
	return New(Config{
		Store:     f.store,
		Pipelines: engine.NewRegistry(pipelines...),
		Publisher: f.pub,
		Now:       f.clock.Now,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func (f *fixture) start(t *testing.T, pipeline string) *domain.Execution {
	t.Helper()
	exec, created, err := f.orch.StartExecution(context.Background(), domain.Trigger{
		Pipeline: pipeline,
		Payload:  map[string]any{"dataset": "customers"},
	})
	if err != nil || !created {
		t.Fatalf("start failed: created=%v err=%v", created, err)
	}
	return exec
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *domain.Execution {
	t.Helper()
	exec, err := f.orch.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	return exec
}

// wake сдвигает время к следующему poll и выполняет tick.
func (f *fixture) wake() int {
	f.clock.Advance(interval)
	return f.orch.tick(context.Background())
}

// --- Advance Tests ---

func TestOrchestrator_PollsUntilComplete(t *testing.T) {
	f := newFixture(t)
	f.svc.script = []pollResponse{{state: domain.JobPending}, {state: domain.JobPending}}
	exec := f.start(t, domain.PipelineIntegration)

	// Первый tick: запуск и приостановка без poll
	if n := f.orch.tick(context.Background()); n != 1 {
		t.Fatalf("expected 1 claimed execution, got %d", n)
	}
	got := f.get(t, exec.ID)
	if got.Status != domain.ExecutionStatusRunning || got.PendingJob == nil || got.Polls != 0 {
		t.Fatalf("expected suspended RUNNING execution, got %s handle=%v polls=%d", got.Status, got.PendingJob, got.Polls)
	}
	if got.PendingJob.Kind != domain.JobKindIdentityResolution {
		t.Errorf("handle kind should come from the stage, got %q", got.PendingJob.Kind)
	}

	// До наступления next_wake_at ничего не происходит
	if n := f.orch.tick(context.Background()); n != 0 {
		t.Errorf("execution should not be due yet, claimed %d", n)
	}

	// Два pending и один succeeded: N+1 poll
	f.wake()
	f.wake()
	f.wake()

	got = f.get(t, exec.ID)
	if got.Status != domain.ExecutionStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", got.Status, got.Error)
	}
	if invokes, polls := f.svc.counts(); invokes != 1 || polls != 3 {
		t.Errorf("expected 1 invoke and 3 polls, got %d and %d", invokes, polls)
	}
	if !got.Context.IsSealed(engine.StageIdentityResolution) {
		t.Error("stage key should be sealed")
	}
	out, _ := got.Context.Output(engine.StageIdentityResolution)
	if out["jobId"] != "job-identity_resolution" || out["status"] != "ACTIVE" {
		t.Errorf("unexpected stage output %v", out)
	}
	if got.LastStage != engine.StageIdentityResolution || got.NextWakeAt != nil || got.LeaseUntil != nil {
		t.Errorf("terminal record not cleaned up: %+v", got)
	}
	if len(f.pub.finished) != 1 || f.pub.finished[0] != domain.ExecutionStatusSucceeded {
		t.Errorf("expected one execution.finished event, got %v", f.pub.finished)
	}
}

func TestOrchestrator_EmptyPipelineSucceeds(t *testing.T) {
	empty, err := engine.BuildIntegration(engine.Flags{}, engine.Services{}, engine.Finalizers{}, engine.Options{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	f := newFixture(t, empty)
	exec := f.start(t, domain.PipelineIntegration)

	f.orch.tick(context.Background())

	if got := f.get(t, exec.ID); got.Status != domain.ExecutionStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", got.Status)
	}
}

func TestOrchestrator_SkipGate(t *testing.T) {
	svc := &service{result: domain.InvokeResult{Skipped: true, Completed: true}}
	segment, err := engine.BuildSegment(svc, nil, engine.Options{PollInterval: interval})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	f := newFixture(t, segment)
	exec := f.start(t, domain.PipelineSegment)

	f.orch.tick(context.Background())

	got := f.get(t, exec.ID)
	if got.Status != domain.ExecutionStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", got.Status, got.Error)
	}
	if _, polls := svc.counts(); polls != 0 {
		t.Errorf("skip must not poll, got %d polls", polls)
	}
	out, _ := got.Context.Output(engine.StageBatchInference)
	if out["skipped"] != true {
		t.Errorf("skip should be recorded in context, got %v", out)
	}
}

func TestOrchestrator_JobFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.script = []pollResponse{{state: domain.JobPending}, {state: domain.JobFailed}}
	exec := f.start(t, domain.PipelineIntegration)

	f.orch.tick(context.Background())
	f.wake()
	f.wake()

	got := f.get(t, exec.ID)
	if got.Status != domain.ExecutionStatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.FailedStage != engine.StageIdentityResolution {
		t.Errorf("expected failed stage identity_resolution, got %q", got.FailedStage)
	}
	if !strings.Contains(got.Error, "quota exceeded") {
		t.Errorf("failure reason should be kept, got %q", got.Error)
	}

	// Терминальный execution больше не продвигается
	if n := f.wake(); n != 0 {
		t.Errorf("failed execution must not be claimed, got %d", n)
	}
}

func TestOrchestrator_TransientPollNeverFails(t *testing.T) {
	f := newFixture(t)
	reset := engine.Transient(errors.New("connection reset"))
	f.svc.script = []pollResponse{{err: reset}, {err: reset}, {err: reset}}
	exec := f.start(t, domain.PipelineIntegration)

	f.orch.tick(context.Background())
	for i := 0; i < 3; i++ {
		f.wake()
		if got := f.get(t, exec.ID); got.Status != domain.ExecutionStatusRunning {
			t.Fatalf("transient error must not fail execution, got %s", got.Status)
		}
	}

	f.wake()
	if got := f.get(t, exec.ID); got.Status != domain.ExecutionStatusSucceeded {
		t.Errorf("expected SUCCEEDED after recovery, got %s", got.Status)
	}
}

func TestOrchestrator_InvokeFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.invokeErr = errors.New("status 400")
	exec := f.start(t, domain.PipelineIntegration)

	f.orch.tick(context.Background())

	got := f.get(t, exec.ID)
	if got.Status != domain.ExecutionStatusFailed || got.FailedStage != engine.StageIdentityResolution {
		t.Errorf("expected FAILED at identity_resolution, got %s at %q", got.Status, got.FailedStage)
	}
	if !strings.Contains(got.Error, engine.ErrInvocation.Error()) {
		t.Errorf("expected invocation error, got %q", got.Error)
	}
}

// --- Restart Tests ---

func TestOrchestrator_ResumesAfterRestart(t *testing.T) {
	f := newFixture(t)
	f.svc.script = []pollResponse{{state: domain.JobPending}}
	exec := f.start(t, domain.PipelineIntegration)

	f.orch.tick(context.Background())
	f.wake()

	// Новый процесс с тем же хранилищем
	f.orch = f.newOrchestrator(identityPipeline(t, f.svc))
	f.wake()

	got := f.get(t, exec.ID)
	if got.Status != domain.ExecutionStatusSucceeded {
		t.Fatalf("expected SUCCEEDED after restart, got %s", got.Status)
	}
	if invokes, _ := f.svc.counts(); invokes != 1 {
		t.Errorf("restart must not re-invoke, got %d invokes", invokes)
	}
}

func TestOrchestrator_InvokeIndeterminate(t *testing.T) {
	f := newFixture(t)
	exec := f.start(t, domain.PipelineIntegration)

	// Процесс упал после записи маркера, но до записи handle
	stored := f.get(t, exec.ID)
	stored.MarkRunning(f.clock.Now())
	stored.EnterStage(engine.StageIdentityResolution)
	stored.Invoking = true
	if err := f.store.Update(context.Background(), stored); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	f.orch.tick(context.Background())

	got := f.get(t, exec.ID)
	if got.Status != domain.ExecutionStatusFailed || !strings.Contains(got.Error, ErrInvokeIndeterminate.Error()) {
		t.Errorf("expected indeterminate failure, got %s %q", got.Status, got.Error)
	}
	if invokes, _ := f.svc.counts(); invokes != 0 {
		t.Errorf("indeterminate stage must not be re-invoked, got %d", invokes)
	}
}

func TestOrchestrator_TopologyChanged(t *testing.T) {
	f := newFixture(t)
	exec := f.start(t, domain.PipelineIntegration)

	stored := f.get(t, exec.ID)
	stored.MarkRunning(f.clock.Now())
	stored.EnterStage(engine.StageDatasetImport)
	stored.PendingJob = &domain.JobHandle{ID: "j", Kind: domain.JobKindDatasetImport}
	_ = f.store.Update(context.Background(), stored)

	f.orch.tick(context.Background())

	got := f.get(t, exec.ID)
	if got.Status != domain.ExecutionStatusFailed || !strings.Contains(got.Error, ErrTopologyChanged.Error()) {
		t.Errorf("expected topology failure, got %s %q", got.Status, got.Error)
	}
}

func TestOrchestrator_TopologyChangedBetweenStages(t *testing.T) {
	f := newFixture(t)
	exec := f.start(t, domain.PipelineIntegration)

	// Записанная позиция: dataset_import завершён, курсор на следующей стадии
	stored := f.get(t, exec.ID)
	stored.MarkRunning(f.clock.Now())
	stored.EnterStage(engine.StageDatasetImport)
	stored.Advance(0)
	_ = f.store.Update(context.Background(), stored)

	f.orch.tick(context.Background())

	got := f.get(t, exec.ID)
	if got.Status != domain.ExecutionStatusFailed || !strings.Contains(got.Error, ErrTopologyChanged.Error()) {
		t.Errorf("expected topology failure, got %s %q", got.Status, got.Error)
	}
	if invokes, _ := f.svc.counts(); invokes != 0 {
		t.Errorf("stage outside the recorded chain must not be invoked, got %d", invokes)
	}
}

func TestOrchestrator_StopLetsInvokeFinish(t *testing.T) {
	f := newFixture(t)
	g := newGate()
	f.orch = f.newOrchestrator(identityPipeline(t, &gatedService{service: f.svc, gate: g}))
	exec := f.start(t, domain.PipelineIntegration)

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.orch.tick(ctx)
	}()

	waitFor(t, g.entered, "invoke")
	stop()
	close(g.release)
	waitFor(t, done, "tick")

	got := f.get(t, exec.ID)
	if got.Invoking || got.PendingJob == nil {
		t.Fatalf("invoke result must be recorded after stop, invoking=%v pending=%v", got.Invoking, got.PendingJob)
	}

	// Новый процесс продолжает с записанного handle
	f.orch = f.newOrchestrator(identityPipeline(t, f.svc))
	f.wake()

	got = f.get(t, exec.ID)
	if got.Status != domain.ExecutionStatusSucceeded {
		t.Fatalf("expected SUCCEEDED after restart, got %s %q", got.Status, got.Error)
	}
	if invokes, polls := f.svc.counts(); invokes != 1 || polls != 1 {
		t.Errorf("expected 1 invoke and 1 poll, got %d and %d", invokes, polls)
	}
}

func TestOrchestrator_LeaseHeldDuringLongFinalizer(t *testing.T) {
	f := newFixture(t)
	g := newGate()
	calls := 0
	fin := engine.FinalizerFunc(func(ctx context.Context, _ engine.FinalizeRequest) (map[string]any, error) {
		calls++
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"published": true}, nil
	})
	p, err := engine.BuildIntegration(
		engine.Flags{IdentityResolution: true},
		engine.Services{IdentityResolution: f.svc},
		engine.Finalizers{IdentityResolution: fin},
		engine.Options{PollInterval: interval, Retry: engine.RetryPolicy{MaxAttempts: 1}},
	)
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}
	f.orch = f.newOrchestrator(p)
	f.orch.heartbeat = 5 * time.Millisecond
	exec := f.start(t, domain.PipelineIntegration)
	f.orch.tick(context.Background())

	f.clock.Advance(interval)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.orch.tick(context.Background())
	}()
	waitFor(t, g.entered, "finalizer")

	// Финализация длится дольше аренды
	f.clock.Advance(3 * time.Minute)
	deadline := time.Now().Add(5 * time.Second)
	for {
		stored := f.get(t, exec.ID)
		if stored.LeaseUntil != nil && stored.LeaseUntil.After(f.clock.Now()) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("lease was not extended")
		}
		time.Sleep(time.Millisecond)
	}

	replica := f.newOrchestrator(p)
	if n := replica.tick(context.Background()); n != 0 {
		t.Errorf("execution with a live lease must not be claimed, got %d", n)
	}

	close(g.release)
	waitFor(t, done, "tick")

	got := f.get(t, exec.ID)
	if got.Status != domain.ExecutionStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s %q", got.Status, got.Error)
	}
	if calls != 1 {
		t.Errorf("finalizer must run once, got %d", calls)
	}
	if got.LeaseUntil != nil {
		t.Errorf("lease must be released, got %v", got.LeaseUntil)
	}
}

// --- Service API Tests ---

func TestStartExecution_Idempotent(t *testing.T) {
	f := newFixture(t)
	trigger := domain.Trigger{Pipeline: domain.PipelineIntegration, IdempotencyKey: "batch-2026-03-01"}

	first, created, err := f.orch.StartExecution(context.Background(), trigger)
	if err != nil || !created {
		t.Fatalf("first start failed: %v", err)
	}
	second, created, err := f.orch.StartExecution(context.Background(), trigger)
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if created || second.ID != first.ID {
		t.Errorf("duplicate trigger should return existing execution")
	}
	if len(f.pub.pending) != 1 {
		t.Errorf("expected one execution.pending event, got %d", len(f.pub.pending))
	}
}

func TestStartExecution_UnknownPipeline(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.orch.StartExecution(context.Background(), domain.Trigger{Pipeline: "nope"})
	if !errors.Is(err, ErrUnknownPipeline) {
		t.Errorf("expected ErrUnknownPipeline, got %v", err)
	}
}

func TestStartExecution_KicksWithoutPublisher(t *testing.T) {
	f := newFixture(t)
	f.orch.publisher = nil

	f.start(t, domain.PipelineIntegration)

	select {
	case <-f.orch.kickCh:
	default:
		t.Error("expected local kick without publisher")
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	f.svc.script = []pollResponse{{state: domain.JobPending}}
	exec := f.start(t, domain.PipelineIntegration)
	f.orch.tick(context.Background())

	got, err := f.orch.Cancel(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got.Status != domain.ExecutionStatusFailed || got.Error != ErrCancelled.Error() {
		t.Errorf("expected cancelled FAILED, got %s %q", got.Status, got.Error)
	}
	if got.FailedStage != engine.StageIdentityResolution {
		t.Errorf("cancel should record current stage, got %q", got.FailedStage)
	}
	if got.Context.Len() != 1 {
		t.Error("context must be kept after cancel")
	}

	if n := f.wake(); n != 0 {
		t.Errorf("cancelled execution must not be claimed, got %d", n)
	}
	if _, polls := f.svc.counts(); polls != 0 {
		t.Errorf("cancelled execution must not be polled, got %d", polls)
	}

	if _, err := f.orch.Cancel(context.Background(), exec.ID); !errors.Is(err, ErrExecutionFinished) {
		t.Errorf("expected ErrExecutionFinished, got %v", err)
	}
	if _, err := f.orch.Cancel(context.Background(), uuid.New()); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCancel_InterruptsInFlightPoll(t *testing.T) {
	f := newFixture(t)
	g := newGate()
	f.orch = f.newOrchestrator(identityPipeline(t, &hangingPoller{service: f.svc, gate: g}))
	exec := f.start(t, domain.PipelineIntegration)
	f.orch.tick(context.Background())

	f.clock.Advance(interval)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.orch.tick(context.Background())
	}()
	waitFor(t, g.entered, "poll")

	if n := f.orch.ActiveCount(); n != 1 {
		t.Fatalf("expected 1 active execution during poll, got %d", n)
	}
	if _, err := f.orch.Cancel(context.Background(), exec.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	waitFor(t, done, "interrupted poll")

	got := f.get(t, exec.ID)
	if got.Status != domain.ExecutionStatusFailed || got.Error != ErrCancelled.Error() {
		t.Errorf("expected cancelled FAILED, got %s %q", got.Status, got.Error)
	}
	if n := f.orch.ActiveCount(); n != 0 {
		t.Errorf("expected no active executions, got %d", n)
	}
}

func TestList(t *testing.T) {
	f := newFixture(t)
	f.start(t, domain.PipelineIntegration)
	f.start(t, domain.PipelineIntegration)

	list, err := f.orch.List(context.Background(), repo.ExecutionFilter{Pipeline: domain.PipelineIntegration})
	if err != nil || len(list) != 2 {
		t.Errorf("expected 2 executions, got %d (%v)", len(list), err)
	}
}

// --- Handler Tests ---

func TestHandleTrigger(t *testing.T) {
	f := newFixture(t)
	msg := &mq.Message{
		ID:      "msg-1",
		Type:    mq.MessageTypeTrigger,
		Payload: map[string]any{"pipeline": domain.PipelineIntegration, "payload": map[string]any{"k": "v"}},
	}

	if err := f.orch.handleTrigger(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Повторная доставка того же сообщения
	if err := f.orch.handleTrigger(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, _ := f.store.List(context.Background(), repo.ExecutionFilter{})
	if len(list) != 1 {
		t.Fatalf("redelivery must not create a second execution, got %d", len(list))
	}
	if list[0].Trigger["k"] != "v" || list[0].IdempotencyKey != "mq_msg-1" {
		t.Errorf("unexpected execution %+v", list[0])
	}
}

func TestHandleTrigger_Rejects(t *testing.T) {
	f := newFixture(t)

	unknown := &mq.Message{ID: "m", Payload: map[string]any{"pipeline": "nope"}}
	if err := f.orch.handleTrigger(context.Background(), unknown); !errors.Is(err, mq.ErrReject) {
		t.Errorf("unknown pipeline should be rejected, got %v", err)
	}

	malformed := &mq.Message{ID: "m2", Payload: "not an object"}
	if err := f.orch.handleTrigger(context.Background(), malformed); !errors.Is(err, mq.ErrReject) {
		t.Errorf("malformed trigger should be rejected, got %v", err)
	}
}

// --- Lifecycle Tests ---

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	exec := f.start(t, domain.PipelineIntegration)

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := f.get(t, exec.ID); got.PendingJob != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	f.orch.Stop()

	if got := f.get(t, exec.ID); got.PendingJob == nil {
		t.Error("tick loop should invoke the first stage on start")
	}
	if !f.orch.IsStopped() {
		t.Error("orchestrator should report stopped")
	}
	if err := f.orch.Start(context.Background()); !errors.Is(err, ErrOrchestratorStopped) {
		t.Errorf("restart of stopped orchestrator should fail, got %v", err)
	}
}
