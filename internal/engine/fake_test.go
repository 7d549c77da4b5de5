package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// pollStep — один заскриптованный ответ poll.
type pollStep struct {
	result domain.PollResult
	err    error
}

func pending() pollStep { return pollStep{result: domain.PollResult{State: domain.JobPending}} }

func succeeded(fields map[string]any) pollStep {
	return pollStep{result: domain.PollResult{State: domain.JobSucceeded, Fields: fields}}
}

func failed(reason string) pollStep {
	return pollStep{result: domain.PollResult{State: domain.JobFailed, FailureReason: reason}}
}

func transient() pollStep {
	return pollStep{err: Transient(errors.New("connection reset"))}
}

// fakeService — Service со скриптом poll. После окончания скрипта
// poll возвращает succeeded.
type fakeService struct {
	mu sync.Mutex

	name      string
	kind      domain.JobKind
	invokeErr error
	result    *domain.InvokeResult
	script    []pollStep

	invokes  []InvokeRequest
	polls    int
	handles  []domain.JobHandle
	callLog  *[]string
	finished map[string]any
}

func newFakeService(name string, kind domain.JobKind, script ...pollStep) *fakeService {
	return &fakeService{name: name, kind: kind, script: script}
}

func (f *fakeService) Invoke(_ context.Context, req InvokeRequest) (domain.InvokeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.invokes = append(f.invokes, req)
	if f.callLog != nil {
		*f.callLog = append(*f.callLog, "invoke:"+f.name)
	}
	if f.invokeErr != nil {
		return domain.InvokeResult{}, f.invokeErr
	}
	if f.result != nil {
		return *f.result, nil
	}
	return domain.InvokeResult{
		Handle: domain.JobHandle{ID: f.name + "-job", Kind: f.kind},
		Fields: map[string]any{"accepted": true},
	}, nil
}

func (f *fakeService) Poll(_ context.Context, h domain.JobHandle) (domain.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.polls++
	f.handles = append(f.handles, h)
	if f.callLog != nil {
		*f.callLog = append(*f.callLog, "poll:"+f.name)
	}
	if len(f.script) == 0 {
		fields := f.finished
		if fields == nil {
			fields = map[string]any{"outputLocation": "s3://bucket/" + f.name}
		}
		return domain.PollResult{State: domain.JobSucceeded, Fields: fields}, nil
	}
	step := f.script[0]
	f.script = f.script[1:]
	return step.result, step.err
}

func (f *fakeService) invokeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invokes)
}

func (f *fakeService) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// fakeServices — полный набор сервисов с общим журналом вызовов.
type fakeServices struct {
	ir, imp, train, version, batch *fakeService
	log                            []string
}

func newFakeServices() *fakeServices {
	fs := &fakeServices{
		ir:      newFakeService(StageIdentityResolution, domain.JobKindIdentityResolution),
		imp:     newFakeService(StageDatasetImport, domain.JobKindDatasetImport),
		train:   newFakeService(StageTrainModel, domain.JobKindModelTraining),
		version: newFakeService(StageVersionModel, domain.JobKindModelVersion),
		batch:   newFakeService(StageBatchInference, domain.JobKindBatchInference),
	}
	for _, s := range fs.all() {
		s.callLog = &fs.log
	}
	return fs
}

func (fs *fakeServices) all() []*fakeService {
	return []*fakeService{fs.ir, fs.imp, fs.train, fs.version, fs.batch}
}

func (fs *fakeServices) services() Services {
	return Services{
		IdentityResolution: fs.ir,
		DatasetImport:      fs.imp,
		TrainModel:         fs.train,
		VersionModel:       fs.version,
		BatchInference:     fs.batch,
	}
}

func (fs *fakeServices) totalPolls() int {
	n := 0
	for _, s := range fs.all() {
		n += s.pollCount()
	}
	return n
}

func (fs *fakeServices) totalInvokes() int {
	n := 0
	for _, s := range fs.all() {
		n += s.invokeCount()
	}
	return n
}

// recordingSleep не ждёт, а только записывает запрошенные паузы.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
