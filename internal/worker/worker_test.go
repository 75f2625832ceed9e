package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"piperoute-system/internal/config"
	"piperoute-system/internal/domain"
	"piperoute-system/internal/repository"
	"piperoute-system/internal/simulation"
	"piperoute-system/pkg/stress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunRepo struct {
	mu      sync.Mutex
	runs    map[string]*domain.SimulationRun
	updates []map[string]any
}

func newFakeRunRepo(runs ...*domain.SimulationRun) *fakeRunRepo {
	repo := &fakeRunRepo{runs: map[string]*domain.SimulationRun{}}
	for _, r := range runs {
		repo.runs[r.ID] = r
	}
	return repo
}

func (f *fakeRunRepo) CreateRun(_ context.Context, run *domain.SimulationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRunRepo) GetRun(_ context.Context, id string) (*domain.SimulationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, repository.ErrNotFound)
	}
	cp := *run
	return &cp, nil
}

func (f *fakeRunRepo) UpdateRun(_ context.Context, id string, updates map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updates)
	run, ok := f.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, repository.ErrNotFound)
	}
	for k, v := range updates {
		switch k {
		case "status":
			run.Status = v.(domain.RunStatus)
		case "error":
			run.Error = v.(string)
		case "csv":
			run.CSV = v.(string)
		case "attempt":
			run.Attempt = v.(int)
		case "worker_id":
			run.WorkerID = v.(string)
		case "report":
			rep := v.(domain.Report)
			run.Report = &rep
		case "completed_at":
			ts := v.(time.Time)
			run.CompletedAt = &ts
		}
	}
	return nil
}

func (f *fakeRunRepo) ListRuns(_ context.Context, _ int) ([]domain.SimulationRun, error) {
	return nil, nil
}

func (f *fakeRunRepo) get(id string) domain.SimulationRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.runs[id]
}

type fakeReportRepo struct {
	mu       sync.Mutex
	reports  []*domain.StoredReport
	failures int
}

func (f *fakeReportRepo) CreateReport(_ context.Context, rep *domain.StoredReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	f.reports = append(f.reports, rep)
	return nil
}

func (f *fakeReportRepo) GetReportByRun(_ context.Context, runID string) (*domain.StoredReport, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeReportRepo) ListReports(_ context.Context, _ int) ([]domain.StoredReport, error) {
	return nil, nil
}

type fakeMsgClient struct {
	mu      sync.Mutex
	handler func(string)
}

func (f *fakeMsgClient) PublishRun(context.Context, string) error { return nil }

func (f *fakeMsgClient) SubscribeToRuns(_ context.Context, handler func(string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return nil
}

func (f *fakeMsgClient) PublishSnapshot(context.Context, domain.Snapshot) error { return nil }
func (f *fakeMsgClient) HealthCheck() error                                     { return nil }
func (f *fakeMsgClient) Close() error                                           { return nil }

func testConfig() *config.Config {
	return &config.Config{
		RunTimeout:         5 * time.Second,
		MaxRetries:         3,
		TickInterval:       80 * time.Millisecond,
		TransitionDuration: 300 * time.Millisecond,
		WorkerCount:        1,
	}
}

func pendingRun(id string, pipes ...*domain.PipeSegment) *domain.SimulationRun {
	return &domain.SimulationRun{
		ID:                 id,
		Status:             domain.RunStatusPending,
		AnalysisType:       stress.Pressure,
		OperatingCondition: stress.Extreme,
		Pipes:              pipes,
	}
}

func segment(id string) *domain.PipeSegment {
	return &domain.PipeSegment{
		ID:       id,
		Name:     "Segment " + id,
		End:      domain.Point{X: 1},
		Radius:   0.1,
		Material: stress.Steel,
	}
}

func newTestWorker(runs *fakeRunRepo, reports *fakeReportRepo, opts ...Option) *Worker {
	opts = append([]Option{WithNoise(stress.Zero), WithRetryDelay(time.Millisecond)}, opts...)
	return NewWorker("worker-test", runs, reports, &fakeMsgClient{}, testConfig(), opts...)
}

func TestHandleRunSuccess(t *testing.T) {
	runs := newFakeRunRepo(pendingRun("run-1", segment("a"), segment("b")))
	reports := &fakeReportRepo{}
	w := newTestWorker(runs, reports)

	w.HandleRun("run-1")

	run := runs.get("run-1")
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Equal(t, "worker-test", run.WorkerID)
	require.NotNil(t, run.Report)
	assert.Contains(t, run.Report.Summary, "Analysis completed for 2 pipe segments under extreme conditions.")
	require.NotNil(t, run.CompletedAt)

	lines := strings.Split(strings.TrimRight(run.CSV, "\n"), "\n")
	assert.Len(t, lines, 1+domain.TotalSteps*2)
	assert.True(t, strings.HasPrefix(lines[0], "Step,Time,Analysis Type"))

	require.Len(t, reports.reports, 1)
	stored := reports.reports[0]
	assert.Equal(t, "run-1", stored.RunID)
	assert.Equal(t, stress.Pressure, stored.AnalysisType)
	assert.Len(t, stored.Pipes, 2)
	assert.Equal(t, *run.Report, stored.Report)

	stats := w.GetStats()
	assert.Equal(t, int64(1), stats["processed"])
	assert.Equal(t, int64(0), stats["failed"])
	assert.Equal(t, int32(0), stats["processing"])
}

func TestHandleRunDoesNotMutateStoredPipes(t *testing.T) {
	pipes := []*domain.PipeSegment{segment("a")}
	runs := newFakeRunRepo(pendingRun("run-1", pipes...))
	w := newTestWorker(runs, &fakeReportRepo{})

	w.HandleRun("run-1")

	assert.Equal(t, 0.0, pipes[0].Stress)
}

func TestHandleRunMissing(t *testing.T) {
	runs := newFakeRunRepo()
	w := newTestWorker(runs, &fakeReportRepo{})

	w.HandleRun("missing")

	assert.Len(t, runs.updates, 1, "not-found runs are not retried")
	assert.Equal(t, int64(1), w.GetStats()["failed"])
}

func TestHandleRunInvalidConfig(t *testing.T) {
	runs := newFakeRunRepo(pendingRun("run-empty"))
	reports := &fakeReportRepo{}
	w := newTestWorker(runs, reports)

	w.HandleRun("run-empty")

	run := runs.get("run-empty")
	assert.Equal(t, domain.RunStatusError, run.Status)
	assert.Contains(t, run.Error, "pipe list is empty")
	assert.Equal(t, 1, run.Attempt)
	assert.Empty(t, reports.reports)
	assert.Equal(t, int64(1), w.GetStats()["failed"])
}

func TestHandleRunRetriesTransientFailure(t *testing.T) {
	runs := newFakeRunRepo(pendingRun("run-1", segment("a")))
	reports := &fakeReportRepo{failures: 1}
	w := newTestWorker(runs, reports)

	w.HandleRun("run-1")

	run := runs.get("run-1")
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Equal(t, 2, run.Attempt)
	assert.Len(t, reports.reports, 1)
}

func TestHandleRunGivesUpAfterMaxRetries(t *testing.T) {
	runs := newFakeRunRepo(pendingRun("run-1", segment("a")))
	reports := &fakeReportRepo{failures: 10}
	w := newTestWorker(runs, reports)

	w.HandleRun("run-1")

	assert.Equal(t, 3, runs.get("run-1").Attempt)
	assert.NotEqual(t, domain.RunStatusSuccess, runs.get("run-1").Status)
	assert.Equal(t, int64(1), w.GetStats()["failed"])
}

func TestHandleRunForwardsSnapshots(t *testing.T) {
	var mu sync.Mutex
	var steps []int
	sink := simulation.SinkFunc(func(s domain.Snapshot) {
		mu.Lock()
		steps = append(steps, s.Step)
		mu.Unlock()
	})

	runs := newFakeRunRepo(pendingRun("run-1", segment("a")))
	w := newTestWorker(runs, &fakeReportRepo{}, WithSink(sink))

	w.HandleRun("run-1")

	require.Len(t, steps, 1+domain.TotalSteps)
	assert.Equal(t, 0, steps[0])
	assert.Equal(t, domain.TotalSteps, steps[len(steps)-1])
}

func TestStartAndStop(t *testing.T) {
	msg := &fakeMsgClient{}
	w := NewWorker("worker-test", newFakeRunRepo(), &fakeReportRepo{}, msg, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool {
		msg.mu.Lock()
		defer msg.mu.Unlock()
		return msg.handler != nil && w.IsRunning()
	}, time.Second, 5*time.Millisecond)

	w.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.False(t, w.IsRunning())
}

func TestHandleRunAfterShutdownLeavesRunPending(t *testing.T) {
	runs := newFakeRunRepo(pendingRun("run-1", segment("a")))
	msg := &fakeMsgClient{}
	w := NewWorker("worker-test", runs, &fakeReportRepo{}, msg, testConfig(), WithNoise(stress.Zero))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool {
		msg.mu.Lock()
		defer msg.mu.Unlock()
		return msg.handler != nil && w.IsRunning()
	}, time.Second, 5*time.Millisecond)

	w.Stop()
	require.NoError(t, <-done)

	msg.mu.Lock()
	handler := msg.handler
	msg.mu.Unlock()
	handler("run-1")

	run := runs.get("run-1")
	assert.Equal(t, domain.RunStatusPending, run.Status)
	assert.Equal(t, 0, run.Attempt)
	assert.Equal(t, int32(0), w.GetStats()["processing"])
}
