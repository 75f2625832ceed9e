package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
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
	"github.com/xuri/excelize/v2"
)

type fakeRunRepo struct {
	mu   sync.Mutex
	runs map[string]*domain.SimulationRun
	next int
}

func (f *fakeRunRepo) CreateRun(_ context.Context, run *domain.SimulationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	run.ID = fmt.Sprintf("run-%d", f.next)
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
	return run, nil
}

func (f *fakeRunRepo) UpdateRun(context.Context, string, map[string]any) error { return nil }

func (f *fakeRunRepo) ListRuns(_ context.Context, limit int) ([]domain.SimulationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SimulationRun
	for _, r := range f.runs {
		out = append(out, *r)
	}
	return out, nil
}

type fakeReportRepo struct {
	reports map[string]*domain.StoredReport
}

func (f *fakeReportRepo) CreateReport(_ context.Context, rep *domain.StoredReport) error {
	f.reports[rep.RunID] = rep
	return nil
}

func (f *fakeReportRepo) GetReportByRun(_ context.Context, runID string) (*domain.StoredReport, error) {
	rep, ok := f.reports[runID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rep, nil
}

func (f *fakeReportRepo) ListReports(context.Context, int) ([]domain.StoredReport, error) {
	out := []domain.StoredReport{}
	for _, r := range f.reports {
		out = append(out, *r)
	}
	return out, nil
}

type fakeMsgClient struct {
	mu        sync.Mutex
	published []string
}

func (f *fakeMsgClient) PublishRun(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, runID)
	return nil
}

func (f *fakeMsgClient) SubscribeToRuns(context.Context, func(string)) error    { return nil }
func (f *fakeMsgClient) PublishSnapshot(context.Context, domain.Snapshot) error { return nil }
func (f *fakeMsgClient) HealthCheck() error                                     { return nil }
func (f *fakeMsgClient) Close() error                                           { return nil }

type testEnv struct {
	server  *Server
	sched   *simulation.ManualScheduler
	runs    *fakeRunRepo
	reports *fakeReportRepo
	msg     *fakeMsgClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		sched:   simulation.NewManualScheduler(),
		runs:    &fakeRunRepo{runs: map[string]*domain.SimulationRun{}},
		reports: &fakeReportRepo{reports: map[string]*domain.StoredReport{}},
		msg:     &fakeMsgClient{},
	}
	cfg := &config.Config{
		ServerPort:         ":0",
		TickInterval:       80 * time.Millisecond,
		TransitionDuration: 300 * time.Millisecond,
	}
	env.server = NewServer(env.runs, env.reports, env.msg, cfg,
		WithScheduler(env.sched),
		WithNoise(stress.Zero))
	return env
}

func (e *testEnv) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

const modelJSON = `{"pipes": [
  {"id": "p1", "name": "Intake", "start": {"x": 0, "y": 0, "z": 0}, "end": {"x": 1, "y": 0, "z": 0}, "radius": 0.1},
  {"id": "p2", "name": "Return", "start": {"x": 1, "y": 0, "z": 0}, "end": {"x": 1, "y": 2, "z": 0}, "material": "rubber"}
]}`

func (e *testEnv) loadModel(t *testing.T) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/model", "application/json", modelJSON)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (e *testEnv) start(t *testing.T, analysis, condition string) {
	t.Helper()
	body := fmt.Sprintf(`{"analysis_type":%q,"operating_condition":%q}`, analysis, condition)
	rec := e.do(t, http.MethodPost, "/api/v1/simulation/start", "application/json", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/nothing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadAndGetModel(t *testing.T) {
	env := newTestEnv(t)
	env.loadModel(t)

	rec := env.do(t, http.MethodGet, "/api/v1/model", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var model domain.PipeModel
	decode(t, rec, &model)
	require.Len(t, model.Pipes, 2)
	assert.Equal(t, stress.Rubber, model.Pipes[1].Material)
	assert.Equal(t, 3.0, model.Stats.Length)
	assert.Equal(t, 1, model.Stats.Bends)
}

func TestUploadYAMLModel(t *testing.T) {
	env := newTestEnv(t)
	body := "pipes:\n  - id: y1\n    name: Yaml Pipe\n    start: {x: 0, y: 0, z: 0}\n    end: {x: 0, y: 0, z: 4}\n"
	rec := env.do(t, http.MethodPost, "/api/v1/model", "application/x-yaml", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var model domain.PipeModel
	decode(t, rec, &model)
	require.Len(t, model.Pipes, 1)
	assert.Equal(t, "y1", model.Pipes[0].ID)
}

func TestUploadInvalidModel(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/model", "application/json", `{"pipes": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/simulation/start", "application/json",
		`{"analysis_type":"pressure","operating_condition":"normal"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no pipes loaded")

	env.loadModel(t)
	rec = env.do(t, http.MethodPost, "/api/v1/simulation/start", "application/json",
		`{"analysis_type":"acoustic","operating_condition":"normal"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/simulation/start", "application/json", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEditsRejectedWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	env.loadModel(t)
	env.start(t, "pressure", "normal")

	rec := env.do(t, http.MethodPost, "/api/v1/simulation/start", "application/json",
		`{"analysis_type":"thermal","operating_condition":"normal"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/model/pipes/p1", "application/json", `{"radius":0.2}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/model", "application/json", modelJSON)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEditPipe(t *testing.T) {
	env := newTestEnv(t)
	env.loadModel(t)

	rec := env.do(t, http.MethodPut, "/api/v1/model/pipes/p2", "application/json",
		`{"radius":0.05,"material":"copper","end":{"x":1,"y":4,"z":0}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var p domain.PipeSegment
	decode(t, rec, &p)
	assert.Equal(t, 0.05, p.Radius)
	assert.Equal(t, stress.Copper, p.Material)

	var model domain.PipeModel
	decode(t, env.do(t, http.MethodGet, "/api/v1/model", "", ""), &model)
	assert.Equal(t, 5.0, model.Stats.Length)

	rec = env.do(t, http.MethodPut, "/api/v1/model/pipes/zzz", "application/json", `{"radius":0.2}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/model/pipes/p1", "application/json", `{"material":"glass"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/model/pipes/p1", "application/json", `{"radius":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFullRunAndExports(t *testing.T) {
	env := newTestEnv(t)
	env.loadModel(t)

	rec := env.do(t, http.MethodGet, "/api/v1/simulation/report", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.start(t, "pressure", "extreme")
	env.sched.Advance(domain.TotalSteps)

	var state struct {
		State           domain.SimulationState `json:"state"`
		ProgressPercent float64                `json:"progress_percent"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/simulation/state", "", ""), &state)
	assert.False(t, state.State.Running)
	assert.Equal(t, domain.TotalSteps, state.State.CurrentStep)
	assert.Equal(t, 100.0, state.ProgressPercent)

	var rep domain.Report
	rec = env.do(t, http.MethodGet, "/api/v1/simulation/report", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &rep)
	assert.Contains(t, rep.Summary, "Analysis completed for 2 pipe segments under extreme conditions.")
	assert.Equal(t, "Weekly inspection of critical points", rep.MaintenanceSchedule[0])

	rec = env.do(t, http.MethodGet, "/api/v1/simulation/history.csv", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, "0", rec.Header().Get("X-Export-Warnings"))
	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	assert.Len(t, lines, 1+domain.TotalSteps*2)

	rec = env.do(t, http.MethodGet, "/api/v1/simulation/report.csv", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Section,Content\n"))

	rec = env.do(t, http.MethodGet, "/api/v1/simulation/report.xlsx", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []string{"Report", "History"}, f.GetSheetList())
	f.Close()

	rec = env.do(t, http.MethodGet, "/api/v1/simulation/critical-points", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var points []domain.CriticalPoint
	decode(t, rec, &points)
	for _, p := range points {
		assert.Greater(t, p.Stress, stress.ElevatedThreshold)
	}

	var summary simulation.Summary
	decode(t, env.do(t, http.MethodGet, "/api/v1/simulation/summary", "", ""), &summary)
	assert.Equal(t, domain.TotalSteps, summary.Steps)
	assert.Len(t, summary.Pipes, 2)

	var model domain.PipeModel
	decode(t, env.do(t, http.MethodGet, "/api/v1/model", "", ""), &model)
	assert.Equal(t, summary.Pipes[0].Final, model.Pipes[0].Stress)
}

func TestPauseResumeStep(t *testing.T) {
	env := newTestEnv(t)
	env.loadModel(t)

	rec := env.do(t, http.MethodPost, "/api/v1/simulation/step", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.start(t, "thermal", "normal")
	env.sched.Advance(5)

	var state domain.SimulationState
	decode(t, env.do(t, http.MethodPost, "/api/v1/simulation/pause", "", ""), &state)
	assert.True(t, state.Paused)

	env.sched.Advance(5)
	decode(t, env.do(t, http.MethodPost, "/api/v1/simulation/step", "", ""), &state)
	assert.Equal(t, 6, state.CurrentStep)
	assert.True(t, state.Paused)

	decode(t, env.do(t, http.MethodPost, "/api/v1/simulation/resume", "", ""), &state)
	assert.False(t, state.Paused)
	env.sched.Advance(1)
	assert.Equal(t, 7, env.server.Stepper().State().CurrentStep)

	var history []domain.SimulationRecord
	decode(t, env.do(t, http.MethodGet, "/api/v1/simulation/history", "", ""), &history)
	assert.Len(t, history, 7)
}

func TestResetKeepsReachedStress(t *testing.T) {
	env := newTestEnv(t)
	env.loadModel(t)
	env.start(t, "pressure", "normal")
	env.sched.Advance(20)

	var state domain.SimulationState
	decode(t, env.do(t, http.MethodPost, "/api/v1/simulation/reset", "", ""), &state)
	assert.False(t, state.Running)

	var model domain.PipeModel
	decode(t, env.do(t, http.MethodGet, "/api/v1/model", "", ""), &model)
	assert.Greater(t, model.Pipes[0].Stress, 0.0)

	var history []domain.SimulationRecord
	decode(t, env.do(t, http.MethodGet, "/api/v1/simulation/history", "", ""), &history)
	assert.Empty(t, history)

	rec := env.do(t, http.MethodGet, "/api/v1/simulation/report", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/model/pipes/p1", "application/json", `{"reset_stress":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var p domain.PipeSegment
	decode(t, rec, &p)
	assert.Equal(t, 0.0, p.Stress)
}

func TestControlMessages(t *testing.T) {
	env := newTestEnv(t)
	env.loadModel(t)

	assert.Error(t, env.server.control("step"))
	env.start(t, "vibration", "normal")

	require.NoError(t, env.server.control("pause"))
	assert.True(t, env.server.Stepper().State().Paused)
	require.NoError(t, env.server.control("step"))
	assert.Equal(t, 1, env.server.Stepper().State().CurrentStep)
	require.NoError(t, env.server.control("resume"))
	assert.False(t, env.server.Stepper().State().Paused)
	assert.Error(t, env.server.control("explode"))
}

func TestRuns(t *testing.T) {
	env := newTestEnv(t)
	env.loadModel(t)

	rec := env.do(t, http.MethodPost, "/api/v1/runs", "application/json",
		`{"analysis_type":"combined","operating_condition":"high-load"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var run domain.SimulationRun
	decode(t, rec, &run)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, domain.RunStatusPending, run.Status)
	assert.Len(t, run.Pipes, 2)
	assert.Equal(t, []string{"run-1"}, env.msg.published)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/run-1", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/run-9", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/run-1/csv", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/run-1/report", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.runs.runs["run-1"].Status = domain.RunStatusSuccess
	env.runs.runs["run-1"].CSV = "Step,Time\n"
	rec = env.do(t, http.MethodGet, "/api/v1/runs/run-1/csv", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Step,Time\n", rec.Body.String())

	env.reports.reports["run-1"] = &domain.StoredReport{RunID: "run-1", Report: domain.Report{Summary: "done"}}
	rec = env.do(t, http.MethodGet, "/api/v1/runs/run-1/report", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"summary":"done"`)

	var list struct {
		Runs  []domain.SimulationRun `json:"runs"`
		Count int                    `json:"count"`
		Limit int                    `json:"limit"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/runs?limit=10", "", ""), &list)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, 10, list.Limit)

	rec = env.do(t, http.MethodGet, "/api/v1/reports", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestCreateRunWithoutPipes(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/runs", "application/json",
		`{"analysis_type":"combined","operating_condition":"normal"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.msg.published)
}

func modelPipeIDs(t *testing.T, env *testEnv) []string {
	t.Helper()
	var model domain.PipeModel
	decode(t, env.do(t, http.MethodGet, "/api/v1/model", "", ""), &model)
	ids := make([]string, len(model.Pipes))
	for i, p := range model.Pipes {
		ids[i] = p.ID
	}
	return ids
}

func TestRejectedStartKeepsLoadedModel(t *testing.T) {
	env := newTestEnv(t)
	env.loadModel(t)

	body := `{"analysis_type":"pressure","operating_condition":"normal","pipes":[
	  {"id":"x","name":"A","start":{"x":0,"y":0,"z":0},"end":{"x":9,"y":0,"z":0},"radius":0.1},
	  {"id":"x","name":"B","start":{"x":0,"y":0,"z":0},"end":{"x":9,"y":0,"z":0},"radius":0.1}]}`
	rec := env.do(t, http.MethodPost, "/api/v1/simulation/start", "application/json", body)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	assert.Equal(t, []string{"p1", "p2"}, modelPipeIDs(t, env))
	assert.False(t, env.server.Stepper().State().Running)
}

func TestStartDuringRunKeepsLoadedModel(t *testing.T) {
	env := newTestEnv(t)
	env.loadModel(t)
	env.start(t, "pressure", "normal")

	body := `{"analysis_type":"thermal","operating_condition":"normal","pipes":[
	  {"id":"z","name":"Z","start":{"x":0,"y":0,"z":0},"end":{"x":100,"y":0,"z":0},"radius":0.1}]}`
	rec := env.do(t, http.MethodPost, "/api/v1/simulation/start", "application/json", body)
	require.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, []string{"p1", "p2"}, modelPipeIDs(t, env))

	env.server.Stepper().Stop()
	assert.Equal(t, []string{"p1", "p2"}, modelPipeIDs(t, env))
}

func TestStartWithRequestPipesReplacesModel(t *testing.T) {
	env := newTestEnv(t)
	env.loadModel(t)

	body := `{"analysis_type":"pressure","operating_condition":"normal","pipes":[
	  {"id":"q","name":"Q","start":{"x":0,"y":0,"z":0},"end":{"x":4,"y":0,"z":0},"radius":0.1,"material":"","stress":3}]}`
	rec := env.do(t, http.MethodPost, "/api/v1/simulation/start", "application/json", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	env.sched.Advance(domain.TotalSteps)

	var model domain.PipeModel
	decode(t, env.do(t, http.MethodGet, "/api/v1/model", "", ""), &model)
	require.Len(t, model.Pipes, 1)
	assert.Equal(t, "q", model.Pipes[0].ID)
	assert.Equal(t, stress.Steel, model.Pipes[0].Material)
	assert.Equal(t, 4.0, model.Stats.Length)

	rec = env.do(t, http.MethodGet, "/api/v1/simulation/history.csv", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	require.Len(t, lines, 1+domain.TotalSteps)
	assert.Contains(t, lines[1], ",steel")
}

