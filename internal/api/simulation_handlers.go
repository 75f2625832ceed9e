package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"piperoute-system/internal/domain"
	"piperoute-system/internal/export"
	"piperoute-system/internal/infrastructure"
	"piperoute-system/internal/report"
	"piperoute-system/internal/simulation"
	"piperoute-system/pkg/stress"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxModelSize = 10 << 20

func (s *Server) onComplete(res simulation.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = &res
	s.model.Pipes = domain.ClonePipes(res.Pipes)
}

func (s *Server) control(action string) error {
	switch action {
	case "pause":
		s.stepper.Pause()
	case "resume":
		s.stepper.Resume()
	case "step":
		if !s.stepper.Step() {
			return errNoActiveSimulation
		}
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return nil
}

var errNoActiveSimulation = errors.New("no active simulation")

// Model handlers
func (s *Server) uploadModel(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(io.LimitReader(r.Body, maxModelSize))
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var model *domain.PipeModel
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		model, err = s.reader.ReadYAML(content)
	default:
		model, err = s.reader.ReadJSON(content)
	}
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stepper.State().Running {
		s.respondWithError(w, http.StatusConflict, "Model cannot change while a simulation is running")
		return
	}
	s.model = model

	s.logger.Info("Pipe model loaded",
		zap.Int("pipes", len(model.Pipes)),
		zap.Float64("length", model.Stats.Length))
	s.respondWithJSON(w, http.StatusOK, model)
}

func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	model := *s.model
	s.mu.RUnlock()

	if s.stepper.State().Running {
		model.Pipes = s.stepper.Pipes()
	} else {
		model.Pipes = domain.ClonePipes(model.Pipes)
	}

	s.respondWithJSON(w, http.StatusOK, model)
}

func (s *Server) editPipe(w http.ResponseWriter, r *http.Request) {
	pipeID := mux.Vars(r)["id"]

	var edit domain.PipeEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validator.Struct(edit); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stepper.State().Running {
		s.respondWithError(w, http.StatusConflict, "Pipes cannot be edited while a simulation is running")
		return
	}

	for _, p := range s.model.Pipes {
		if p.ID != pipeID {
			continue
		}
		edit.Apply(p)
		s.model.Stats = infrastructure.Stats(s.model.Pipes)
		s.respondWithJSON(w, http.StatusOK, p)
		return
	}

	s.respondWithError(w, http.StatusNotFound, "Pipe not found")
}

// decodeStartRequest validates a start payload. Pipes default to the
// loaded model when the request carries none.
func (s *Server) decodeStartRequest(r *http.Request) (simulation.Config, error) {
	var req domain.StartSimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return simulation.Config{}, fmt.Errorf("invalid request body: %w", err)
	}
	if err := s.validator.Struct(req); err != nil {
		return simulation.Config{}, err
	}

	for _, p := range req.Pipes {
		if p != nil {
			infrastructure.Normalize(p)
		}
	}

	cfg := simulation.Config{
		AnalysisType:       stress.AnalysisType(req.AnalysisType),
		OperatingCondition: stress.OperatingCondition(req.OperatingCondition),
		Pipes:              req.Pipes,
	}
	return cfg, nil
}

// Simulation handlers
func (s *Server) startSimulation(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.decodeStartRequest(r)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	model := s.model
	if cfg.Pipes != nil {
		model = &domain.PipeModel{
			Pipes:           cfg.Pipes,
			Stats:           infrastructure.Stats(cfg.Pipes),
			Recommendations: s.model.Recommendations,
		}
	}
	cfg.Pipes = domain.ClonePipes(model.Pipes)
	runID, err := s.stepper.Start(cfg)
	if err == nil {
		// request pipes replace the loaded model only once the run is accepted
		s.model = model
		s.last = nil
	}
	s.mu.Unlock()

	switch {
	case errors.Is(err, simulation.ErrSimulationActive):
		s.respondWithError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, simulation.ErrInvalidConfig):
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondWithJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"state":  s.stepper.State(),
	})
}

func (s *Server) pauseSimulation(w http.ResponseWriter, r *http.Request) {
	s.stepper.Pause()
	s.respondWithJSON(w, http.StatusOK, s.stepper.State())
}

func (s *Server) resumeSimulation(w http.ResponseWriter, r *http.Request) {
	s.stepper.Resume()
	s.respondWithJSON(w, http.StatusOK, s.stepper.State())
}

func (s *Server) stepSimulation(w http.ResponseWriter, r *http.Request) {
	if !s.stepper.Step() {
		s.respondWithError(w, http.StatusConflict, errNoActiveSimulation.Error())
		return
	}
	s.respondWithJSON(w, http.StatusOK, s.stepper.State())
}

// resetSimulation cancels the live run. Pipes keep the stress they reached.
func (s *Server) resetSimulation(w http.ResponseWriter, r *http.Request) {
	wasRunning := s.stepper.State().Running
	s.stepper.Stop()

	if wasRunning {
		s.mu.Lock()
		s.model.Pipes = s.stepper.Pipes()
		s.mu.Unlock()
	}

	s.respondWithJSON(w, http.StatusOK, s.stepper.State())
}

func (s *Server) simulationState(w http.ResponseWriter, r *http.Request) {
	state := s.stepper.State()
	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"state":            state,
		"progress_percent": state.Progress() * 100,
		"warnings":         len(s.stepper.Warnings()),
	})
}

func (s *Server) simulationSummary(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, s.stepper.Summary())
}

func (s *Server) simulationHistory(w http.ResponseWriter, r *http.Request) {
	history := s.stepper.History()
	if history == nil {
		history = []domain.SimulationRecord{}
	}
	s.respondWithJSON(w, http.StatusOK, history)
}

func (s *Server) historyCSV(w http.ResponseWriter, r *http.Request) {
	csv, warnings := s.history.CSV(s.stepper.History())
	w.Header().Set("X-Export-Warnings", strconv.Itoa(len(warnings)))
	s.respondWithFile(w, "text/csv", "stress_analysis_history.csv", []byte(csv))
}

func (s *Server) lastResult() (*simulation.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.last != nil
}

func (s *Server) simulationReport(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lastResult()
	if !ok {
		s.respondWithError(w, http.StatusNotFound, "No completed simulation")
		return
	}
	s.respondWithJSON(w, http.StatusOK, res.Report)
}

func (s *Server) reportCSV(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lastResult()
	if !ok {
		s.respondWithError(w, http.StatusNotFound, "No completed simulation")
		return
	}
	csv, err := export.ReportCSV(res.Report)
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondWithFile(w, "text/csv", "stress_analysis_report.csv", []byte(csv))
}

func (s *Server) reportWorkbook(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lastResult()
	if !ok {
		s.respondWithError(w, http.StatusNotFound, "No completed simulation")
		return
	}
	buf, err := s.history.Workbook(res.Report, res.History)
	if err != nil {
		s.logger.Error("Failed to build workbook", zap.String("run_id", res.RunID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to build workbook")
		return
	}
	s.respondWithFile(w,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"stress_analysis_report.xlsx", buf.Bytes())
}

func (s *Server) criticalPoints(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lastResult()
	if !ok {
		s.respondWithError(w, http.StatusNotFound, "No completed simulation")
		return
	}
	in := report.FromPipes(res.State.AnalysisType, res.State.OperatingCondition, res.Pipes)
	s.respondWithJSON(w, http.StatusOK, report.AssessPipes(in.Pipes))
}
