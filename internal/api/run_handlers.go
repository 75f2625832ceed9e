package api

import (
	"errors"
	"net/http"

	"piperoute-system/internal/domain"
	"piperoute-system/internal/repository"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Batch run handlers
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.decodeStartRequest(r)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	pipes := cfg.Pipes
	if pipes == nil {
		s.mu.RLock()
		pipes = domain.ClonePipes(s.model.Pipes)
		s.mu.RUnlock()
	}
	if len(pipes) == 0 {
		s.respondWithError(w, http.StatusBadRequest, "Run needs at least one pipe")
		return
	}

	run := &domain.SimulationRun{
		Status:             domain.RunStatusPending,
		AnalysisType:       cfg.AnalysisType,
		OperatingCondition: cfg.OperatingCondition,
		Pipes:              pipes,
	}

	ctx := r.Context()
	if err := s.runRepo.CreateRun(ctx, run); err != nil {
		s.logger.Error("Failed to create run", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to create run")
		return
	}

	if err := s.msgClient.PublishRun(ctx, run.ID); err != nil {
		// the run stays pending and can be requeued
		s.logger.Error("Failed to publish run", zap.String("run_id", run.ID), zap.Error(err))
	}

	s.respondWithJSON(w, http.StatusCreated, run)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.findRun(w, r)
	if !ok {
		return
	}
	s.respondWithJSON(w, http.StatusOK, run)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	runs, err := s.runRepo.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list runs", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch runs")
		return
	}
	if runs == nil {
		runs = []domain.SimulationRun{}
	}

	response := map[string]any{
		"runs":  runs,
		"count": len(runs),
		"limit": limit,
	}

	s.respondWithJSON(w, http.StatusOK, response)
}

func (s *Server) getRunReport(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	stored, err := s.reportRepo.GetReportByRun(r.Context(), runID)
	if errors.Is(err, repository.ErrNotFound) {
		s.respondWithError(w, http.StatusNotFound, "Report not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to get report", zap.String("run_id", runID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch report")
		return
	}

	s.respondWithJSON(w, http.StatusOK, stored)
}

func (s *Server) getRunCSV(w http.ResponseWriter, r *http.Request) {
	run, ok := s.findRun(w, r)
	if !ok {
		return
	}
	if run.Status != domain.RunStatusSuccess {
		s.respondWithError(w, http.StatusConflict, "Run has not completed")
		return
	}
	s.respondWithFile(w, "text/csv", "stress_analysis_"+run.ID+".csv", []byte(run.CSV))
}

func (s *Server) findRun(w http.ResponseWriter, r *http.Request) (*domain.SimulationRun, bool) {
	runID := mux.Vars(r)["id"]

	run, err := s.runRepo.GetRun(r.Context(), runID)
	if errors.Is(err, repository.ErrNotFound) {
		s.respondWithError(w, http.StatusNotFound, "Run not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("Failed to get run", zap.String("run_id", runID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch run")
		return nil, false
	}
	return run, true
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	reports, err := s.reportRepo.ListReports(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list reports", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch reports")
		return
	}
	if reports == nil {
		reports = []domain.StoredReport{}
	}

	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"count":   len(reports),
		"limit":   limit,
	})
}
