// worker/worker.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"piperoute-system/internal/config"
	"piperoute-system/internal/domain"
	"piperoute-system/internal/export"
	"piperoute-system/internal/messaging"
	"piperoute-system/internal/repository"
	"piperoute-system/internal/simulation"
	"piperoute-system/pkg/stress"

	"go.uber.org/zap"
)

var errRunNotCompleted = errors.New("simulation did not complete")

type Worker struct {
	id         string
	repo       repository.RunRepository
	reportRepo repository.ReportRepository
	msgClient  messaging.MessageClient
	cfg        *config.Config
	sink       simulation.Sink
	noise      stress.NoiseSource
	logger     *zap.Logger
	stopChan   chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	draining   bool
	isRunning  atomic.Bool
	processed  atomic.Int64
	failed     atomic.Int64
	processing atomic.Int32
	retryDelay time.Duration
}

type Option func(*Worker)

// WithSink forwards per-step snapshots of every executed run.
func WithSink(sink simulation.Sink) Option {
	return func(w *Worker) { w.sink = sink }
}

func WithNoise(noise stress.NoiseSource) Option {
	return func(w *Worker) { w.noise = noise }
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

func WithRetryDelay(d time.Duration) Option {
	return func(w *Worker) { w.retryDelay = d }
}

func NewWorker(id string, repo repository.RunRepository, reportRepo repository.ReportRepository,
	msgClient messaging.MessageClient, cfg *config.Config, opts ...Option) *Worker {

	w := &Worker{
		id:         id,
		repo:       repo,
		reportRepo: reportRepo,
		msgClient:  msgClient,
		cfg:        cfg,
		stopChan:   make(chan struct{}),
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	w.logger = w.logger.With(zap.String("worker_id", id))
	return w
}

func (w *Worker) Start(ctx context.Context) error {
	w.isRunning.Store(true)
	w.logger.Info("Worker starting")

	if err := w.msgClient.SubscribeToRuns(ctx, w.HandleRun); err != nil {
		return fmt.Errorf("failed to subscribe to runs: %w", err)
	}

	go w.runMonitor(ctx)

	<-w.stopChan
	w.mu.Lock()
	w.draining = true
	w.mu.Unlock()
	w.isRunning.Store(false)

	w.wg.Wait()

	w.logger.Info("Worker stopped",
		zap.Int64("processed", w.processed.Load()),
		zap.Int64("failed", w.failed.Load()))
	return nil
}

func (w *Worker) runMonitor(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.logger.Info("Worker stats", zap.Any("stats", w.GetStats()))
		case <-w.stopChan:
			return
		}
	}
}

// HandleRun executes one queued run to completion, retrying transient
// failures up to cfg.MaxRetries times.
func (w *Worker) HandleRun(runID string) {
	if !w.acquire() {
		w.logger.Warn("Worker shutting down, run left pending", zap.String("run_id", runID))
		return
	}
	w.processing.Add(1)

	defer func() {
		w.processing.Add(-1)
		w.wg.Done()
	}()

	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RunTimeout)
	defer cancel()

	err := w.processRunWithRetry(ctx, runID)

	duration := time.Since(start)
	if err != nil {
		w.logger.Error("Run failed",
			zap.String("run_id", runID),
			zap.Duration("duration", duration),
			zap.Error(err))
		w.failed.Add(1)
	} else {
		w.logger.Info("Run completed",
			zap.String("run_id", runID),
			zap.Duration("duration", duration))
		w.processed.Add(1)
	}
}

// acquire registers an in-flight run with wg. It fails once Start has
// begun waiting for in-flight runs.
func (w *Worker) acquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.draining {
		return false
	}
	w.wg.Add(1)
	return true
}

func (w *Worker) processRunWithRetry(ctx context.Context, runID string) error {
	maxRetries := w.cfg.MaxRetries

	for attempt := 1; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("run %s: %w", runID, ctx.Err())
		default:
		}

		err := w.processSingleRun(ctx, runID, attempt)
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, simulation.ErrInvalidConfig) {
			return err
		}

		if attempt == maxRetries {
			return fmt.Errorf("failed after %d attempts: %w", maxRetries, err)
		}

		w.logger.Warn("Retrying run",
			zap.String("run_id", runID),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))
		time.Sleep(time.Duration(attempt) * w.retryDelay)
	}

	return fmt.Errorf("max retries exceeded")
}

func (w *Worker) processSingleRun(ctx context.Context, runID string, attempt int) error {
	updateData := map[string]any{
		"status":    domain.RunStatusProcessing,
		"worker_id": w.id,
		"attempt":   attempt,
	}

	if err := w.repo.UpdateRun(ctx, runID, updateData); err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	run, err := w.repo.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	result, err := w.execute(run)
	if err != nil {
		w.updateRunError(ctx, runID, err, attempt)
		return fmt.Errorf("run execution failed: %w", err)
	}

	csv, warnings := export.NewHistoryWriter(w.logger).CSV(result.History)
	for _, warn := range warnings {
		w.logger.Warn("History export warning", zap.String("run_id", runID), zap.Error(warn))
	}

	err = w.reportRepo.CreateReport(ctx, &domain.StoredReport{
		RunID:              runID,
		AnalysisType:       run.AnalysisType,
		OperatingCondition: run.OperatingCondition,
		Report:             result.Report,
		Pipes:              finalSnapshots(result),
		CreatedAt:          time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to store report: %w", err)
	}

	return w.updateRunSuccess(ctx, runID, result, csv)
}

// execute drives a fresh stepper through all steps without waiting on the
// wall clock.
func (w *Worker) execute(run *domain.SimulationRun) (simulation.Result, error) {
	var (
		result simulation.Result
		done   bool
	)

	sched := simulation.NewManualScheduler()
	stepper := simulation.NewStepper(simulation.Options{
		Interval:           w.cfg.TickInterval,
		TransitionDuration: w.cfg.TransitionDuration,
		Scheduler:          sched,
		Noise:              w.noise,
		Sink:               w.sink,
		Logger:             w.logger,
		OnComplete: func(res simulation.Result) {
			result = res
			done = true
		},
	})

	_, err := stepper.Start(simulation.Config{
		AnalysisType:       run.AnalysisType,
		OperatingCondition: run.OperatingCondition,
		Pipes:              domain.ClonePipes(run.Pipes),
	})
	if err != nil {
		return simulation.Result{}, err
	}

	sched.Advance(domain.TotalSteps)

	if !done {
		stepper.Stop()
		return simulation.Result{}, errRunNotCompleted
	}
	return result, nil
}

func finalSnapshots(res simulation.Result) []domain.PipeSnapshot {
	if len(res.History) == 0 {
		return nil
	}
	return res.History[len(res.History)-1].Pipes
}

func (w *Worker) updateRunError(ctx context.Context, runID string, err error, attempt int) {
	errorData := map[string]any{
		"status":    domain.RunStatusError,
		"error":     err.Error(),
		"worker_id": w.id,
		"attempt":   attempt,
	}

	if updateErr := w.repo.UpdateRun(ctx, runID, errorData); updateErr != nil {
		w.logger.Warn("Failed to update error status",
			zap.String("run_id", runID),
			zap.Error(updateErr))
	}
}

func (w *Worker) updateRunSuccess(ctx context.Context, runID string, res simulation.Result, csv string) error {
	successData := map[string]any{
		"status":       domain.RunStatusSuccess,
		"report":       res.Report,
		"pipes":        res.Pipes,
		"csv":          csv,
		"error":        "",
		"completed_at": time.Now(),
		"worker_id":    w.id,
	}

	if err := w.repo.UpdateRun(ctx, runID, successData); err != nil {
		return fmt.Errorf("failed to update success status: %w", err)
	}

	return nil
}

func (w *Worker) Stop() {
	if w.isRunning.CompareAndSwap(true, false) {
		w.logger.Info("Stopping worker")
		close(w.stopChan)
	}
}

func (w *Worker) GetStats() map[string]any {
	return map[string]any{
		"id":         w.id,
		"running":    w.isRunning.Load(),
		"processed":  w.processed.Load(),
		"failed":     w.failed.Load(),
		"processing": w.processing.Load(),
	}
}

func (w *Worker) IsRunning() bool {
	return w.isRunning.Load()
}
