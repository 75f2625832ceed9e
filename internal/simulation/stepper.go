// Package simulation owns the stress simulation lifecycle: a fixed-cadence
// stepper that mutates pipe stress, records history and emits snapshots.
package simulation

import (
	"fmt"
	"sync"
	"time"

	"piperoute-system/internal/domain"
	"piperoute-system/internal/report"
	"piperoute-system/pkg/stress"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultInterval           = 80 * time.Millisecond
	DefaultTransitionDuration = 300 * time.Millisecond
)

// Sink receives one snapshot per tick. Publish is called with the stepper
// lock held and must not call back into the stepper.
type Sink interface {
	Publish(snap domain.Snapshot)
}

type SinkFunc func(domain.Snapshot)

func (f SinkFunc) Publish(snap domain.Snapshot) { f(snap) }

// MultiSink fans a snapshot out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Publish(snap domain.Snapshot) {
	for _, s := range m {
		if s != nil {
			s.Publish(snap)
		}
	}
}

// Result is handed to the completion callback once all steps ran.
type Result struct {
	RunID   string
	State   domain.SimulationState
	Report  domain.Report
	History []domain.SimulationRecord
	Pipes   []*domain.PipeSegment
}

type Config struct {
	AnalysisType       stress.AnalysisType
	OperatingCondition stress.OperatingCondition
	Pipes              []*domain.PipeSegment
}

type Options struct {
	Interval           time.Duration
	TransitionDuration time.Duration
	Scheduler          Scheduler
	Noise              stress.NoiseSource
	Sink               Sink
	OnComplete         func(Result)
	Logger             *zap.Logger
	Now                func() time.Time
}

// Stepper runs at most one simulation at a time. Every mutation of pipe
// stress and history happens under mu, so ticks never interleave.
type Stepper struct {
	mu       sync.Mutex
	opts     Options
	logger   *zap.Logger
	state    domain.SimulationState
	pipes    []*domain.PipeSegment
	history  []domain.SimulationRecord
	warnings []error
	stop     func()
	gen      uint64
}

func NewStepper(opts Options) *Stepper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.TransitionDuration <= 0 {
		opts.TransitionDuration = DefaultTransitionDuration
	}
	if opts.Scheduler == nil {
		opts.Scheduler = TickerScheduler{}
	}
	if opts.Noise == nil {
		opts.Noise = stress.NewUniformNoise(0)
	}
	if opts.Sink == nil {
		opts.Sink = SinkFunc(func(domain.Snapshot) {})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Stepper{
		opts:   opts,
		logger: opts.Logger,
		state:  domain.SimulationState{TotalSteps: domain.TotalSteps},
	}
}

func validate(cfg Config) error {
	if len(cfg.Pipes) == 0 {
		return &InvalidConfigError{Reason: "pipe list is empty"}
	}
	if !cfg.AnalysisType.Valid() {
		return &InvalidConfigError{Reason: fmt.Sprintf("unknown analysis type %q", cfg.AnalysisType)}
	}
	if !cfg.OperatingCondition.Valid() {
		return &InvalidConfigError{Reason: fmt.Sprintf("unknown operating condition %q", cfg.OperatingCondition)}
	}
	seen := make(map[string]struct{}, len(cfg.Pipes))
	for i, p := range cfg.Pipes {
		if p == nil || p.ID == "" {
			return &InvalidConfigError{Reason: fmt.Sprintf("pipe at index %d has no id", i)}
		}
		if _, dup := seen[p.ID]; dup {
			return &InvalidConfigError{Reason: fmt.Sprintf("duplicate pipe id %q", p.ID)}
		}
		seen[p.ID] = struct{}{}
		if !(p.Radius > 0) {
			return &InvalidConfigError{Reason: fmt.Sprintf("pipe %q has non-positive radius", p.ID)}
		}
	}
	return nil
}

// Start validates cfg, resets state and history, emits the 0% snapshot and
// begins the tick cadence. The pipes in cfg are mutated in place.
func (s *Stepper) Start(cfg Config) (string, error) {
	if err := validate(cfg); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Running {
		return "", ErrSimulationActive
	}

	s.gen++
	gen := s.gen
	s.pipes = cfg.Pipes
	s.history = make([]domain.SimulationRecord, 0, domain.TotalSteps)
	s.warnings = nil
	s.state = domain.SimulationState{
		RunID:              uuid.NewString(),
		Running:            true,
		TotalSteps:         domain.TotalSteps,
		AnalysisType:       cfg.AnalysisType,
		OperatingCondition: cfg.OperatingCondition,
	}

	s.logger.Info("Simulation started",
		zap.String("run_id", s.state.RunID),
		zap.String("analysis_type", string(cfg.AnalysisType)),
		zap.String("condition", string(cfg.OperatingCondition)),
		zap.Int("pipes", len(cfg.Pipes)))

	s.opts.Sink.Publish(s.snapshotLocked(false))
	s.stop = s.opts.Scheduler.Schedule(s.opts.Interval, func() { s.scheduledTick(gen) })

	return s.state.RunID, nil
}

// Pause suspends tick effects. The cadence keeps firing.
func (s *Stepper) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Running {
		s.state.Paused = true
	}
}

func (s *Stepper) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Running {
		s.state.Paused = false
	}
}

// Step forces exactly one effectful tick and leaves the stepper paused
// for frame-by-frame inspection. It reports whether a tick ran.
func (s *Stepper) Step() bool {
	s.mu.Lock()
	if !s.state.Running {
		s.mu.Unlock()
		return false
	}
	s.state.Paused = true
	result, done := s.advanceLocked()
	s.mu.Unlock()

	if done {
		s.complete(result)
	}
	return true
}

// Tick is the cadence entry point. It does nothing while paused or idle.
func (s *Stepper) Tick() {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.scheduledTick(gen)
}

func (s *Stepper) scheduledTick(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.state.Running || s.state.Paused {
		s.mu.Unlock()
		return
	}
	result, done := s.advanceLocked()
	s.mu.Unlock()

	if done {
		s.complete(result)
	}
}

// Stop cancels the active run: the cadence halts, history is discarded,
// no report is produced and pipe stress keeps its current value.
func (s *Stepper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	if s.state.Running {
		s.logger.Info("Simulation cancelled",
			zap.String("run_id", s.state.RunID),
			zap.Int("step", s.state.CurrentStep))
	}
	s.gen++
	s.state.Running = false
	s.state.Paused = false
	s.history = nil
}

func (s *Stepper) advanceLocked() (Result, bool) {
	s.state.CurrentStep++
	step := s.state.CurrentStep
	progress := s.state.Progress()
	t := s.state.AnalysisType
	intensity := s.state.OperatingCondition.Intensity()

	snaps := make([]domain.PipeSnapshot, len(s.pipes))
	for i, p := range s.pipes {
		snap := domain.PipeSnapshot{ID: p.ID, Name: p.Name, Material: p.Material}

		if p.GeometryValid() {
			seg := p.Segment()
			p.Stress = stress.Evaluate(t, seg, intensity, progress, s.opts.Noise.Sample())
			snap.Analysis = stress.Breakdown(t, seg, intensity, progress)
		} else {
			err := &InvalidPipeDataError{PipeID: p.ID, Step: step}
			s.warnings = append(s.warnings, err)
			s.logger.Warn("Skipping pipe with invalid geometry",
				zap.String("run_id", s.state.RunID),
				zap.Error(err))
			snap.Analysis = stress.AnalysisData{}
		}

		snap.Stress = p.Stress
		snaps[i] = snap
	}

	s.history = append(s.history, domain.SimulationRecord{
		Step:               step,
		Timestamp:          s.opts.Now().UTC(),
		AnalysisType:       t,
		OperatingCondition: s.state.OperatingCondition,
		Pipes:              snaps,
	})

	s.opts.Sink.Publish(s.snapshotLocked(true))

	if step < s.state.TotalSteps {
		return Result{}, false
	}

	s.state.Running = false
	s.state.Paused = false
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}

	final := domain.ClonePipes(s.pipes)
	in := report.FromPipes(t, s.state.OperatingCondition, final)
	res := Result{
		RunID:   s.state.RunID,
		State:   s.state,
		Report:  report.Synthesize(in),
		History: append([]domain.SimulationRecord(nil), s.history...),
		Pipes:   final,
	}

	critical, elevated := report.Counts(in.Pipes)
	s.logger.Info("Simulation completed",
		zap.String("run_id", res.RunID),
		zap.Int("steps", step),
		zap.Int("critical", critical),
		zap.Int("elevated", elevated),
		zap.Int("warnings", len(s.warnings)))

	return res, true
}

func (s *Stepper) complete(res Result) {
	if s.opts.OnComplete != nil {
		s.opts.OnComplete(res)
	}
}

func (s *Stepper) snapshotLocked(animate bool) domain.Snapshot {
	updates := make([]domain.PipeUpdate, len(s.pipes))
	for i, p := range s.pipes {
		color := p.Tier().Color()
		updates[i] = domain.PipeUpdate{
			PipeID:               p.ID,
			Stress:               p.Stress,
			Color:                color,
			ColorHex:             color.Hex(),
			Animate:              animate,
			TransitionDurationMs: s.opts.TransitionDuration.Milliseconds(),
		}
	}
	return domain.Snapshot{
		RunID:           s.state.RunID,
		Step:            s.state.CurrentStep,
		TotalSteps:      s.state.TotalSteps,
		ProgressPercent: s.state.Progress() * 100,
		Pipes:           updates,
	}
}

func (s *Stepper) State() domain.SimulationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the records appended so far.
func (s *Stepper) History() []domain.SimulationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SimulationRecord(nil), s.history...)
}

func (s *Stepper) Warnings() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.warnings...)
}

// Pipes returns copies of the pipes of the current or last run.
func (s *Stepper) Pipes() []*domain.PipeSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.ClonePipes(s.pipes)
}

func (s *Stepper) Summary() Summary {
	return Summarize(s.History())
}
