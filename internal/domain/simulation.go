package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"piperoute-system/pkg/stress"
)

// TotalSteps is the fixed number of ticks in one simulation run.
const TotalSteps = 80

type SimulationState struct {
	RunID              string                    `json:"run_id"`
	Running            bool                      `json:"running"`
	Paused             bool                      `json:"paused"`
	CurrentStep        int                       `json:"current_step"`
	TotalSteps         int                       `json:"total_steps"`
	AnalysisType       stress.AnalysisType       `json:"analysis_type"`
	OperatingCondition stress.OperatingCondition `json:"operating_condition"`
}

// Progress is CurrentStep/TotalSteps.
func (s SimulationState) Progress() float64 {
	if s.TotalSteps == 0 {
		return 0
	}
	return float64(s.CurrentStep) / float64(s.TotalSteps)
}

type PipeSnapshot struct {
	ID       string              `gorethink:"id" json:"id"`
	Name     string              `gorethink:"name" json:"name"`
	Stress   float64             `gorethink:"stress" json:"stress"`
	Material stress.Material     `gorethink:"material" json:"material"`
	Analysis stress.AnalysisData `gorethink:"analysis_data" json:"analysis_data"`
}

// SimulationRecord is one immutable history entry. A nil Pipes slice marks
// a malformed record.
type SimulationRecord struct {
	Step               int                       `gorethink:"step" json:"step"`
	Timestamp          time.Time                 `gorethink:"timestamp" json:"timestamp"`
	AnalysisType       stress.AnalysisType       `gorethink:"analysis_type" json:"analysis_type"`
	OperatingCondition stress.OperatingCondition `gorethink:"condition" json:"condition"`
	Pipes              []PipeSnapshot            `gorethink:"pipes" json:"pipes"`
}

// UnmarshalJSON accepts records whose pipes field is not an array and
// leaves Pipes nil for them instead of failing the whole history.
func (r *SimulationRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Step               int                       `json:"step"`
		Timestamp          time.Time                 `json:"timestamp"`
		AnalysisType       stress.AnalysisType       `json:"analysis_type"`
		OperatingCondition stress.OperatingCondition `json:"condition"`
		Pipes              json.RawMessage           `json:"pipes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Step = raw.Step
	r.Timestamp = raw.Timestamp
	r.AnalysisType = raw.AnalysisType
	r.OperatingCondition = raw.OperatingCondition
	r.Pipes = nil

	trimmed := bytes.TrimSpace(raw.Pipes)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil
	}
	var pipes []PipeSnapshot
	if err := json.Unmarshal(trimmed, &pipes); err != nil {
		return nil
	}
	if pipes == nil {
		pipes = []PipeSnapshot{}
	}
	r.Pipes = pipes
	return nil
}

// PipeUpdate is what the rendering sink receives for one pipe per tick.
type PipeUpdate struct {
	PipeID               string       `json:"pipeId"`
	Stress               float64      `json:"stress"`
	Color                stress.Color `json:"color"`
	ColorHex             uint32       `json:"colorHex"`
	Animate              bool         `json:"animate"`
	TransitionDurationMs int64        `json:"transitionDurationMs"`
}

type Snapshot struct {
	RunID           string       `json:"runId"`
	Step            int          `json:"step"`
	TotalSteps      int          `json:"totalSteps"`
	ProgressPercent float64      `json:"progressPercent"`
	Pipes           []PipeUpdate `json:"pipes"`
}
