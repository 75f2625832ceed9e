package domain

import (
	"time"

	"piperoute-system/pkg/stress"
)

type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusSuccess    RunStatus = "success"
	RunStatusError      RunStatus = "error"
	RunStatusCancelled  RunStatus = "cancelled"
)

// SimulationRun is a queued batch simulation executed by a worker.
type SimulationRun struct {
	ID                 string                    `gorethink:"id,omitempty" json:"id"`
	Status             RunStatus                 `gorethink:"status" json:"status"`
	AnalysisType       stress.AnalysisType       `gorethink:"analysis_type" json:"analysis_type"`
	OperatingCondition stress.OperatingCondition `gorethink:"condition" json:"condition"`
	Pipes              []*PipeSegment            `gorethink:"pipes" json:"pipes"`
	Report             *Report                   `gorethink:"report,omitempty" json:"report,omitempty"`
	CSV                string                    `gorethink:"csv,omitempty" json:"-"`
	Error              string                    `gorethink:"error,omitempty" json:"error,omitempty"`
	WorkerID           string                    `gorethink:"worker_id,omitempty" json:"worker_id,omitempty"`
	Attempt            int                       `gorethink:"attempt,omitempty" json:"attempt,omitempty"`
	CreatedAt          time.Time                 `gorethink:"created_at" json:"created_at"`
	UpdatedAt          time.Time                 `gorethink:"updated_at" json:"updated_at"`
	CompletedAt        *time.Time                `gorethink:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// StoredReport is a report persisted together with the run that produced it.
type StoredReport struct {
	ID                 string                    `gorethink:"id,omitempty" json:"id"`
	RunID              string                    `gorethink:"run_id" json:"run_id"`
	AnalysisType       stress.AnalysisType       `gorethink:"analysis_type" json:"analysis_type"`
	OperatingCondition stress.OperatingCondition `gorethink:"condition" json:"condition"`
	Report             Report                    `gorethink:"report" json:"report"`
	Pipes              []PipeSnapshot            `gorethink:"pipes" json:"pipes"`
	CreatedAt          time.Time                 `gorethink:"created_at" json:"created_at"`
}

// StartSimulationRequest configures a live or queued simulation.
type StartSimulationRequest struct {
	AnalysisType       string         `json:"analysis_type" validate:"required,oneof=pressure thermal vibration combined"`
	OperatingCondition string         `json:"operating_condition" validate:"required,oneof=normal high-load extreme"`
	Pipes              []*PipeSegment `json:"pipes,omitempty" validate:"omitempty,dive"`
}

// PipeEdit is a partial update applied to a loaded pipe between runs.
type PipeEdit struct {
	Name        *string  `json:"name,omitempty"`
	Radius      *float64 `json:"radius,omitempty" validate:"omitempty,gt=0"`
	Material    *string  `json:"material,omitempty" validate:"omitempty,oneof=steel rubber aluminum copper"`
	Component   *string  `json:"component,omitempty"`
	Start       *Point   `json:"start,omitempty"`
	End         *Point   `json:"end,omitempty"`
	ResetStress bool     `json:"reset_stress,omitempty"`
}

// Apply mutates p in place.
func (e PipeEdit) Apply(p *PipeSegment) {
	if e.Name != nil {
		p.Name = *e.Name
	}
	if e.Radius != nil {
		p.Radius = *e.Radius
	}
	if e.Material != nil {
		p.Material = stress.Material(*e.Material)
	}
	if e.Component != nil {
		p.Component = *e.Component
	}
	if e.Start != nil {
		p.Start = *e.Start
	}
	if e.End != nil {
		p.End = *e.End
	}
	if e.ResetStress {
		p.Stress = 0
	}
}
