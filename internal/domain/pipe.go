package domain

import (
	"math"

	"piperoute-system/pkg/stress"

	"gonum.org/v1/gonum/spatial/r3"
)

type Point struct {
	X float64 `gorethink:"x" json:"x" yaml:"x"`
	Y float64 `gorethink:"y" json:"y" yaml:"y"`
	Z float64 `gorethink:"z" json:"z" yaml:"z"`
}

func (p Point) Vec() r3.Vec { return r3.Vec{X: p.X, Y: p.Y, Z: p.Z} }

func (p Point) finite() bool {
	return isFinite(p.X) && isFinite(p.Y) && isFinite(p.Z)
}

// PipeSegment is one routed pipe run. Stress is mutated by the stepper.
type PipeSegment struct {
	ID        string          `gorethink:"id" json:"id" yaml:"id" validate:"required"`
	Name      string          `gorethink:"name" json:"name" yaml:"name"`
	Start     Point           `gorethink:"start" json:"start" yaml:"start"`
	End       Point           `gorethink:"end" json:"end" yaml:"end"`
	Radius    float64         `gorethink:"radius" json:"radius" yaml:"radius" validate:"gt=0"`
	Material  stress.Material `gorethink:"material" json:"material" yaml:"material"`
	Stress    float64         `gorethink:"stress" json:"stress" yaml:"stress"`
	Component string          `gorethink:"component,omitempty" json:"component,omitempty" yaml:"component,omitempty"`
}

func (p *PipeSegment) Segment() stress.Segment {
	return stress.Segment{
		Start:    p.Start.Vec(),
		End:      p.End.Vec(),
		Radius:   p.Radius,
		Material: p.Material,
	}
}

func (p *PipeSegment) Length() float64 {
	return p.Segment().Length()
}

// GeometryValid reports whether every coordinate and the radius are finite.
func (p *PipeSegment) GeometryValid() bool {
	return p.Start.finite() && p.End.finite() && isFinite(p.Radius)
}

func (p *PipeSegment) Tier() stress.Tier {
	return stress.Classify(p.Stress)
}

// ClonePipes deep-copies a pipe list. Nil entries stay nil.
func ClonePipes(pipes []*PipeSegment) []*PipeSegment {
	out := make([]*PipeSegment, len(pipes))
	for i, p := range pipes {
		if p == nil {
			continue
		}
		cp := *p
		out[i] = &cp
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
