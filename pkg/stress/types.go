package stress

import "fmt"

// AnalysisType selects the stress formula applied on every tick.
type AnalysisType string

const (
	Pressure  AnalysisType = "pressure"
	Thermal   AnalysisType = "thermal"
	Vibration AnalysisType = "vibration"
	Combined  AnalysisType = "combined"
)

// AnalysisTypes lists the recognized analysis types in display order.
var AnalysisTypes = []AnalysisType{Pressure, Thermal, Vibration, Combined}

func (t AnalysisType) Valid() bool {
	switch t {
	case Pressure, Thermal, Vibration, Combined:
		return true
	}
	return false
}

func ParseAnalysisType(s string) (AnalysisType, error) {
	t := AnalysisType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown analysis type %q", s)
	}
	return t, nil
}

// OperatingCondition scales stress magnitude through Intensity.
type OperatingCondition string

const (
	Normal   OperatingCondition = "normal"
	HighLoad OperatingCondition = "high-load"
	Extreme  OperatingCondition = "extreme"
)

var OperatingConditions = []OperatingCondition{Normal, HighLoad, Extreme}

func (c OperatingCondition) Valid() bool {
	switch c {
	case Normal, HighLoad, Extreme:
		return true
	}
	return false
}

func ParseOperatingCondition(s string) (OperatingCondition, error) {
	c := OperatingCondition(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown operating condition %q", s)
	}
	return c, nil
}

// Intensity returns the stress multiplier for the condition.
// Unknown conditions are treated as extreme.
func (c OperatingCondition) Intensity() float64 {
	switch c {
	case Normal:
		return 1
	case HighLoad:
		return 1.5
	default:
		return 2
	}
}

// Material is the pipe wall material.
type Material string

const (
	Steel    Material = "steel"
	Rubber   Material = "rubber"
	Aluminum Material = "aluminum"
	Copper   Material = "copper"
)

var materialFactors = map[Material]float64{
	Steel:    1.0,
	Rubber:   1.2,
	Aluminum: 1.1,
	Copper:   1.15,
}

// MaterialFactor returns the stress factor of m, 1.0 for unknown materials.
func MaterialFactor(m Material) float64 {
	if f, ok := materialFactors[m]; ok {
		return f
	}
	return 1.0
}

func (m Material) Known() bool {
	_, ok := materialFactors[m]
	return ok
}
