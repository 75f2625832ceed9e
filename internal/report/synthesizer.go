// Package report turns the final state of a simulation into a canned
// engineering report. Output depends only on the input.
package report

import (
	"fmt"
	"math"
	"strings"

	"piperoute-system/internal/domain"
	"piperoute-system/pkg/stress"
)

const noDataSummary = "No analysis data available"

// PipeResult is the final state of one pipe.
type PipeResult struct {
	ID       string
	Name     string
	Stress   float64
	Material stress.Material
}

type Input struct {
	AnalysisType       stress.AnalysisType
	OperatingCondition stress.OperatingCondition
	Pipes              []PipeResult
}

// FromPipes builds the synthesizer input from live pipe segments.
func FromPipes(t stress.AnalysisType, c stress.OperatingCondition, pipes []*domain.PipeSegment) Input {
	in := Input{AnalysisType: t, OperatingCondition: c, Pipes: make([]PipeResult, len(pipes))}
	for i, p := range pipes {
		in.Pipes[i] = PipeResult{ID: p.ID, Name: p.Name, Stress: p.Stress, Material: p.Material}
	}
	return in
}

// Counts partitions pipes into critical (> 0.7) and elevated (0.4, 0.7].
func Counts(pipes []PipeResult) (critical, elevated int) {
	for _, p := range pipes {
		switch {
		case p.Stress > stress.CriticalThreshold:
			critical++
		case p.Stress > stress.ElevatedThreshold:
			elevated++
		}
	}
	return critical, elevated
}

// Synthesize never fails. An empty pipe list yields a degraded report.
func Synthesize(in Input) domain.Report {
	if len(in.Pipes) == 0 {
		return domain.Report{
			Summary:                noDataSummary,
			Recommendations:        []string{},
			MaterialSuggestions:    []string{},
			MaintenanceSchedule:    []string{},
			SafetyConsiderations:   []string{},
			ReliabilityProjections: []string{},
		}
	}

	critical, elevated := Counts(in.Pipes)
	block := blockFor(in.AnalysisType)

	summary := fmt.Sprintf(
		"Analysis completed for %d pipe segments under %s conditions. "+
			"Identified %s critical points and %s high-stress areas during %s analysis. %s",
		len(in.Pipes), in.OperatingCondition,
		countOr(critical, "potential"), countOr(elevated, "several"),
		in.AnalysisType, block.summary)

	return domain.Report{
		Summary:                summary,
		Recommendations:        append([]string(nil), block.recommendations...),
		MaterialSuggestions:    append([]string(nil), block.materials...),
		MaintenanceSchedule:    maintenanceSchedule(in.OperatingCondition),
		SafetyConsiderations:   safetyConsiderations(in.AnalysisType),
		ReliabilityProjections: reliabilityProjections(in.AnalysisType, in.OperatingCondition),
	}
}

func countOr(n int, fallback string) string {
	if n == 0 {
		return fallback
	}
	return fmt.Sprint(n)
}

// MaintenanceFrequency is the inspection cadence for critical points.
func MaintenanceFrequency(c stress.OperatingCondition) string {
	switch c {
	case stress.Extreme:
		return "weekly"
	case stress.HighLoad:
		return "bi-weekly"
	default:
		return "monthly"
	}
}

func maintenanceSchedule(c stress.OperatingCondition) []string {
	monitoring := "Weekly"
	if c == stress.Extreme {
		monitoring = "Daily"
	}
	preventive := "Semi-annual"
	if c == stress.Normal {
		preventive = "Annual"
	}
	return []string{
		capitalize(MaintenanceFrequency(c)) + " inspection of critical points",
		monitoring + " monitoring of high-stress areas",
		"Quarterly full system inspection",
		preventive + " preventive maintenance",
	}
}

func safetyConsiderations(t stress.AnalysisType) []string {
	relief := "stress"
	switch t {
	case stress.Thermal:
		relief = "temperature"
	case stress.Pressure:
		relief = "pressure"
	}
	return []string{
		fmt.Sprintf("Install %s-specific monitoring sensors", t),
		"Implement automated emergency shutdown protocols",
		"Create containment zones around high-risk areas",
		fmt.Sprintf("Add %s relief systems", relief),
	}
}

func reliabilityProjections(t stress.AnalysisType, c stress.OperatingCondition) []string {
	lifetime, replacement, calibration := "15-20", "5", "quarterly"
	switch c {
	case stress.Extreme:
		lifetime, replacement, calibration = "8-10", "2", "monthly"
	case stress.HighLoad:
		lifetime, replacement = "12-15", "3"
	}
	return []string{
		fmt.Sprintf("Expected system lifetime: %s years with proper maintenance", lifetime),
		fmt.Sprintf("Recommended replacement schedule for critical components: %s years", replacement),
		fmt.Sprintf("%s monitoring calibration needed %s", capitalize(string(t)), calibration),
		"Regular stress point reinforcement based on monitoring data",
	}
}

// AssessPipes lists every pipe above the elevated threshold, in input order.
func AssessPipes(pipes []PipeResult) []domain.CriticalPoint {
	points := []domain.CriticalPoint{}
	for _, p := range pipes {
		if p.Stress <= stress.ElevatedThreshold {
			continue
		}
		point := domain.CriticalPoint{
			PipeID:              p.ID,
			Name:                p.Name,
			Material:            string(p.Material),
			Stress:              p.Stress,
			Label:               "High Stress",
			SuggestedMaterial:   "Reinforced Alloy",
			ExpectedImprovement: int(math.Round((p.Stress - stress.ElevatedThreshold) * 100)),
		}
		if p.Stress > stress.CriticalThreshold {
			point.Label = "Critical"
			point.SuggestedMaterial = "High-Grade Steel"
		}
		points = append(points, point)
	}
	return points
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
