package simulation

import (
	"math"
	"testing"

	"piperoute-system/internal/domain"
	"piperoute-system/pkg/stress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(step int, stresses ...float64) domain.SimulationRecord {
	rec := domain.SimulationRecord{Step: step, AnalysisType: stress.Pressure, Pipes: []domain.PipeSnapshot{}}
	for i, s := range stresses {
		id := string(rune('a' + i))
		rec.Pipes = append(rec.Pipes, domain.PipeSnapshot{ID: id, Name: "Pipe " + id, Stress: s})
	}
	return rec
}

func TestSummarize(t *testing.T) {
	history := []domain.SimulationRecord{
		record(1, 0.2, 0.8, 0.1),
		{Step: 2}, // malformed
		record(3, 0.4, 0.9, 0.1),
	}

	sum := Summarize(history)

	assert.Equal(t, 2, sum.Steps)
	require.Len(t, sum.Pipes, 3)

	a := sum.Pipes[0]
	assert.Equal(t, "a", a.ID)
	assert.InDelta(t, 0.3, a.Mean, 1e-12)
	assert.InDelta(t, 0.4, a.Max, 1e-12)
	assert.InDelta(t, math.Sqrt(0.02), a.StdDev, 1e-12)
	assert.Equal(t, 0.4, a.Final)
	assert.Equal(t, stress.Elevated, a.Tier)

	assert.Equal(t, stress.Critical, sum.Pipes[1].Tier)
	assert.Equal(t, 0.0, sum.Pipes[2].StdDev)

	assert.Equal(t, 1, sum.Nominal)
	assert.Equal(t, 1, sum.Elevated)
	assert.Equal(t, 1, sum.Critical)
}

func TestSummarizeSingleRecord(t *testing.T) {
	sum := Summarize([]domain.SimulationRecord{record(1, 0.5)})
	require.Len(t, sum.Pipes, 1)
	assert.Equal(t, 0.0, sum.Pipes[0].StdDev)
	assert.Equal(t, 0.5, sum.Pipes[0].Mean)
}

func TestSummarizeEmpty(t *testing.T) {
	sum := Summarize(nil)
	assert.Equal(t, 0, sum.Steps)
	assert.NotNil(t, sum.Pipes)
	assert.Empty(t, sum.Pipes)
}

func TestSummarizeSkipsRecordsOfOtherWidth(t *testing.T) {
	sum := Summarize([]domain.SimulationRecord{record(1, 0.1, 0.2), record(2, 0.3), record(3, 0.5, 0.6)})
	assert.Equal(t, 2, sum.Steps)
	assert.InDelta(t, 0.3, sum.Pipes[0].Mean, 1e-12)
}

func TestStepperSummary(t *testing.T) {
	h := newHarness(t, stress.Zero)
	h.start(t, stress.Pressure, stress.Normal, pipe("p1", 0.1, stress.Steel))
	h.sched.Advance(40)

	sum := h.stepper.Summary()
	assert.Equal(t, 40, sum.Steps)
	require.Len(t, sum.Pipes, 1)
	assert.InDelta(t, 0.8, sum.Pipes[0].Final, 1e-9)
	assert.Equal(t, stress.Critical, sum.Pipes[0].Tier)
}
