package simulation

import (
	"math"

	"piperoute-system/internal/domain"
	"piperoute-system/pkg/stress"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

type PipeSummary struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Mean   float64     `json:"mean"`
	Max    float64     `json:"max"`
	StdDev float64     `json:"std_dev"`
	Final  float64     `json:"final"`
	Tier   stress.Tier `json:"tier"`
}

// Summary aggregates the stress time series of a run.
type Summary struct {
	Steps    int           `json:"steps"`
	Pipes    []PipeSummary `json:"pipes"`
	Nominal  int           `json:"nominal"`
	Elevated int           `json:"elevated"`
	Critical int           `json:"critical"`
}

// Summarize builds per-pipe statistics from a history. Records whose pipe
// count differs from the first well-formed record are ignored.
func Summarize(history []domain.SimulationRecord) Summary {
	var rows []domain.SimulationRecord
	width := -1
	for _, rec := range history {
		if rec.Pipes == nil {
			continue
		}
		if width < 0 {
			width = len(rec.Pipes)
		}
		if len(rec.Pipes) == width {
			rows = append(rows, rec)
		}
	}

	sum := Summary{Steps: len(rows), Pipes: []PipeSummary{}}
	if len(rows) == 0 || width == 0 {
		return sum
	}

	data := mat.NewDense(len(rows), width, nil)
	for i, rec := range rows {
		for j, p := range rec.Pipes {
			data.Set(i, j, p.Stress)
		}
	}

	last := rows[len(rows)-1]
	for j := 0; j < width; j++ {
		col := mat.Col(nil, j, data)
		mean, std := stat.MeanStdDev(col, nil)
		if math.IsNaN(std) {
			std = 0
		}
		final := col[len(col)-1]
		tier := stress.Classify(final)

		sum.Pipes = append(sum.Pipes, PipeSummary{
			ID:     last.Pipes[j].ID,
			Name:   last.Pipes[j].Name,
			Mean:   mean,
			Max:    floats.Max(col),
			StdDev: std,
			Final:  final,
			Tier:   tier,
		})

		switch tier {
		case stress.Nominal:
			sum.Nominal++
		case stress.Elevated:
			sum.Elevated++
		default:
			sum.Critical++
		}
	}
	return sum
}
