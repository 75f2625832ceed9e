package stress

import "math"

// Column is one analysis-specific field carried by history records.
type Column struct {
	Key    string
	Header string
}

var analysisColumns = map[AnalysisType][]Column{
	Pressure: {
		{Key: "radius_factor", Header: "Radius Factor"},
		{Key: "pressure_spikes", Header: "Pressure Spikes"},
	},
	Thermal: {
		{Key: "material_expansion", Header: "Material Expansion"},
		{Key: "temperature_fluctuation", Header: "Temperature Fluctuation"},
	},
	Vibration: {
		{Key: "amplitude", Header: "Amplitude"},
		{Key: "frequency", Header: "Frequency"},
		{Key: "resonance_effect", Header: "Resonance Effect"},
	},
	Combined: {
		{Key: "pressure_component", Header: "Pressure Component"},
		{Key: "thermal_component", Header: "Thermal Component"},
		{Key: "vibration_component", Header: "Vibration Component"},
	},
}

// Columns returns the analysis-specific columns for t, nil when unknown.
func Columns(t AnalysisType) []Column {
	return analysisColumns[t]
}

// AnalysisData holds the analysis-specific sub-fields of one pipe at one step.
type AnalysisData map[string]float64

// Breakdown computes the analysis-specific sub-fields recorded in history.
func Breakdown(t AnalysisType, seg Segment, intensity, progress float64) AnalysisData {
	p := progress * math.Pi
	switch t {
	case Pressure:
		spikes := 0.0
		if progress > 0.7 {
			spikes = math.Sin(p*10) * 0.2
		}
		return AnalysisData{
			"radius_factor":   RadiusFactor(seg.Radius),
			"pressure_spikes": spikes,
		}
	case Thermal:
		return AnalysisData{
			"material_expansion":      (1 - math.Cos(p)) * 0.4,
			"temperature_fluctuation": math.Sin(p*8) * 0.1,
		}
	case Vibration:
		return AnalysisData{
			"amplitude":        0.05 * intensity,
			"frequency":        5 + intensity*2,
			"resonance_effect": math.Sin(p*12) * 0.15,
		}
	case Combined:
		return AnalysisData{
			"pressure_component":  math.Sin(p) * 0.3,
			"thermal_component":   (1 - math.Cos(p)) * 0.2,
			"vibration_component": math.Sin(p*6) * 0.2,
		}
	}
	return AnalysisData{}
}
