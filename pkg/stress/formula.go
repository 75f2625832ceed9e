package stress

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Segment is the geometry and material of one straight pipe run.
type Segment struct {
	Start    r3.Vec
	End      r3.Vec
	Radius   float64
	Material Material
}

// Length is the euclidean distance between the segment endpoints.
func (s Segment) Length() float64 {
	return r3.Norm(r3.Sub(s.End, s.Start))
}

// RadiusFactor grows for thin pipes and goes negative for very large radii.
// It is intentionally not clamped.
func RadiusFactor(radius float64) float64 {
	return 1 + (0.1-radius)*5
}

// Base evaluates the analysis formula before material, intensity and noise
// are applied. progress is currentStep/totalSteps.
func Base(t AnalysisType, seg Segment, progress float64) float64 {
	mf := MaterialFactor(seg.Material)
	rf := RadiusFactor(seg.Radius)
	p := progress * math.Pi

	var base float64
	switch t {
	case Pressure:
		base = (math.Sin(p)*0.5 + 0.3) * rf
		// late-cycle spikes
		if progress > 0.7 {
			base += math.Sin(p*10) * 0.2
		}
	case Thermal:
		base = (1-math.Cos(p))*0.4*mf + math.Sin(p*8)*0.1
	case Vibration:
		base = math.Sin(p*4)*0.3 + math.Sin(p*12)*0.15
		base *= 1 + seg.Length()*0.1
	case Combined:
		pressure := math.Sin(p) * 0.3 * rf
		thermal := (1 - math.Cos(p)) * 0.2 * mf
		vibration := math.Sin(p*6) * 0.2
		base = pressure + thermal + vibration
	}
	return base
}

// Unclamped is base * materialFactor * intensity, without noise.
func Unclamped(t AnalysisType, seg Segment, intensity, progress float64) float64 {
	return Base(t, seg, progress) * MaterialFactor(seg.Material) * intensity
}

// Evaluate returns the final stress in [0,1] for one pipe at one tick.
func Evaluate(t AnalysisType, seg Segment, intensity, progress, noise float64) float64 {
	return Clamp(Unclamped(t, seg, intensity, progress) + noise)
}

func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}
