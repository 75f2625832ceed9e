package stress

// Tier is the three-level stress classification used across the system.
type Tier string

const (
	Nominal  Tier = "nominal"
	Elevated Tier = "elevated"
	Critical Tier = "critical"
)

// Color is the rendering color of a tier.
type Color string

const (
	Green  Color = "green"
	Yellow Color = "yellow"
	Red    Color = "red"
)

const (
	ElevatedThreshold = 0.4
	CriticalThreshold = 0.7
)

func Classify(stress float64) Tier {
	switch {
	case stress < ElevatedThreshold:
		return Nominal
	case stress < CriticalThreshold:
		return Elevated
	default:
		return Critical
	}
}

func (t Tier) Color() Color {
	switch t {
	case Nominal:
		return Green
	case Elevated:
		return Yellow
	default:
		return Red
	}
}

// Hex returns the display color used by the browser scene.
func (c Color) Hex() uint32 {
	switch c {
	case Green:
		return 0x10b981
	case Yellow:
		return 0xf59e0b
	default:
		return 0xef4444
	}
}
