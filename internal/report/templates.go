package report

import "piperoute-system/pkg/stress"

type narrative struct {
	summary         string
	recommendations []string
	materials       []string
}

var narratives = map[stress.AnalysisType]narrative{
	stress.Pressure: {
		summary: "Pressure distribution analysis reveals areas requiring immediate attention to prevent potential leaks and structural weaknesses.",
		recommendations: []string{
			"Install pressure relief valves at identified critical points",
			"Reinforce pipe walls in high-pressure zones",
			"Implement pressure monitoring systems at key junctions",
			"Consider parallel routing for critical segments to distribute load",
		},
		materials: []string{
			"Use high-pressure rated steel pipes for critical segments",
			"Install flexible connectors at high-stress joints",
			"Upgrade to reinforced composite materials in peak pressure zones",
			"Implement double-wall construction for critical sections",
		},
	},
	stress.Thermal: {
		summary: "Thermal analysis indicates potential expansion/contraction stress points requiring specialized materials and design considerations.",
		recommendations: []string{
			"Install thermal expansion joints at key points",
			"Implement heat shielding in high-temperature zones",
			"Add temperature monitoring systems",
			"Design for thermal cycling fatigue prevention",
		},
		materials: []string{
			"Use temperature-resistant alloys in high-heat zones",
			"Install thermal insulation coating on exposed segments",
			"Implement composite materials with low thermal expansion",
			"Use specialized heat-resistant gaskets at joints",
		},
	},
	stress.Vibration: {
		summary: "Vibration analysis highlights potential resonance points and areas requiring dampening solutions.",
		recommendations: []string{
			"Install vibration dampeners at key points",
			"Reinforce pipe supports in high-vibration areas",
			"Implement flexible mounting systems",
			"Add vibration monitoring sensors",
		},
		materials: []string{
			"Use vibration-dampening pipe materials",
			"Install flexible coupling joints",
			"Implement composite materials with better vibration absorption",
			"Use specialized anti-vibration mounts",
		},
	},
	stress.Combined: {
		summary: "Combined stress analysis reveals complex interaction patterns requiring comprehensive solutions.",
		recommendations: []string{
			"Implement multi-factor monitoring systems",
			"Design comprehensive support structures",
			"Install smart sensors for real-time analysis",
			"Create redundant safety systems",
		},
		materials: []string{
			"Use advanced composite materials for multi-stress resistance",
			"Implement smart materials with adaptive properties",
			"Install hybrid material systems for complex stress patterns",
			"Use specialized coatings for multiple protection layers",
		},
	},
}

func blockFor(t stress.AnalysisType) narrative {
	if n, ok := narratives[t]; ok {
		return n
	}
	return narratives[stress.Combined]
}
