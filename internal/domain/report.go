package domain

// Report is synthesized once per completed run.
type Report struct {
	Summary                string   `gorethink:"summary" json:"summary"`
	Recommendations        []string `gorethink:"recommendations" json:"recommendations"`
	MaterialSuggestions    []string `gorethink:"material_suggestions" json:"materialSuggestions"`
	MaintenanceSchedule    []string `gorethink:"maintenance_schedule" json:"maintenanceSchedule"`
	SafetyConsiderations   []string `gorethink:"safety_considerations" json:"safetyConsiderations"`
	ReliabilityProjections []string `gorethink:"reliability_projections" json:"reliabilityProjections"`
}

// ReportSection is one titled list of a report, in export order.
type ReportSection struct {
	Title string
	Items []string
}

func (r *Report) Sections() []ReportSection {
	return []ReportSection{
		{Title: "Recommendations", Items: r.Recommendations},
		{Title: "Material Suggestions", Items: r.MaterialSuggestions},
		{Title: "Maintenance Schedule", Items: r.MaintenanceSchedule},
		{Title: "Safety Considerations", Items: r.SafetyConsiderations},
		{Title: "Reliability Projections", Items: r.ReliabilityProjections},
	}
}

// CriticalPoint describes one pipe above the elevated threshold.
type CriticalPoint struct {
	PipeID              string  `json:"pipe_id"`
	Name                string  `json:"name"`
	Material            string  `json:"material"`
	Stress              float64 `json:"stress"`
	Label               string  `json:"label"`
	SuggestedMaterial   string  `json:"suggested_material"`
	ExpectedImprovement int     `json:"expected_improvement_percent"`
}
