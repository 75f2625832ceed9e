package domain

// RoutingStats summarizes a loaded routing model.
type RoutingStats struct {
	Length float64 `json:"length"`
	Bends  int     `json:"bends"`
	Score  int     `json:"score"`
}

// PipeModel is a loaded routing model.
type PipeModel struct {
	Pipes           []*PipeSegment `json:"pipes"`
	Stats           RoutingStats   `json:"stats"`
	Recommendations []string       `json:"recommendations"`
}
