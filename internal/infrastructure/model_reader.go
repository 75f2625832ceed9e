package infrastructure

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"piperoute-system/internal/domain"
	"piperoute-system/pkg/stress"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var ErrInvalidModelFormat = errors.New("invalid model format")

const (
	defaultRadius   = 0.1
	defaultScore    = 85
	defaultMaterial = stress.Steel
)

var defaultRecommendations = []string{
	"Optimize pipe routing for shorter paths",
	"Consider using high-grade materials for critical segments",
	"Regular maintenance recommended for all connections",
}

type ModelReader struct {
	logger *zap.Logger
}

func NewModelReader(logger *zap.Logger) *ModelReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelReader{logger: logger}
}

// ReadJSON parses a routing model from JSON. Both {"pipes":[...]} and
// {"routingData":{"pipeSegments":[...]}} layouts are accepted.
func (r *ModelReader) ReadJSON(content []byte) (*domain.PipeModel, error) {
	var doc map[string]any
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelFormat, err)
	}
	return r.build(doc)
}

func (r *ModelReader) ReadYAML(content []byte) (*domain.PipeModel, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelFormat, err)
	}
	return r.build(doc)
}

// ReadFile picks the decoder from the file extension.
func (r *ModelReader) ReadFile(filename string) (*domain.PipeModel, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return r.ReadYAML(content)
	default:
		return r.ReadJSON(content)
	}
}

func (r *ModelReader) build(doc map[string]any) (*domain.PipeModel, error) {
	if doc == nil {
		return nil, ErrInvalidModelFormat
	}

	raw, ok := doc["pipes"]
	if !ok {
		if routing, isMap := doc["routingData"].(map[string]any); isMap {
			raw, ok = routing["pipeSegments"]
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: expected array of pipes", ErrInvalidModelFormat)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected array of pipes", ErrInvalidModelFormat)
	}

	pipes := make([]*domain.PipeSegment, 0, len(items))
	for i, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: pipe at index %d is not an object", ErrInvalidModelFormat, i)
		}
		pipe, err := r.parsePipe(i, fields)
		if err != nil {
			return nil, err
		}
		pipes = append(pipes, pipe)
	}

	return &domain.PipeModel{
		Pipes:           pipes,
		Stats:           Stats(pipes),
		Recommendations: append([]string(nil), defaultRecommendations...),
	}, nil
}

func (r *ModelReader) parsePipe(index int, fields map[string]any) (*domain.PipeSegment, error) {
	id := stringField(fields["id"])
	name := stringField(fields["name"])
	start, hasStart := fields["start"].(map[string]any)
	end, hasEnd := fields["end"].(map[string]any)
	if id == "" || name == "" || !hasStart || !hasEnd {
		return nil, fmt.Errorf("%w: invalid pipe structure at index %d, required fields: id, name, start, end",
			ErrInvalidModelFormat, index)
	}

	pipe := &domain.PipeSegment{
		ID:        id,
		Name:      name,
		Start:     r.point(id, "start", start),
		End:       r.point(id, "end", end),
		Radius:    defaultRadius,
		Material:  defaultMaterial,
		Component: stringField(fields["component"]),
	}
	if v, ok := numberField(fields["radius"]); ok && v > 0 {
		pipe.Radius = v
	}
	pipe.Material = stress.Material(stringField(fields["material"]))
	if v, ok := numberField(fields["stress"]); ok {
		pipe.Stress = v
	}
	Normalize(pipe)
	return pipe, nil
}

// Normalize applies the loader defaults to a pipe that did not come
// through a model file: empty material becomes steel and stress is
// clamped to [0, 1].
func Normalize(p *domain.PipeSegment) {
	if p.Material == "" {
		p.Material = defaultMaterial
	}
	p.Stress = stress.Clamp(p.Stress)
}

func (r *ModelReader) point(pipeID, which string, fields map[string]any) domain.Point {
	coord := func(axis string) float64 {
		v, ok := numberField(fields[axis])
		if !ok {
			r.logger.Warn("Non-numeric coordinate coerced to 0",
				zap.String("pipe", pipeID),
				zap.String("point", which),
				zap.String("axis", axis))
			return 0
		}
		return v
	}
	return domain.Point{X: coord("x"), Y: coord("y"), Z: coord("z")}
}

// Stats computes routing statistics for a pipe list.
func Stats(pipes []*domain.PipeSegment) domain.RoutingStats {
	var total float64
	for _, p := range pipes {
		if p != nil {
			total += p.Length()
		}
	}
	bends := len(pipes) - 1
	if bends < 0 {
		bends = 0
	}
	return domain.RoutingStats{
		Length: math.Round(total*100) / 100,
		Bends:  bends,
		Score:  defaultScore,
	}
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func numberField(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
