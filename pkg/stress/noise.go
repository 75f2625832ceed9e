package stress

import (
	"math/rand"
	"sync"
	"time"
)

// NoiseAmplitude bounds the measurement jitter added to every stress value.
const NoiseAmplitude = 0.025

// NoiseSource produces the zero-mean perturbation added after scaling.
type NoiseSource interface {
	Sample() float64
}

// UniformNoise draws uniformly from [-NoiseAmplitude, NoiseAmplitude).
type UniformNoise struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewUniformNoise(seed int64) *UniformNoise {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &UniformNoise{rng: rand.New(rand.NewSource(seed))}
}

func (n *UniformNoise) Sample() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return (n.rng.Float64() - 0.5) * 2 * NoiseAmplitude
}

// FixedNoise always returns the same value. Zero is FixedNoise(0).
type FixedNoise float64

func (f FixedNoise) Sample() float64 { return float64(f) }

// Zero disables noise.
var Zero NoiseSource = FixedNoise(0)
