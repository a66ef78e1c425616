package alerts

import (
	"math"
	"math/rand/v2"
	"sync"
)

// Bounds of the mock walk, as multiples of the threshold
const (
	MockLowFactor  = 0.7
	MockHighFactor = 1.3
)

// Generator produces mock metric values around a threshold
type Generator interface {
	NextValue(current, threshold float64) float64
}

// RandomGenerator draws uniformly distributed integers in
// [floor(0.7*threshold), floor(1.3*threshold)]. The current value does not
// constrain the draw.
type RandomGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomGenerator creates a generator backed by src, or by a randomly
// seeded source when src is nil
func NewRandomGenerator(src rand.Source) *RandomGenerator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &RandomGenerator{rng: rand.New(src)}
}

// maxIntSpan is the widest range drawn with Int64N; wider ranges fall back
// to a float draw
const maxIntSpan = 1 << 62

// NextValue returns the next mock value for a card. Any threshold is
// accepted: non-finite thresholds return the lower bound unchanged.
func (g *RandomGenerator) NextValue(current, threshold float64) float64 {
	lo, hi := MockRange(threshold)
	width := hi - lo
	if math.IsNaN(width) || math.IsInf(width, 0) || width <= 0 {
		return lo
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if width < maxIntSpan {
		return lo + float64(g.rng.Int64N(int64(width)+1))
	}
	return math.Min(lo+math.Floor(g.rng.Float64()*(width+1)), hi)
}

// MockRange returns the inclusive integer bounds the generator draws from.
// Negative thresholds invert the factors, so the bounds are reordered.
func MockRange(threshold float64) (lo, hi float64) {
	lo = math.Floor(threshold * MockLowFactor)
	hi = math.Floor(threshold * MockHighFactor)
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}
