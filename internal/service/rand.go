package service

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Rand is a seedable randomness source safe for concurrent use. Each
// account carries its own Rand so a run is reproducible from the
// account seed.
type Rand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRand returns a Rand seeded from seed. A zero seed is replaced with
// the current time, giving a different sequence per process.
func NewRand(seed int64) *Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Rand{rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)))}
}

// Float64 returns a uniform value in [0,1).
func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// IntN returns a uniform value in [0,n).
func (r *Rand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

// Chance reports true with probability p.
func (r *Rand) Chance(p float64) bool {
	return r.Float64() < p
}

// DurationBetween returns a uniform duration in [min,max].
func (r *Rand) DurationBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return min + time.Duration(r.rng.Int64N(int64(max-min)+1))
}

// SignedJitter returns a duration whose magnitude is uniform in
// [min,max] with a random sign.
func (r *Rand) SignedJitter(min, max time.Duration) time.Duration {
	d := r.DurationBetween(min, max)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rng.IntN(2) == 0 {
		return -d
	}
	return d
}
