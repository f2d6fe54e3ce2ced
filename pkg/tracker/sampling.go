package tracker

import (
	"math/rand/v2"
	"sync"

	"github.com/omniroute/omniroute/pkg/routing"
)

// Strategy selects which executions are recorded.
type Strategy string

// Sampling strategies.
const (
	// StrategyFull records every execution.
	StrategyFull Strategy = "full"
	// StrategyLowFrequency records every execution; low-volume callers
	// carry no sampling pressure.
	StrategyLowFrequency Strategy = "low_frequency"
	// StrategyHighFrequency records with probability equal to the
	// configured sampling rate.
	StrategyHighFrequency Strategy = "high_frequency"
	// StrategyAdaptive records the first 100 executions of each task
	// kind, then every 10th.
	StrategyAdaptive Strategy = "adaptive"
)

// Adaptive strategy knobs.
const (
	adaptiveWarmupCount = 100
	adaptiveModulus     = 10
)

// sampler decides per execution whether it is recorded.
type sampler struct {
	strategy Strategy
	rate     float64

	mu  sync.Mutex
	rng *rand.Rand

	// seen counts every execution offered per task kind, sampled or
	// not. The adaptive cadence must advance past unsampled executions,
	// so it cannot ride on the tracker's sampled-only counts.
	seen map[routing.TaskKind]int64
}

func newSampler(strategy Strategy, rate float64) *sampler {
	return &sampler{
		strategy: strategy,
		rate:     rate,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		seen:     make(map[routing.TaskKind]int64),
	}
}

// sample reports whether this execution should be recorded.
func (s *sampler) sample(kind routing.TaskKind) bool {
	switch s.strategy {
	case StrategyFull, StrategyLowFrequency:
		return true
	case StrategyHighFrequency:
		if s.rate >= 1 {
			return true
		}

		if s.rate <= 0 {
			return false
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		return s.rng.Float64() < s.rate
	case StrategyAdaptive:
		s.mu.Lock()
		n := s.seen[kind]
		s.seen[kind]++
		s.mu.Unlock()

		return n < adaptiveWarmupCount || n%adaptiveModulus == 0
	default:
		return true
	}
}
