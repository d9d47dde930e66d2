package rtp

import (
	"math"
	"sort"
)

// RoundResult is the outcome of one paid round: the base spin plus every
// free spin it led to.
type RoundResult struct {
	Return        float64 // win / bet
	Steps         int     // cascade steps across the round
	Spins         int     // engine spins, base plus free
	Triggered     bool    // base spin awarded free spins
	Retriggers    int
	CeilingHits   int
	Capped        bool
	MaxMultiplier int // largest single multiplier event value
}

// Statistics accumulates round results. The zero value is ready to use.
type Statistics struct {
	Rounds  int
	Sum     float64
	SumSq   float64
	Values  []float64
	Hits    int
	Steps   int
	Spins   int
	Feature int
	Retrig  int
	Ceiling int
	Capped  int
	MaxMult int
	MaxRet  float64
}

// Add incorporates one round.
func (s *Statistics) Add(r RoundResult) {
	s.Rounds++
	s.Sum += r.Return
	s.SumSq += r.Return * r.Return
	s.Values = append(s.Values, r.Return)
	if r.Return > 0 {
		s.Hits++
	}
	s.Steps += r.Steps
	s.Spins += r.Spins
	if r.Triggered {
		s.Feature++
	}
	s.Retrig += r.Retriggers
	s.Ceiling += r.CeilingHits
	if r.Capped {
		s.Capped++
	}
	if r.MaxMultiplier > s.MaxMult {
		s.MaxMult = r.MaxMultiplier
	}
	if r.Return > s.MaxRet {
		s.MaxRet = r.Return
	}
}

// Merge folds other into s.
func (s *Statistics) Merge(other *Statistics) {
	s.Rounds += other.Rounds
	s.Sum += other.Sum
	s.SumSq += other.SumSq
	s.Values = append(s.Values, other.Values...)
	s.Hits += other.Hits
	s.Steps += other.Steps
	s.Spins += other.Spins
	s.Feature += other.Feature
	s.Retrig += other.Retrig
	s.Ceiling += other.Ceiling
	s.Capped += other.Capped
	if other.MaxMult > s.MaxMult {
		s.MaxMult = other.MaxMult
	}
	if other.MaxRet > s.MaxRet {
		s.MaxRet = other.MaxRet
	}
}

// Mean returns the average return per round, which is the RTP.
func (s *Statistics) Mean() float64 {
	if s.Rounds == 0 {
		return 0
	}
	return s.Sum / float64(s.Rounds)
}

// Variance returns the sample variance of round returns.
func (s *Statistics) Variance() float64 {
	if s.Rounds < 2 {
		return 0
	}
	mean := s.Mean()
	v := (s.SumSq - float64(s.Rounds)*mean*mean) / float64(s.Rounds-1)
	if v < 0 {
		return 0
	}
	return v
}

// StdDev returns the sample standard deviation.
func (s *Statistics) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// StdError returns the standard error of the mean.
func (s *Statistics) StdError() float64 {
	if s.Rounds == 0 {
		return 0
	}
	return s.StdDev() / math.Sqrt(float64(s.Rounds))
}

// ConfidenceInterval95 returns the 95% confidence interval for the mean.
func (s *Statistics) ConfidenceInterval95() (float64, float64) {
	mean := s.Mean()
	margin := 1.96 * s.StdError()
	return mean - margin, mean + margin
}

// Percentile returns the value at p in [0,1], interpolating between ranks.
func (s *Statistics) Percentile(p float64) float64 {
	if len(s.Values) == 0 {
		return 0
	}
	sorted := make([]float64, len(s.Values))
	copy(sorted, s.Values)
	sort.Float64s(sorted)

	index := p * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// HitRate is the share of rounds that paid anything.
func (s *Statistics) HitRate() float64 {
	if s.Rounds == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Rounds)
}

// FeatureFrequency is the share of rounds that triggered free spins.
func (s *Statistics) FeatureFrequency() float64 {
	if s.Rounds == 0 {
		return 0
	}
	return float64(s.Feature) / float64(s.Rounds)
}

// AvgSteps is the mean cascade length per engine spin.
func (s *Statistics) AvgSteps() float64 {
	if s.Spins == 0 {
		return 0
	}
	return float64(s.Steps) / float64(s.Spins)
}
