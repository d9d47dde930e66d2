package randutil

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	rand "math/rand/v2"
)

const (
	goldenRatio64 = 0x9e3779b97f4a7c15

	// DefaultDrawLimit bounds a single spin. A full 50-step cascade on a 6x5
	// board needs well under 2000 draws.
	DefaultDrawLimit = 4096
)

// ErrExhausted is returned once a stream has handed out its draw budget.
var ErrExhausted = errors.New("randutil: rng stream exhausted")

// New returns a *rand.Rand seeded deterministically from the provided int64.
// The helper centralises how we derive the two 64-bit seeds required by rand/v2
// so that all call sites get reproducible sequences.
func New(seed int64) *rand.Rand {
	u := uint64(seed)
	return rand.New(rand.NewPCG(mix(u), mix(u+goldenRatio64)))
}

// NewSeed returns a fresh seed from the operating system CSPRNG.
func NewSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic("randutil: failed to read random seed: " + err.Error())
	}
	return int64(binary.BigEndian.Uint64(b[:]) &^ (1 << 63))
}

// Stream is a per-spin RNG stream. Every value it hands out counts as one
// draw so that results can report exactly how much randomness they consumed.
// A Stream must never be shared between goroutines.
type Stream struct {
	rng   *rand.Rand
	seed  int64
	draws int
	limit int
}

// NewStream creates a stream for seed that fails with ErrExhausted after
// limit draws. A limit <= 0 selects DefaultDrawLimit.
func NewStream(seed int64, limit int) *Stream {
	if limit <= 0 {
		limit = DefaultDrawLimit
	}
	return &Stream{rng: New(seed), seed: seed, limit: limit}
}

// Seed returns the seed the stream was created from.
func (s *Stream) Seed() int64 { return s.seed }

// Draws returns the number of values handed out so far.
func (s *Stream) Draws() int { return s.draws }

// Limit returns the draw budget.
func (s *Stream) Limit() int { return s.limit }

func (s *Stream) take() error {
	if s.draws >= s.limit {
		return fmt.Errorf("%w after %d draws (seed %d)", ErrExhausted, s.draws, s.seed)
	}
	s.draws++
	return nil
}

// Float64 returns a value in [0, 1).
func (s *Stream) Float64() (float64, error) {
	if err := s.take(); err != nil {
		return 0, err
	}
	return s.rng.Float64(), nil
}

// IntN returns a value in [0, n). It panics if n <= 0.
func (s *Stream) IntN(n int) (int, error) {
	if err := s.take(); err != nil {
		return 0, err
	}
	return s.rng.IntN(n), nil
}

func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
