// Package review collects spins and sync sessions that need a human look:
// fraud suspicion, checksum mismatches and engine anomalies. Nothing here
// blocks or alters gameplay.
package review

import (
	"sync"
	"time"
)

// Kind classifies a flag.
type Kind string

const (
	KindFraud            Kind = "fraud"
	KindChecksumMismatch Kind = "checksum_mismatch"
	KindDesync           Kind = "desync"
	KindCascadeCeiling   Kind = "cascade_ceiling"
)

// Flag is one item for review.
type Flag struct {
	Kind          Kind      `json:"kind"`
	SpinID        string    `json:"spinId,omitempty"`
	SyncSessionID string    `json:"syncSessionId,omitempty"`
	PlayerID      string    `json:"playerId,omitempty"`
	StepIndex     int       `json:"stepIndex"`
	Score         float64   `json:"score"`
	Reasons       []string  `json:"reasons,omitempty"`
	At            time.Time `json:"at"`
}

// Queue accepts flags. Submit must not block on I/O.
type Queue interface {
	Submit(Flag)
}

// Discard drops every flag.
type Discard struct{}

func (Discard) Submit(Flag) {}

// Memory keeps flags in memory. Useful for tests and single-process tools.
type Memory struct {
	mu    sync.Mutex
	flags []Flag
}

func (m *Memory) Submit(f Flag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags = append(m.flags, f)
}

// Flags returns a copy of everything submitted so far.
func (m *Memory) Flags() []Flag {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Flag(nil), m.flags...)
}
