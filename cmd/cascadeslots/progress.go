package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// progressMonitor prints a row of dots as rounds complete. It is safe to
// call Add from many goroutines.
type progressMonitor struct {
	mu          sync.Mutex
	out         io.Writer
	total       int
	done        int
	dotsPrinted int
	startTime   time.Time
}

// Show 40 dots per run so the line fits an 80-column terminal.
const progressDots = 40

func newProgressMonitor(out io.Writer, total int) *progressMonitor {
	return &progressMonitor{out: out, total: max(total, 1), startTime: time.Now()}
}

// Add records n completed rounds.
func (m *progressMonitor) Add(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.done += n
	want := m.done * progressDots / m.total
	for m.dotsPrinted < want && m.dotsPrinted < progressDots {
		_, _ = fmt.Fprint(m.out, ".")
		m.dotsPrinted++
	}
}

// Finish terminates the dot line with the elapsed time.
func (m *progressMonitor) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _ = fmt.Fprintf(m.out, " %d rounds in %s\n", m.done, time.Since(m.startTime).Round(time.Millisecond))
}
