package review

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/lox/cascadeslots/internal/fileutil"
)

const (
	flagsFilename   = "flags.jsonl"
	summaryFilename = "summary.json"
	maxFailures     = 3
)

// Config configures a FileQueue.
type Config struct {
	Dir           string
	FlushInterval time.Duration
	FlushFlags    int
	Clock         quartz.Clock
}

// Summary is rewritten atomically after every successful flush.
type Summary struct {
	Total     int          `json:"total"`
	ByKind    map[Kind]int `json:"byKind"`
	Dropped   int          `json:"dropped"`
	LastFlush time.Time    `json:"lastFlush"`
}

// FileQueue buffers flags in memory and appends them to a JSONL file on a
// timer or once FlushFlags are pending. After three consecutive failed
// flushes it disables itself and drops what it holds.
type FileQueue struct {
	cfg    Config
	logger zerolog.Logger
	clock  quartz.Clock

	mu       sync.Mutex
	flushMu  sync.Mutex
	buffer   []Flag
	summary  Summary
	failures int
	disabled bool

	flushReq chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFileQueue creates the directory and starts the flush loop.
func NewFileQueue(logger zerolog.Logger, cfg Config) (*FileQueue, error) {
	if cfg.Dir == "" {
		return nil, errors.New("review: Dir is required")
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.FlushFlags <= 0 {
		cfg.FlushFlags = 50
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("review: create dir: %w", err)
	}

	q := &FileQueue{
		cfg:      cfg,
		logger:   logger.With().Str("component", "review").Logger(),
		clock:    cfg.Clock,
		summary:  Summary{ByKind: make(map[Kind]int)},
		flushReq: make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q, nil
}

// Submit buffers f and requests an early flush once the buffer is full.
func (q *FileQueue) Submit(f Flag) {
	if f.At.IsZero() {
		f.At = q.clock.Now()
	}
	q.mu.Lock()
	if q.disabled {
		q.summary.Dropped++
		q.mu.Unlock()
		return
	}
	q.buffer = append(q.buffer, f)
	full := len(q.buffer) >= q.cfg.FlushFlags
	q.mu.Unlock()

	if full {
		select {
		case q.flushReq <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of buffered flags.
func (q *FileQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer)
}

// Summary returns a copy of the running totals.
func (q *FileQueue) Summary() Summary {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.summary
	s.ByKind = make(map[Kind]int, len(q.summary.ByKind))
	for k, v := range q.summary.ByKind {
		s.ByKind[k] = v
	}
	return s
}

// Flush writes buffered flags and the summary.
func (q *FileQueue) Flush() error {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	if q.disabled || len(q.buffer) == 0 {
		q.mu.Unlock()
		return nil
	}
	batch := append([]Flag(nil), q.buffer...)
	q.mu.Unlock()

	err := fileutil.AppendJSONLines(filepath.Join(q.cfg.Dir, flagsFilename), batch, 0o644)

	q.mu.Lock()
	if err != nil {
		q.failures++
		if q.failures >= maxFailures {
			q.summary.Dropped += len(q.buffer)
			q.buffer = nil
			q.disabled = true
		}
		q.mu.Unlock()
		return err
	}
	q.failures = 0
	q.buffer = q.buffer[len(batch):]
	q.summary.Total += len(batch)
	for _, f := range batch {
		q.summary.ByKind[f.Kind]++
	}
	q.summary.LastFlush = q.clock.Now()
	q.mu.Unlock()

	if err := fileutil.WriteJSONAtomic(filepath.Join(q.cfg.Dir, summaryFilename), q.Summary(), 0o644); err != nil {
		q.logger.Warn().Err(err).Msg("Review summary write failed")
	}
	return nil
}

// Disabled reports whether repeated failures switched the queue off.
func (q *FileQueue) Disabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.disabled
}

// Shutdown stops the flush loop and writes what is left. It honours ctx
// while waiting for the loop to exit.
func (q *FileQueue) Shutdown(ctx context.Context) error {
	q.stopOnce.Do(func() { close(q.stop) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return q.Flush()
}

func (q *FileQueue) run() {
	defer q.wg.Done()
	ticker := q.clock.NewTicker(q.cfg.FlushInterval, "review", "flush")
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.flush()
		case <-q.flushReq:
			q.flush()
		case <-q.stop:
			return
		}
	}
}

func (q *FileQueue) flush() {
	if err := q.Flush(); err != nil {
		q.logger.Error().Err(err).Msg("Review flush failed")
		if q.Disabled() {
			q.logger.Error().Int("dropped", q.Summary().Dropped).Msg("Review queue disabled after repeated failures")
		}
	}
}
