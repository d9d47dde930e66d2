package review

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T, cfg Config) *FileQueue {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewMock(t)
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Hour
	}
	q, err := NewFileQueue(zerolog.New(io.Discard), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Shutdown(context.Background()) })
	return q
}

func readFlags(t *testing.T, dir string) []Flag {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, flagsFilename))
	require.NoError(t, err)
	defer f.Close()

	var out []Flag
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var fl Flag
		require.NoError(t, json.Unmarshal(sc.Bytes(), &fl))
		out = append(out, fl)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestFileQueueFlush(t *testing.T) {
	dir := t.TempDir()
	q := newQueue(t, Config{Dir: dir, FlushFlags: 100})

	q.Submit(Flag{Kind: KindFraud, SpinID: "spin_a", Score: 0.8, Reasons: []string{"checksum mismatch"}})
	q.Submit(Flag{Kind: KindDesync, SyncSessionID: "sync_b", StepIndex: 2})
	assert.Equal(t, 2, q.Pending())

	require.NoError(t, q.Flush())
	assert.Zero(t, q.Pending())

	flags := readFlags(t, dir)
	require.Len(t, flags, 2)
	assert.Equal(t, KindFraud, flags[0].Kind)
	assert.Equal(t, "sync_b", flags[1].SyncSessionID)

	var summary Summary
	data, err := os.ReadFile(filepath.Join(dir, summaryFilename))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.ByKind[KindFraud])
	assert.Equal(t, 1, summary.ByKind[KindDesync])
}

func TestFileQueueFlushesWhenFull(t *testing.T) {
	dir := t.TempDir()
	q := newQueue(t, Config{Dir: dir, FlushFlags: 2})

	q.Submit(Flag{Kind: KindCascadeCeiling, SpinID: "spin_1"})
	q.Submit(Flag{Kind: KindCascadeCeiling, SpinID: "spin_2"})

	require.Eventually(t, func() bool {
		return q.Summary().Total == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, readFlags(t, dir), 2)
}

func TestFileQueueDisablesAfterFailures(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "flags")
	q := newQueue(t, Config{Dir: dir, FlushFlags: 100})
	require.NoError(t, os.RemoveAll(dir))

	q.Submit(Flag{Kind: KindFraud})
	for i := 0; i < maxFailures; i++ {
		assert.Error(t, q.Flush())
	}
	assert.True(t, q.Disabled())
	assert.Zero(t, q.Pending())

	q.Submit(Flag{Kind: KindFraud})
	assert.Zero(t, q.Pending())
	assert.Equal(t, 2, q.Summary().Dropped)
	assert.NoError(t, q.Flush())
}

func TestFileQueueShutdownFlushes(t *testing.T) {
	dir := t.TempDir()
	q, err := NewFileQueue(zerolog.New(io.Discard), Config{Dir: dir, FlushInterval: time.Hour, Clock: quartz.NewMock(t)})
	require.NoError(t, err)

	q.Submit(Flag{Kind: KindChecksumMismatch, SpinID: "spin_z"})
	require.NoError(t, q.Shutdown(context.Background()))
	require.NoError(t, q.Shutdown(context.Background()))

	flags := readFlags(t, dir)
	require.Len(t, flags, 1)
	assert.Equal(t, "spin_z", flags[0].SpinID)
}

func TestNewFileQueueRequiresDir(t *testing.T) {
	_, err := NewFileQueue(zerolog.Nop(), Config{})
	assert.Error(t, err)
}

func TestMemoryQueue(t *testing.T) {
	var m Memory
	m.Submit(Flag{Kind: KindFraud, SpinID: "a"})
	m.Submit(Flag{Kind: KindDesync, SpinID: "b"})

	flags := m.Flags()
	require.Len(t, flags, 2)
	flags[0].SpinID = "changed"
	assert.Equal(t, "a", m.Flags()[0].SpinID)

	var q Queue = Discard{}
	q.Submit(Flag{})
}
