package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/cascadeslots/internal/engine"
)

func spinSeed(t *testing.T, eng *engine.Engine, seed int64) *engine.SpinResult {
	t.Helper()
	res, err := eng.Spin(context.Background(), engine.SpinRequest{BetAmount: decimal.NewFromInt(1), RNGSeed: &seed})
	require.NoError(t, err)
	return res
}

func TestVerifyResult(t *testing.T) {
	eng, err := engine.New(engine.DefaultGameConfig())
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("honest result", func(t *testing.T) {
		require.NoError(t, verifyResult(ctx, eng, spinSeed(t, eng, 42)))
	})

	t.Run("tampered win", func(t *testing.T) {
		res := spinSeed(t, eng, 42)
		res.TotalWin = res.TotalWin.Add(decimal.NewFromInt(100))
		err := verifyResult(ctx, eng, res)
		require.Error(t, err)
		assert.Equal(t, engine.CodeChecksumMismatch, engine.CodeOf(err))
	})

	t.Run("wrong seed with recomputed checksum", func(t *testing.T) {
		res := spinSeed(t, eng, 42)
		other := spinSeed(t, eng, 43)
		res.InitialGrid = other.InitialGrid
		res.Checksum = engine.ComputeChecksum(res)
		err := verifyResult(ctx, eng, res)
		require.Error(t, err)
		assert.Equal(t, engine.CodeChecksumMismatch, engine.CodeOf(err))
	})
}

func TestReadResult(t *testing.T) {
	eng, err := engine.New(engine.DefaultGameConfig())
	require.NoError(t, err)
	res := spinSeed(t, eng, 7)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(res))
	path := filepath.Join(t.TempDir(), "spin.json")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	got, err := readResult(path)
	require.NoError(t, err)
	assert.Equal(t, res.Checksum, got.Checksum)
	require.NoError(t, verifyResult(context.Background(), eng, got))

	_, err = readResult(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestProgressMonitor(t *testing.T) {
	var buf bytes.Buffer
	m := newProgressMonitor(&buf, 80)
	for i := 0; i < 80; i++ {
		m.Add(1)
	}
	m.Finish()
	assert.True(t, strings.HasPrefix(buf.String(), strings.Repeat(".", progressDots)+" "), buf.String())
	assert.Contains(t, buf.String(), "80 rounds")
}
