package cascadesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/cascadeslots/internal/engine"
	"github.com/lox/cascadeslots/internal/gameid"
	"github.com/lox/cascadeslots/internal/review"
	"github.com/lox/cascadeslots/internal/validator"
)

type fixture struct {
	eng   *engine.Engine
	cache *ResultCache
	clock *quartz.Mock
	flags *review.Memory
	syn   *Synchronizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := engine.DefaultGameConfig()
	eng, err := engine.New(cfg)
	require.NoError(t, err)
	v, err := validator.New(cfg, zerolog.New(io.Discard))
	require.NoError(t, err)

	clock := quartz.NewMock(t)
	cache := NewResultCache(clock, time.Hour)
	flags := &review.Memory{}
	syn := New(cache, v, zerolog.New(io.Discard), Config{
		SessionTTL: 30 * time.Second,
		Clock:      clock,
		Review:     flags,
	})
	return &fixture{eng: eng, cache: cache, clock: clock, flags: flags, syn: syn}
}

// spinWithSteps finds a seeded spin whose cascade has at least min steps,
// or exactly zero steps when min is 0.
func (f *fixture) spinWithSteps(t *testing.T, min int) *engine.SpinResult {
	t.Helper()
	for seed := int64(1); seed < 5000; seed++ {
		s := seed
		res, err := f.eng.Spin(context.Background(), engine.SpinRequest{
			PlayerID:  "player-1",
			BetAmount: decimal.NewFromInt(1),
			RNGSeed:   &s,
		})
		require.NoError(t, err)
		n := len(res.CascadeSteps)
		if (min == 0 && n == 0) || (min > 0 && n >= min) {
			f.cache.Register(res)
			return res
		}
	}
	t.Fatalf("no seed produced a spin with %d steps", min)
	return nil
}

func (f *fixture) start(t *testing.T, res *engine.SpinResult) *StartResponse {
	t.Helper()
	resp, err := f.syn.StartSession(context.Background(), StartRequest{SpinID: res.SpinID, PlayerID: "player-1"})
	require.NoError(t, err)
	return resp
}

func (f *fixture) ackAll(t *testing.T, id, salt string, res *engine.SpinResult) {
	t.Helper()
	for i, step := range res.CascadeSteps {
		resp, err := f.syn.AcknowledgeStep(context.Background(), id, StepAck{
			StepIndex:  i,
			ClientHash: step.GridAfterDrop.Hash(salt),
		})
		require.NoError(t, err)
		require.True(t, resp.Valid, "step %d", i)
	}
}

func requireCode(t *testing.T, err error, code engine.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, engine.CodeOf(err), "%v", err)
}

func TestStartSession(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 2)

	resp := f.start(t, res)
	assert.NotEmpty(t, resp.SyncSessionID)
	assert.Len(t, resp.ValidationSalt, 32)
	assert.Equal(t, len(res.CascadeSteps), resp.ExpectedSteps)
	assert.Equal(t, StateActive, resp.State)
	assert.Equal(t, res.InitialGrid.Hash(resp.ValidationSalt), resp.InitialGridHash)
	assert.Equal(t, f.clock.Now().Add(30*time.Second), resp.ExpiresAt)

	other := f.start(t, res)
	assert.NotEqual(t, resp.ValidationSalt, other.ValidationSalt)
	assert.Equal(t, 2, f.syn.Len())
}

func TestStartSessionRejectsUnknownSpin(t *testing.T) {
	f := newFixture(t)
	_, err := f.syn.StartSession(context.Background(), StartRequest{SpinID: gameid.New(gameid.Spin)})
	requireCode(t, err, engine.CodeInvalidRequest)
	_, err = f.syn.StartSession(context.Background(), StartRequest{})
	requireCode(t, err, engine.CodeInvalidRequest)
	_, err = f.syn.StartSession(context.Background(), StartRequest{SpinID: "spin_missing"})
	requireCode(t, err, engine.CodeInvalidRequest)
	assert.Contains(t, err.Error(), "spinId")
	_, err = f.syn.StartSession(context.Background(), StartRequest{SpinID: gameid.New(gameid.Sync)})
	requireCode(t, err, engine.CodeInvalidRequest)
	assert.Zero(t, f.syn.Len())
}

func TestStartSessionInitialGridMismatch(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 1)
	wrong := res.InitialGrid
	wrong[0][0] = engine.Scatter
	if res.InitialGrid[0][0] == engine.Scatter {
		wrong[0][0] = engine.Crown
	}

	resp, err := f.syn.StartSession(context.Background(), StartRequest{SpinID: res.SpinID, ClientGridState: &wrong})
	require.NoError(t, err)
	sess, err := f.syn.Session(context.Background(), resp.SyncSessionID)
	require.NoError(t, err)
	assert.True(t, sess.Desynced)
	require.Len(t, f.flags.Flags(), 1)
	assert.Equal(t, review.KindDesync, f.flags.Flags()[0].Kind)
}

func TestHonestSessionCompletes(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 2)
	start := f.start(t, res)

	f.ackAll(t, start.SyncSessionID, start.ValidationSalt, res)
	sess, err := f.syn.Session(context.Background(), start.SyncSessionID)
	require.NoError(t, err)
	assert.Equal(t, StateValidated, sess.State)
	assert.Equal(t, len(res.CascadeSteps), sess.AcknowledgedSteps)

	done, err := f.syn.CompleteSession(context.Background(), start.SyncSessionID, CompleteRequest{
		ClientHash: res.FinalGrid.Hash(start.ValidationSalt),
		TotalWin:   res.TotalWin,
	})
	require.NoError(t, err)
	assert.True(t, done.FinalHashMatch)
	assert.True(t, done.TotalWinMatch)
	assert.Equal(t, 1.0, done.PerformanceScore)
	assert.Equal(t, len(res.CascadeSteps), done.ValidatedSteps)
	assert.False(t, done.Fraud.Suspicious)
	assert.Nil(t, done.Timing)

	assert.Zero(t, f.syn.Len())
	_, err = f.syn.Session(context.Background(), start.SyncSessionID)
	requireCode(t, err, engine.CodeSyncSessionNotFound)
}

func TestAcknowledgeWithGridState(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 1)
	start := f.start(t, res)

	grid := res.CascadeSteps[0].GridAfterDrop
	resp, err := f.syn.AcknowledgeStep(context.Background(), start.SyncSessionID, StepAck{StepIndex: 0, ClientGridState: &grid})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, 1, resp.NextStep)

	// Re-acknowledging is idempotent.
	resp, err = f.syn.AcknowledgeStep(context.Background(), start.SyncSessionID, StepAck{StepIndex: 0, ClientGridState: &grid})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	sess, err := f.syn.Session(context.Background(), start.SyncSessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.AcknowledgedSteps)
}

func TestAcknowledgeMismatchMarksDesync(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 2)
	start := f.start(t, res)

	resp, err := f.syn.AcknowledgeStep(context.Background(), start.SyncSessionID, StepAck{StepIndex: 0, ClientHash: "deadbeef"})
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.True(t, resp.Desynced)
	assert.Equal(t, StateDesynced, resp.State)

	// A mismatch does not block the next step.
	resp, err = f.syn.AcknowledgeStep(context.Background(), start.SyncSessionID, StepAck{
		StepIndex:  1,
		ClientHash: res.CascadeSteps[1].GridAfterDrop.Hash(start.ValidationSalt),
	})
	require.NoError(t, err)
	assert.True(t, resp.Valid)

	flags := f.flags.Flags()
	require.Len(t, flags, 1)
	assert.Equal(t, review.KindChecksumMismatch, flags[0].Kind)
	assert.Equal(t, 0, flags[0].StepIndex)
	assert.Equal(t, res.SpinID, flags[0].SpinID)

	sess, err := f.syn.Session(context.Background(), start.SyncSessionID)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, sess.MismatchedSteps)

	done, err := f.syn.CompleteSession(context.Background(), start.SyncSessionID, CompleteRequest{
		ClientHash: res.FinalGrid.Hash(start.ValidationSalt),
		TotalWin:   res.TotalWin,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, done.MismatchedSteps)
	assert.Less(t, done.PerformanceScore, 1.0)
}

func TestAcknowledgeSkippedStep(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 2)
	start := f.start(t, res)

	resp, err := f.syn.AcknowledgeStep(context.Background(), start.SyncSessionID, StepAck{
		StepIndex:  1,
		ClientHash: res.CascadeSteps[1].GridAfterDrop.Hash(start.ValidationSalt),
	})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.True(t, resp.Desynced)
	assert.Equal(t, 2, resp.NextStep)
}

func TestAcknowledgeInvalidRequests(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 1)
	start := f.start(t, res)
	ctx := context.Background()

	_, err := f.syn.AcknowledgeStep(ctx, start.SyncSessionID, StepAck{StepIndex: len(res.CascadeSteps), ClientHash: "x"})
	requireCode(t, err, engine.CodeInvalidRequest)
	_, err = f.syn.AcknowledgeStep(ctx, start.SyncSessionID, StepAck{StepIndex: -1, ClientHash: "x"})
	requireCode(t, err, engine.CodeInvalidRequest)
	_, err = f.syn.AcknowledgeStep(ctx, start.SyncSessionID, StepAck{StepIndex: 0})
	requireCode(t, err, engine.CodeInvalidRequest)
	_, err = f.syn.AcknowledgeStep(ctx, gameid.New(gameid.Sync), StepAck{StepIndex: 0, ClientHash: "x"})
	requireCode(t, err, engine.CodeSyncSessionNotFound)
	_, err = f.syn.AcknowledgeStep(ctx, "sync_nope", StepAck{StepIndex: 0, ClientHash: "x"})
	requireCode(t, err, engine.CodeInvalidRequest)
	_, err = f.syn.AcknowledgeStep(ctx, res.SpinID, StepAck{StepIndex: 0, ClientHash: "x"})
	requireCode(t, err, engine.CodeInvalidRequest)

	sess, err := f.syn.Session(ctx, start.SyncSessionID)
	require.NoError(t, err)
	assert.Zero(t, sess.AcknowledgedSteps)
	assert.False(t, sess.Desynced)
	assert.Empty(t, f.flags.Flags())
}

func TestRecoveryReturnsAuthoritativeGrid(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 3)
	start := f.start(t, res)
	ctx := context.Background()
	id := start.SyncSessionID

	_, err := f.syn.AcknowledgeStep(ctx, id, StepAck{StepIndex: 0, ClientHash: "bad"})
	require.NoError(t, err)

	rec, err := f.syn.RequestRecovery(ctx, id, RecoveryRequest{DesyncType: DesyncGridMismatch, StepIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, res.CascadeSteps[1].GridAfterDrop, rec.Data.AuthoritativeGrid)
	assert.Equal(t, res.CascadeSteps[1].GridBefore, rec.Data.GridBefore)
	assert.Equal(t, len(res.CascadeSteps)-1, rec.RequiredSteps)
	assert.Equal(t, res.CascadeSteps[1:], rec.Data.Steps)
	assert.Equal(t, res.FinalGrid, rec.Data.FinalGrid)
	assert.True(t, rec.Data.TotalWin.Equal(res.TotalWin))
	assert.Equal(t, res.Checksum, rec.Data.Checksum)

	// Acks and a second recovery are refused while recovering.
	_, err = f.syn.AcknowledgeStep(ctx, id, StepAck{StepIndex: 1, ClientHash: "x"})
	requireCode(t, err, engine.CodeInvalidState)
	_, err = f.syn.RequestRecovery(ctx, id, RecoveryRequest{DesyncType: DesyncGridMismatch, StepIndex: 1})
	requireCode(t, err, engine.CodeInvalidState)

	status, err := f.syn.RecoveryStatus(ctx, rec.RecoveryID)
	require.NoError(t, err)
	assert.False(t, status.Applied)
	assert.Equal(t, StateRecovering, status.SessionState)

	grid := rec.Data.AuthoritativeGrid
	applied, err := f.syn.ApplyRecovery(ctx, rec.RecoveryID, ApplyRequest{ClientState: &grid, RecoveryResult: RecoverySuccess})
	require.NoError(t, err)
	assert.True(t, applied.Restored)
	assert.Equal(t, StateActive, applied.State)
	assert.Equal(t, 2, applied.NextStep)

	_, err = f.syn.ApplyRecovery(ctx, rec.RecoveryID, ApplyRequest{ClientState: &grid, RecoveryResult: RecoverySuccess})
	requireCode(t, err, engine.CodeRecoveryAlreadyApplied)

	status, err = f.syn.RecoveryStatus(ctx, rec.RecoveryID)
	require.NoError(t, err)
	assert.True(t, status.Applied)
	assert.True(t, status.Restored)

	sess, err := f.syn.Session(ctx, id)
	require.NoError(t, err)
	assert.False(t, sess.Desynced)
	assert.Equal(t, []string{rec.RecoveryID}, sess.Recoveries)

	resp, err := f.syn.AcknowledgeStep(ctx, id, StepAck{
		StepIndex:  2,
		ClientHash: res.CascadeSteps[2].GridAfterDrop.Hash(start.ValidationSalt),
	})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.False(t, resp.Desynced)
}

func TestRecoveryFromFinalStep(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 1)
	start := f.start(t, res)

	rec, err := f.syn.RequestRecovery(context.Background(), start.SyncSessionID, RecoveryRequest{
		DesyncType: DesyncClientReload,
		StepIndex:  len(res.CascadeSteps),
	})
	require.NoError(t, err)
	assert.Equal(t, res.FinalGrid, rec.Data.AuthoritativeGrid)
	assert.Zero(t, rec.RequiredSteps)
	assert.NotNil(t, rec.Data.Steps)
}

func TestApplyRecoveryMismatchStaysDesynced(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 1)
	start := f.start(t, res)
	ctx := context.Background()

	rec, err := f.syn.RequestRecovery(ctx, start.SyncSessionID, RecoveryRequest{DesyncType: DesyncTiming, StepIndex: 0})
	require.NoError(t, err)

	applied, err := f.syn.ApplyRecovery(ctx, rec.RecoveryID, ApplyRequest{ClientHash: "nope", RecoveryResult: RecoverySuccess})
	require.NoError(t, err)
	assert.False(t, applied.Restored)
	assert.Equal(t, StateDesynced, applied.State)

	// A fresh recovery may be requested after a failed one.
	rec2, err := f.syn.RequestRecovery(ctx, start.SyncSessionID, RecoveryRequest{DesyncType: DesyncTiming, StepIndex: 0})
	require.NoError(t, err)
	applied, err = f.syn.ApplyRecovery(ctx, rec2.RecoveryID, ApplyRequest{
		ClientHash:     rec2.Data.AuthoritativeGridHash,
		RecoveryResult: RecoveryFailed,
	})
	require.NoError(t, err)
	assert.False(t, applied.Restored)
}

func TestRecoveryInvalidRequests(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 1)
	start := f.start(t, res)
	ctx := context.Background()

	_, err := f.syn.RequestRecovery(ctx, start.SyncSessionID, RecoveryRequest{DesyncType: "lag", StepIndex: 0})
	requireCode(t, err, engine.CodeInvalidRequest)
	_, err = f.syn.RequestRecovery(ctx, start.SyncSessionID, RecoveryRequest{DesyncType: DesyncGridMismatch, StepIndex: len(res.CascadeSteps) + 1})
	requireCode(t, err, engine.CodeInvalidRequest)
	missing := gameid.New(gameid.Recovery)
	_, err = f.syn.ApplyRecovery(ctx, missing, ApplyRequest{RecoveryResult: RecoverySuccess})
	requireCode(t, err, engine.CodeRecoveryNotFound)
	_, err = f.syn.RecoveryStatus(ctx, missing)
	requireCode(t, err, engine.CodeRecoveryNotFound)
	_, err = f.syn.ApplyRecovery(ctx, "rec_missing", ApplyRequest{RecoveryResult: RecoverySuccess})
	requireCode(t, err, engine.CodeInvalidRequest)
	_, err = f.syn.RecoveryStatus(ctx, start.SyncSessionID)
	requireCode(t, err, engine.CodeInvalidRequest)
	_, err = f.syn.RequestRecovery(ctx, "sync_nope", RecoveryRequest{DesyncType: DesyncGridMismatch})
	requireCode(t, err, engine.CodeInvalidRequest)

	sess, err := f.syn.Session(ctx, start.SyncSessionID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, sess.State)
}

func TestCompleteFinalMismatchIsSuspicious(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 1)
	start := f.start(t, res)
	f.ackAll(t, start.SyncSessionID, start.ValidationSalt, res)

	done, err := f.syn.CompleteSession(context.Background(), start.SyncSessionID, CompleteRequest{
		ClientHash: "forged",
		TotalWin:   res.TotalWin.Add(decimal.NewFromInt(1000)),
	})
	require.NoError(t, err)
	assert.False(t, done.FinalHashMatch)
	assert.False(t, done.TotalWinMatch)
	assert.True(t, done.Fraud.Suspicious)
	assert.GreaterOrEqual(t, done.Fraud.Score, 0.6)

	var fraud int
	for _, fl := range f.flags.Flags() {
		if fl.Kind == review.KindFraud {
			fraud++
		}
	}
	assert.Equal(t, 1, fraud)
}

func TestCompleteZeroStepSpin(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 0)
	start := f.start(t, res)
	assert.Zero(t, start.ExpectedSteps)

	done, err := f.syn.CompleteSession(context.Background(), start.SyncSessionID, CompleteRequest{
		ClientHash: res.FinalGrid.Hash(start.ValidationSalt),
		TotalWin:   decimal.Zero,
	})
	require.NoError(t, err)
	assert.True(t, done.FinalHashMatch)
	assert.Equal(t, 1.0, done.PerformanceScore)
}

func TestCompleteDuringRecoveryIsInvalid(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 1)
	start := f.start(t, res)
	ctx := context.Background()

	_, err := f.syn.RequestRecovery(ctx, start.SyncSessionID, RecoveryRequest{DesyncType: DesyncGridMismatch})
	require.NoError(t, err)
	_, err = f.syn.CompleteSession(ctx, start.SyncSessionID, CompleteRequest{ClientHash: "x"})
	requireCode(t, err, engine.CodeInvalidState)
}

func TestCompleteTimingFromAckTimestamps(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 3)
	start := f.start(t, res)
	ctx := context.Background()

	// Acknowledgments 1ms apart are far below the animation floor.
	for i, step := range res.CascadeSteps {
		_, err := f.syn.AcknowledgeStep(ctx, start.SyncSessionID, StepAck{
			StepIndex:       i,
			ClientHash:      step.GridAfterDrop.Hash(start.ValidationSalt),
			ClientTimestamp: int64(1_700_000_000_000 + i),
		})
		require.NoError(t, err)
	}
	done, err := f.syn.CompleteSession(ctx, start.SyncSessionID, CompleteRequest{
		ClientHash: res.FinalGrid.Hash(start.ValidationSalt),
		TotalWin:   res.TotalWin,
	})
	require.NoError(t, err)
	assert.Greater(t, done.Fraud.Score, 0.0)
	assert.Contains(t, fmt.Sprint(done.Fraud.Reasons), "animation floor")

	require.NotNil(t, done.Timing)
	assert.False(t, done.Timing.Valid)
	assert.False(t, done.Timing.StepTimingValid)
	assert.True(t, done.Timing.SequenceTimingValid)
	assert.True(t, done.Timing.SyncTimingValid)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 1)
	start := f.start(t, res)
	ctx := context.Background()

	rec, err := f.syn.RequestRecovery(ctx, start.SyncSessionID, RecoveryRequest{DesyncType: DesyncClientReload})
	require.NoError(t, err)

	require.NoError(t, f.syn.Cancel(ctx, start.SyncSessionID))
	assert.Zero(t, f.syn.Len())

	requireCode(t, f.syn.Cancel(ctx, start.SyncSessionID), engine.CodeSyncSessionNotFound)
	_, err = f.syn.RecoveryStatus(ctx, rec.RecoveryID)
	requireCode(t, err, engine.CodeRecoveryNotFound)
}

func TestLazyExpiry(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 2)
	start := f.start(t, res)
	ctx := context.Background()

	f.clock.Advance(20 * time.Second).MustWait(ctx)
	f.ackAll(t, start.SyncSessionID, start.ValidationSalt, res)

	// Activity pushed the deadline out.
	f.clock.Advance(20 * time.Second).MustWait(ctx)
	_, err := f.syn.Session(ctx, start.SyncSessionID)
	require.NoError(t, err)

	f.clock.Advance(31 * time.Second).MustWait(ctx)
	_, err = f.syn.AcknowledgeStep(ctx, start.SyncSessionID, StepAck{StepIndex: 0, ClientHash: "x"})
	requireCode(t, err, engine.CodeSessionExpired)
	assert.True(t, errors.Is(err, engine.ErrSessionExpired))
	assert.Zero(t, f.syn.Len())

	_, err = f.syn.Session(ctx, start.SyncSessionID)
	requireCode(t, err, engine.CodeSessionExpired)

	// The tombstone is purged once its own window has passed.
	f.clock.Advance(31 * time.Second).MustWait(ctx)
	f.syn.Sweep()
	_, err = f.syn.Session(ctx, start.SyncSessionID)
	requireCode(t, err, engine.CodeSyncSessionNotFound)
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 1)
	ctx := context.Background()

	idle := f.start(t, res)
	f.clock.Advance(20 * time.Second).MustWait(ctx)
	busy := f.start(t, res)

	f.clock.Advance(15 * time.Second).MustWait(ctx)
	assert.Equal(t, 1, f.syn.Sweep())
	assert.Equal(t, 1, f.syn.Len())

	_, err := f.syn.Session(ctx, idle.SyncSessionID)
	requireCode(t, err, engine.CodeSessionExpired)
	_, err = f.syn.Session(ctx, busy.SyncSessionID)
	require.NoError(t, err)
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.syn.Run(ctx, time.Second)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.syn.StartSession(ctx, StartRequest{SpinID: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentSessions(t *testing.T) {
	f := newFixture(t)
	res := f.spinWithSteps(t, 2)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start, err := f.syn.StartSession(ctx, StartRequest{SpinID: res.SpinID, PlayerID: fmt.Sprintf("p%d", i)})
			if err != nil {
				errs <- err
				return
			}
			for j, step := range res.CascadeSteps {
				if _, err := f.syn.AcknowledgeStep(ctx, start.SyncSessionID, StepAck{
					StepIndex:  j,
					ClientHash: step.GridAfterDrop.Hash(start.ValidationSalt),
				}); err != nil {
					errs <- err
					return
				}
			}
			done, err := f.syn.CompleteSession(ctx, start.SyncSessionID, CompleteRequest{
				ClientHash: res.FinalGrid.Hash(start.ValidationSalt),
				TotalWin:   res.TotalWin,
			})
			if err != nil {
				errs <- err
				return
			}
			if done.PerformanceScore != 1 {
				errs <- fmt.Errorf("session %d scored %v", i, done.PerformanceScore)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			f.syn.Sweep()
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Zero(t, f.syn.Len())
}

func TestResultCacheExpires(t *testing.T) {
	clock := quartz.NewMock(t)
	cache := NewResultCache(clock, time.Minute)
	cache.Register(&engine.SpinResult{SpinID: "spin_a"})

	_, ok := cache.Result("spin_a")
	assert.True(t, ok)

	clock.Advance(61 * time.Second).MustWait(context.Background())
	_, ok = cache.Result("spin_a")
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Sweep())
	assert.Zero(t, cache.Len())
}
