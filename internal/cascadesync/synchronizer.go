// Package cascadesync keeps a remote, independently animating client in
// lockstep with server-computed cascade results. Each spin gets a short-lived
// sync session; the client acknowledges every step with a salted grid hash
// and may ask for recovery data when it falls out of step.
package cascadesync

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/lox/cascadeslots/internal/checksum"
	"github.com/lox/cascadeslots/internal/engine"
	"github.com/lox/cascadeslots/internal/gameid"
	"github.com/lox/cascadeslots/internal/randutil"
	"github.com/lox/cascadeslots/internal/review"
	"github.com/lox/cascadeslots/internal/validator"
)

const (
	DefaultSessionTTL     = 30 * time.Second
	DefaultSweepInterval  = 5 * time.Second
	DefaultMaxSyncLatency = 2 * time.Second
)

// Config configures a Synchronizer. Zero values select defaults.
type Config struct {
	SessionTTL     time.Duration
	MaxSyncLatency time.Duration
	Clock          quartz.Clock
	Review         review.Queue
	SyncIDs        *gameid.Generator
	RecoveryIDs    *gameid.Generator
}

type session struct {
	mu sync.Mutex

	info      Session
	result    *engine.SpinResult
	validated []bool
	ackTimes  []int64
	mismatch  map[int]bool
	nextStep  int
}

type recovery struct {
	id        string
	sessionID string
	desync    DesyncType
	stepIndex int
	data      RecoveryData
	applied   bool
	restored  bool
	createdAt time.Time
	expiresAt time.Time
}

// Synchronizer owns every live sync session. Sessions proceed in parallel;
// operations on one session are serialized by its own mutex. The registry
// lock is only ever taken after a session lock, never before.
type Synchronizer struct {
	results   ResultSource
	validator *validator.Validator
	cfg       Config
	clock     quartz.Clock
	logger    zerolog.Logger

	mu         sync.RWMutex
	sessions   map[string]*session
	recoveries map[string]*recovery
	tombstones map[string]time.Time
}

// New builds a Synchronizer that looks results up in results.
func New(results ResultSource, v *validator.Validator, logger zerolog.Logger, cfg Config) *Synchronizer {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.MaxSyncLatency <= 0 {
		cfg.MaxSyncLatency = DefaultMaxSyncLatency
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.Review == nil {
		cfg.Review = review.Discard{}
	}
	if cfg.SyncIDs == nil {
		cfg.SyncIDs = gameid.NewGenerator(gameid.Sync, nil)
	}
	if cfg.RecoveryIDs == nil {
		cfg.RecoveryIDs = gameid.NewGenerator(gameid.Recovery, nil)
	}
	return &Synchronizer{
		results:    results,
		validator:  v,
		cfg:        cfg,
		clock:      cfg.Clock,
		logger:     logger.With().Str("component", "sync").Logger(),
		sessions:   make(map[string]*session),
		recoveries: make(map[string]*recovery),
		tombstones: make(map[string]time.Time),
	}
}

func newSalt() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("cascadesync: failed to read salt: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// StartSession opens a sync session for a registered spin.
func (s *Synchronizer) StartSession(ctx context.Context, req StartRequest) (*StartResponse, error) {
	const op = "sync/start"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.SpinID == "" {
		return nil, engine.Errorf(engine.CodeInvalidRequest, op, "spinId is required")
	}
	if err := gameid.Validate(req.SpinID, gameid.Spin); err != nil {
		return nil, engine.Errorf(engine.CodeInvalidRequest, op, "spinId: %v", err)
	}
	res, ok := s.results.Result(req.SpinID)
	if !ok {
		return nil, engine.Errorf(engine.CodeInvalidRequest, op, "unknown spin %q", req.SpinID)
	}

	now := s.clock.Now()
	sess := &session{
		info: Session{
			ID:             s.cfg.SyncIDs.Generate(),
			SpinID:         res.SpinID,
			PlayerID:       req.PlayerID,
			GameSessionID:  req.SessionID,
			State:          StateCreated,
			ExpectedSteps:  len(res.CascadeSteps),
			ValidationSalt: newSalt(),
			SyncSeed:       randutil.NewSeed(),
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.cfg.SessionTTL),
			LastActivity:   now,
		},
		result:    res,
		validated: make([]bool, len(res.CascadeSteps)),
		ackTimes:  make([]int64, len(res.CascadeSteps)),
		mismatch:  make(map[int]bool),
	}

	var flags []review.Flag
	if req.ClientGridState != nil && *req.ClientGridState != res.InitialGrid {
		sess.info.Desynced = true
		flags = append(flags, review.Flag{
			Kind:          review.KindDesync,
			SpinID:        res.SpinID,
			SyncSessionID: sess.info.ID,
			PlayerID:      req.PlayerID,
			StepIndex:     -1,
			Reasons:       []string{"client initial grid differs from server"},
			At:            now,
		})
	}
	sess.info.State = StateActive

	s.mu.Lock()
	s.sessions[sess.info.ID] = sess
	s.mu.Unlock()

	s.submit(flags...)
	s.logger.Debug().
		Str("sync_session_id", sess.info.ID).
		Str("spin_id", res.SpinID).
		Int("expected_steps", sess.info.ExpectedSteps).
		Msg("Sync session started")

	return &StartResponse{
		SyncSessionID:   sess.info.ID,
		ValidationSalt:  sess.info.ValidationSalt,
		SyncSeed:        sess.info.SyncSeed,
		ExpectedSteps:   sess.info.ExpectedSteps,
		InitialGridHash: res.InitialGrid.Hash(sess.info.ValidationSalt),
		ExpiresAt:       sess.info.ExpiresAt,
		State:           sess.info.State,
	}, nil
}

// acquire returns the session locked, or a coded error. Expired sessions are
// reclaimed on the spot.
func (s *Synchronizer) acquire(op, id string) (*session, error) {
	if err := gameid.Validate(id, gameid.Sync); err != nil {
		return nil, engine.Errorf(engine.CodeInvalidRequest, op, "syncSessionId: %v", err).WithSession(id)
	}
	s.mu.RLock()
	sess, ok := s.sessions[id]
	_, expired := s.tombstones[id]
	s.mu.RUnlock()
	if !ok {
		if expired {
			return nil, engine.Errorf(engine.CodeSessionExpired, op, "session expired").WithSession(id)
		}
		return nil, engine.Errorf(engine.CodeSyncSessionNotFound, op, "no such session").WithSession(id)
	}

	sess.mu.Lock()
	switch sess.info.State {
	case StateExpired:
		sess.mu.Unlock()
		return nil, engine.Errorf(engine.CodeSessionExpired, op, "session expired").WithSession(id)
	case StateComplete, StateCancelled:
		sess.mu.Unlock()
		return nil, engine.Errorf(engine.CodeSyncSessionNotFound, op, "session closed").WithSession(id)
	}
	if s.clock.Now().After(sess.info.ExpiresAt) {
		s.expireLocked(sess)
		sess.mu.Unlock()
		return nil, engine.Errorf(engine.CodeSessionExpired, op, "session expired").WithSession(id)
	}
	return sess, nil
}

// touch extends the idle deadline. Caller holds sess.mu.
func (s *Synchronizer) touch(sess *session) {
	now := s.clock.Now()
	sess.info.LastActivity = now
	sess.info.ExpiresAt = now.Add(s.cfg.SessionTTL)
}

// expireLocked marks sess expired and removes it. Caller holds sess.mu.
func (s *Synchronizer) expireLocked(sess *session) {
	sess.info.State = StateExpired
	s.release(sess.info.ID, true)
	s.logger.Info().
		Str("sync_session_id", sess.info.ID).
		Str("spin_id", sess.info.SpinID).
		Int("acknowledged", sess.info.AcknowledgedSteps).
		Int("expected", sess.info.ExpectedSteps).
		Msg("Sync session expired")
}

// release drops a session and its recoveries from the registry.
func (s *Synchronizer) release(id string, expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	for rid, r := range s.recoveries {
		if r.sessionID == id {
			delete(s.recoveries, rid)
		}
	}
	if expired {
		s.tombstones[id] = s.clock.Now().Add(s.cfg.SessionTTL)
	}
}

func (s *Synchronizer) submit(flags ...review.Flag) {
	for _, f := range flags {
		s.cfg.Review.Submit(f)
	}
}

// Session returns a snapshot of a live session.
func (s *Synchronizer) Session(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, err := s.acquire("sync/get", id)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()
	snap := sess.info
	snap.MismatchedSteps = append([]int(nil), sess.info.MismatchedSteps...)
	snap.Recoveries = append([]string(nil), sess.info.Recoveries...)
	return &snap, nil
}

// AcknowledgeStep checks the client's grid after a step against the server.
// A mismatch marks the session desynced but never blocks further steps.
func (s *Synchronizer) AcknowledgeStep(ctx context.Context, id string, ack StepAck) (*AckResponse, error) {
	const op = "sync/step"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, err := s.acquire(op, id)
	if err != nil {
		return nil, err
	}

	var flags []review.Flag
	resp, err := s.acknowledgeLocked(sess, ack, &flags)
	sess.mu.Unlock()
	s.submit(flags...)
	return resp, err
}

func (s *Synchronizer) acknowledgeLocked(sess *session, ack StepAck, flags *[]review.Flag) (*AckResponse, error) {
	const op = "sync/step"
	id := sess.info.ID

	switch sess.info.State {
	case StateRecovering:
		return nil, engine.Errorf(engine.CodeInvalidState, op, "recovery in progress").WithSession(id).WithStep(ack.StepIndex)
	case StateCompleting:
		return nil, engine.Errorf(engine.CodeInvalidState, op, "session is completing").WithSession(id).WithStep(ack.StepIndex)
	}
	if ack.StepIndex < 0 || ack.StepIndex >= sess.info.ExpectedSteps {
		return nil, engine.Errorf(engine.CodeInvalidRequest, op, "step %d outside 0..%d", ack.StepIndex, sess.info.ExpectedSteps-1).WithSession(id)
	}
	if ack.ClientHash == "" && ack.ClientGridState == nil {
		return nil, engine.Errorf(engine.CodeInvalidRequest, op, "clientHash or clientGridState is required").WithSession(id).WithStep(ack.StepIndex)
	}

	sess.info.State = StatePendingAck
	step := sess.result.CascadeSteps[ack.StepIndex]
	salt := sess.info.ValidationSalt
	serverHash := step.GridAfterDrop.Hash(salt)

	clientHash := ack.ClientHash
	if clientHash == "" {
		clientHash = ack.ClientGridState.Hash(salt)
	}
	match := checksum.Equal(clientHash, serverHash)
	if match && ack.ClientGridState != nil && ack.ClientHash != "" {
		match = checksum.Equal(ack.ClientGridState.Hash(salt), serverHash)
	}

	resp := &AckResponse{StepIndex: ack.StepIndex}
	now := s.clock.Now()

	if ack.StepIndex > sess.nextStep {
		sess.info.Desynced = true
		*flags = append(*flags, review.Flag{
			Kind:          review.KindDesync,
			SpinID:        sess.info.SpinID,
			SyncSessionID: id,
			PlayerID:      sess.info.PlayerID,
			StepIndex:     ack.StepIndex,
			Reasons:       []string{"step skipped"},
			At:            now,
		})
		s.logger.Warn().Str("sync_session_id", id).Int("step", ack.StepIndex).Int("expected_step", sess.nextStep).Msg("Client skipped a step")
	}

	if !sess.validated[ack.StepIndex] {
		sess.info.AcknowledgedSteps++
	}
	sess.ackTimes[ack.StepIndex] = ack.ClientTimestamp

	if match {
		sess.validated[ack.StepIndex] = true
	} else {
		if !sess.mismatch[ack.StepIndex] {
			sess.mismatch[ack.StepIndex] = true
			sess.info.MismatchedSteps = append(sess.info.MismatchedSteps, ack.StepIndex)
		}
		sess.info.Desynced = true
		*flags = append(*flags, review.Flag{
			Kind:          review.KindChecksumMismatch,
			SpinID:        sess.info.SpinID,
			SyncSessionID: id,
			PlayerID:      sess.info.PlayerID,
			StepIndex:     ack.StepIndex,
			Reasons:       []string{"step grid hash mismatch"},
			At:            now,
		})
		s.logger.Warn().Str("sync_session_id", id).Str("spin_id", sess.info.SpinID).Int("step", ack.StepIndex).Msg("Step checksum mismatch")
	}

	if ack.ClientGridState != nil && s.validator != nil {
		gr := s.validator.ValidateGridState(*ack.ClientGridState, validator.GridExpectation{
			ExpectedHash: serverHash,
			Salt:         salt,
			Mode:         sess.result.Mode,
		})
		if !gr.Valid {
			s.logger.Debug().Str("sync_session_id", id).Int("step", ack.StepIndex).Strs("issues", gr.Issues).Msg("Client grid failed validation")
		}
		fraud := gr.Fraud
		if fraud.Score > 0 {
			resp.Fraud = &fraud
		}
		if fraud.Suspicious {
			*flags = append(*flags, review.Flag{
				Kind:          review.KindFraud,
				SpinID:        sess.info.SpinID,
				SyncSessionID: id,
				PlayerID:      sess.info.PlayerID,
				StepIndex:     ack.StepIndex,
				Score:         fraud.Score,
				Reasons:       fraud.Reasons,
				At:            now,
			})
		}
	}

	if ack.StepIndex >= sess.nextStep {
		sess.nextStep = ack.StepIndex + 1
	}
	if sess.info.Desynced {
		sess.info.State = StateDesynced
	} else {
		sess.info.State = StateValidated
	}
	s.touch(sess)

	resp.Valid = match
	resp.Desynced = sess.info.Desynced
	resp.NextStep = sess.nextStep
	resp.State = sess.info.State
	return resp, nil
}

// CompleteSession compares the client's final view with the result, scores
// the session and releases it.
func (s *Synchronizer) CompleteSession(ctx context.Context, id string, req CompleteRequest) (*CompleteResponse, error) {
	const op = "sync/complete"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, err := s.acquire(op, id)
	if err != nil {
		return nil, err
	}

	var flags []review.Flag
	resp, err := s.completeLocked(sess, req, &flags)
	sess.mu.Unlock()
	s.submit(flags...)
	return resp, err
}

func (s *Synchronizer) completeLocked(sess *session, req CompleteRequest, flags *[]review.Flag) (*CompleteResponse, error) {
	const op = "sync/complete"
	id := sess.info.ID
	switch sess.info.State {
	case StateActive, StateValidated, StateDesynced:
	default:
		return nil, engine.Errorf(engine.CodeInvalidState, op, "cannot complete from %s", sess.info.State).WithSession(id)
	}
	if req.ClientHash == "" && req.FinalGridState == nil {
		return nil, engine.Errorf(engine.CodeInvalidRequest, op, "clientHash or finalGridState is required").WithSession(id)
	}
	sess.info.State = StateCompleting

	res := sess.result
	salt := sess.info.ValidationSalt
	serverHash := res.FinalGrid.Hash(salt)
	clientHash := req.ClientHash
	if clientHash == "" {
		clientHash = req.FinalGridState.Hash(salt)
	}

	out := &CompleteResponse{
		SyncSessionID:   id,
		FinalHashMatch:  checksum.Equal(clientHash, serverHash),
		TotalWinMatch:   req.TotalWin.Equal(res.TotalWin),
		TotalSteps:      sess.info.ExpectedSteps,
		MismatchedSteps: append([]int(nil), sess.info.MismatchedSteps...),
	}
	for i, ok := range sess.validated {
		if ok && !sess.mismatch[i] {
			out.ValidatedSteps++
		}
	}
	out.PerformanceScore = 1
	if out.TotalSteps > 0 {
		out.PerformanceScore = float64(out.ValidatedSteps) / float64(out.TotalSteps)
	}

	now := s.clock.Now()
	var scores []validator.FraudScore
	if s.validator != nil {
		scores = append(scores, s.validator.AnalyzeSpinResultFraud(res))
		if req.FinalGridState != nil {
			gr := s.validator.ValidateGridState(*req.FinalGridState, validator.GridExpectation{
				ExpectedHash: serverHash,
				Salt:         salt,
				Mode:         res.Mode,
			})
			scores = append(scores, gr.Fraud)
		}
		if timing, expected, ok := s.timingData(sess, req.Timing); ok {
			// The recorded floor is already scaled for quick spins.
			tc := validator.TimingContext{
				ExpectedSteps:   expected,
				MinStepDuration: time.Duration(res.Timing.MinStepDurationMs) * time.Millisecond,
				MaxSyncLatency:  s.cfg.MaxSyncLatency,
			}
			tr := s.validator.ValidateTiming(timing, tc)
			out.Timing = &tr
			scores = append(scores, s.validator.DetectTimingFraud(timing, tc))
		}
	}
	if !out.FinalHashMatch || !out.TotalWinMatch {
		scores = append(scores, validator.FraudScore{Score: 0.6, Reasons: []string{"final state differs from server result"}})
	}
	out.Fraud = validator.Merge(scores...)

	if out.Fraud.Suspicious {
		*flags = append(*flags, review.Flag{
			Kind:          review.KindFraud,
			SpinID:        res.SpinID,
			SyncSessionID: id,
			PlayerID:      sess.info.PlayerID,
			StepIndex:     -1,
			Score:         out.Fraud.Score,
			Reasons:       out.Fraud.Reasons,
			At:            now,
		})
	}
	for _, a := range res.Anomalies {
		if a == engine.AnomalyCascadeCeiling {
			*flags = append(*flags, review.Flag{
				Kind:          review.KindCascadeCeiling,
				SpinID:        res.SpinID,
				SyncSessionID: id,
				PlayerID:      sess.info.PlayerID,
				StepIndex:     len(res.CascadeSteps) - 1,
				Reasons:       []string{"cascade ceiling reached"},
				At:            now,
			})
		}
	}

	sess.info.State = StateComplete
	sess.info.LastActivity = now
	s.release(id, false)

	s.logger.Info().
		Str("sync_session_id", id).
		Str("spin_id", res.SpinID).
		Bool("final_hash_match", out.FinalHashMatch).
		Float64("performance", out.PerformanceScore).
		Float64("fraud_score", out.Fraud.Score).
		Msg("Sync session complete")
	return out, nil
}

// timingData prefers client-reported timing. Otherwise it derives the
// gaps between consecutive acknowledgment timestamps when every step
// carried one; the first step has nothing earlier to measure from.
func (s *Synchronizer) timingData(sess *session, reported *validator.TimingData) (validator.TimingData, int, bool) {
	if reported != nil {
		return *reported, sess.info.ExpectedSteps, true
	}
	n := len(sess.ackTimes)
	if n < 2 {
		return validator.TimingData{}, 0, false
	}
	for _, ts := range sess.ackTimes {
		if ts <= 0 {
			return validator.TimingData{}, 0, false
		}
	}
	durations := make([]int64, 0, n-1)
	for i := 1; i < n; i++ {
		durations = append(durations, sess.ackTimes[i]-sess.ackTimes[i-1])
	}
	return validator.TimingData{StepDurationsMs: durations}, len(durations), true
}

// Cancel marks a session cancelled and releases it.
func (s *Synchronizer) Cancel(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sess, err := s.acquire("sync/cancel", id)
	if err != nil {
		return err
	}
	sess.info.State = StateCancelled
	s.release(id, false)
	sess.mu.Unlock()
	s.logger.Debug().Str("sync_session_id", id).Msg("Sync session cancelled")
	return nil
}

// Len returns the number of live sessions.
func (s *Synchronizer) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep expires idle sessions and stale recoveries. It returns the number
// of sessions reclaimed.
func (s *Synchronizer) Sweep() int {
	now := s.clock.Now()

	s.mu.RLock()
	snapshot := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snapshot = append(snapshot, sess)
	}
	s.mu.RUnlock()

	reclaimed := 0
	for _, sess := range snapshot {
		sess.mu.Lock()
		if !sess.info.State.Terminal() && now.After(sess.info.ExpiresAt) {
			s.expireLocked(sess)
			reclaimed++
		}
		sess.mu.Unlock()
	}

	s.mu.Lock()
	for id, r := range s.recoveries {
		if now.After(r.expiresAt) {
			delete(s.recoveries, id)
		}
	}
	for id, until := range s.tombstones {
		if now.After(until) {
			delete(s.tombstones, id)
		}
	}
	s.mu.Unlock()

	if c, ok := s.results.(interface{ Sweep() int }); ok {
		c.Sweep()
	}
	return reclaimed
}

// Run sweeps on interval until ctx is done.
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := s.clock.NewTicker(interval, "sync", "sweep")
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug().Int("expired", n).Msg("Swept idle sync sessions")
			}
		}
	}
}
