package cascadesync

import (
	"context"

	"github.com/lox/cascadeslots/internal/checksum"
	"github.com/lox/cascadeslots/internal/engine"
	"github.com/lox/cascadeslots/internal/gameid"
	"github.com/lox/cascadeslots/internal/review"
)

// RequestRecovery hands the client step StepIndex's GridBefore, its
// GridAfterDrop as the authoritative grid, and every step from StepIndex on.
// StepIndex equal to the expected step count resumes from the final grid with
// nothing left to replay.
func (s *Synchronizer) RequestRecovery(ctx context.Context, id string, req RecoveryRequest) (*RecoveryResponse, error) {
	const op = "recovery/request"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.DesyncType.valid() {
		return nil, engine.Errorf(engine.CodeInvalidRequest, op, "unknown desync type %q", req.DesyncType).WithSession(id)
	}

	sess, err := s.acquire(op, id)
	if err != nil {
		return nil, err
	}

	var flag *review.Flag
	resp, err := s.requestRecoveryLocked(sess, req, &flag)
	sess.mu.Unlock()
	if flag != nil {
		s.submit(*flag)
	}
	return resp, err
}

func (s *Synchronizer) requestRecoveryLocked(sess *session, req RecoveryRequest, flag **review.Flag) (*RecoveryResponse, error) {
	const op = "recovery/request"
	id := sess.info.ID
	switch sess.info.State {
	case StateRecovering:
		return nil, engine.Errorf(engine.CodeInvalidState, op, "recovery already in progress").WithSession(id)
	case StateCompleting:
		return nil, engine.Errorf(engine.CodeInvalidState, op, "session is completing").WithSession(id)
	}
	if req.StepIndex < 0 || req.StepIndex > sess.info.ExpectedSteps {
		return nil, engine.Errorf(engine.CodeInvalidRequest, op, "step %d outside 0..%d", req.StepIndex, sess.info.ExpectedSteps).WithSession(id)
	}

	res := sess.result
	data := RecoveryData{
		SpinID:    res.SpinID,
		StepIndex: req.StepIndex,
		FinalGrid: res.FinalGrid,
		TotalWin:  res.TotalWin,
		Checksum:  res.Checksum,
		Steps:     []engine.CascadeStep{},
	}
	if req.StepIndex < sess.info.ExpectedSteps {
		step := res.CascadeSteps[req.StepIndex]
		data.GridBefore = step.GridBefore
		data.AuthoritativeGrid = step.GridAfterDrop
		data.Steps = append(data.Steps, res.CascadeSteps[req.StepIndex:]...)
	} else {
		data.GridBefore = res.FinalGrid
		data.AuthoritativeGrid = res.FinalGrid
	}
	data.AuthoritativeGridHash = data.AuthoritativeGrid.Hash(sess.info.ValidationSalt)

	now := s.clock.Now()
	rec := &recovery{
		id:        s.cfg.RecoveryIDs.Generate(),
		sessionID: id,
		desync:    req.DesyncType,
		stepIndex: req.StepIndex,
		data:      data,
		createdAt: now,
		expiresAt: now.Add(s.cfg.SessionTTL),
	}

	s.mu.Lock()
	s.recoveries[rec.id] = rec
	s.mu.Unlock()

	sess.info.Recoveries = append(sess.info.Recoveries, rec.id)
	sess.info.Desynced = true
	sess.info.State = StateRecovering
	s.touch(sess)

	*flag = &review.Flag{
		Kind:          review.KindDesync,
		SpinID:        res.SpinID,
		SyncSessionID: id,
		PlayerID:      sess.info.PlayerID,
		StepIndex:     req.StepIndex,
		Reasons:       []string{"recovery requested: " + string(req.DesyncType)},
		At:            now,
	}

	s.logger.Info().
		Str("sync_session_id", id).
		Str("recovery_id", rec.id).
		Str("desync_type", string(req.DesyncType)).
		Int("step", req.StepIndex).
		Msg("Recovery requested")

	return &RecoveryResponse{
		RecoveryID:    rec.id,
		SyncSessionID: id,
		RequiredSteps: len(data.Steps),
		Data:          data,
	}, nil
}

// lookupRecovery finds a recovery by id. It does not lock the session.
func (s *Synchronizer) lookupRecovery(op, recoveryID string) (*recovery, error) {
	if err := gameid.Validate(recoveryID, gameid.Recovery); err != nil {
		return nil, engine.Errorf(engine.CodeInvalidRequest, op, "recoveryId: %v", err)
	}
	s.mu.RLock()
	rec, ok := s.recoveries[recoveryID]
	s.mu.RUnlock()
	if !ok {
		return nil, engine.Errorf(engine.CodeRecoveryNotFound, op, "no such recovery %q", recoveryID)
	}
	if s.clock.Now().After(rec.expiresAt) {
		s.mu.Lock()
		delete(s.recoveries, recoveryID)
		s.mu.Unlock()
		return nil, engine.Errorf(engine.CodeRecoveryNotFound, op, "recovery %q expired", recoveryID)
	}
	return rec, nil
}

// ApplyRecovery records the client's state after replaying recovery data.
// A recovery can be applied once. The session returns to ACTIVE only when
// the client reports success and its grid matches the authoritative grid.
func (s *Synchronizer) ApplyRecovery(ctx context.Context, recoveryID string, req ApplyRequest) (*ApplyResponse, error) {
	const op = "recovery/apply"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.RecoveryResult != RecoverySuccess && req.RecoveryResult != RecoveryFailed {
		return nil, engine.Errorf(engine.CodeInvalidRequest, op, "recoveryResult must be success or failed")
	}
	rec, err := s.lookupRecovery(op, recoveryID)
	if err != nil {
		return nil, err
	}
	sess, err := s.acquire(op, rec.sessionID)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()

	// rec fields are guarded by the owning session's lock.
	if rec.applied {
		return nil, engine.Errorf(engine.CodeRecoveryAlreadyApplied, op, "recovery %q already applied", recoveryID).WithSession(sess.info.ID)
	}
	if sess.info.State != StateRecovering {
		return nil, engine.Errorf(engine.CodeInvalidState, op, "session is %s", sess.info.State).WithSession(sess.info.ID)
	}

	salt := sess.info.ValidationSalt
	clientHash := req.ClientHash
	if clientHash == "" && req.ClientState != nil {
		clientHash = req.ClientState.Hash(salt)
	}
	restored := req.RecoveryResult == RecoverySuccess &&
		clientHash != "" &&
		checksum.Equal(clientHash, rec.data.AuthoritativeGridHash)

	rec.applied = true
	rec.restored = restored

	if restored {
		sess.info.State = StateActive
		sess.info.Desynced = false
		if rec.stepIndex < len(sess.validated) {
			if !sess.validated[rec.stepIndex] && !sess.mismatch[rec.stepIndex] {
				sess.info.AcknowledgedSteps++
			}
			sess.validated[rec.stepIndex] = true
			sess.nextStep = rec.stepIndex + 1
		} else {
			sess.nextStep = rec.stepIndex
		}
	} else {
		sess.info.State = StateDesynced
	}
	s.touch(sess)

	s.logger.Info().
		Str("sync_session_id", sess.info.ID).
		Str("recovery_id", recoveryID).
		Bool("restored", restored).
		Msg("Recovery applied")

	return &ApplyResponse{
		RecoveryID: recoveryID,
		Restored:   restored,
		State:      sess.info.State,
		NextStep:   sess.nextStep,
	}, nil
}

// RecoveryStatus reports a recovery and the state of its session.
func (s *Synchronizer) RecoveryStatus(ctx context.Context, recoveryID string) (*RecoveryStatus, error) {
	const op = "recovery/status"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.lookupRecovery(op, recoveryID)
	if err != nil {
		return nil, err
	}
	sess, err := s.acquire(op, rec.sessionID)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()

	return &RecoveryStatus{
		RecoveryID:    rec.id,
		SyncSessionID: rec.sessionID,
		DesyncType:    rec.desync,
		StepIndex:     rec.stepIndex,
		RequiredSteps: len(rec.data.Steps),
		Applied:       rec.applied,
		Restored:      rec.restored,
		SessionState:  sess.info.State,
		CreatedAt:     rec.createdAt,
	}, nil
}
