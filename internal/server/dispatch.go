package server

import (
	"context"
	"errors"

	"github.com/lox/cascadeslots/internal/cascadesync"
	"github.com/lox/cascadeslots/internal/engine"
	"github.com/lox/cascadeslots/internal/protocol"
)

func badFrame(err error) error {
	return engine.Errorf(engine.CodeInvalidRequest, "decode", "%v", err)
}

func unknownType(typ string) error {
	return engine.Errorf(engine.CodeInvalidRequest, "dispatch", "%v %q", protocol.ErrUnknownMessageType, typ)
}

// dispatch answers one request envelope. It always returns a reply: either
// the same message type with a result payload, or an error envelope.
func (s *Server) dispatch(ctx context.Context, env *protocol.Envelope) *protocol.Envelope {
	if err := protocol.NormalizeLegacy(env); err != nil {
		return protocol.NewError(env.RequestID, badFrame(err))
	}
	if !protocol.Known(env.Type) {
		s.logger.Debug().Str("type", env.Type).Str("request_id", env.RequestID).Msg("Unknown message type")
		return protocol.NewError(env.RequestID, unknownType(env.Type))
	}

	payload, err := s.handle(ctx, env)
	if err != nil {
		lvl := s.logger.Debug()
		if code := engine.CodeOf(err); code == engine.CodeEngineFault || code == engine.CodeInternal {
			lvl = s.logger.Error()
		}
		lvl.Err(err).Str("type", env.Type).Str("request_id", env.RequestID).Msg("Request failed")
		return protocol.NewError(env.RequestID, err)
	}

	reply, err := protocol.NewEnvelope(env.Type, env.RequestID, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", env.Type).Msg("Failed to encode reply")
		return protocol.NewError(env.RequestID, err)
	}
	return reply
}

func (s *Server) handle(ctx context.Context, env *protocol.Envelope) (any, error) {
	switch env.Type {
	case protocol.TypeSpin:
		var p protocol.SpinPayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		return s.spin(ctx, p)

	case protocol.TypeBuyFeature:
		var p protocol.BuyPayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		state, cost, tr, err := engine.BuyFeature(s.engine.Config().FreeSpins, p.BetAmount, p.FreeSpins)
		if err != nil {
			return nil, err
		}
		s.logger.Info().Str("player_id", p.PlayerID).Str("cost", cost.String()).Int("spins", tr.SpinsAwarded).Msg("Feature bought")
		return protocol.BuyResponse{Cost: cost, FreeSpins: state, Trigger: tr}, nil

	case protocol.TypeSyncStart:
		var p cascadesync.StartRequest
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		return s.sync.StartSession(ctx, p)

	case protocol.TypeSyncStep:
		var p protocol.StepPayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		return s.sync.AcknowledgeStep(ctx, p.SyncSessionID, p.StepAck)

	case protocol.TypeSyncComplete:
		var p protocol.CompletePayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		return s.sync.CompleteSession(ctx, p.SyncSessionID, p.CompleteRequest)

	case protocol.TypeSyncCancel:
		var p protocol.CancelPayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		if err := s.sync.Cancel(ctx, p.SyncSessionID); err != nil {
			return nil, err
		}
		return p, nil

	case protocol.TypeRecoveryRequest:
		var p protocol.RecoveryRequestPayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		return s.sync.RequestRecovery(ctx, p.SyncSessionID, p.RecoveryRequest)

	case protocol.TypeRecoveryApply:
		var p protocol.RecoveryApplyPayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		return s.sync.ApplyRecovery(ctx, p.RecoveryID, p.ApplyRequest)

	case protocol.TypeRecoveryStatus:
		var p protocol.RecoveryStatusPayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		return s.sync.RecoveryStatus(ctx, p.RecoveryID)
	}
	return nil, unknownType(env.Type)
}

// spin resolves a spin, registers the result and opens its sync session.
func (s *Server) spin(ctx context.Context, p protocol.SpinPayload) (*protocol.SpinResponse, error) {
	res, err := s.engine.Spin(ctx, p.Request())
	if err != nil {
		return nil, err
	}
	s.results.Register(res)

	start, err := s.sync.StartSession(ctx, cascadesync.StartRequest{
		SpinID:    res.SpinID,
		PlayerID:  p.PlayerID,
		SessionID: p.SessionID,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("spin_id", res.SpinID).Msg("Failed to open sync session")
		return &protocol.SpinResponse{Result: res}, nil
	}
	return &protocol.SpinResponse{Result: res, Sync: start}, nil
}
