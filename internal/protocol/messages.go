// Package protocol defines the wire messages exchanged between a cascade
// client and the server. Every frame is an Envelope: a message type, an
// optional request id the server echoes back, and a JSON payload. Text
// frames carry the envelope as JSON, binary frames as msgpack.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lox/cascadeslots/internal/cascadesync"
	"github.com/lox/cascadeslots/internal/engine"
)

// Message types.
const (
	// Client -> Server, answered with the same type.
	TypeSpin            = "spin"
	TypeBuyFeature      = "spin/buy"
	TypeSyncStart       = "sync/start"
	TypeSyncStep        = "sync/step"
	TypeSyncComplete    = "sync/complete"
	TypeSyncCancel      = "sync/cancel"
	TypeRecoveryRequest = "recovery/request"
	TypeRecoveryApply   = "recovery/apply"
	TypeRecoveryStatus  = "recovery/status"

	// Server -> Client
	TypeError = "error"
)

// ErrUnknownMessageType is returned for envelopes whose type is not one of
// the constants above.
var ErrUnknownMessageType = errors.New("unknown message type")

// Envelope wraps every message.
type Envelope struct {
	Type      string          `json:"type" msg:"type"`
	RequestID string          `json:"requestId,omitempty" msg:"request_id"`
	Payload   json.RawMessage `json:"payload,omitempty" msg:"payload"`
}

// ErrorPayload is the body of a TypeError envelope.
type ErrorPayload struct {
	Code      engine.Code `json:"code"`
	Message   string      `json:"message"`
	SessionID string      `json:"syncSessionId,omitempty"`
	StepIndex *int        `json:"stepIndex,omitempty"`
}

// SpinPayload asks for one spin. FreeSpins is the state returned by the
// previous spin of the same game session.
type SpinPayload struct {
	PlayerID  string                `json:"playerId"`
	SessionID string                `json:"sessionId"`
	BetAmount decimal.Decimal       `json:"betAmount"`
	QuickSpin bool                  `json:"quickSpin,omitempty"`
	FreeSpins engine.FreeSpinsState `json:"freeSpins"`
	RNGSeed   *int64                `json:"rngSeed,omitempty"`
}

// Request converts the payload for the engine.
func (p SpinPayload) Request() engine.SpinRequest {
	return engine.SpinRequest{
		PlayerID:  p.PlayerID,
		SessionID: p.SessionID,
		BetAmount: p.BetAmount,
		QuickSpin: p.QuickSpin,
		FreeSpins: p.FreeSpins,
		RNGSeed:   p.RNGSeed,
	}
}

// SpinResponse answers TypeSpin. Sync describes the session opened for the
// result so the client can acknowledge its steps.
type SpinResponse struct {
	Result *engine.SpinResult         `json:"result"`
	Sync   *cascadesync.StartResponse `json:"sync,omitempty"`
}

// BuyPayload buys the free spins feature at BetAmount.
type BuyPayload struct {
	PlayerID  string                `json:"playerId"`
	SessionID string                `json:"sessionId"`
	BetAmount decimal.Decimal       `json:"betAmount"`
	FreeSpins engine.FreeSpinsState `json:"freeSpins"`
}

// BuyResponse carries the new free spins state and the amount to debit.
type BuyResponse struct {
	Cost      decimal.Decimal       `json:"cost"`
	FreeSpins engine.FreeSpinsState `json:"freeSpins"`
	Trigger   engine.TriggerResult  `json:"trigger"`
}

// StepPayload acknowledges one cascade step.
type StepPayload struct {
	SyncSessionID string `json:"syncSessionId"`
	cascadesync.StepAck
}

// CompletePayload closes a sync session.
type CompletePayload struct {
	SyncSessionID string `json:"syncSessionId"`
	cascadesync.CompleteRequest
}

// CancelPayload abandons a sync session.
type CancelPayload struct {
	SyncSessionID string `json:"syncSessionId"`
}

// RecoveryRequestPayload asks for recovery data.
type RecoveryRequestPayload struct {
	SyncSessionID string `json:"syncSessionId"`
	cascadesync.RecoveryRequest
}

// RecoveryApplyPayload reports the outcome of a recovery.
type RecoveryApplyPayload struct {
	RecoveryID string `json:"recoveryId"`
	cascadesync.ApplyRequest
}

// RecoveryStatusPayload asks about a recovery.
type RecoveryStatusPayload struct {
	RecoveryID string `json:"recoveryId"`
}

// Known reports whether t is a request type the server answers.
func Known(t string) bool {
	switch t {
	case TypeSpin, TypeBuyFeature, TypeSyncStart, TypeSyncStep, TypeSyncComplete,
		TypeSyncCancel, TypeRecoveryRequest, TypeRecoveryApply, TypeRecoveryStatus:
		return true
	}
	return false
}

// NewEnvelope encodes payload as JSON inside an envelope.
func NewEnvelope(typ, requestID string, payload any) (*Envelope, error) {
	env := &Envelope{Type: typ, RequestID: requestID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// NewError builds an error envelope from any error, mapping it to its
// stable code.
func NewError(requestID string, err error) *Envelope {
	p := ErrorPayload{Code: engine.CodeOf(err), Message: err.Error()}
	var ee *engine.Error
	if errors.As(err, &ee) {
		p.SessionID = ee.SessionID
		if ee.StepIndex >= 0 {
			step := ee.StepIndex
			p.StepIndex = &step
		}
	}
	env, _ := NewEnvelope(TypeError, requestID, p)
	return env
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return engine.Errorf(engine.CodeInvalidRequest, e.Type, "missing payload")
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return engine.Errorf(engine.CodeInvalidRequest, e.Type, "malformed payload: %v", err)
	}
	return nil
}
