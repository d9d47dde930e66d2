package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/cascadeslots/internal/cascadesync"
	"github.com/lox/cascadeslots/internal/engine"
)

func TestEnvelopeMsgpack(t *testing.T) {
	original, err := NewEnvelope(TypeSyncStep, "req-1", StepPayload{
		SyncSessionID: "sync_abc",
		StepAck:       cascadesync.StepAck{StepIndex: 2, ClientHash: "ff00"},
	})
	require.NoError(t, err)

	data, err := Marshal(original)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.RequestID, decoded.RequestID)
	assert.JSONEq(t, string(original.Payload), string(decoded.Payload))

	var step StepPayload
	require.NoError(t, decoded.Decode(&step))
	assert.Equal(t, "sync_abc", step.SyncSessionID)
	assert.Equal(t, 2, step.StepIndex)
	assert.Equal(t, "ff00", step.ClientHash)
}

func TestEnvelopeMarshalMsgMatchesEncoder(t *testing.T) {
	env := &Envelope{Type: TypeSpin, Payload: json.RawMessage(`{"betAmount":"1"}`)}

	appended, err := env.MarshalMsg(nil)
	require.NoError(t, err)
	streamed, err := Marshal(env)
	require.NoError(t, err)
	assert.Equal(t, streamed, appended)
	assert.LessOrEqual(t, len(appended), env.Msgsize())

	var decoded Envelope
	rest, err := decoded.UnmarshalMsg(appended)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, TypeSpin, decoded.Type)
	assert.Empty(t, decoded.RequestID)
}

func TestEnvelopeWithoutPayload(t *testing.T) {
	env := &Envelope{Type: TypeRecoveryStatus}
	data, err := Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Nil(t, decoded.Payload)

	err = decoded.Decode(&RecoveryStatusPayload{})
	assert.Equal(t, engine.CodeInvalidRequest, engine.CodeOf(err))
}

func TestUnmarshalTruncated(t *testing.T) {
	env, err := NewEnvelope(TypeSpin, "r", SpinPayload{BetAmount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	data, err := Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	assert.Error(t, Unmarshal(data[:len(data)/2], &decoded))
}

func TestTextFrames(t *testing.T) {
	env, err := NewEnvelope(TypeSyncCancel, "9", CancelPayload{SyncSessionID: "sync_x"})
	require.NoError(t, err)

	data, err := EncodeText(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"sync/cancel","requestId":"9","payload":{"syncSessionId":"sync_x"}}`, string(data))

	var decoded Envelope
	require.NoError(t, DecodeText(data, &decoded))
	var p CancelPayload
	require.NoError(t, decoded.Decode(&p))
	assert.Equal(t, "sync_x", p.SyncSessionID)
}

func TestDecodeMalformedPayload(t *testing.T) {
	env := &Envelope{Type: TypeSyncStep, Payload: json.RawMessage(`{"stepIndex":"two"}`)}
	err := env.Decode(&StepPayload{})
	require.Error(t, err)
	assert.Equal(t, engine.CodeInvalidRequest, engine.CodeOf(err))
}

func TestNewError(t *testing.T) {
	err := engine.Errorf(engine.CodeInvalidState, "sync/step", "recovery in progress").WithSession("sync_1").WithStep(3)
	env := NewError("req-7", err)
	assert.Equal(t, TypeError, env.Type)
	assert.Equal(t, "req-7", env.RequestID)

	var p ErrorPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, engine.CodeInvalidState, p.Code)
	assert.Equal(t, "sync_1", p.SessionID)
	require.NotNil(t, p.StepIndex)
	assert.Equal(t, 3, *p.StepIndex)

	env = NewError("", fmt.Errorf("boom"))
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, engine.CodeInternal, p.Code)
}

func TestKnown(t *testing.T) {
	for _, typ := range []string{TypeSpin, TypeBuyFeature, TypeSyncStart, TypeSyncStep, TypeSyncComplete,
		TypeSyncCancel, TypeRecoveryRequest, TypeRecoveryApply, TypeRecoveryStatus} {
		assert.True(t, Known(typ), typ)
	}
	assert.False(t, Known(TypeError))
	assert.False(t, Known("hand_start"))
}

func TestNormalizeLegacy(t *testing.T) {
	tests := []struct {
		name     string
		in       Envelope
		wantType string
		want     string
	}{
		{
			name:     "step ack aliases",
			in:       Envelope{Type: "step_ack", Payload: json.RawMessage(`{"sync_session_id":"s1","step_index":2,"stepHash":"ab"}`)},
			wantType: TypeSyncStep,
			want:     `{"syncSessionId":"s1","stepIndex":2,"clientHash":"ab"}`,
		},
		{
			name:     "canonical key wins",
			in:       Envelope{Type: TypeSyncStep, Payload: json.RawMessage(`{"clientHash":"new","stepHash":"old"}`)},
			wantType: TypeSyncStep,
			want:     `{"clientHash":"new"}`,
		},
		{
			name:     "nested aliases",
			in:       Envelope{Type: TypeSyncComplete, Payload: json.RawMessage(`{"syncSessionId":"s","timing":{"step_durations_ms":[900,900]}}`)},
			wantType: TypeSyncComplete,
			want:     `{"syncSessionId":"s","timing":{"stepDurationsMs":[900,900]}}`,
		},
		{
			name:     "grid state alias",
			in:       Envelope{Type: "recovery_request", Payload: json.RawMessage(`{"desync_type":"client_reload","grid_state":null}`)},
			wantType: TypeRecoveryRequest,
			want:     `{"desyncType":"client_reload","clientGridState":null}`,
		},
		{
			name:     "large numbers survive",
			in:       Envelope{Type: "spin", Payload: json.RawMessage(`{"rng_seed":9007199254740993,"bet":"2.50"}`)},
			wantType: TypeSpin,
			want:     `{"rngSeed":9007199254740993,"betAmount":"2.50"}`,
		},
		{
			name:     "already canonical is untouched",
			in:       Envelope{Type: TypeRecoveryStatus, Payload: json.RawMessage(`{"recoveryId":"r"}`)},
			wantType: TypeRecoveryStatus,
			want:     `{"recoveryId":"r"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := tt.in
			require.NoError(t, NormalizeLegacy(&env))
			assert.Equal(t, tt.wantType, env.Type)
			assert.JSONEq(t, tt.want, string(env.Payload))
		})
	}
}

func TestNormalizeLegacyAliasCollisionIsStable(t *testing.T) {
	// Map iteration order varies run to run, so repeat enough times that a
	// random pick between the aliases would show up.
	for i := 0; i < 64; i++ {
		env := Envelope{Type: "step_ack", Payload: json.RawMessage(`{"step_hash":"b","client_hash":"c","stepHash":"a","step_index":1,"stepNumber":9}`)}
		require.NoError(t, NormalizeLegacy(&env))
		require.JSONEq(t, `{"clientHash":"a","stepIndex":1}`, string(env.Payload), "iteration %d", i)
	}

	env := Envelope{Type: "step_ack", Payload: json.RawMessage(`{"step_hash":"b","clientHash":"z","stepHash":"a"}`)}
	require.NoError(t, NormalizeLegacy(&env))
	assert.JSONEq(t, `{"clientHash":"z"}`, string(env.Payload))
}

func TestNormalizeLegacyDecodesIntoCanonicalTypes(t *testing.T) {
	env := Envelope{Type: "apply_recovery", Payload: json.RawMessage(`{"recovery_id":"rec_1","recovery_result":"success","client_hash":"aa"}`)}
	require.NoError(t, NormalizeLegacy(&env))

	var p RecoveryApplyPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "rec_1", p.RecoveryID)
	assert.Equal(t, cascadesync.RecoverySuccess, p.RecoveryResult)
	assert.Equal(t, "aa", p.ClientHash)
}

func TestNormalizeLegacyRejectsGarbage(t *testing.T) {
	env := Envelope{Type: TypeSpin, Payload: json.RawMessage(`{not json`)}
	assert.Error(t, NormalizeLegacy(&env))
}

func TestConcurrentMarshal(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env := &Envelope{Type: TypeSpin, RequestID: fmt.Sprintf("r%d", i), Payload: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))}
			data, err := Marshal(env)
			if !assert.NoError(t, err) {
				return
			}
			var decoded Envelope
			if assert.NoError(t, Unmarshal(data, &decoded)) {
				assert.Equal(t, env.RequestID, decoded.RequestID)
				assert.Equal(t, string(env.Payload), string(decoded.Payload))
			}
		}(i)
	}
	wg.Wait()
}
