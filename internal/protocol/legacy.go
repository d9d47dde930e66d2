package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// legacyTypes maps message type names older clients still send.
var legacyTypes = map[string]string{
	"start_sync":       TypeSyncStart,
	"sync_start":       TypeSyncStart,
	"step_ack":         TypeSyncStep,
	"cascade_step":     TypeSyncStep,
	"sync_step":        TypeSyncStep,
	"sync_complete":    TypeSyncComplete,
	"complete_sync":    TypeSyncComplete,
	"cancel_sync":      TypeSyncCancel,
	"request_recovery": TypeRecoveryRequest,
	"recovery_request": TypeRecoveryRequest,
	"apply_recovery":   TypeRecoveryApply,
	"recovery_apply":   TypeRecoveryApply,
	"recovery_status":  TypeRecoveryStatus,
	"buy_feature":      TypeBuyFeature,
}

type fieldAlias struct {
	from, to string
}

// legacyFields maps historical payload keys to the canonical ones, in the
// order they are applied. When a payload carries the canonical key it wins;
// otherwise the first alias listed for that key does.
var legacyFields = []fieldAlias{
	{"multiplier_events", "multiplierEvents"},
	{"cascades", "cascadeSteps"},
	{"cascade_steps", "cascadeSteps"},
	{"stepHash", "clientHash"},
	{"step_hash", "clientHash"},
	{"client_hash", "clientHash"},
	{"grid_state", "clientGridState"},
	{"gridState", "clientGridState"},
	{"client_grid_state", "clientGridState"},
	{"final_grid_state", "finalGridState"},
	{"spin_id", "spinId"},
	{"player_id", "playerId"},
	{"session_id", "sessionId"},
	{"sync_session_id", "syncSessionId"},
	{"syncId", "syncSessionId"},
	{"step_index", "stepIndex"},
	{"stepNumber", "stepIndex"},
	{"client_timestamp", "clientTimestamp"},
	{"recovery_id", "recoveryId"},
	{"desync_type", "desyncType"},
	{"client_state", "clientState"},
	{"recovery_result", "recoveryResult"},
	{"total_win", "totalWin"},
	{"bet_amount", "betAmount"},
	{"bet", "betAmount"},
	{"quick_spin", "quickSpin"},
	{"rng_seed", "rngSeed"},
	{"free_spins", "freeSpins"},
	{"step_durations_ms", "stepDurationsMs"},
	{"total_duration_ms", "totalDurationMs"},
	{"sync_latency_ms", "syncLatencyMs"},
	{"multiplier_applied", "multipliers"},
}

// NormalizeLegacy rewrites an envelope from an older client into the
// canonical schema. It is the only place aliases are understood; nothing
// behind the transport sees them.
func NormalizeLegacy(e *Envelope) error {
	if canonical, ok := legacyTypes[e.Type]; ok {
		e.Type = canonical
	}
	if len(e.Payload) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("normalize %s payload: %w", e.Type, err)
	}
	if !renameKeys(v) {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("normalize %s payload: %w", e.Type, err)
	}
	e.Payload = raw
	return nil
}

// renameKeys rewrites aliased keys in place at every depth and reports
// whether anything changed.
func renameKeys(v any) bool {
	changed := false
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			if renameKeys(child) {
				changed = true
			}
		}
		for _, a := range legacyFields {
			child, ok := t[a.from]
			if !ok {
				continue
			}
			if _, exists := t[a.to]; !exists {
				t[a.to] = child
			}
			delete(t, a.from)
			changed = true
		}
	case []any:
		for _, child := range t {
			if renameKeys(child) {
				changed = true
			}
		}
	}
	return changed
}
