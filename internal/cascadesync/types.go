package cascadesync

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lox/cascadeslots/internal/engine"
	"github.com/lox/cascadeslots/internal/validator"
)

// State is the lifecycle state of a sync session.
type State string

const (
	StateCreated    State = "CREATED"
	StateActive     State = "ACTIVE"
	StatePendingAck State = "PENDING_ACK"
	StateValidated  State = "VALIDATED"
	StateDesynced   State = "DESYNCED"
	StateRecovering State = "RECOVERING"
	StateCompleting State = "COMPLETING"
	StateComplete   State = "COMPLETE"
	StateCancelled  State = "CANCELLED"
	StateExpired    State = "EXPIRED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateCancelled || s == StateExpired
}

// DesyncType names why a client asked for recovery.
type DesyncType string

const (
	DesyncGridMismatch DesyncType = "grid_mismatch"
	DesyncStepSkipped  DesyncType = "step_skipped"
	DesyncTiming       DesyncType = "timing"
	DesyncClientReload DesyncType = "client_reload"
)

func (d DesyncType) valid() bool {
	switch d {
	case DesyncGridMismatch, DesyncStepSkipped, DesyncTiming, DesyncClientReload:
		return true
	}
	return false
}

// RecoveryOutcome is what the client reports after replaying recovery data.
type RecoveryOutcome string

const (
	RecoverySuccess RecoveryOutcome = "success"
	RecoveryFailed  RecoveryOutcome = "failed"
)

// Session is a snapshot of a sync session.
type Session struct {
	ID                string    `json:"syncSessionId"`
	SpinID            string    `json:"spinId"`
	PlayerID          string    `json:"playerId,omitempty"`
	GameSessionID     string    `json:"sessionId,omitempty"`
	State             State     `json:"state"`
	ExpectedSteps     int       `json:"expectedSteps"`
	AcknowledgedSteps int       `json:"acknowledgedSteps"`
	ValidationSalt    string    `json:"validationSalt"`
	SyncSeed          int64     `json:"syncSeed"`
	CreatedAt         time.Time `json:"createdAt"`
	ExpiresAt         time.Time `json:"expiresAt"`
	LastActivity      time.Time `json:"lastActivity"`
	Desynced          bool      `json:"desynced"`
	MismatchedSteps   []int     `json:"mismatchedSteps,omitempty"`
	Recoveries        []string  `json:"recoveries,omitempty"`
}

// StartRequest opens a session for a registered spin.
type StartRequest struct {
	SpinID          string       `json:"spinId"`
	PlayerID        string       `json:"playerId"`
	SessionID       string       `json:"sessionId"`
	ClientGridState *engine.Grid `json:"clientGridState,omitempty"`
}

// StartResponse is returned by StartSession.
type StartResponse struct {
	SyncSessionID   string    `json:"syncSessionId"`
	ValidationSalt  string    `json:"validationSalt"`
	SyncSeed        int64     `json:"syncSeed"`
	ExpectedSteps   int       `json:"expectedSteps"`
	InitialGridHash string    `json:"initialGridHash"`
	ExpiresAt       time.Time `json:"expiresAt"`
	State           State     `json:"state"`
}

// StepAck is a client's acknowledgment of one cascade step. Either
// ClientHash or ClientGridState must be set.
type StepAck struct {
	StepIndex       int          `json:"stepIndex"`
	ClientGridState *engine.Grid `json:"clientGridState,omitempty"`
	ClientHash      string       `json:"clientHash,omitempty"`
	ClientTimestamp int64        `json:"clientTimestamp,omitempty"`
}

// AckResponse is returned by AcknowledgeStep. A mismatch is reported, not
// treated as an error.
type AckResponse struct {
	StepIndex int                   `json:"stepIndex"`
	Valid     bool                  `json:"valid"`
	Desynced  bool                  `json:"desynced"`
	NextStep  int                   `json:"nextStep"`
	State     State                 `json:"state"`
	Fraud     *validator.FraudScore `json:"fraud,omitempty"`
}

// RecoveryRequest asks for authoritative state from StepIndex on.
type RecoveryRequest struct {
	DesyncType  DesyncType   `json:"desyncType"`
	ClientState *engine.Grid `json:"clientState,omitempty"`
	StepIndex   int          `json:"stepIndex"`
}

// RecoveryData is everything a client needs to resume.
type RecoveryData struct {
	SpinID                string               `json:"spinId"`
	StepIndex             int                  `json:"stepIndex"`
	AuthoritativeGrid     engine.Grid          `json:"authoritativeGrid"`
	AuthoritativeGridHash string               `json:"authoritativeGridHash"`
	GridBefore            engine.Grid          `json:"gridBefore"`
	Steps                 []engine.CascadeStep `json:"cascadeSteps"`
	FinalGrid             engine.Grid          `json:"finalGrid"`
	TotalWin              decimal.Decimal      `json:"totalWin"`
	Checksum              string               `json:"checksum"`
}

// RecoveryResponse is returned by RequestRecovery.
type RecoveryResponse struct {
	RecoveryID    string       `json:"recoveryId"`
	SyncSessionID string       `json:"syncSessionId"`
	RequiredSteps int          `json:"requiredSteps"`
	Data          RecoveryData `json:"recoveryData"`
}

// ApplyRequest reports the client's state after applying recovery data.
type ApplyRequest struct {
	ClientState    *engine.Grid    `json:"clientState,omitempty"`
	ClientHash     string          `json:"clientHash,omitempty"`
	RecoveryResult RecoveryOutcome `json:"recoveryResult"`
}

// ApplyResponse is returned by ApplyRecovery.
type ApplyResponse struct {
	RecoveryID string `json:"recoveryId"`
	Restored   bool   `json:"restored"`
	State      State  `json:"state"`
	NextStep   int    `json:"nextStep"`
}

// RecoveryStatus is a snapshot of a recovery.
type RecoveryStatus struct {
	RecoveryID    string     `json:"recoveryId"`
	SyncSessionID string     `json:"syncSessionId"`
	DesyncType    DesyncType `json:"desyncType"`
	StepIndex     int        `json:"stepIndex"`
	RequiredSteps int        `json:"requiredSteps"`
	Applied       bool       `json:"applied"`
	Restored      bool       `json:"restored"`
	SessionState  State      `json:"sessionState"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// CompleteRequest closes a session with the client's final view.
type CompleteRequest struct {
	FinalGridState *engine.Grid          `json:"finalGridState,omitempty"`
	ClientHash     string                `json:"clientHash,omitempty"`
	TotalWin       decimal.Decimal       `json:"totalWin"`
	Timing         *validator.TimingData `json:"timing,omitempty"`
}

// CompleteResponse is returned by CompleteSession.
type CompleteResponse struct {
	SyncSessionID    string                  `json:"syncSessionId"`
	FinalHashMatch   bool                    `json:"finalHashMatch"`
	TotalWinMatch    bool                    `json:"totalWinMatch"`
	PerformanceScore float64                 `json:"performanceScore"`
	TotalSteps       int                     `json:"totalSteps"`
	ValidatedSteps   int                     `json:"validatedSteps"`
	MismatchedSteps  []int                   `json:"mismatchedSteps,omitempty"`
	Timing           *validator.TimingReport `json:"timing,omitempty"`
	Fraud            validator.FraudScore    `json:"fraud"`
}
