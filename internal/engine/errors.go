package engine

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error code surfaced to clients.
type Code string

const (
	CodeInvalidRequest         Code = "INVALID_REQUEST"
	CodeEngineFault            Code = "ENGINE_FAULT"
	CodeSyncSessionNotFound    Code = "SYNC_SESSION_NOT_FOUND"
	CodeSessionExpired         Code = "SESSION_EXPIRED"
	CodeRecoveryNotFound       Code = "RECOVERY_NOT_FOUND"
	CodeRecoveryAlreadyApplied Code = "RECOVERY_ALREADY_APPLIED"
	CodeInvalidState           Code = "INVALID_STATE"
	CodeChecksumMismatch       Code = "CHECKSUM_MISMATCH"
	CodeFraudSuspected         Code = "FRAUD_SUSPECTED"
	CodeInternal               Code = "INTERNAL"
)

// Sentinel errors, one per code, for errors.Is checks.
var (
	ErrInvalidRequest         = errors.New("invalid request")
	ErrEngineFault            = errors.New("engine fault")
	ErrSyncSessionNotFound    = errors.New("sync session not found")
	ErrSessionExpired         = errors.New("session expired")
	ErrRecoveryNotFound       = errors.New("recovery not found")
	ErrRecoveryAlreadyApplied = errors.New("recovery already applied")
	ErrInvalidState           = errors.New("invalid state")
	ErrChecksumMismatch       = errors.New("checksum mismatch")
	ErrFraudSuspected         = errors.New("fraud suspected")
)

var sentinelCodes = map[error]Code{
	ErrInvalidRequest:         CodeInvalidRequest,
	ErrEngineFault:            CodeEngineFault,
	ErrSyncSessionNotFound:    CodeSyncSessionNotFound,
	ErrSessionExpired:         CodeSessionExpired,
	ErrRecoveryNotFound:       CodeRecoveryNotFound,
	ErrRecoveryAlreadyApplied: CodeRecoveryAlreadyApplied,
	ErrInvalidState:           CodeInvalidState,
	ErrChecksumMismatch:       CodeChecksumMismatch,
	ErrFraudSuspected:         CodeFraudSuspected,
}

// Error carries enough context for a caller to decide between retry and abort.
type Error struct {
	Code      Code
	Op        string
	SessionID string
	StepIndex int // -1 when not tied to a step
	Err       error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.SessionID != "" {
		msg += " [" + e.SessionID + "]"
	}
	if e.StepIndex >= 0 {
		msg += fmt.Sprintf(" step %d", e.StepIndex)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error wrapping the sentinel that matches code.
func Errorf(code Code, op string, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Op:        op,
		StepIndex: -1,
		Err:       fmt.Errorf("%w: %s", sentinelFor(code), fmt.Sprintf(format, args...)),
	}
}

// WithSession annotates e with a sync session id.
func (e *Error) WithSession(id string) *Error {
	e.SessionID = id
	return e
}

// WithStep annotates e with a step index.
func (e *Error) WithStep(i int) *Error {
	e.StepIndex = i
	return e
}

func sentinelFor(code Code) error {
	for err, c := range sentinelCodes {
		if c == code {
			return err
		}
	}
	return errors.New(string(code))
}

// CodeOf maps any error to its stable code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	for sentinel, code := range sentinelCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}
