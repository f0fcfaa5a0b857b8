package game

import (
	"errors"
	"fmt"
)

// Store sentinels. Implementations of MatchStore return these so the
// engine can translate them uniformly.
var (
	ErrMatchNotFound   = errors.New("match not found")
	ErrVersionConflict = errors.New("match version conflict")
)

// Code is a machine-readable reason attached to rejected actions.
type Code string

const (
	CodeMatchNotFound          Code = "MATCH_NOT_FOUND"
	CodeMatchOver              Code = "MATCH_OVER"
	CodeInvalidEffect          Code = "INVALID_EFFECT"
	CodeInvalidTarget          Code = "INVALID_TARGET"
	CodeSpellSpeedIncompatible Code = "SPELL_SPEED_INCOMPATIBLE"
	CodeNoChain                Code = "NO_CHAIN"
	CodeNotPriorityPlayer      Code = "NOT_PRIORITY_PLAYER"
	CodeNoWindow               Code = "NO_WINDOW"
	CodeNoReplayPending        Code = "NO_REPLAY_PENDING"
	CodeInvalidReplayChoice    Code = "INVALID_REPLAY_CHOICE"
	CodeActivationIllegal      Code = "ACTIVATION_ILLEGAL"
	CodeNotTurnPlayer          Code = "NOT_TURN_PLAYER"
)

// ValidationError marks malformed input: a missing match, an unknown
// card, an invalid effect shape. Always surfaced, never retried.
type ValidationError struct {
	Code    Code
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validationf(code Code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RuleViolation marks a legal request that the rules reject: wrong
// priority holder, illegal spell speed, no chain to resolve. The caller
// re-prompts; no state change occurred.
type RuleViolation struct {
	Code    Code
	Message string
}

func (e *RuleViolation) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func violationf(code Code, format string, args ...any) *RuleViolation {
	return &RuleViolation{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsRuleViolation reports whether err is a rules rejection.
func IsRuleViolation(err error) bool {
	var rv *RuleViolation
	return errors.As(err, &rv)
}

// IsValidationError reports whether err is malformed input.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrorCode extracts the machine-readable code from an engine error,
// or empty when the error carries none.
func ErrorCode(err error) Code {
	var rv *RuleViolation
	if errors.As(err, &rv) {
		return rv.Code
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}
