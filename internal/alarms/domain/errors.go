package alarms

import "errors"

var (
	// ErrConditionEvaluation indicates a rule condition failed to parse or evaluate.
	ErrConditionEvaluation = errors.New("alarm: condition evaluation failed")
	// ErrInvalidRule indicates a rule definition is incomplete.
	ErrInvalidRule = errors.New("alarm: invalid rule")
)
