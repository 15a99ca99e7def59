// Package scoring is the rule-engine boundary of the match coordinator.
// The coordinator treats it as a pure function: given the score a player
// stood on and the three darts thrown, it returns the resulting score and
// turn outcome. It holds no state of its own.
package scoring

import (
	"errors"
	"fmt"
)

var ErrInvalidDart = errors.New("dart value out of range")

// Result describes one evaluated visit.
type Result struct {
	ScoreAfter int
	Bust       bool
	LegWon     bool
}

type Engine interface {
	Evaluate(scoreBefore int, darts [3]int) (Result, error)
}

// maxDartValue is a treble twenty.
const maxDartValue = 60

// X01Engine implements standard 301/501 countdown rules. Dart values arrive
// as per-dart totals, so finishes cannot be checked for a double here; the
// throwing client enforces the double-out before reporting.
type X01Engine struct{}

func NewX01Engine() X01Engine { return X01Engine{} }

func (X01Engine) Evaluate(scoreBefore int, darts [3]int) (Result, error) {
	if scoreBefore < 2 {
		return Result{}, fmt.Errorf("score %d is not a playable x01 position", scoreBefore)
	}

	remaining := scoreBefore
	for _, dart := range darts {
		if dart < 0 || dart > maxDartValue {
			return Result{}, fmt.Errorf("%w: %d", ErrInvalidDart, dart)
		}
		remaining -= dart
		if remaining == 0 {
			return Result{ScoreAfter: 0, LegWon: true}, nil
		}
		// Landing on 1 or below zero busts the whole visit: the score
		// reverts and any remaining darts are void.
		if remaining < 2 {
			return Result{ScoreAfter: scoreBefore, Bust: true}, nil
		}
	}
	return Result{ScoreAfter: remaining}, nil
}
