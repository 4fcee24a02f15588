package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPlan is returned when the document carries no plan at all.
	ErrEmptyPlan = errors.New("explain json: no plan returned")
	// ErrMalformedPlan matches every MalformedPlanError.
	ErrMalformedPlan = errors.New("explain json: malformed plan")
)

// MalformedPlanError reports a plan node without a Node Type.
type MalformedPlanError struct {
	Path string
}

func (e *MalformedPlanError) Error() string {
	return fmt.Sprintf("explain json: node %s is missing Node Type", e.Path)
}

func (e *MalformedPlanError) Is(target error) bool {
	return target == ErrMalformedPlan
}
