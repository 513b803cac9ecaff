package model

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced by the synthesis core. Match them with errors.Is.
var (
	ErrAudioRead          = errors.New("audio read failed")
	ErrAudioEmpty         = errors.New("audio shorter than one second")
	ErrKeyframeDegenerate = errors.New("generated keyframe is uniformly black")
	ErrTimelineInfeasible = errors.New("timeline infeasible")
	ErrCompositorStep     = errors.New("segment render failed")
	ErrCompositorConcat   = errors.New("concatenation failed")
)

// Pipeline stage names.
const (
	StageAnalyze   = "analyze"
	StageKeyframes = "keyframes"
	StagePlan      = "plan"
	StageCompose   = "compose"
	StageConcat    = "concat"
	StageFinalize  = "finalize"
)

// StageError carries the stage, the offending input and the verbatim stderr of
// a failed subprocess alongside the error kind.
type StageError struct {
	Stage  string
	Input  string
	Kind   error
	Stderr string
	Err    error
}

func (e *StageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", e.Stage)
	if e.Input != "" {
		fmt.Fprintf(&b, " [%s]", e.Input)
	}
	if e.Kind != nil {
		fmt.Fprintf(&b, ": %v", e.Kind)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, "\nstderr: %s", e.Stderr)
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *StageError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewStageError builds a StageError.
func NewStageError(stage, input string, kind, err error) *StageError {
	return &StageError{Stage: stage, Input: input, Kind: kind, Err: err}
}
