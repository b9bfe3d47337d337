package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownRun is returned when a run id resolves to nothing.
var ErrUnknownRun = errors.New("unknown run")

// InvalidSpecError names the structural defect in a raw API description.
// Fatal, never retried.
type InvalidSpecError struct {
	Defect string
}

func (e *InvalidSpecError) Error() string {
	return "invalid spec: " + e.Defect
}

// GenerationFailureKind separates retryable generator failures from
// malformed-output ones.
type GenerationFailureKind string

const (
	GenerationTransient  GenerationFailureKind = "transient"
	GenerationStructural GenerationFailureKind = "structural"
)

// GenerationFailure is a case generator failure. Only transient failures
// are retried; structural ones will not improve on identical input.
type GenerationFailure struct {
	Kind  GenerationFailureKind
	Cause error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("case generation failed (%s): %v", e.Kind, e.Cause)
}

func (e *GenerationFailure) Unwrap() error { return e.Cause }

// Transient reports whether the failure is worth retrying with the same
// input.
func (e *GenerationFailure) Transient() bool { return e.Kind == GenerationTransient }

// AdapterFatalError is a whole-input adapter failure, as opposed to the
// per-case skips the adapter records without raising.
type AdapterFatalError struct {
	Cause string
}

func (e *AdapterFatalError) Error() string {
	return "collection adapter failed: " + e.Cause
}

// RunnerUnavailableError means the external runner could not be reached
// or started. Retried whole-run with backoff.
type RunnerUnavailableError struct {
	Cause error
}

func (e *RunnerUnavailableError) Error() string {
	return fmt.Sprintf("runner unavailable: %v", e.Cause)
}

func (e *RunnerUnavailableError) Unwrap() error { return e.Cause }

// RunnerCrashedError means the runner started and died mid-run. Partial
// holds whatever results completed before the crash, when the runner
// could report them.
type RunnerCrashedError struct {
	Cause   error
	Partial *RunResult
}

func (e *RunnerCrashedError) Error() string {
	return fmt.Sprintf("runner crashed: %v", e.Cause)
}

func (e *RunnerCrashedError) Unwrap() error { return e.Cause }

// ReportMalformedInputError indicates raw results that violate the
// runner/adapter contract. Never retried: masking it would produce a
// misleading report.
type ReportMalformedInputError struct {
	Cause string
}

func (e *ReportMalformedInputError) Error() string {
	return "malformed run result: " + e.Cause
}
