package domain

import (
	"errors"
	"strings"
	"time"
)

// Stage is one of the ordered pipeline stages a run moves through.
type Stage string

const (
	StageCreated         Stage = "created"
	StageSpecLoaded      Stage = "spec_loaded"
	StageCasesGenerated  Stage = "cases_generated"
	StageCollectionBuilt Stage = "collection_built"
	StageExecuted        Stage = "executed"
	StageReported        Stage = "reported"
)

// RunStatus is the lifecycle status of a pipeline run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// PipelineRun is the unit of work the orchestrator manages. Mutated only
// by the orchestrator as stages complete.
type PipelineRun struct {
	ID             string       `json:"id"`
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
	Stage          Stage        `json:"stage"`
	Status         RunStatus    `json:"status"`
	FailingStage   Stage        `json:"failingStage,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	Errors         []StageError `json:"errors,omitempty"`
}

// StageError is one recorded failure, kept as run history.
type StageError struct {
	Stage      Stage     `json:"stage"`
	Attempt    int       `json:"attempt"`
	Cause      string    `json:"cause"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NormalizeStage maps free-form stage values to canonical stages.
func NormalizeStage(value string) Stage {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(StageCreated), "pending":
		return StageCreated
	case string(StageSpecLoaded):
		return StageSpecLoaded
	case string(StageCasesGenerated):
		return StageCasesGenerated
	case string(StageCollectionBuilt):
		return StageCollectionBuilt
	case string(StageExecuted):
		return StageExecuted
	case string(StageReported):
		return StageReported
	default:
		return ""
	}
}

// CanTransitionStage enforces forward-only stage progression.
func CanTransitionStage(current, next Stage) bool {
	if current == "" || next == "" {
		return false
	}
	if current == next {
		return true
	}
	return stageOrder(current) < stageOrder(next)
}

// NextStage returns the stage that follows the given one, or "" when the
// run is already at its terminal stage.
func NextStage(current Stage) Stage {
	switch current {
	case StageCreated:
		return StageSpecLoaded
	case StageSpecLoaded:
		return StageCasesGenerated
	case StageCasesGenerated:
		return StageCollectionBuilt
	case StageCollectionBuilt:
		return StageExecuted
	case StageExecuted:
		return StageReported
	default:
		return ""
	}
}

func stageOrder(stage Stage) int {
	switch stage {
	case StageCreated:
		return 1
	case StageSpecLoaded:
		return 2
	case StageCasesGenerated:
		return 3
	case StageCollectionBuilt:
		return 4
	case StageExecuted:
		return 5
	case StageReported:
		return 6
	default:
		return 0
	}
}

func (r PipelineRun) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if stageOrder(r.Stage) == 0 {
		return errors.New("run stage is required")
	}
	switch r.Status {
	case StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
	default:
		return errors.New("run status is required")
	}
	return nil
}

// Terminal reports whether the run can make no further progress.
func (r PipelineRun) Terminal() bool {
	return r.Status == StatusSucceeded || r.Status == StatusCancelled
}
