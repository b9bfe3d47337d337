package orchestrator

import (
	"fmt"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// RunFailure is the structured failure a halted run yields. It names the
// failing stage and carries every stage that still has a retrievable
// artifact, so callers can feed the run id back into Resume without
// repeating completed work.
type RunFailure struct {
	RunID              string
	LastCompletedStage domain.Stage
	FailingStage       domain.Stage
	Cause              error
	PartialArtifacts   []domain.Stage
}

func (f *RunFailure) Error() string {
	return fmt.Sprintf("run %s failed at %s (last completed %s): %v",
		f.RunID, f.FailingStage, f.LastCompletedStage, f.Cause)
}

func (f *RunFailure) Unwrap() error { return f.Cause }
