package runner

import (
	"context"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// Runner executes an executable collection against a live API and
// captures raw results. Implementations signal availability problems
// with domain.RunnerUnavailableError and mid-run death with
// domain.RunnerCrashedError, attaching partial results where possible so
// the reporter can still account for the completed subset.
type Runner interface {
	Execute(ctx context.Context, collection domain.ExecutableCollection) (domain.RunResult, error)
}
