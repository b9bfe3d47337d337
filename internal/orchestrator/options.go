package orchestrator

import (
	"errors"
	"time"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// Options is the per-run configuration bundle. Passed explicitly into
// Start and Resume so concurrent runs with different policies never
// interfere.
type Options struct {
	// MaxCaseGenRetries bounds retries of transient case generator
	// failures. Structural failures are never retried.
	MaxCaseGenRetries int
	// MaxRunnerRetries bounds whole-run retries of runner failures,
	// with exponential backoff between attempts.
	MaxRunnerRetries int
	// StageTimeout bounds each wait on an external collaborator. A
	// timeout counts as a transient failure.
	StageTimeout time.Duration
	// CaseSubsetFilter, when set, restricts generation to matching
	// endpoints.
	CaseSubsetFilter func(domain.Endpoint) bool
	// IdempotencyKey deduplicates client-side retries of Start. Without
	// one every call creates a new run.
	IdempotencyKey string
}

// DefaultOptions are the policy values used when the caller supplies
// zero values.
func DefaultOptions() Options {
	return Options{
		MaxCaseGenRetries: 2,
		MaxRunnerRetries:  2,
		StageTimeout:      60 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.MaxCaseGenRetries == 0 {
		o.MaxCaseGenRetries = defaults.MaxCaseGenRetries
	}
	if o.MaxRunnerRetries == 0 {
		o.MaxRunnerRetries = defaults.MaxRunnerRetries
	}
	if o.StageTimeout == 0 {
		o.StageTimeout = defaults.StageTimeout
	}
	return o
}

func (o Options) Validate() error {
	if o.MaxCaseGenRetries < 0 {
		return errors.New("max case gen retries must be >= 0")
	}
	if o.MaxRunnerRetries < 0 {
		return errors.New("max runner retries must be >= 0")
	}
	if o.StageTimeout < 0 {
		return errors.New("stage timeout must be >= 0")
	}
	return nil
}
