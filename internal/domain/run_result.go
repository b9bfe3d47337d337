package domain

import "time"

// RunResult is the raw outcome of executing one collection. Produced by
// the execution runner, consumed by the reporter.
type RunResult struct {
	RunID      string          `json:"runId"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Requests   []RequestResult `json:"requests"`
	// RunnerError carries a runner-level failure message when the run
	// stopped before every entry was attempted.
	RunnerError string `json:"runnerError,omitempty"`
}

// RequestResult is the raw outcome of one attempted request.
type RequestResult struct {
	CaseID     string             `json:"caseId"`
	StatusCode int                `json:"statusCode"`
	DurationMS int64              `json:"durationMs"`
	Assertions []AssertionOutcome `json:"assertions,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// AssertionOutcome is the raw pass/fail of one assertion.
type AssertionOutcome struct {
	Assertion Assertion `json:"assertion"`
	Passed    bool      `json:"passed"`
	Actual    string    `json:"actual,omitempty"`
}

// Passed reports whether the request met its expectations: no transport
// error and every assertion held.
func (r RequestResult) Passed() bool {
	if r.Error != "" {
		return false
	}
	for _, outcome := range r.Assertions {
		if !outcome.Passed {
			return false
		}
	}
	return true
}
