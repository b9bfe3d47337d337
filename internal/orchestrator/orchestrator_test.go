package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/testforge-labs/testforge-go/internal/artifactstore"
	"github.com/testforge-labs/testforge-go/internal/collection"
	"github.com/testforge-labs/testforge-go/internal/domain"
	"github.com/testforge-labs/testforge-go/internal/report"
)

type fakeLoader struct {
	model domain.SpecModel
	err   error
	calls int
}

func (f *fakeLoader) Load(ctx context.Context, raw []byte) (domain.SpecModel, error) {
	f.calls++
	if f.err != nil {
		return domain.SpecModel{}, f.err
	}
	return f.model, nil
}

type fakeGenerator struct {
	fn    func(attempt int) ([]domain.TestCaseDefinition, error)
	calls int
}

func (f *fakeGenerator) Generate(ctx context.Context, model domain.SpecModel, subset []domain.EndpointRef) ([]domain.TestCaseDefinition, error) {
	f.calls++
	return f.fn(f.calls)
}

type fakeRunner struct {
	fn    func(attempt int, c domain.ExecutableCollection) (domain.RunResult, error)
	calls int
}

func (f *fakeRunner) Execute(ctx context.Context, c domain.ExecutableCollection) (domain.RunResult, error) {
	f.calls++
	return f.fn(f.calls, c)
}

func testModel() domain.SpecModel {
	return domain.SpecModel{
		Title:   "Pet API",
		Version: "1.0.0",
		Endpoints: []domain.Endpoint{
			{Path: "/pets", Method: "GET"},
			{Path: "/pets", Method: "POST"},
			{Path: "/pets/{petId}", Method: "GET"},
		},
	}
}

func validCases() []domain.TestCaseDefinition {
	return []domain.TestCaseDefinition{
		{ID: "case-a", Name: "list pets", Endpoint: domain.EndpointRef{Path: "/pets", Method: "GET"}, Order: 1, ExpectedStatus: 200},
		{ID: "case-b", Name: "create pet", Endpoint: domain.EndpointRef{Path: "/pets", Method: "POST"}, Order: 2, ExpectedStatus: 201},
	}
}

func passingResult(c domain.ExecutableCollection) domain.RunResult {
	out := domain.RunResult{RunID: c.RunID}
	for _, entry := range c.Entries {
		out.Requests = append(out.Requests, domain.RequestResult{
			CaseID:     entry.CaseID,
			StatusCode: entry.ExpectedStatus,
			Assertions: []domain.AssertionOutcome{{
				Assertion: domain.Assertion{Type: domain.AssertStatusCode, Value: "200"},
				Passed:    true,
			}},
		})
	}
	return out
}

type harness struct {
	store  *artifactstore.MemoryStore
	loader *fakeLoader
	gen    *fakeGenerator
	runner *fakeRunner
	sleeps []time.Duration
	orc    *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  artifactstore.NewMemoryStore(),
		loader: &fakeLoader{model: testModel()},
		gen:    &fakeGenerator{},
		runner: &fakeRunner{},
	}
	h.gen.fn = func(int) ([]domain.TestCaseDefinition, error) { return validCases(), nil }
	h.runner.fn = func(_ int, c domain.ExecutableCollection) (domain.RunResult, error) { return passingResult(c), nil }

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orc, err := New(h.store, h.loader, h.gen, collection.New("http://api.example.com", nil), h.runner, report.New(), logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	orc.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	h.orc = orc
	return h
}

func TestStartDrivesRunToReport(t *testing.T) {
	h := newHarness(t)

	result, err := h.orc.Start(context.Background(), []byte("raw spec"), Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Totals.Pass != 2 || result.Totals.Sum() != 2 {
		t.Fatalf("totals = %+v", result.Totals)
	}

	status, err := h.orc.Status(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != domain.StatusSucceeded || status.Stage != domain.StageReported {
		t.Fatalf("status = %+v", status)
	}

	// All six stage artifacts exist once the run is reported.
	for _, stage := range []domain.Stage{
		domain.StageCreated, domain.StageSpecLoaded, domain.StageCasesGenerated,
		domain.StageCollectionBuilt, domain.StageExecuted, domain.StageReported,
	} {
		if _, err := h.store.GetArtifact(context.Background(), result.RunID, stage); err != nil {
			t.Fatalf("stage %s artifact missing: %v", stage, err)
		}
	}
}

func TestStartWithIdempotencyKeyJoinsExistingRun(t *testing.T) {
	h := newHarness(t)
	opts := Options{IdempotencyKey: "deploy-42"}

	first, err := h.orc.Start(context.Background(), []byte("raw spec"), opts)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := h.orc.Start(context.Background(), []byte("raw spec"), opts)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if first.RunID != second.RunID {
		t.Fatalf("idempotent starts created distinct runs: %s vs %s", first.RunID, second.RunID)
	}
	// The second call served the stored report without re-running stages.
	if h.gen.calls != 1 || h.runner.calls != 1 {
		t.Fatalf("stages re-executed: gen=%d runner=%d", h.gen.calls, h.runner.calls)
	}
}

func TestInvalidSpecFailsBeforeGeneration(t *testing.T) {
	h := newHarness(t)
	h.loader.err = &domain.InvalidSpecError{Defect: "missing info.title"}

	_, err := h.orc.Start(context.Background(), []byte("raw spec"), Options{})
	var failure *RunFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected RunFailure, got %v", err)
	}
	if failure.FailingStage != domain.StageSpecLoaded || failure.LastCompletedStage != domain.StageCreated {
		t.Fatalf("failure = %+v", failure)
	}
	var invalid *domain.InvalidSpecError
	if !errors.As(err, &invalid) {
		t.Fatalf("cause not preserved: %v", err)
	}
	if h.gen.calls != 0 {
		t.Fatalf("generator ran after invalid spec: %d calls", h.gen.calls)
	}
}

func TestTransientGenerationIsRetried(t *testing.T) {
	h := newHarness(t)
	h.gen.fn = func(attempt int) ([]domain.TestCaseDefinition, error) {
		if attempt == 1 {
			return nil, &domain.GenerationFailure{Kind: domain.GenerationTransient, Cause: errors.New("rate limited")}
		}
		return validCases(), nil
	}

	result, err := h.orc.Start(context.Background(), []byte("raw spec"), Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.gen.calls != 2 {
		t.Fatalf("generator calls = %d, want 2", h.gen.calls)
	}
	if result.Totals.Pass != 2 {
		t.Fatalf("totals = %+v", result.Totals)
	}
}

func TestStructuralGenerationIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.gen.fn = func(int) ([]domain.TestCaseDefinition, error) {
		return nil, &domain.GenerationFailure{Kind: domain.GenerationStructural, Cause: errors.New("unparsable output")}
	}

	_, err := h.orc.Start(context.Background(), []byte("raw spec"), Options{MaxCaseGenRetries: 3})
	var failure *RunFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected RunFailure, got %v", err)
	}
	if h.gen.calls != 1 {
		t.Fatalf("structural failure retried: %d calls", h.gen.calls)
	}
}

func TestGenerationExhaustionLeavesResumableRun(t *testing.T) {
	h := newHarness(t)
	h.gen.fn = func(int) ([]domain.TestCaseDefinition, error) {
		return nil, &domain.GenerationFailure{Kind: domain.GenerationTransient, Cause: errors.New("still rate limited")}
	}
	opts := Options{MaxCaseGenRetries: 1}

	_, err := h.orc.Start(context.Background(), []byte("raw spec"), opts)
	var failure *RunFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected RunFailure, got %v", err)
	}
	if h.gen.calls != 2 {
		t.Fatalf("generator calls = %d, want 2", h.gen.calls)
	}
	if failure.FailingStage != domain.StageCasesGenerated {
		t.Fatalf("failing stage = %s", failure.FailingStage)
	}

	// The loaded spec model survived the failure.
	found := false
	for _, stage := range failure.PartialArtifacts {
		if stage == domain.StageSpecLoaded {
			found = true
		}
	}
	if !found {
		t.Fatalf("spec_loaded artifact lost: %v", failure.PartialArtifacts)
	}

	status, err := h.orc.Status(context.Background(), failure.RunID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != domain.StatusFailed {
		t.Fatalf("status = %+v", status)
	}

	// Resume with a healthy generator completes the run without
	// re-loading the spec.
	h.gen.fn = func(int) ([]domain.TestCaseDefinition, error) { return validCases(), nil }
	loaderCalls := h.loader.calls
	result, err := h.orc.Resume(context.Background(), failure.RunID, opts)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if result.RunID != failure.RunID {
		t.Fatalf("resume produced report for %s, want %s", result.RunID, failure.RunID)
	}
	if result.Totals.Pass != 2 {
		t.Fatalf("totals = %+v", result.Totals)
	}
	if h.loader.calls != loaderCalls {
		t.Fatal("resume re-executed the spec loading stage")
	}
}

func TestInconsistentCasesFailGeneration(t *testing.T) {
	h := newHarness(t)
	h.gen.fn = func(int) ([]domain.TestCaseDefinition, error) {
		cases := validCases()
		cases[1].Order = cases[0].Order
		return cases, nil
	}

	_, err := h.orc.Start(context.Background(), []byte("raw spec"), Options{})
	var genErr *domain.GenerationFailure
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationFailure, got %v", err)
	}
	if genErr.Transient() {
		t.Fatalf("consistency failure classified transient: %v", err)
	}
	if h.gen.calls != 1 {
		t.Fatalf("consistency failure retried: %d calls", h.gen.calls)
	}
}

func TestAdapterSkipsAreIsolatedAndReported(t *testing.T) {
	h := newHarness(t)
	h.gen.fn = func(int) ([]domain.TestCaseDefinition, error) {
		cases := validCases()
		// References a real endpoint but supplies no value for petId, so
		// the adapter cannot build it.
		cases = append(cases, domain.TestCaseDefinition{
			ID:             "case-c",
			Name:           "fetch pet",
			Endpoint:       domain.EndpointRef{Path: "/pets/{petId}", Method: "GET"},
			Order:          3,
			ExpectedStatus: 200,
		})
		return cases, nil
	}

	result, err := h.orc.Start(context.Background(), []byte("raw spec"), Options{})
	if err != nil {
		t.Fatalf("one unadaptable case must not fail the run: %v", err)
	}
	want := domain.ReportTotals{Pass: 2, Skipped: 1}
	if result.Totals != want {
		t.Fatalf("totals = %+v, want %+v", result.Totals, want)
	}
	for _, c := range result.Cases {
		if c.CaseID == "case-c" && c.Verdict != domain.VerdictSkipped {
			t.Fatalf("case-c verdict = %s", c.Verdict)
		}
	}
}

func TestRunnerRetriesWithBackoff(t *testing.T) {
	h := newHarness(t)
	h.runner.fn = func(attempt int, c domain.ExecutableCollection) (domain.RunResult, error) {
		if attempt == 1 {
			return domain.RunResult{}, &domain.RunnerUnavailableError{Cause: errors.New("connection refused")}
		}
		return passingResult(c), nil
	}

	result, err := h.orc.Start(context.Background(), []byte("raw spec"), Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.runner.calls != 2 {
		t.Fatalf("runner calls = %d, want 2", h.runner.calls)
	}
	if len(h.sleeps) != 1 || h.sleeps[0] != time.Second {
		t.Fatalf("backoff sleeps = %v", h.sleeps)
	}
	if result.Totals.Pass != 2 {
		t.Fatalf("totals = %+v", result.Totals)
	}
}

func TestRunnerExhaustionPreservesCollection(t *testing.T) {
	h := newHarness(t)
	h.runner.fn = func(int, domain.ExecutableCollection) (domain.RunResult, error) {
		return domain.RunResult{}, &domain.RunnerUnavailableError{Cause: errors.New("connection refused")}
	}
	opts := Options{MaxRunnerRetries: 1}

	_, err := h.orc.Start(context.Background(), []byte("raw spec"), opts)
	var failure *RunFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected RunFailure, got %v", err)
	}
	if failure.FailingStage != domain.StageExecuted || failure.LastCompletedStage != domain.StageCollectionBuilt {
		t.Fatalf("failure = %+v", failure)
	}
	if h.runner.calls != 2 {
		t.Fatalf("runner calls = %d, want 2", h.runner.calls)
	}

	// The collection artifact survives so a resume can retry execution.
	if _, err := h.store.GetArtifact(context.Background(), failure.RunID, domain.StageCollectionBuilt); err != nil {
		t.Fatalf("collection artifact lost: %v", err)
	}
}

func TestRunnerCrashWithPartialContinuesDegraded(t *testing.T) {
	h := newHarness(t)
	h.runner.fn = func(_ int, c domain.ExecutableCollection) (domain.RunResult, error) {
		partial := domain.RunResult{
			RunID: c.RunID,
			Requests: []domain.RequestResult{{
				CaseID:     c.Entries[0].CaseID,
				StatusCode: 200,
				Assertions: []domain.AssertionOutcome{{
					Assertion: domain.Assertion{Type: domain.AssertStatusCode, Value: "200"},
					Passed:    true,
				}},
			}},
		}
		return domain.RunResult{}, &domain.RunnerCrashedError{Cause: errors.New("signal: killed"), Partial: &partial}
	}

	result, err := h.orc.Start(context.Background(), []byte("raw spec"), Options{MaxRunnerRetries: 1})
	if err != nil {
		t.Fatalf("crash with partial results should still report: %v", err)
	}
	want := domain.ReportTotals{Pass: 1, Error: 1}
	if result.Totals != want {
		t.Fatalf("totals = %+v, want %+v", result.Totals, want)
	}
	for _, c := range result.Cases {
		if c.Verdict == domain.VerdictError && !strings.Contains(c.Detail, "not attempted") {
			t.Fatalf("unattempted case detail = %q", c.Detail)
		}
	}
}

func TestCancelTakesEffectAtStageBoundary(t *testing.T) {
	h := newHarness(t)
	h.gen.fn = func(int) ([]domain.TestCaseDefinition, error) {
		return nil, &domain.GenerationFailure{Kind: domain.GenerationStructural, Cause: errors.New("boom")}
	}

	_, err := h.orc.Start(context.Background(), []byte("raw spec"), Options{})
	var failure *RunFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected RunFailure, got %v", err)
	}

	h.orc.Cancel(failure.RunID)
	h.gen.fn = func(int) ([]domain.TestCaseDefinition, error) { return validCases(), nil }

	_, err = h.orc.Resume(context.Background(), failure.RunID, Options{})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	status, err := h.orc.Status(context.Background(), failure.RunID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != domain.StatusCancelled {
		t.Fatalf("status = %+v", status)
	}

	// A cancelled run refuses further resumes.
	if _, err := h.orc.Resume(context.Background(), failure.RunID, Options{}); err == nil {
		t.Fatal("cancelled run resumed")
	}
}

func TestSubsetFilterLimitsGeneration(t *testing.T) {
	h := newHarness(t)
	var seen []domain.EndpointRef
	h.orc.generator = generatorFunc(func(ctx context.Context, model domain.SpecModel, subset []domain.EndpointRef) ([]domain.TestCaseDefinition, error) {
		seen = subset
		return []domain.TestCaseDefinition{
			{ID: "case-a", Name: "list pets", Endpoint: domain.EndpointRef{Path: "/pets", Method: "GET"}, Order: 1, ExpectedStatus: 200},
		}, nil
	})

	opts := Options{CaseSubsetFilter: func(e domain.Endpoint) bool { return e.Method == "GET" && e.Path == "/pets" }}
	if _, err := h.orc.Start(context.Background(), []byte("raw spec"), opts); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(seen) != 1 || seen[0].String() != "GET /pets" {
		t.Fatalf("subset = %v", seen)
	}
}

type generatorFunc func(ctx context.Context, model domain.SpecModel, subset []domain.EndpointRef) ([]domain.TestCaseDefinition, error)

func (f generatorFunc) Generate(ctx context.Context, model domain.SpecModel, subset []domain.EndpointRef) ([]domain.TestCaseDefinition, error) {
	return f(ctx, model, subset)
}

func TestSubsetFilterMatchingNothingFails(t *testing.T) {
	h := newHarness(t)
	opts := Options{CaseSubsetFilter: func(domain.Endpoint) bool { return false }}

	_, err := h.orc.Start(context.Background(), []byte("raw spec"), opts)
	var genErr *domain.GenerationFailure
	if !errors.As(err, &genErr) || genErr.Transient() {
		t.Fatalf("empty subset should be a structural failure: %v", err)
	}
	if h.gen.calls != 0 {
		t.Fatal("generator invoked for an empty subset")
	}
}

func TestStatusUnknownRun(t *testing.T) {
	h := newHarness(t)
	_, err := h.orc.Status(context.Background(), "no-such-run")
	if !errors.Is(err, domain.ErrUnknownRun) {
		t.Fatalf("expected ErrUnknownRun, got %v", err)
	}
}

func TestResumeUnknownRun(t *testing.T) {
	h := newHarness(t)
	_, err := h.orc.Resume(context.Background(), "no-such-run", Options{})
	if !errors.Is(err, domain.ErrUnknownRun) {
		t.Fatalf("expected ErrUnknownRun, got %v", err)
	}
}

func TestStartRejectsEmptySpecInput(t *testing.T) {
	h := newHarness(t)
	_, err := h.orc.Start(context.Background(), nil, Options{})
	var invalid *domain.InvalidSpecError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidSpecError, got %v", err)
	}
}

func TestRunnerBackoffGrowth(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := runnerBackoff(tc.attempt); got != tc.want {
			t.Fatalf("runnerBackoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}
