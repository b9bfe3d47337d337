package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/testforge-labs/testforge-go/internal/artifactstore"
	"github.com/testforge-labs/testforge-go/internal/casegen"
	"github.com/testforge-labs/testforge-go/internal/casegen/verify"
	"github.com/testforge-labs/testforge-go/internal/domain"
	"github.com/testforge-labs/testforge-go/internal/runner"
)

// ErrCancelled is the cause recorded when a run is cancelled at a stage
// boundary.
var ErrCancelled = errors.New("run cancelled")

// SpecLoader is the loader collaborator boundary.
type SpecLoader interface {
	Load(ctx context.Context, raw []byte) (domain.SpecModel, error)
}

// Adapter is the collection adapter collaborator boundary.
type Adapter interface {
	Adapt(runID string, model domain.SpecModel, cases []domain.TestCaseDefinition) (domain.ExecutableCollection, []domain.SkippedCase, error)
}

// Reporter is the reporter collaborator boundary.
type Reporter interface {
	Summarize(collection domain.ExecutableCollection, result domain.RunResult, skipped []domain.SkippedCase) (domain.Report, error)
}

// StatusInfo is the side-effect-free view Status returns.
type StatusInfo struct {
	RunID  string           `json:"runId"`
	Stage  domain.Stage     `json:"stage"`
	Status domain.RunStatus `json:"status"`
}

// Artifact kinds, one per stage.
const (
	kindSpecInput  = "spec_input"
	kindSpecModel  = "spec_model"
	kindTestCases  = "test_cases"
	kindCollection = "collection"
	kindRunResult  = "run_result"
	kindReport     = "report"
)

// collectionArtifact keeps the built collection and the adapter skips
// together; the skips must survive until reporting.
type collectionArtifact struct {
	Collection domain.ExecutableCollection `json:"collection"`
	Skipped    []domain.SkippedCase        `json:"skipped,omitempty"`
}

// Orchestrator drives the five pipeline stages in order, owns the
// intermediate artifacts, and applies the retry and partial-failure
// policy. It is the only component aware of all collaborators.
type Orchestrator struct {
	store     artifactstore.Store
	loader    SpecLoader
	generator casegen.Generator
	adapter   Adapter
	runner    runner.Runner
	reporter  Reporter
	logger    *slog.Logger

	newID func() string
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	cancelled map[string]struct{}
}

func New(store artifactstore.Store, loader SpecLoader, generator casegen.Generator, adapter Adapter, run runner.Runner, reporter Reporter, logger *slog.Logger) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if loader == nil || generator == nil || adapter == nil || run == nil || reporter == nil {
		return nil, errors.New("all stage collaborators are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		loader:    loader,
		generator: generator,
		adapter:   adapter,
		runner:    run,
		reporter:  reporter,
		logger:    logger,
		newID:     uuid.NewString,
		now:       time.Now,
		sleep:     sleepContext,
		cancelled: make(map[string]struct{}),
	}, nil
}

// Start creates a pipeline run for the raw spec input and drives it to
// its report. With an idempotency key, a repeated call joins the
// existing run instead of creating a second one.
func (o *Orchestrator) Start(ctx context.Context, specInput []byte, opts Options) (domain.Report, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return domain.Report{}, err
	}
	if len(specInput) == 0 {
		return domain.Report{}, &domain.InvalidSpecError{Defect: "empty spec input"}
	}

	run, existing, err := o.findOrCreateRun(ctx, opts.IdempotencyKey)
	if err != nil {
		return domain.Report{}, err
	}
	if existing {
		o.logger.Info("idempotent start joined existing run", "run", run.ID)
		return o.Resume(ctx, run.ID, opts)
	}

	if err := o.putArtifact(ctx, run.ID, domain.StageCreated, kindSpecInput, specInput); err != nil {
		return domain.Report{}, err
	}
	o.logger.Info("run started", "run", run.ID)
	return o.drive(ctx, run, opts)
}

// Resume re-enters a run at its last successful stage using the
// persisted artifacts.
func (o *Orchestrator) Resume(ctx context.Context, runID string, opts Options) (domain.Report, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return domain.Report{}, err
	}

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, artifactstore.ErrNotFound) {
			return domain.Report{}, fmt.Errorf("%w: %s", domain.ErrUnknownRun, runID)
		}
		return domain.Report{}, err
	}

	switch run.Status {
	case domain.StatusSucceeded:
		var report domain.Report
		if err := o.getArtifact(ctx, run.ID, domain.StageReported, kindReport, &report); err != nil {
			return domain.Report{}, err
		}
		return report, nil
	case domain.StatusCancelled:
		return domain.Report{}, fmt.Errorf("run %s was cancelled", runID)
	}

	run.Status = domain.StatusRunning
	run.FailingStage = ""
	run.UpdatedAt = o.now().UTC()
	if err := o.store.SaveRun(ctx, run); err != nil {
		return domain.Report{}, err
	}
	o.logger.Info("run resumed", "run", run.ID, "stage", run.Stage)
	return o.drive(ctx, run, opts)
}

// Status reports the current stage and status without side effects.
func (o *Orchestrator) Status(ctx context.Context, runID string) (StatusInfo, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, artifactstore.ErrNotFound) {
			return StatusInfo{}, fmt.Errorf("%w: %s", domain.ErrUnknownRun, runID)
		}
		return StatusInfo{}, err
	}
	return StatusInfo{RunID: run.ID, Stage: run.Stage, Status: run.Status}, nil
}

// Cancel requests cancellation. It takes effect at the next stage
// boundary; in-flight collaborator calls run to their own timeout.
func (o *Orchestrator) Cancel(runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled[runID] = struct{}{}
}

func (o *Orchestrator) findOrCreateRun(ctx context.Context, idempotencyKey string) (domain.PipelineRun, bool, error) {
	key := strings.TrimSpace(idempotencyKey)

	o.mu.Lock()
	defer o.mu.Unlock()

	if key != "" {
		runID, err := o.store.FindRunByKey(ctx, key)
		if err == nil {
			run, err := o.store.GetRun(ctx, runID)
			if err != nil {
				return domain.PipelineRun{}, false, err
			}
			return run, true, nil
		}
		if !errors.Is(err, artifactstore.ErrNotFound) {
			return domain.PipelineRun{}, false, err
		}
	}

	now := o.now().UTC()
	run := domain.PipelineRun{
		ID:             o.newID(),
		IdempotencyKey: key,
		Stage:          domain.StageCreated,
		Status:         domain.StatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.SaveRun(ctx, run); err != nil {
		return domain.PipelineRun{}, false, err
	}
	return run, false, nil
}

// drive advances the run one stage at a time until it is reported,
// failed, or cancelled. Cancellation is only observed here, at stage
// boundaries.
func (o *Orchestrator) drive(ctx context.Context, run domain.PipelineRun, opts Options) (domain.Report, error) {
	for {
		if o.isCancelled(run.ID) {
			run.Status = domain.StatusCancelled
			run.UpdatedAt = o.now().UTC()
			if err := o.store.SaveRun(ctx, run); err != nil {
				return domain.Report{}, err
			}
			o.logger.Info("run cancelled", "run", run.ID, "stage", run.Stage)
			return domain.Report{}, o.failureFor(ctx, run, domain.NextStage(run.Stage), ErrCancelled)
		}

		switch run.Stage {
		case domain.StageCreated:
			model, err := o.loadSpec(ctx, run.ID, opts)
			if err != nil {
				return domain.Report{}, o.fail(ctx, &run, domain.StageSpecLoaded, err)
			}
			if err := o.completeStage(ctx, &run, domain.StageSpecLoaded, kindSpecModel, model); err != nil {
				return domain.Report{}, err
			}

		case domain.StageSpecLoaded:
			cases, err := o.generateCases(ctx, run.ID, opts)
			if err != nil {
				return domain.Report{}, o.fail(ctx, &run, domain.StageCasesGenerated, err)
			}
			if err := o.completeStage(ctx, &run, domain.StageCasesGenerated, kindTestCases, cases); err != nil {
				return domain.Report{}, err
			}

		case domain.StageCasesGenerated:
			built, err := o.buildCollection(ctx, run.ID)
			if err != nil {
				return domain.Report{}, o.fail(ctx, &run, domain.StageCollectionBuilt, err)
			}
			if err := o.completeStage(ctx, &run, domain.StageCollectionBuilt, kindCollection, built); err != nil {
				return domain.Report{}, err
			}

		case domain.StageCollectionBuilt:
			result, err := o.executeCollection(ctx, run.ID, opts)
			if err != nil {
				return domain.Report{}, o.fail(ctx, &run, domain.StageExecuted, err)
			}
			if err := o.completeStage(ctx, &run, domain.StageExecuted, kindRunResult, result); err != nil {
				return domain.Report{}, err
			}

		case domain.StageExecuted:
			report, err := o.summarize(ctx, run.ID)
			if err != nil {
				return domain.Report{}, o.fail(ctx, &run, domain.StageReported, err)
			}
			if err := o.completeStage(ctx, &run, domain.StageReported, kindReport, report); err != nil {
				return domain.Report{}, err
			}
			run.Status = domain.StatusSucceeded
			run.UpdatedAt = o.now().UTC()
			if err := o.store.SaveRun(ctx, run); err != nil {
				return domain.Report{}, err
			}
			o.logger.Info("run reported", "run", run.ID,
				"pass", report.Totals.Pass, "fail", report.Totals.Fail,
				"error", report.Totals.Error, "skipped", report.Totals.Skipped)
			return report, nil

		default:
			return domain.Report{}, fmt.Errorf("run %s is in unexpected stage %s", run.ID, run.Stage)
		}
	}
}

func (o *Orchestrator) loadSpec(ctx context.Context, runID string, opts Options) (domain.SpecModel, error) {
	var raw []byte
	if err := o.getArtifact(ctx, runID, domain.StageCreated, kindSpecInput, &raw); err != nil {
		return domain.SpecModel{}, err
	}
	stageCtx, cancel := context.WithTimeout(ctx, opts.StageTimeout)
	defer cancel()
	model, err := o.loader.Load(stageCtx, raw)
	if err != nil {
		return domain.SpecModel{}, err
	}
	if err := model.Validate(); err != nil {
		return domain.SpecModel{}, &domain.InvalidSpecError{Defect: err.Error()}
	}
	return model, nil
}

func (o *Orchestrator) generateCases(ctx context.Context, runID string, opts Options) ([]domain.TestCaseDefinition, error) {
	var model domain.SpecModel
	if err := o.getArtifact(ctx, runID, domain.StageSpecLoaded, kindSpecModel, &model); err != nil {
		return nil, err
	}

	var subset []domain.EndpointRef
	if opts.CaseSubsetFilter != nil {
		for _, endpoint := range model.Endpoints {
			if opts.CaseSubsetFilter(endpoint) {
				subset = append(subset, endpoint.Ref())
			}
		}
		if len(subset) == 0 {
			return nil, &domain.GenerationFailure{
				Kind:  domain.GenerationStructural,
				Cause: errors.New("case subset filter matches no endpoints"),
			}
		}
	}

	attempts := opts.MaxCaseGenRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		stageCtx, cancel := context.WithTimeout(ctx, opts.StageTimeout)
		cases, err := o.generator.Generate(stageCtx, model, subset)
		cancel()
		if err == nil {
			if verr := verify.Cases(model, cases); verr != nil {
				return nil, &domain.GenerationFailure{Kind: domain.GenerationStructural, Cause: verr}
			}
			return cases, nil
		}
		lastErr = err
		if !transientGeneration(err) {
			return nil, err
		}
		o.logger.Warn("case generation failed", "run", runID, "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

func (o *Orchestrator) buildCollection(ctx context.Context, runID string) (collectionArtifact, error) {
	var model domain.SpecModel
	if err := o.getArtifact(ctx, runID, domain.StageSpecLoaded, kindSpecModel, &model); err != nil {
		return collectionArtifact{}, err
	}
	var cases []domain.TestCaseDefinition
	if err := o.getArtifact(ctx, runID, domain.StageCasesGenerated, kindTestCases, &cases); err != nil {
		return collectionArtifact{}, err
	}

	built, skipped, err := o.adapter.Adapt(runID, model, cases)
	if err != nil {
		return collectionArtifact{}, err
	}
	if err := built.Validate(); err != nil {
		return collectionArtifact{}, &domain.AdapterFatalError{Cause: err.Error()}
	}
	if len(built.Entries)+len(skipped) != len(cases) {
		return collectionArtifact{}, &domain.AdapterFatalError{
			Cause: fmt.Sprintf("adapter dropped cases: %d entries + %d skips != %d definitions",
				len(built.Entries), len(skipped), len(cases)),
		}
	}
	for _, skip := range skipped {
		o.logger.Warn("case skipped by adapter", "run", runID, "case", skip.CaseID, "reason", skip.Reason)
	}
	return collectionArtifact{Collection: built, Skipped: skipped}, nil
}

func (o *Orchestrator) executeCollection(ctx context.Context, runID string, opts Options) (domain.RunResult, error) {
	var built collectionArtifact
	if err := o.getArtifact(ctx, runID, domain.StageCollectionBuilt, kindCollection, &built); err != nil {
		return domain.RunResult{}, err
	}

	attempts := opts.MaxRunnerRetries + 1
	var lastErr error
	var lastPartial *domain.RunResult
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := o.sleep(ctx, runnerBackoff(attempt-1)); err != nil {
				return domain.RunResult{}, err
			}
		}
		stageCtx, cancel := context.WithTimeout(ctx, opts.StageTimeout)
		result, err := o.runner.Execute(stageCtx, built.Collection)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var crashed *domain.RunnerCrashedError
		if errors.As(err, &crashed) && crashed.Partial != nil {
			lastPartial = crashed.Partial
		}
		if !retryableRunner(err) {
			return domain.RunResult{}, err
		}
		o.logger.Warn("runner attempt failed", "run", runID, "attempt", attempt, "error", err)
	}

	// Retries are exhausted. A crash that flushed partial results still
	// lets the reporter account for the completed subset; anything less
	// fails the run with the collection preserved for resume.
	if lastPartial != nil {
		partial := *lastPartial
		if partial.RunID == "" {
			partial.RunID = runID
		}
		if partial.RunnerError == "" {
			partial.RunnerError = lastErr.Error()
		}
		o.logger.Warn("continuing with partial runner results", "run", runID, "completed", len(partial.Requests))
		return partial, nil
	}
	return domain.RunResult{}, lastErr
}

func (o *Orchestrator) summarize(ctx context.Context, runID string) (domain.Report, error) {
	var built collectionArtifact
	if err := o.getArtifact(ctx, runID, domain.StageCollectionBuilt, kindCollection, &built); err != nil {
		return domain.Report{}, err
	}
	var result domain.RunResult
	if err := o.getArtifact(ctx, runID, domain.StageExecuted, kindRunResult, &result); err != nil {
		return domain.Report{}, err
	}
	return o.reporter.Summarize(built.Collection, result, built.Skipped)
}

// completeStage persists the stage artifact and moves the run forward.
// The artifact goes in first: a run record never points at a stage whose
// artifact is missing.
func (o *Orchestrator) completeStage(ctx context.Context, run *domain.PipelineRun, next domain.Stage, kind string, artifact any) error {
	if !domain.CanTransitionStage(run.Stage, next) {
		return fmt.Errorf("illegal stage transition %s -> %s", run.Stage, next)
	}
	if err := o.putArtifact(ctx, run.ID, next, kind, artifact); err != nil {
		return err
	}
	run.Stage = next
	run.UpdatedAt = o.now().UTC()
	if err := o.store.SaveRun(ctx, *run); err != nil {
		return err
	}
	o.logger.Info("stage completed", "run", run.ID, "stage", next)
	return nil
}

// fail records the failure, marks the run failed at its current stage,
// and returns the structured RunFailure callers can feed into Resume.
func (o *Orchestrator) fail(ctx context.Context, run *domain.PipelineRun, failing domain.Stage, cause error) error {
	run.Status = domain.StatusFailed
	run.FailingStage = failing
	run.UpdatedAt = o.now().UTC()
	run.Errors = append(run.Errors, domain.StageError{
		Stage:      failing,
		Attempt:    len(run.Errors) + 1,
		Cause:      cause.Error(),
		OccurredAt: run.UpdatedAt,
	})
	if err := o.store.SaveRun(ctx, *run); err != nil {
		o.logger.Error("failed to persist failed run", "run", run.ID, "error", err)
	}
	o.logger.Error("run failed", "run", run.ID, "stage", failing, "error", cause)
	return o.failureFor(ctx, *run, failing, cause)
}

func (o *Orchestrator) failureFor(ctx context.Context, run domain.PipelineRun, failing domain.Stage, cause error) error {
	return &RunFailure{
		RunID:              run.ID,
		LastCompletedStage: run.Stage,
		FailingStage:       failing,
		Cause:              cause,
		PartialArtifacts:   o.storedStages(ctx, run.ID),
	}
}

// storedStages lists every stage that has a retrievable artifact.
func (o *Orchestrator) storedStages(ctx context.Context, runID string) []domain.Stage {
	all := []domain.Stage{
		domain.StageCreated,
		domain.StageSpecLoaded,
		domain.StageCasesGenerated,
		domain.StageCollectionBuilt,
		domain.StageExecuted,
		domain.StageReported,
	}
	var stored []domain.Stage
	for _, stage := range all {
		if _, err := o.store.GetArtifact(ctx, runID, stage); err == nil {
			stored = append(stored, stage)
		}
	}
	return stored
}

func (o *Orchestrator) putArtifact(ctx context.Context, runID string, stage domain.Stage, kind string, artifact any) error {
	envelope, err := artifactstore.Seal(stage, kind, artifact, o.now())
	if err != nil {
		return err
	}
	return o.store.PutArtifact(ctx, runID, envelope)
}

func (o *Orchestrator) getArtifact(ctx context.Context, runID string, stage domain.Stage, kind string, out any) error {
	envelope, err := o.store.GetArtifact(ctx, runID, stage)
	if err != nil {
		if errors.Is(err, artifactstore.ErrNotFound) {
			return fmt.Errorf("run %s has no %s artifact", runID, kind)
		}
		return err
	}
	return artifactstore.Open(envelope, out)
}

func (o *Orchestrator) isCancelled(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.cancelled[runID]
	return ok
}

func transientGeneration(err error) bool {
	var genErr *domain.GenerationFailure
	if errors.As(err, &genErr) {
		return genErr.Transient()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func retryableRunner(err error) bool {
	var unavailable *domain.RunnerUnavailableError
	var crashed *domain.RunnerCrashedError
	return errors.As(err, &unavailable) || errors.As(err, &crashed) || errors.Is(err, context.DeadlineExceeded)
}
