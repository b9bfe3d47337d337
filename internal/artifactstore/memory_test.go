package artifactstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

func TestSealOpenRoundTrip(t *testing.T) {
	model := domain.SpecModel{
		Title:     "Pet API",
		Endpoints: []domain.Endpoint{{Path: "/pets", Method: "GET"}},
	}
	envelope, err := Seal(domain.StageSpecLoaded, "spec_model", model, time.Now())
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	var out domain.SpecModel
	if err := Open(envelope, &out); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if out.Title != model.Title || len(out.Endpoints) != 1 {
		t.Fatalf("round trip lost data: %+v", out)
	}
}

func TestOpenDetectsTampering(t *testing.T) {
	envelope, err := Seal(domain.StageSpecLoaded, "spec_model", map[string]string{"a": "b"}, time.Now())
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	envelope.Payload[0] ^= 0xff

	var out map[string]string
	if err := Open(envelope, &out); err == nil {
		t.Fatal("tampered payload accepted")
	}
}

func TestMemoryStoreArtifacts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	envelope, err := Seal(domain.StageSpecLoaded, "spec_model", map[string]string{"k": "v"}, time.Now())
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := store.PutArtifact(ctx, "run-1", envelope); err != nil {
		t.Fatalf("PutArtifact: %v", err)
	}

	got, err := store.GetArtifact(ctx, "run-1", domain.StageSpecLoaded)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got.Kind != "spec_model" || got.SHA256 != envelope.SHA256 {
		t.Fatalf("envelope mismatch: %+v", got)
	}

	// Mutating the returned payload must not corrupt the stored copy.
	got.Payload[0] ^= 0xff
	again, err := store.GetArtifact(ctx, "run-1", domain.StageSpecLoaded)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	var out map[string]string
	if err := Open(again, &out); err != nil {
		t.Fatalf("stored copy was mutated: %v", err)
	}

	if _, err := store.GetArtifact(ctx, "run-1", domain.StageExecuted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing stage: expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetArtifact(ctx, "no-such-run", domain.StageSpecLoaded); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing run: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStorePutOverwritesStage(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, _ := Seal(domain.StageExecuted, "run_result", map[string]int{"attempt": 1}, time.Now())
	second, _ := Seal(domain.StageExecuted, "run_result", map[string]int{"attempt": 2}, time.Now())
	if err := store.PutArtifact(ctx, "run-1", first); err != nil {
		t.Fatalf("PutArtifact: %v", err)
	}
	if err := store.PutArtifact(ctx, "run-1", second); err != nil {
		t.Fatalf("PutArtifact: %v", err)
	}

	got, err := store.GetArtifact(ctx, "run-1", domain.StageExecuted)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	var out map[string]int
	if err := Open(got, &out); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if out["attempt"] != 2 {
		t.Fatalf("stage not overwritten: %+v", out)
	}
}

func TestMemoryStoreRuns(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	run := domain.PipelineRun{
		ID:             "run-1",
		IdempotencyKey: "key-1",
		Stage:          domain.StageCreated,
		Status:         domain.StatusRunning,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Stage != domain.StageCreated || got.IdempotencyKey != "key-1" {
		t.Fatalf("run mismatch: %+v", got)
	}

	runID, err := store.FindRunByKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("FindRunByKey: %v", err)
	}
	if runID != "run-1" {
		t.Fatalf("key resolved to %q", runID)
	}

	if _, err := store.GetRun(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.FindRunByKey(ctx, "no-key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreSaveRunValidates(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveRun(context.Background(), domain.PipelineRun{ID: "run-1"}); err == nil {
		t.Fatal("invalid run accepted")
	}
}
