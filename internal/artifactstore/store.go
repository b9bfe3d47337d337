package artifactstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// ErrNotFound is returned when no artifact or run exists for a key.
var ErrNotFound = errors.New("not found")

// Envelope wraps one stage artifact for persistence. The payload is the
// canonical JSON encoding of the artifact; SHA256 covers the payload and
// is verified on every read, so a torn or tampered write is never
// silently accepted.
type Envelope struct {
	Stage   domain.Stage `json:"stage"`
	Kind    string       `json:"kind"`
	SHA256  string       `json:"sha256"`
	Payload []byte       `json:"payload"`
	SavedAt time.Time    `json:"savedAt"`
}

// Store is the single shared resource between concurrent pipeline runs.
// Both operations are atomic per (runID, stage) key: a Get observes
// either nothing or a complete, integrity-checked envelope. The store
// also keeps the PipelineRun records the orchestrator needs for resume
// and idempotent starts.
type Store interface {
	PutArtifact(ctx context.Context, runID string, envelope Envelope) error
	GetArtifact(ctx context.Context, runID string, stage domain.Stage) (Envelope, error)

	SaveRun(ctx context.Context, run domain.PipelineRun) error
	GetRun(ctx context.Context, runID string) (domain.PipelineRun, error)
	// FindRunByKey resolves an idempotency key to an existing run id.
	FindRunByKey(ctx context.Context, key string) (string, error)
}

// Seal encodes an artifact into an integrity-carrying envelope.
func Seal(stage domain.Stage, kind string, artifact any, now time.Time) (Envelope, error) {
	payload, err := json.Marshal(artifact)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s artifact: %w", kind, err)
	}
	sum := sha256.Sum256(payload)
	return Envelope{
		Stage:   stage,
		Kind:    kind,
		SHA256:  hex.EncodeToString(sum[:]),
		Payload: payload,
		SavedAt: now.UTC(),
	}, nil
}

// Open verifies the envelope integrity and decodes the payload into out.
func Open(envelope Envelope, out any) error {
	sum := sha256.Sum256(envelope.Payload)
	if hex.EncodeToString(sum[:]) != envelope.SHA256 {
		return fmt.Errorf("artifact %s integrity check failed", envelope.Kind)
	}
	if err := json.Unmarshal(envelope.Payload, out); err != nil {
		return fmt.Errorf("decode %s artifact: %w", envelope.Kind, err)
	}
	return nil
}
