package artifactstore

import (
	"context"
	"strings"
	"sync"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// MemoryStore is the in-process store used by local runs and tests. A
// single mutex guards all maps; copies go in and out so callers can
// never mutate stored state.
type MemoryStore struct {
	mu        sync.Mutex
	artifacts map[string]map[domain.Stage]Envelope
	runs      map[string]domain.PipelineRun
	byKey     map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[string]map[domain.Stage]Envelope),
		runs:      make(map[string]domain.PipelineRun),
		byKey:     make(map[string]string),
	}
}

func (s *MemoryStore) PutArtifact(ctx context.Context, runID string, envelope Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	perRun, ok := s.artifacts[runID]
	if !ok {
		perRun = make(map[domain.Stage]Envelope)
		s.artifacts[runID] = perRun
	}
	envelope.Payload = append([]byte{}, envelope.Payload...)
	perRun[envelope.Stage] = envelope
	return nil
}

func (s *MemoryStore) GetArtifact(ctx context.Context, runID string, stage domain.Stage) (Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	envelope, ok := s.artifacts[runID][stage]
	if !ok {
		return Envelope{}, ErrNotFound
	}
	envelope.Payload = append([]byte{}, envelope.Payload...)
	return envelope, nil
}

func (s *MemoryStore) SaveRun(ctx context.Context, run domain.PipelineRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Errors = append([]domain.StageError{}, run.Errors...)
	s.runs[run.ID] = run
	if key := strings.TrimSpace(run.IdempotencyKey); key != "" {
		s.byKey[key] = run.ID
	}
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (domain.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return domain.PipelineRun{}, ErrNotFound
	}
	run.Errors = append([]domain.StageError{}, run.Errors...)
	return run, nil
}

func (s *MemoryStore) FindRunByKey(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runID, ok := s.byKey[key]
	if !ok {
		return "", ErrNotFound
	}
	return runID, nil
}
