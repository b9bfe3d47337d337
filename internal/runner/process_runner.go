package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// ProcessRunner hands the collection to an external runner binary. The
// binary receives the collection as JSON on stdin and writes a RunResult
// as JSON on stdout. A runner that dies mid-run is expected to flush the
// results it completed before exiting non-zero.
type ProcessRunner struct {
	binary string
	args   []string
	logger *slog.Logger
}

func NewProcessRunner(binary string, args []string, logger *slog.Logger) (*ProcessRunner, error) {
	if strings.TrimSpace(binary) == "" {
		return nil, errors.New("runner binary is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessRunner{binary: binary, args: args, logger: logger}, nil
}

func (r *ProcessRunner) Execute(ctx context.Context, collection domain.ExecutableCollection) (domain.RunResult, error) {
	input, err := json.Marshal(collection)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("encode collection: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.binary, r.args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return domain.RunResult{}, &domain.RunnerUnavailableError{Cause: err}
	}

	runErr := cmd.Wait()
	if runErr != nil {
		r.logger.Warn("runner exited abnormally", "binary", r.binary, "error", runErr, "stderr", strings.TrimSpace(stderr.String()))
		crash := &domain.RunnerCrashedError{Cause: runErr}
		if partial, ok := decodeResult(stdout.Bytes(), collection.RunID); ok {
			crash.Partial = &partial
		}
		return domain.RunResult{}, crash
	}

	result, ok := decodeResult(stdout.Bytes(), collection.RunID)
	if !ok {
		return domain.RunResult{}, &domain.RunnerCrashedError{
			Cause: fmt.Errorf("runner produced undecodable output: %s", truncateOutput(stdout.Bytes())),
		}
	}
	return result, nil
}

func decodeResult(raw []byte, runID string) (domain.RunResult, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return domain.RunResult{}, false
	}
	var result domain.RunResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.RunResult{}, false
	}
	if result.RunID == "" {
		result.RunID = runID
	}
	return result, true
}

func truncateOutput(raw []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(raw))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
