package artifactstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// DB is the slice of database/sql the store needs.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists runs and artifacts in postgres. Single-row
// upserts keep each (run_id, stage) key atomic; readers observe either
// no row or a completely written one.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		return nil
	}
	return &PostgresStore{db: db}
}

// Open connects with the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, url string, pingTimeout time.Duration) (*sql.DB, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("database url is required")
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// Schema is the DDL the store expects. Applied by the CLI's db init.
const Schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id          TEXT PRIMARY KEY,
	idempotency_key TEXT UNIQUE,
	stage           TEXT NOT NULL,
	status          TEXT NOT NULL,
	failing_stage   TEXT,
	errors          JSONB NOT NULL DEFAULT '[]',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stage_artifacts (
	run_id   TEXT NOT NULL,
	stage    TEXT NOT NULL,
	kind     TEXT NOT NULL,
	sha256   TEXT NOT NULL,
	payload  JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, stage)
);
`

func (s *PostgresStore) PutArtifact(ctx context.Context, runID string, envelope Envelope) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store not initialized")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO stage_artifacts (run_id, stage, kind, sha256, payload, saved_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (run_id, stage) DO UPDATE SET
			kind = EXCLUDED.kind,
			sha256 = EXCLUDED.sha256,
			payload = EXCLUDED.payload,
			saved_at = EXCLUDED.saved_at`,
		strings.TrimSpace(runID),
		string(envelope.Stage),
		envelope.Kind,
		envelope.SHA256,
		envelope.Payload,
		envelope.SavedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetArtifact(ctx context.Context, runID string, stage domain.Stage) (Envelope, error) {
	if s == nil || s.db == nil {
		return Envelope{}, errors.New("postgres store not initialized")
	}
	var envelope Envelope
	var stageValue string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT stage, kind, sha256, payload, saved_at
		 FROM stage_artifacts WHERE run_id = $1 AND stage = $2`,
		strings.TrimSpace(runID),
		string(stage),
	).Scan(&stageValue, &envelope.Kind, &envelope.SHA256, &envelope.Payload, &envelope.SavedAt)
	if err != nil {
		return Envelope{}, handleNotFound(err)
	}
	envelope.Stage = domain.Stage(stageValue)
	return envelope, nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run domain.PipelineRun) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	errorsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("encode errors: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO pipeline_runs (run_id, idempotency_key, stage, status, failing_stage, errors, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (run_id) DO UPDATE SET
			stage = EXCLUDED.stage,
			status = EXCLUDED.status,
			failing_stage = EXCLUDED.failing_stage,
			errors = EXCLUDED.errors,
			updated_at = EXCLUDED.updated_at`,
		strings.TrimSpace(run.ID),
		nullIfEmpty(run.IdempotencyKey),
		string(run.Stage),
		string(run.Status),
		nullIfEmpty(string(run.FailingStage)),
		errorsJSON,
		run.CreatedAt.UTC(),
		run.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (domain.PipelineRun, error) {
	if s == nil || s.db == nil {
		return domain.PipelineRun{}, errors.New("postgres store not initialized")
	}
	var run domain.PipelineRun
	var key, failing sql.NullString
	var errorsJSON []byte
	var stageValue, statusValue string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT run_id, idempotency_key, stage, status, failing_stage, errors, created_at, updated_at
		 FROM pipeline_runs WHERE run_id = $1`,
		strings.TrimSpace(runID),
	).Scan(&run.ID, &key, &stageValue, &statusValue, &failing, &errorsJSON, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return domain.PipelineRun{}, handleNotFound(err)
	}
	run.IdempotencyKey = key.String
	run.Stage = domain.Stage(stageValue)
	run.Status = domain.RunStatus(statusValue)
	run.FailingStage = domain.Stage(failing.String)
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &run.Errors); err != nil {
			return domain.PipelineRun{}, fmt.Errorf("decode errors: %w", err)
		}
	}
	return run, nil
}

func (s *PostgresStore) FindRunByKey(ctx context.Context, key string) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("postgres store not initialized")
	}
	var runID string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT run_id FROM pipeline_runs WHERE idempotency_key = $1`,
		strings.TrimSpace(key),
	).Scan(&runID)
	if err != nil {
		return "", handleNotFound(err)
	}
	return runID, nil
}

func nullIfEmpty(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
