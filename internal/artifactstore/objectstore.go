package artifactstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// ObjectStore keeps runs and artifacts as JSON objects in an S3-style
// bucket. Object puts are atomic per key, which is exactly the guarantee
// the store contract asks for; keys are scoped per run so concurrent
// runs never contend.
//
// Layout: runs/<runID>/run.json, runs/<runID>/<stage>.json,
// idem/<key> (body is the run id).
type ObjectStore struct {
	client *minio.Client
	bucket string
}

type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

func (c ObjectStoreConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("object store endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("object store credentials are required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("object store bucket is required")
	}
	return nil
}

func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *ObjectStore) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *ObjectStore) PutArtifact(ctx context.Context, runID string, envelope Envelope) error {
	return s.putJSON(ctx, artifactKey(runID, envelope.Stage), envelope)
}

func (s *ObjectStore) GetArtifact(ctx context.Context, runID string, stage domain.Stage) (Envelope, error) {
	var envelope Envelope
	if err := s.getJSON(ctx, artifactKey(runID, stage), &envelope); err != nil {
		return Envelope{}, err
	}
	return envelope, nil
}

func (s *ObjectStore) SaveRun(ctx context.Context, run domain.PipelineRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	if err := s.putJSON(ctx, runKey(run.ID), run); err != nil {
		return err
	}
	if key := strings.TrimSpace(run.IdempotencyKey); key != "" {
		body := []byte(run.ID)
		_, err := s.client.PutObject(ctx, s.bucket, idempotencyKey(key), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{ContentType: "text/plain"})
		if err != nil {
			return fmt.Errorf("put idempotency marker: %w", err)
		}
	}
	return nil
}

func (s *ObjectStore) GetRun(ctx context.Context, runID string) (domain.PipelineRun, error) {
	var run domain.PipelineRun
	if err := s.getJSON(ctx, runKey(runID), &run); err != nil {
		return domain.PipelineRun{}, err
	}
	return run, nil
}

func (s *ObjectStore) FindRunByKey(ctx context.Context, key string) (string, error) {
	raw, err := s.getObject(ctx, idempotencyKey(key))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (s *ObjectStore) putJSON(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode object %s: %w", key, err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStore) getJSON(ctx context.Context, key string, out any) error {
	raw, err := s.getObject(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode object %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStore) getObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()
	raw, err := io.ReadAll(obj)
	if err != nil {
		var respErr minio.ErrorResponse
		if errors.As(err, &respErr) && respErr.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return raw, nil
}

func artifactKey(runID string, stage domain.Stage) string {
	return fmt.Sprintf("runs/%s/%s.json", strings.TrimSpace(runID), stage)
}

func runKey(runID string) string {
	return fmt.Sprintf("runs/%s/run.json", strings.TrimSpace(runID))
}

func idempotencyKey(key string) string {
	return "idem/" + strings.TrimSpace(key)
}
