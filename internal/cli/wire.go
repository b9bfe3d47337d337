package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/testforge-labs/testforge-go/internal/artifactstore"
	"github.com/testforge-labs/testforge-go/internal/auth"
	"github.com/testforge-labs/testforge-go/internal/casegen"
	"github.com/testforge-labs/testforge-go/internal/collection"
	"github.com/testforge-labs/testforge-go/internal/config"
	"github.com/testforge-labs/testforge-go/internal/domain"
	"github.com/testforge-labs/testforge-go/internal/orchestrator"
	"github.com/testforge-labs/testforge-go/internal/platform/env"
	"github.com/testforge-labs/testforge-go/internal/report"
	"github.com/testforge-labs/testforge-go/internal/runner"
	"github.com/testforge-labs/testforge-go/internal/specloader"
)

// buildOrchestrator assembles the pipeline from the configuration
// bundle: store backend, model client, adapter, runner, and reporter.
func buildOrchestrator(ctx context.Context, cfg config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	store, err := buildStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	apiKey := env.String(cfg.Model.APIKeyEnv, "")
	if apiKey == "" {
		return nil, fmt.Errorf("model api key environment variable %s is not set", cfg.Model.APIKeyEnv)
	}
	generator, err := casegen.NewModelClient(casegen.ModelClientConfig{
		BaseURL: cfg.Model.BaseURL,
		APIKey:  apiKey,
		Model:   cfg.Model.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}

	var authSpec *domain.AuthSpec
	var injector *auth.Injector
	if cfg.Auth != nil {
		spec := cfg.Auth.Spec()
		authSpec = &spec
		source, err := buildCredentialSource(*cfg.Auth)
		if err != nil {
			return nil, err
		}
		injector, err = auth.NewInjector(spec, source)
		if err != nil {
			return nil, err
		}
	}

	adapter := collection.New(cfg.BaseURL, authSpec)

	var exec runner.Runner
	if strings.TrimSpace(cfg.Runner.Binary) != "" {
		exec, err = runner.NewProcessRunner(cfg.Runner.Binary, cfg.Runner.Args, logger)
		if err != nil {
			return nil, err
		}
	} else {
		exec = runner.NewHTTPRunner(&http.Client{Timeout: 30 * time.Second}, injector, logger)
	}

	return orchestrator.New(store, specloader.New(), generator, adapter, exec, report.New(), logger)
}

func buildStore(ctx context.Context, cfg config.StoreConfig) (artifactstore.Store, error) {
	switch strings.TrimSpace(cfg.Backend) {
	case "", "memory":
		return artifactstore.NewMemoryStore(), nil
	case "postgres":
		db, err := artifactstore.Open(ctx, cfg.DatabaseURL, time.Duration(cfg.PingTimeout))
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		return artifactstore.NewPostgresStore(db), nil
	case "object":
		store, err := artifactstore.NewObjectStore(artifactstore.ObjectStoreConfig{
			Endpoint:  cfg.ObjectEndpoint,
			AccessKey: cfg.ObjectAccessKey,
			SecretKey: cfg.ObjectSecretKey,
			Bucket:    cfg.ObjectBucket,
			Region:    cfg.ObjectRegion,
			UseSSL:    cfg.ObjectUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		if err := store.EnsureBucket(ctx, cfg.ObjectRegion); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

func buildCredentialSource(cfg config.AuthConfig) (auth.CredentialSource, error) {
	if cfg.Type == domain.AuthClientCredentials {
		return auth.NewClientCredentialsSource(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.Scopes)
	}
	if strings.TrimSpace(cfg.CredentialEnv) != "" {
		return auth.EnvSource{Key: cfg.CredentialEnv}, nil
	}
	return auth.StaticSource{Value: cfg.Credential}, nil
}

func options(cfg config.Config, idempotencyKey string) orchestrator.Options {
	opts := orchestrator.DefaultOptions()
	if cfg.Retries.MaxCaseGen > 0 {
		opts.MaxCaseGenRetries = cfg.Retries.MaxCaseGen
	}
	if cfg.Retries.MaxRunner > 0 {
		opts.MaxRunnerRetries = cfg.Retries.MaxRunner
	}
	if cfg.Retries.StageTimeout > 0 {
		opts.StageTimeout = time.Duration(cfg.Retries.StageTimeout)
	}
	opts.IdempotencyKey = idempotencyKey
	return opts
}
