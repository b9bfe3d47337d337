package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/testforge-labs/testforge-go/internal/domain"
	"github.com/testforge-labs/testforge-go/internal/platform/env"
)

// Duration decodes YAML values like "45s" or "2m" into a duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the YAML configuration bundle a pipeline invocation reads.
type Config struct {
	// SpecPath locates the OpenAPI/Swagger document to test.
	SpecPath string `yaml:"spec_path"`
	// BaseURL overrides the server URL the spec declares.
	BaseURL string `yaml:"base_url"`
	// ReportPath, when set, receives the rendered text report.
	ReportPath string `yaml:"report_path"`

	Model   ModelConfig   `yaml:"model"`
	Runner  RunnerConfig  `yaml:"runner"`
	Auth    *AuthConfig   `yaml:"auth,omitempty"`
	Store   StoreConfig   `yaml:"store"`
	Retries RetriesConfig `yaml:"retries"`
}

// ModelConfig configures the generative model boundary.
type ModelConfig struct {
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// RunnerConfig selects between the in-process HTTP executor and an
// external runner binary.
type RunnerConfig struct {
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`
}

// AuthConfig describes how requests against the API under test
// authenticate. Required fields depend on the type, mirroring the auth
// schemes the collection carries.
type AuthConfig struct {
	Type          string   `yaml:"type"`
	HeaderName    string   `yaml:"header_name"`
	QueryName     string   `yaml:"query_name"`
	CredentialEnv string   `yaml:"credential_env"`
	Credential    string   `yaml:"credential"`
	TokenURL      string   `yaml:"token_url"`
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	Scopes        []string `yaml:"scopes"`
}

// StoreConfig selects the artifact store backend.
type StoreConfig struct {
	Backend     string   `yaml:"backend"` // memory, postgres, object
	DatabaseURL string   `yaml:"database_url"`
	PingTimeout Duration `yaml:"ping_timeout"`

	ObjectEndpoint  string `yaml:"object_endpoint"`
	ObjectAccessKey string `yaml:"object_access_key"`
	ObjectSecretKey string `yaml:"object_secret_key"`
	ObjectBucket    string `yaml:"object_bucket"`
	ObjectRegion    string `yaml:"object_region"`
	ObjectUseSSL    bool   `yaml:"object_use_ssl"`
}

// RetriesConfig carries the orchestrator retry policy.
type RetriesConfig struct {
	MaxCaseGen   int      `yaml:"max_case_gen"`
	MaxRunner    int      `yaml:"max_runner"`
	StageTimeout Duration `yaml:"stage_timeout"`
}

// Load reads the YAML bundle at path and applies environment overrides.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var wrapper struct {
		Config Config `yaml:"config"`
	}
	if err := yaml.Unmarshal(raw, &wrapper); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg := wrapper.Config
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.BaseURL = env.String("TESTFORGE_BASE_URL", c.BaseURL)
	c.Model.Name = env.String("TESTFORGE_MODEL", c.Model.Name)
	c.Model.BaseURL = env.String("TESTFORGE_MODEL_BASE_URL", c.Model.BaseURL)
	c.Store.DatabaseURL = env.String("DATABASE_URL", c.Store.DatabaseURL)

	stageTimeout, err := env.Duration("TESTFORGE_STAGE_TIMEOUT", time.Duration(c.Retries.StageTimeout))
	if err != nil {
		return err
	}
	c.Retries.StageTimeout = Duration(stageTimeout)

	maxCaseGen, err := env.Int("TESTFORGE_MAX_CASE_GEN_RETRIES", c.Retries.MaxCaseGen)
	if err != nil {
		return err
	}
	c.Retries.MaxCaseGen = maxCaseGen

	maxRunner, err := env.Int("TESTFORGE_MAX_RUNNER_RETRIES", c.Retries.MaxRunner)
	if err != nil {
		return err
	}
	c.Retries.MaxRunner = maxRunner
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.SpecPath) == "" {
		return errors.New("spec_path is required")
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		return errors.New("model.name is required")
	}
	if strings.TrimSpace(c.Model.APIKeyEnv) == "" {
		return errors.New("model.api_key_env is required")
	}
	switch backend := strings.TrimSpace(c.Store.Backend); backend {
	case "", "memory":
	case "postgres":
		if strings.TrimSpace(c.Store.DatabaseURL) == "" {
			return errors.New("store.database_url is required for the postgres backend")
		}
	case "object":
		if strings.TrimSpace(c.Store.ObjectEndpoint) == "" || strings.TrimSpace(c.Store.ObjectBucket) == "" {
			return errors.New("store.object_endpoint and store.object_bucket are required for the object backend")
		}
	default:
		return fmt.Errorf("unsupported store backend %q", backend)
	}
	if c.Auth != nil {
		if err := c.Auth.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate enforces the per-type required fields of an auth scheme.
func (a AuthConfig) Validate() error {
	switch a.Type {
	case domain.AuthBearer, domain.AuthBasic:
		if strings.TrimSpace(a.CredentialEnv) == "" && strings.TrimSpace(a.Credential) == "" {
			return fmt.Errorf("%s auth requires credential or credential_env", a.Type)
		}
	case domain.AuthAPIKey:
		if strings.TrimSpace(a.CredentialEnv) == "" && strings.TrimSpace(a.Credential) == "" {
			return errors.New("api_key auth requires credential or credential_env")
		}
		if strings.TrimSpace(a.HeaderName) == "" && strings.TrimSpace(a.QueryName) == "" {
			return errors.New("api_key auth requires header_name or query_name")
		}
	case domain.AuthClientCredentials:
		if strings.TrimSpace(a.TokenURL) == "" {
			return errors.New("oauth2_client_credentials auth requires token_url")
		}
		if strings.TrimSpace(a.ClientID) == "" || strings.TrimSpace(a.ClientSecret) == "" {
			return errors.New("oauth2_client_credentials auth requires client_id and client_secret")
		}
	default:
		return fmt.Errorf("unsupported auth type %q", a.Type)
	}
	return nil
}

// Spec returns the domain auth spec for the collection adapter.
func (a AuthConfig) Spec() domain.AuthSpec {
	return domain.AuthSpec{Type: a.Type, HeaderName: a.HeaderName, QueryName: a.QueryName}
}
