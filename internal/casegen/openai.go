package casegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ModelClient generates test case definitions through an OpenAI-style
// chat completion endpoint. The model is asked for a JSON array of case
// definitions; anything it returns that cannot be parsed into valid
// definitions is a structural failure, not a retryable one.
type ModelClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	newID      func() string
}

type ModelClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

func NewModelClient(cfg ModelClientConfig) (*ModelClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("model name is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &ModelClient{
		httpClient: client,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		newID:      uuid.NewString,
	}, nil
}

func (c *ModelClient) Generate(ctx context.Context, model domain.SpecModel, subset []domain.EndpointRef) ([]domain.TestCaseDefinition, error) {
	narrowed := SubsetModel(model, subset)
	if len(narrowed.Endpoints) == 0 {
		return nil, &domain.GenerationFailure{
			Kind:  domain.GenerationStructural,
			Cause: errors.New("subset matches no endpoints"),
		}
	}

	content, err := c.complete(ctx, narrowed)
	if err != nil {
		return nil, err
	}

	cases, err := ParseCases(content, c.newID)
	if err != nil {
		return nil, err
	}
	return cases, nil
}

func (c *ModelClient) complete(ctx context.Context, model domain.SpecModel) (string, error) {
	prompt, err := buildPrompt(model)
	if err != nil {
		return "", &domain.GenerationFailure{Kind: domain.GenerationStructural, Cause: err}
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", &domain.GenerationFailure{Kind: domain.GenerationStructural, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &domain.GenerationFailure{Kind: domain.GenerationStructural, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &domain.GenerationFailure{Kind: domain.GenerationTransient, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.GenerationFailure{Kind: domain.GenerationTransient, Cause: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &domain.GenerationFailure{
			Kind:  domain.GenerationTransient,
			Cause: fmt.Errorf("model endpoint returned %d", resp.StatusCode),
		}
	default:
		return "", &domain.GenerationFailure{
			Kind:  domain.GenerationStructural,
			Cause: fmt.Errorf("model endpoint returned %d: %s", resp.StatusCode, truncate(raw, 200)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &domain.GenerationFailure{Kind: domain.GenerationStructural, Cause: fmt.Errorf("undecodable completion: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &domain.GenerationFailure{Kind: domain.GenerationStructural, Cause: errors.New("completion has no choices")}
	}
	return parsed.Choices[0].Message.Content, nil
}

const systemPrompt = "You generate API integration test cases. " +
	"Respond with a JSON array only. Each element must have: name, endpoint " +
	"{path, method}, order, expectedStatus, and optionally pathParams, " +
	"queryParams, headers, body, assertions [{type, target, value}], " +
	"dependsOn, useResponseFrom, tags."

func buildPrompt(model domain.SpecModel) (string, error) {
	encoded, err := json.Marshal(model)
	if err != nil {
		return "", fmt.Errorf("encode spec model: %w", err)
	}
	var b strings.Builder
	b.WriteString("Generate test cases covering every endpoint of this API. ")
	b.WriteString("Include at least one expected-success and one expected-failure case per endpoint where the schema allows it.\n\n")
	b.Write(encoded)
	return b.String(), nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func truncate(raw []byte, limit int) string {
	s := string(raw)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
