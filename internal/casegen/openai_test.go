package casegen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

func petModel() domain.SpecModel {
	return domain.SpecModel{
		Title:   "Pet API",
		Version: "1.0.0",
		Endpoints: []domain.Endpoint{
			{Path: "/pets", Method: "GET"},
			{Path: "/pets", Method: "POST"},
		},
	}
}

func completionWith(t *testing.T, content string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer auth, got %q", r.Header.Get("Authorization"))
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*ModelClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewModelClient(ModelClientConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Client:  srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewModelClient: %v", err)
	}
	return client, srv
}

func TestGenerateParsesCompletion(t *testing.T) {
	content := `[{"name": "list pets", "endpoint": {"path": "/pets", "method": "GET"}, "order": 1, "expectedStatus": 200}]`
	client, _ := newTestClient(t, completionWith(t, content))

	cases, err := client.Generate(context.Background(), petModel(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(cases) != 1 {
		t.Fatalf("expected 1 case, got %d", len(cases))
	}
	if cases[0].ID == "" {
		t.Fatal("case id not assigned")
	}
}

func TestGenerateRateLimitIsTransient(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.Generate(context.Background(), petModel(), nil)
	var failure *domain.GenerationFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected GenerationFailure, got %v", err)
	}
	if !failure.Transient() {
		t.Fatalf("429 should be transient: %v", err)
	}
}

func TestGenerateServerErrorIsTransient(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.Generate(context.Background(), petModel(), nil)
	var failure *domain.GenerationFailure
	if !errors.As(err, &failure) || !failure.Transient() {
		t.Fatalf("502 should be transient: %v", err)
	}
}

func TestGenerateClientErrorIsStructural(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))

	_, err := client.Generate(context.Background(), petModel(), nil)
	var failure *domain.GenerationFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected GenerationFailure, got %v", err)
	}
	if failure.Transient() {
		t.Fatalf("400 should be structural: %v", err)
	}
}

func TestGenerateMalformedCompletionIsStructural(t *testing.T) {
	client, _ := newTestClient(t, completionWith(t, "this is prose, not JSON"))

	_, err := client.Generate(context.Background(), petModel(), nil)
	var failure *domain.GenerationFailure
	if !errors.As(err, &failure) || failure.Transient() {
		t.Fatalf("unparsable output should be structural: %v", err)
	}
}

func TestGenerateUnreachableEndpointIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client, err := NewModelClient(ModelClientConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	})
	if err != nil {
		t.Fatalf("NewModelClient: %v", err)
	}

	_, err = client.Generate(context.Background(), petModel(), nil)
	var failure *domain.GenerationFailure
	if !errors.As(err, &failure) || !failure.Transient() {
		t.Fatalf("transport failure should be transient: %v", err)
	}
}

func TestGenerateSubsetNarrowsPrompt(t *testing.T) {
	var sent domain.SpecModel
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		user := req.Messages[len(req.Messages)-1].Content
		start := -1
		for i, c := range user {
			if c == '{' {
				start = i
				break
			}
		}
		if start < 0 || json.Unmarshal([]byte(user[start:]), &sent) != nil {
			t.Errorf("prompt does not embed the model: %q", user)
		}
		completionWith(t, `[{"name": "n", "endpoint": {"path": "/pets", "method": "GET"}, "order": 1, "expectedStatus": 200}]`)(w, r)
	}))

	subset := []domain.EndpointRef{{Path: "/pets", Method: "GET"}}
	if _, err := client.Generate(context.Background(), petModel(), subset); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(sent.Endpoints) != 1 || sent.Endpoints[0].Method != "GET" {
		t.Fatalf("prompt model not narrowed: %+v", sent.Endpoints)
	}
}

func TestGenerateEmptySubsetIsStructural(t *testing.T) {
	client, _ := newTestClient(t, completionWith(t, "[]"))

	subset := []domain.EndpointRef{{Path: "/missing", Method: "GET"}}
	_, err := client.Generate(context.Background(), petModel(), subset)
	var failure *domain.GenerationFailure
	if !errors.As(err, &failure) || failure.Transient() {
		t.Fatalf("empty subset should be structural: %v", err)
	}
}
