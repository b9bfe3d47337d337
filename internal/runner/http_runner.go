package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/testforge-labs/testforge-go/internal/auth"
	"github.com/testforge-labs/testforge-go/internal/domain"
)

// HTTPRunner executes a collection in-process with a plain HTTP client,
// one entry at a time in collection order.
type HTTPRunner struct {
	client   *http.Client
	injector *auth.Injector
	logger   *slog.Logger
	now      func() time.Time
}

func NewHTTPRunner(client *http.Client, injector *auth.Injector, logger *slog.Logger) *HTTPRunner {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRunner{client: client, injector: injector, logger: logger, now: time.Now}
}

func (r *HTTPRunner) Execute(ctx context.Context, collection domain.ExecutableCollection) (domain.RunResult, error) {
	result := domain.RunResult{
		RunID:     collection.RunID,
		StartedAt: r.now().UTC(),
	}

	transportFailures := 0
	for _, entry := range collection.Entries {
		if err := ctx.Err(); err != nil {
			partial := result
			partial.FinishedAt = r.now().UTC()
			partial.RunnerError = err.Error()
			return domain.RunResult{}, &domain.RunnerCrashedError{Cause: err, Partial: &partial}
		}

		requestResult := r.runEntry(ctx, collection, entry)
		if requestResult.Error != "" && requestResult.StatusCode == 0 {
			transportFailures++
		}
		result.Requests = append(result.Requests, requestResult)
	}

	// Every request dying at the transport layer means the API itself
	// was unreachable, not that the cases failed.
	if len(collection.Entries) > 0 && transportFailures == len(collection.Entries) {
		return domain.RunResult{}, &domain.RunnerUnavailableError{
			Cause: fmt.Errorf("all %d requests failed at transport level", transportFailures),
		}
	}

	result.FinishedAt = r.now().UTC()
	return result, nil
}

func (r *HTTPRunner) runEntry(ctx context.Context, collection domain.ExecutableCollection, entry domain.CollectionEntry) domain.RequestResult {
	out := domain.RequestResult{CaseID: entry.CaseID}

	var body io.Reader
	if len(entry.Body) > 0 {
		body = bytes.NewReader(entry.Body)
	}
	req, err := http.NewRequestWithContext(ctx, entry.Method, entry.URL, body)
	if err != nil {
		out.Error = fmt.Sprintf("build request: %v", err)
		return out
	}
	for name, value := range entry.Headers {
		req.Header.Set(name, value)
	}
	if collection.Auth != nil && r.injector != nil {
		if err := r.injector.Apply(ctx, req); err != nil {
			out.Error = fmt.Sprintf("apply auth: %v", err)
			return out
		}
	}

	started := r.now()
	resp, err := r.client.Do(req)
	out.DurationMS = r.now().Sub(started).Milliseconds()
	if err != nil {
		out.Error = err.Error()
		r.logger.Warn("request failed", "case", entry.CaseID, "url", entry.URL, "error", err)
		return out
	}
	defer resp.Body.Close()

	out.StatusCode = resp.StatusCode
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		out.Error = fmt.Sprintf("read response body: %v", err)
		return out
	}

	out.Assertions = evaluateAssertions(entry, resp, raw)
	return out
}

func evaluateAssertions(entry domain.CollectionEntry, resp *http.Response, body []byte) []domain.AssertionOutcome {
	outcomes := make([]domain.AssertionOutcome, 0, len(entry.Assertions)+1)

	statusAssertion := domain.Assertion{Type: domain.AssertStatusCode, Value: strconv.Itoa(entry.ExpectedStatus)}
	outcomes = append(outcomes, domain.AssertionOutcome{
		Assertion: statusAssertion,
		Passed:    resp.StatusCode == entry.ExpectedStatus,
		Actual:    strconv.Itoa(resp.StatusCode),
	})

	for _, assertion := range entry.Assertions {
		outcomes = append(outcomes, evaluateAssertion(assertion, resp, body))
	}
	return outcomes
}

func evaluateAssertion(assertion domain.Assertion, resp *http.Response, body []byte) domain.AssertionOutcome {
	outcome := domain.AssertionOutcome{Assertion: assertion}
	switch assertion.Type {
	case domain.AssertStatusCode:
		outcome.Actual = strconv.Itoa(resp.StatusCode)
		outcome.Passed = outcome.Actual == strings.TrimSpace(assertion.Value)
	case domain.AssertBodyContains:
		outcome.Passed = strings.Contains(string(body), assertion.Value)
	case domain.AssertHeader:
		outcome.Actual = resp.Header.Get(assertion.Target)
		outcome.Passed = outcome.Actual == assertion.Value
	case domain.AssertJSONField:
		value, err := jsonFieldValue(body, assertion.Target)
		if err != nil {
			outcome.Actual = err.Error()
			outcome.Passed = false
			break
		}
		outcome.Actual = value
		outcome.Passed = value == assertion.Value
	default:
		outcome.Actual = fmt.Sprintf("unsupported assertion type %q", assertion.Type)
	}
	return outcome
}

// jsonFieldValue resolves a dot-separated field path against a JSON body
// and renders the leaf as a string.
func jsonFieldValue(body []byte, path string) (string, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("body is not JSON: %v", err)
	}
	current := doc
	for _, segment := range strings.Split(path, ".") {
		object, ok := current.(map[string]any)
		if !ok {
			return "", fmt.Errorf("path %s does not resolve to an object", path)
		}
		current, ok = object[segment]
		if !ok {
			return "", fmt.Errorf("field %s missing", segment)
		}
	}
	switch v := current.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case nil:
		return "null", nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}
}
