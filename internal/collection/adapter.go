package collection

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// Adapter converts test case definitions into an executable collection.
// A definition that cannot be adapted becomes a SkippedCase and never
// fails the rest of the input; only a whole-input problem is fatal.
type Adapter struct {
	baseURL string
	auth    *domain.AuthSpec
}

func New(baseURL string, auth *domain.AuthSpec) *Adapter {
	return &Adapter{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"), auth: auth}
}

// Adapt builds the ordered collection for a run. Entries are ordered by
// the definitions' declared order, ties broken by case id, so identical
// input always yields an identical collection.
func (a *Adapter) Adapt(runID string, model domain.SpecModel, cases []domain.TestCaseDefinition) (domain.ExecutableCollection, []domain.SkippedCase, error) {
	if strings.TrimSpace(runID) == "" {
		return domain.ExecutableCollection{}, nil, &domain.AdapterFatalError{Cause: "run id is required"}
	}
	if len(cases) == 0 {
		return domain.ExecutableCollection{}, nil, &domain.AdapterFatalError{Cause: "empty case set"}
	}
	baseURL := a.baseURL
	if baseURL == "" {
		baseURL = strings.TrimRight(strings.TrimSpace(model.BaseURL), "/")
	}
	if baseURL == "" {
		return domain.ExecutableCollection{}, nil, &domain.AdapterFatalError{Cause: "no base url: neither configuration nor spec declares one"}
	}

	ordered := append([]domain.TestCaseDefinition{}, cases...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Order != ordered[j].Order {
			return ordered[i].Order < ordered[j].Order
		}
		return ordered[i].ID < ordered[j].ID
	})

	out := domain.ExecutableCollection{RunID: runID, BaseURL: baseURL, Auth: a.auth}
	var skipped []domain.SkippedCase
	for _, c := range ordered {
		entry, err := buildEntry(baseURL, model, c)
		if err != nil {
			skipped = append(skipped, domain.SkippedCase{CaseID: c.ID, Reason: err.Error()})
			continue
		}
		out.Entries = append(out.Entries, entry)
	}

	if err := out.Validate(); err != nil {
		return domain.ExecutableCollection{}, nil, &domain.AdapterFatalError{Cause: err.Error()}
	}
	return out, skipped, nil
}

func buildEntry(baseURL string, model domain.SpecModel, c domain.TestCaseDefinition) (domain.CollectionEntry, error) {
	endpoint, ok := model.Lookup(c.Endpoint)
	if !ok {
		return domain.CollectionEntry{}, fmt.Errorf("endpoint %s not in spec", c.Endpoint)
	}

	path, err := expandPath(endpoint.Path, c.PathParams)
	if err != nil {
		return domain.CollectionEntry{}, err
	}

	target := baseURL + path
	if len(c.QueryParams) > 0 {
		values := url.Values{}
		for name, value := range c.QueryParams {
			values.Set(name, value)
		}
		target += "?" + values.Encode()
	}

	var body []byte
	if c.Body != nil {
		body, err = json.Marshal(c.Body)
		if err != nil {
			return domain.CollectionEntry{}, fmt.Errorf("unencodable body: %w", err)
		}
	}

	headers := make(map[string]string, len(c.Headers)+1)
	for name, value := range c.Headers {
		headers[name] = value
	}
	if len(body) > 0 {
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}

	return domain.CollectionEntry{
		CaseID:         c.ID,
		Endpoint:       endpoint.Ref(),
		Method:         endpoint.Method,
		URL:            target,
		Headers:        headers,
		Body:           body,
		ExpectedStatus: c.ExpectedStatus,
		Assertions:     c.Assertions,
	}, nil
}

// expandPath substitutes {name} placeholders with supplied path params.
// A placeholder without a value makes the case unadaptable.
func expandPath(path string, params map[string]string) (string, error) {
	out := path
	for {
		start := strings.Index(out, "{")
		if start < 0 {
			return out, nil
		}
		end := strings.Index(out[start:], "}")
		if end < 0 {
			return "", fmt.Errorf("unbalanced placeholder in path %s", path)
		}
		name := out[start+1 : start+end]
		value, ok := params[name]
		if !ok || strings.TrimSpace(value) == "" {
			return "", fmt.Errorf("missing path param %q for path %s", name, path)
		}
		out = out[:start] + url.PathEscape(value) + out[start+end+1:]
	}
}
