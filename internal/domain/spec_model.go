package domain

import (
	"errors"
	"fmt"
	"strings"
)

// SpecModel is the normalized, immutable representation of an API
// description. It is produced once by the spec loader and read by every
// later stage.
type SpecModel struct {
	Title     string     `json:"title"`
	Version   string     `json:"version"`
	BaseURL   string     `json:"baseUrl,omitempty"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Endpoint is one operation of the API under test.
type Endpoint struct {
	Path           string      `json:"path"`
	Method         string      `json:"method"`
	OperationID    string      `json:"operationId,omitempty"`
	Parameters     []Parameter `json:"parameters,omitempty"`
	RequestSchema  SchemaRef   `json:"requestSchema,omitempty"`
	ResponseSchema SchemaRef   `json:"responseSchema,omitempty"`
	RequiresAuth   bool        `json:"requiresAuth"`
}

// Parameter is a single named input of an endpoint.
type Parameter struct {
	Name     string    `json:"name"`
	In       string    `json:"in"`
	Required bool      `json:"required"`
	Schema   SchemaRef `json:"schema,omitempty"`
}

// SchemaRef carries the JSON-schema fragment an endpoint declares for a
// request or response body. Opaque to everything but the case generator.
type SchemaRef map[string]any

// EndpointRef identifies an endpoint within a SpecModel.
type EndpointRef struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

func (r EndpointRef) String() string {
	return strings.ToUpper(strings.TrimSpace(r.Method)) + " " + strings.TrimSpace(r.Path)
}

// Ref returns the reference identifying this endpoint.
func (e Endpoint) Ref() EndpointRef {
	return EndpointRef{Path: e.Path, Method: strings.ToUpper(e.Method)}
}

// Lookup resolves an endpoint reference against the model.
func (m SpecModel) Lookup(ref EndpointRef) (Endpoint, bool) {
	want := ref.String()
	for _, endpoint := range m.Endpoints {
		if endpoint.Ref().String() == want {
			return endpoint, true
		}
	}
	return Endpoint{}, false
}

func (m SpecModel) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return errors.New("spec title is required")
	}
	if len(m.Endpoints) == 0 {
		return errors.New("spec declares no endpoints")
	}
	seen := make(map[string]struct{}, len(m.Endpoints))
	for i, endpoint := range m.Endpoints {
		if strings.TrimSpace(endpoint.Path) == "" {
			return fmt.Errorf("endpoint[%d] path is required", i)
		}
		if !strings.HasPrefix(endpoint.Path, "/") {
			return fmt.Errorf("endpoint[%d] path must start with /", i)
		}
		if strings.TrimSpace(endpoint.Method) == "" {
			return fmt.Errorf("endpoint[%d] method is required", i)
		}
		key := endpoint.Ref().String()
		if _, ok := seen[key]; ok {
			return fmt.Errorf("endpoint[%d] duplicates %s", i, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
