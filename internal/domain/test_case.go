package domain

import (
	"errors"
	"fmt"
	"strings"
)

// TestCaseDefinition is one declarative request/response expectation
// produced by the case generator. Consumed read-only by the collection
// adapter.
type TestCaseDefinition struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Endpoint        EndpointRef       `json:"endpoint"`
	Order           int               `json:"order"`
	PathParams      map[string]string `json:"pathParams,omitempty"`
	QueryParams     map[string]string `json:"queryParams,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            any               `json:"body,omitempty"`
	ExpectedStatus  int               `json:"expectedStatus"`
	Assertions      []Assertion       `json:"assertions,omitempty"`
	DependsOn       []string          `json:"dependsOn,omitempty"`
	UseResponseFrom string            `json:"useResponseFrom,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
}

// Assertion is one check evaluated against a response.
type Assertion struct {
	Type   string `json:"type"` // status_code, body_contains, json_field, header
	Target string `json:"target,omitempty"`
	Value  string `json:"value"`
}

const (
	AssertStatusCode   = "status_code"
	AssertBodyContains = "body_contains"
	AssertJSONField    = "json_field"
	AssertHeader       = "header"
)

func (c TestCaseDefinition) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("test case id is required")
	}
	if strings.TrimSpace(c.Endpoint.Path) == "" || strings.TrimSpace(c.Endpoint.Method) == "" {
		return fmt.Errorf("test case %s: endpoint reference is required", c.ID)
	}
	if c.ExpectedStatus < 100 || c.ExpectedStatus > 599 {
		return fmt.Errorf("test case %s: expected status %d out of range", c.ID, c.ExpectedStatus)
	}
	for i, assertion := range c.Assertions {
		if err := assertion.Validate(); err != nil {
			return fmt.Errorf("test case %s: assertion[%d]: %w", c.ID, i, err)
		}
	}
	return nil
}

func (a Assertion) Validate() error {
	switch a.Type {
	case AssertStatusCode, AssertBodyContains:
	case AssertJSONField, AssertHeader:
		if strings.TrimSpace(a.Target) == "" {
			return fmt.Errorf("%s assertion requires a target", a.Type)
		}
	default:
		return fmt.Errorf("unsupported assertion type %q", a.Type)
	}
	if strings.TrimSpace(a.Value) == "" {
		return errors.New("assertion value is required")
	}
	return nil
}
