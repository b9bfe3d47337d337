package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ExecutableCollection is the ordered, runner-agnostic sequence of
// requests built from a set of test case definitions. Each entry traces
// back to exactly one definition id.
type ExecutableCollection struct {
	RunID   string            `json:"runId"`
	BaseURL string            `json:"baseUrl"`
	Auth    *AuthSpec         `json:"auth,omitempty"`
	Entries []CollectionEntry `json:"entries"`
}

// CollectionEntry is one runnable request with its assertions.
type CollectionEntry struct {
	CaseID         string            `json:"caseId"`
	Endpoint       EndpointRef       `json:"endpoint"`
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           []byte            `json:"body,omitempty"`
	ExpectedStatus int               `json:"expectedStatus"`
	Assertions     []Assertion       `json:"assertions,omitempty"`
}

// SkippedCase records a definition the adapter could not turn into a
// runnable entry. Skips are carried into the final report, never dropped.
type SkippedCase struct {
	CaseID string `json:"caseId"`
	Reason string `json:"reason"`
}

// AuthSpec describes how requests in a collection authenticate.
type AuthSpec struct {
	Type       string `json:"type"` // bearer, basic, api_key, oauth2_client_credentials
	HeaderName string `json:"headerName,omitempty"`
	QueryName  string `json:"queryName,omitempty"`
}

const (
	AuthBearer            = "bearer"
	AuthBasic             = "basic"
	AuthAPIKey            = "api_key"
	AuthClientCredentials = "oauth2_client_credentials"
)

func (s AuthSpec) Validate() error {
	switch s.Type {
	case AuthBearer, AuthBasic, AuthClientCredentials:
	case AuthAPIKey:
		if strings.TrimSpace(s.HeaderName) == "" && strings.TrimSpace(s.QueryName) == "" {
			return errors.New("api_key auth requires a header or query name")
		}
	default:
		return fmt.Errorf("unsupported auth type %q", s.Type)
	}
	return nil
}

func (c ExecutableCollection) Validate() error {
	if strings.TrimSpace(c.RunID) == "" {
		return errors.New("collection run id is required")
	}
	seen := make(map[string]struct{}, len(c.Entries))
	for i, entry := range c.Entries {
		caseID := strings.TrimSpace(entry.CaseID)
		if caseID == "" {
			return fmt.Errorf("entry[%d] is orphaned: no case id", i)
		}
		if _, ok := seen[caseID]; ok {
			return fmt.Errorf("entry[%d] duplicates case %s", i, caseID)
		}
		seen[caseID] = struct{}{}
		if strings.TrimSpace(entry.URL) == "" {
			return fmt.Errorf("entry[%d] url is required", i)
		}
		if strings.TrimSpace(entry.Method) == "" {
			return fmt.Errorf("entry[%d] method is required", i)
		}
	}
	if c.Auth != nil {
		if err := c.Auth.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CaseIDs returns the entry case ids in collection order.
func (c ExecutableCollection) CaseIDs() []string {
	ids := make([]string, 0, len(c.Entries))
	for _, entry := range c.Entries {
		ids = append(ids, entry.CaseID)
	}
	return ids
}
