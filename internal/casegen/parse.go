package casegen

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// ParseCases turns raw model output into validated definitions. Models
// often wrap JSON in markdown fences; those are stripped first. Any
// parse or validation failure is structural.
func ParseCases(content string, newID func() string) ([]domain.TestCaseDefinition, error) {
	payload := stripFences(content)
	if strings.TrimSpace(payload) == "" {
		return nil, structural(errors.New("empty model output"))
	}

	var cases []domain.TestCaseDefinition
	if err := json.Unmarshal([]byte(payload), &cases); err != nil {
		return nil, structural(fmt.Errorf("model output is not a JSON case array: %w", err))
	}
	if len(cases) == 0 {
		return nil, structural(errors.New("model output contains no cases"))
	}

	seen := make(map[string]struct{}, len(cases))
	for i := range cases {
		if strings.TrimSpace(cases[i].ID) == "" {
			cases[i].ID = newID()
		}
		if _, ok := seen[cases[i].ID]; ok {
			return nil, structural(fmt.Errorf("duplicate case id %s", cases[i].ID))
		}
		seen[cases[i].ID] = struct{}{}
		cases[i].Endpoint.Method = strings.ToUpper(strings.TrimSpace(cases[i].Endpoint.Method))
		if err := cases[i].Validate(); err != nil {
			return nil, structural(err)
		}
	}
	return cases, nil
}

func stripFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func structural(err error) error {
	return &domain.GenerationFailure{Kind: domain.GenerationStructural, Cause: err}
}
