package casegen

import (
	"context"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// Generator produces declarative test case definitions for an API model.
// Implementations wrap an external generative capability; failures must
// be classified via domain.GenerationFailure so the orchestrator can
// decide whether a retry is worthwhile.
type Generator interface {
	// Generate returns one definition set for the model. When subset is
	// non-empty only the referenced endpoints are covered.
	Generate(ctx context.Context, model domain.SpecModel, subset []domain.EndpointRef) ([]domain.TestCaseDefinition, error)
}

// SubsetModel narrows a spec model to the referenced endpoints. An empty
// subset returns the model unchanged.
func SubsetModel(model domain.SpecModel, subset []domain.EndpointRef) domain.SpecModel {
	if len(subset) == 0 {
		return model
	}
	wanted := make(map[string]struct{}, len(subset))
	for _, ref := range subset {
		wanted[ref.String()] = struct{}{}
	}
	narrowed := domain.SpecModel{
		Title:   model.Title,
		Version: model.Version,
		BaseURL: model.BaseURL,
	}
	for _, endpoint := range model.Endpoints {
		if _, ok := wanted[endpoint.Ref().String()]; ok {
			narrowed.Endpoints = append(narrowed.Endpoints, endpoint)
		}
	}
	return narrowed
}
