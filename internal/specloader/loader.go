package specloader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// Loader turns a raw OpenAPI or Swagger document into the normalized
// SpecModel every later stage reads. Stateless; no side effects beyond
// the returned model.
type Loader struct{}

func New() *Loader {
	return &Loader{}
}

// LoadFile reads and normalizes the spec document at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (domain.SpecModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.SpecModel{}, &domain.InvalidSpecError{Defect: fmt.Sprintf("unreadable document %s: %v", path, err)}
	}
	return l.Load(ctx, raw)
}

// Load normalizes a raw spec document. Swagger 2.0 documents are
// converted to OpenAPI 3 before normalization.
func (l *Loader) Load(ctx context.Context, raw []byte) (domain.SpecModel, error) {
	doc, err := parseDocument(ctx, raw)
	if err != nil {
		return domain.SpecModel{}, err
	}
	if err := doc.Validate(ctx); err != nil {
		return domain.SpecModel{}, &domain.InvalidSpecError{Defect: fmt.Sprintf("document failed validation: %v", err)}
	}
	if doc.Info == nil || strings.TrimSpace(doc.Info.Title) == "" {
		return domain.SpecModel{}, &domain.InvalidSpecError{Defect: "missing required field info.title"}
	}

	model := domain.SpecModel{
		Title:   doc.Info.Title,
		Version: doc.Info.Version,
		BaseURL: firstServerURL(doc),
	}

	globalAuth := doc.Security != nil && len(doc.Security) > 0
	paths := doc.Paths.Map()
	pathKeys := make([]string, 0, len(paths))
	for path := range paths {
		pathKeys = append(pathKeys, path)
	}
	sort.Strings(pathKeys)

	for _, path := range pathKeys {
		item := paths[path]
		if item == nil {
			continue
		}
		operations := item.Operations()
		methods := make([]string, 0, len(operations))
		for method := range operations {
			methods = append(methods, method)
		}
		sort.Strings(methods)
		for _, method := range methods {
			endpoint, err := normalizeOperation(path, method, item, operations[method], globalAuth)
			if err != nil {
				return domain.SpecModel{}, err
			}
			model.Endpoints = append(model.Endpoints, endpoint)
		}
	}

	if err := model.Validate(); err != nil {
		return domain.SpecModel{}, &domain.InvalidSpecError{Defect: err.Error()}
	}
	return model, nil
}

func parseDocument(ctx context.Context, raw []byte) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	if isSwagger2(raw) {
		var legacy openapi2.T
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, &domain.InvalidSpecError{Defect: fmt.Sprintf("unparsable swagger document: %v", err)}
		}
		doc, err := openapi2conv.ToV3(&legacy)
		if err != nil {
			return nil, &domain.InvalidSpecError{Defect: fmt.Sprintf("swagger conversion failed: %v", err)}
		}
		return doc, nil
	}

	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return nil, &domain.InvalidSpecError{Defect: fmt.Sprintf("unparsable document: %v", err)}
	}
	if strings.TrimSpace(doc.OpenAPI) == "" {
		return nil, &domain.InvalidSpecError{Defect: "unsupported spec version: missing openapi field"}
	}
	return doc, nil
}

func isSwagger2(raw []byte) bool {
	var probe struct {
		Swagger string `json:"swagger"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return strings.HasPrefix(probe.Swagger, "2.")
}

func normalizeOperation(path, method string, item *openapi3.PathItem, op *openapi3.Operation, globalAuth bool) (domain.Endpoint, error) {
	endpoint := domain.Endpoint{
		Path:        path,
		Method:      strings.ToUpper(method),
		OperationID: op.OperationID,
	}

	params := append(openapi3.Parameters{}, item.Parameters...)
	params = append(params, op.Parameters...)
	for _, ref := range params {
		if ref == nil || ref.Value == nil {
			continue
		}
		param := domain.Parameter{
			Name:     ref.Value.Name,
			In:       ref.Value.In,
			Required: ref.Value.Required,
		}
		if ref.Value.Schema != nil {
			schema, err := schemaToMap(ref.Value.Schema)
			if err != nil {
				return domain.Endpoint{}, err
			}
			param.Schema = schema
		}
		endpoint.Parameters = append(endpoint.Parameters, param)
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		if media := op.RequestBody.Value.Content.Get("application/json"); media != nil && media.Schema != nil {
			schema, err := schemaToMap(media.Schema)
			if err != nil {
				return domain.Endpoint{}, err
			}
			endpoint.RequestSchema = schema
		}
	}

	if schema, err := successResponseSchema(op); err != nil {
		return domain.Endpoint{}, err
	} else if schema != nil {
		endpoint.ResponseSchema = schema
	}

	if op.Security != nil {
		endpoint.RequiresAuth = len(*op.Security) > 0
	} else {
		endpoint.RequiresAuth = globalAuth
	}
	return endpoint, nil
}

func successResponseSchema(op *openapi3.Operation) (domain.SchemaRef, error) {
	if op.Responses == nil {
		return nil, nil
	}
	responses := op.Responses.Map()
	codes := make([]string, 0, len(responses))
	for code := range responses {
		if strings.HasPrefix(code, "2") {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	for _, code := range codes {
		ref := responses[code]
		if ref == nil || ref.Value == nil {
			continue
		}
		if media := ref.Value.Content.Get("application/json"); media != nil && media.Schema != nil {
			return schemaToMap(media.Schema)
		}
	}
	return nil, nil
}

func schemaToMap(ref *openapi3.SchemaRef) (domain.SchemaRef, error) {
	raw, err := ref.MarshalJSON()
	if err != nil {
		return nil, &domain.InvalidSpecError{Defect: fmt.Sprintf("unencodable schema: %v", err)}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &domain.InvalidSpecError{Defect: fmt.Sprintf("undecodable schema: %v", err)}
	}
	return domain.SchemaRef(out), nil
}

func firstServerURL(doc *openapi3.T) string {
	for _, server := range doc.Servers {
		if server != nil && strings.TrimSpace(server.URL) != "" {
			return server.URL
		}
	}
	return ""
}
