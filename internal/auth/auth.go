package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// Injector applies one auth scheme to outgoing requests.
type Injector struct {
	spec   domain.AuthSpec
	source CredentialSource
}

func NewInjector(spec domain.AuthSpec, source CredentialSource) (*Injector, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("credential source is required for %s auth", spec.Type)
	}
	return &Injector{spec: spec, source: source}, nil
}

// Apply attaches the credential to the request according to the scheme.
// For basic auth the credential is "user:password".
func (i *Injector) Apply(ctx context.Context, req *http.Request) error {
	credential, err := i.source.Fetch(ctx)
	if err != nil {
		return err
	}
	switch i.spec.Type {
	case domain.AuthBearer, domain.AuthClientCredentials:
		req.Header.Set("Authorization", "Bearer "+credential)
	case domain.AuthBasic:
		user, password, found := strings.Cut(credential, ":")
		if !found {
			return fmt.Errorf("basic credential must be user:password")
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
		req.Header.Set("Authorization", "Basic "+encoded)
	case domain.AuthAPIKey:
		if i.spec.HeaderName != "" {
			req.Header.Set(i.spec.HeaderName, credential)
			return nil
		}
		query := req.URL.Query()
		query.Set(i.spec.QueryName, credential)
		req.URL.RawQuery = query.Encode()
	default:
		return fmt.Errorf("unsupported auth type %q", i.spec.Type)
	}
	return nil
}
