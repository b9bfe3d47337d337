package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/clientcredentials"
)

// CredentialSource yields the secret material an auth scheme needs.
// Sources may hit the network (token endpoints), so fetches take a
// context.
type CredentialSource interface {
	Fetch(ctx context.Context) (string, error)
}

// StaticSource returns a fixed value. Test and config-file use.
type StaticSource struct {
	Value string
}

func (s StaticSource) Fetch(ctx context.Context) (string, error) {
	if strings.TrimSpace(s.Value) == "" {
		return "", errors.New("static credential is empty")
	}
	return s.Value, nil
}

// EnvSource reads the credential from an environment variable.
type EnvSource struct {
	Key string
}

func (s EnvSource) Fetch(ctx context.Context) (string, error) {
	value, ok := os.LookupEnv(s.Key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("environment variable %s is not set", s.Key)
	}
	return value, nil
}

// ClientCredentialsSource obtains a bearer token via the OAuth2 client
// credentials grant. Token caching and refresh are handled by the
// underlying token source.
type ClientCredentialsSource struct {
	config clientcredentials.Config
}

func NewClientCredentialsSource(tokenURL, clientID, clientSecret string, scopes []string) (*ClientCredentialsSource, error) {
	if strings.TrimSpace(tokenURL) == "" {
		return nil, errors.New("token url is required")
	}
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(clientSecret) == "" {
		return nil, errors.New("client id and secret are required")
	}
	return &ClientCredentialsSource{
		config: clientcredentials.Config{
			TokenURL:     tokenURL,
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       scopes,
		},
	}, nil
}

func (s *ClientCredentialsSource) Fetch(ctx context.Context) (string, error) {
	token, err := s.config.TokenSource(ctx).Token()
	if err != nil {
		return "", fmt.Errorf("fetch client credentials token: %w", err)
	}
	return token.AccessToken, nil
}
