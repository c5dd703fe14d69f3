package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

var (
	// ErrProviderRejected reports that the upstream provider refused the authorization code.
	ErrProviderRejected = errors.New("identity: provider rejected authorization code")
	// ErrMissingIDToken reports a provider token response without an id_token.
	ErrMissingIDToken = errors.New("identity: provider response missing id_token")
)

// ProviderConfig configures the upstream OAuth2 provider used in provider linking mode.
type ProviderConfig struct {
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// CallbackURL receives the provider redirect; empty means the assistant redirect_uri is used directly.
	CallbackURL string
	IDTokens    TokenVerifier
	HTTPClient  *http.Client
}

// OAuthProvider hands sign-in to an upstream provider and turns its codes into user ids.
type OAuthProvider struct {
	config      oauth2.Config
	callbackURL string
	idTokens    TokenVerifier
	httpClient  *http.Client
}

// NewOAuthProvider validates configuration and builds the provider client.
func NewOAuthProvider(cfg ProviderConfig) (*OAuthProvider, error) {
	if strings.TrimSpace(cfg.AuthURL) == "" || strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, errors.New("identity: provider auth and token urls required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("identity: provider client id required")
	}
	if cfg.IDTokens == nil {
		return nil, errors.New("identity: provider id token verifier required")
	}
	return &OAuthProvider{
		config: oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  strings.TrimSpace(cfg.AuthURL),
				TokenURL: strings.TrimSpace(cfg.TokenURL),
			},
		},
		callbackURL: strings.TrimSpace(cfg.CallbackURL),
		idTokens:    cfg.IDTokens,
		httpClient:  cfg.HTTPClient,
	}, nil
}

// RedirectURL is the redirect_uri sent to the provider for an assistant redirect_uri.
func (p *OAuthProvider) RedirectURL(assistantRedirectURI string) string {
	if p.callbackURL == "" {
		return assistantRedirectURI
	}
	callback, err := url.Parse(p.callbackURL)
	if err != nil {
		return assistantRedirectURI
	}
	query := callback.Query()
	query.Set("redirect_uri", assistantRedirectURI)
	callback.RawQuery = query.Encode()
	return callback.String()
}

// ConsentURL builds the provider consent page URL carrying the assistant state unchanged.
func (p *OAuthProvider) ConsentURL(state, assistantRedirectURI string) string {
	cfg := p.config
	cfg.RedirectURL = p.RedirectURL(assistantRedirectURI)
	return cfg.AuthCodeURL(state)
}

// Exchange trades a provider authorization code for the subject of the provider's ID token.
func (p *OAuthProvider) Exchange(ctx context.Context, code, assistantRedirectURI string) (string, error) {
	cfg := p.config
	cfg.RedirectURL = p.RedirectURL(assistantRedirectURI)
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return "", fmt.Errorf("%w: %s", ErrProviderRejected, retrieveErr.ErrorCode)
		}
		return "", err
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if strings.TrimSpace(rawIDToken) == "" {
		return "", ErrMissingIDToken
	}
	claims, err := p.idTokens.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}
	return claims.Subject, nil
}
