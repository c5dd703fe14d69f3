package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const firebaseRequestTimeout = 10 * time.Second

// FirebasePasswordConfig configures the Firebase email/password verifier.
type FirebasePasswordConfig struct {
	APIKey     string
	Endpoint   string
	HTTPClient *http.Client
	// IDTokens, when set, cross-checks the returned ID token subject against localId.
	IDTokens TokenVerifier
	Logger   *zap.Logger
}

// FirebasePasswordVerifier signs users in through the Identity Toolkit signInWithPassword endpoint.
type FirebasePasswordVerifier struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	idTokens   TokenVerifier
	logger     *zap.Logger
}

type firebaseSignInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type firebaseSignInResponse struct {
	LocalID string `json:"localId"`
	IDToken string `json:"idToken"`
}

type firebaseErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewFirebasePasswordVerifier validates configuration and builds the verifier.
func NewFirebasePasswordVerifier(cfg FirebasePasswordConfig) (*FirebasePasswordVerifier, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("identity: firebase api key required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("identity: firebase endpoint required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("identity: firebase endpoint: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: firebaseRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirebasePasswordVerifier{
		apiKey:     apiKey,
		endpoint:   endpoint,
		httpClient: httpClient,
		idTokens:   cfg.IDTokens,
		logger:     logger,
	}, nil
}

// VerifyPassword returns the Firebase uid for a valid email/password pair.
func (v *FirebasePasswordVerifier) VerifyPassword(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", ErrInvalidCredentials
	}

	body, err := json.Marshal(firebaseSignInRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return "", err
	}
	endpoint, err := url.Parse(v.endpoint)
	if err != nil {
		return "", err
	}
	query := endpoint.Query()
	query.Set("key", v.apiKey)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	response, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity: firebase sign-in request: %w", err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return "", err
	}

	switch {
	case response.StatusCode == http.StatusOK:
	case response.StatusCode == http.StatusBadRequest:
		var failure firebaseErrorResponse
		_ = json.Unmarshal(payload, &failure)
		v.logger.Debug("firebase rejected sign-in", zap.String("reason", failure.Error.Message))
		return "", ErrInvalidCredentials
	default:
		return "", fmt.Errorf("identity: firebase sign-in returned status %d", response.StatusCode)
	}

	var result firebaseSignInResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", fmt.Errorf("identity: decode firebase response: %w", err)
	}
	userID := strings.TrimSpace(result.LocalID)
	if userID == "" {
		return "", errors.New("identity: firebase response missing localId")
	}

	if v.idTokens != nil {
		claims, err := v.idTokens.Verify(ctx, result.IDToken)
		if err != nil {
			return "", fmt.Errorf("identity: firebase id token: %w", err)
		}
		if claims.Subject != userID {
			return "", errors.New("identity: firebase id token subject does not match localId")
		}
	}
	return userID, nil
}
