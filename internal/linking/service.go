package linking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/identity"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/logging"
)

const (
	// AuthorizationCodeTTL bounds how long a minted code can be exchanged.
	AuthorizationCodeTTL = 5 * time.Minute
	// GrantTypeAuthorizationCode is the only grant /token accepts.
	GrantTypeAuthorizationCode = "authorization_code"
	// TokenTypeBearer is the token_type returned by /token.
	TokenTypeBearer = "bearer"

	codeBytes  = 32
	tokenBytes = 40
)

// Mode selects which code-minting path a deployment runs.
type Mode string

// Supported linking modes.
const (
	ModeForm     Mode = "form"
	ModeProvider Mode = "provider"
)

// TokenStrategy selects what /token hands back as the access token.
type TokenStrategy string

// Supported token strategies.
const (
	TokenStrategyTokenMap TokenStrategy = "token_map"
	TokenStrategyUserID   TokenStrategy = "uid"
)

// Outcome labels recorded for successful calls.
const (
	OutcomeRedirect = "redirect"
	OutcomeForm     = "form"
	OutcomeIssued   = "issued"
)

// PasswordVerifier signs a user in with an email and password and returns the user id.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, email, password string) (string, error)
}

// ProviderClient hands sign-in to an upstream OAuth2 provider.
type ProviderClient interface {
	ConsentURL(state, redirectURI string) string
	Exchange(ctx context.Context, code, redirectURI string) (string, error)
}

// OutcomeRecorder observes linking outcomes per endpoint.
type OutcomeRecorder interface {
	RecordLinking(endpoint, outcome string)
}

// ServiceConfig describes the collaborators of the linking state machine.
type ServiceConfig struct {
	Mode           Mode
	TokenStrategy  TokenStrategy
	TokenExpiresIn time.Duration
	FormAction     string
	Codes          CodeStore
	Tokens         TokenStore
	Passwords      PasswordVerifier
	Provider       ProviderClient
	Recorder       OutcomeRecorder
	Clock          func() time.Time
	Logger         *zap.Logger
}

// Service implements the two-phase authorization code grant.
type Service struct {
	mode           Mode
	tokenStrategy  TokenStrategy
	tokenExpiresIn time.Duration
	formAction     string
	codes          CodeStore
	tokens         TokenStore
	passwords      PasswordVerifier
	provider       ProviderClient
	recorder       OutcomeRecorder
	clock          func() time.Time
	logger         *zap.Logger
}

// NewService validates the configuration and constructs the state machine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Codes == nil {
		return nil, errors.New("linking: code store required")
	}
	switch cfg.Mode {
	case ModeForm:
		if cfg.Passwords == nil {
			return nil, errors.New("linking: password verifier required in form mode")
		}
	case ModeProvider:
		if cfg.Provider == nil {
			return nil, errors.New("linking: provider client required in provider mode")
		}
	default:
		return nil, fmt.Errorf("linking: unsupported mode %q", cfg.Mode)
	}
	switch cfg.TokenStrategy {
	case TokenStrategyUserID:
	case TokenStrategyTokenMap:
		if cfg.Tokens == nil {
			return nil, errors.New("linking: token store required for token_map strategy")
		}
	default:
		return nil, fmt.Errorf("linking: unsupported token strategy %q", cfg.TokenStrategy)
	}
	if cfg.TokenExpiresIn <= 0 {
		return nil, errors.New("linking: token lifetime must be positive")
	}
	formAction := strings.TrimSpace(cfg.FormAction)
	if formAction == "" {
		formAction = "/auth"
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		mode:           cfg.Mode,
		tokenStrategy:  cfg.TokenStrategy,
		tokenExpiresIn: cfg.TokenExpiresIn,
		formAction:     formAction,
		codes:          cfg.Codes,
		tokens:         cfg.Tokens,
		passwords:      cfg.Passwords,
		provider:       cfg.Provider,
		recorder:       recorder,
		clock:          clock,
		logger:         logger,
	}, nil
}

// AuthorizeRequest carries the /auth parameters.
type AuthorizeRequest struct {
	RedirectURI string
	State       string
	Code        string
	Email       string
	Password    string
}

func (r AuthorizeRequest) hasCredentials() bool {
	return strings.TrimSpace(r.Email) != "" || r.Password != ""
}

// SignInForm holds the values the sign-in page embeds.
type SignInForm struct {
	Action      string
	State       string
	RedirectURI string
}

// AuthorizeResult is either a redirect or a sign-in form.
type AuthorizeResult struct {
	RedirectURL string
	Form        *SignInForm
}

// Authorize runs phase 1, phase 2 or phase 2b depending on the parameters present.
func (s *Service) Authorize(ctx context.Context, request AuthorizeRequest) (AuthorizeResult, error) {
	result, err := s.authorize(ctx, request)
	s.record("auth", result.outcome(), err)
	return result, err
}

func (s *Service) authorize(ctx context.Context, request AuthorizeRequest) (AuthorizeResult, error) {
	if request.RedirectURI == "" || request.State == "" {
		return AuthorizeResult{}, badRequest(CodeMissingParameter, "redirect_uri and state are required.")
	}
	redirectTarget, err := url.Parse(request.RedirectURI)
	if err != nil || !redirectTarget.IsAbs() {
		return AuthorizeResult{}, badRequest(CodeMissingParameter, "redirect_uri must be an absolute URL.")
	}

	switch {
	case request.hasCredentials():
		return s.signIn(ctx, request, redirectTarget)
	case request.Code != "" && s.mode == ModeProvider:
		s.logger.Info("forwarding provider code",
			logging.Secret("code", request.Code),
		)
		return AuthorizeResult{RedirectURL: appendCodeAndState(redirectTarget, request.Code, request.State)}, nil
	case s.mode == ModeProvider:
		return AuthorizeResult{RedirectURL: s.provider.ConsentURL(request.State, request.RedirectURI)}, nil
	default:
		return AuthorizeResult{Form: &SignInForm{
			Action:      s.formAction,
			State:       request.State,
			RedirectURI: request.RedirectURI,
		}}, nil
	}
}

func (s *Service) signIn(ctx context.Context, request AuthorizeRequest, redirectTarget *url.URL) (AuthorizeResult, error) {
	if s.passwords == nil {
		return AuthorizeResult{}, badRequest(CodeMissingParameter, "Inline sign-in is not enabled.")
	}
	userID, err := s.passwords.VerifyPassword(ctx, request.Email, request.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		s.logger.Info("sign-in rejected", logging.Secret("email", request.Email))
		return AuthorizeResult{}, &Error{
			Status:      http.StatusUnauthorized,
			Code:        CodeInvalidCredentials,
			Description: "The email or password is incorrect.",
		}
	}
	if err != nil {
		s.logError("auth.sign_in", "identity_failed", err)
		return AuthorizeResult{}, serverError()
	}

	code, err := randomHex(codeBytes)
	if err != nil {
		s.logError("auth.mint_code", "entropy_failed", err)
		return AuthorizeResult{}, serverError()
	}
	now := s.clock().UTC()
	record := AuthorizationCode{
		Code:             code,
		UserID:           userID,
		State:            request.State,
		RedirectURI:      request.RedirectURI,
		CreatedAtSeconds: now.Unix(),
		ExpiresAtSeconds: now.Add(AuthorizationCodeTTL).Unix(),
	}
	if err := s.codes.PutCode(ctx, record); err != nil {
		s.logError("auth.mint_code", "store_failed", err)
		return AuthorizeResult{}, serverError()
	}
	s.logger.Info("authorization code issued",
		zap.String("user_id", userID),
		logging.Secret("code", code),
	)
	return AuthorizeResult{RedirectURL: appendCodeAndState(redirectTarget, code, request.State)}, nil
}

func (r AuthorizeResult) outcome() string {
	if r.Form != nil {
		return OutcomeForm
	}
	return OutcomeRedirect
}

// TokenRequest carries the /token form parameters.
type TokenRequest struct {
	GrantType   string
	Code        string
	State       string
	RedirectURI string
}

// TokenResponse is the /token success body.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token validates and consumes an authorization code, then issues the access token.
func (s *Service) Token(ctx context.Context, request TokenRequest) (TokenResponse, error) {
	response, err := s.token(ctx, request)
	s.record("token", OutcomeIssued, err)
	return response, err
}

func (s *Service) token(ctx context.Context, request TokenRequest) (TokenResponse, error) {
	if request.Code == "" {
		return TokenResponse{}, badRequest(CodeMissingCode, "code is required.")
	}
	if request.GrantType != GrantTypeAuthorizationCode {
		return TokenResponse{}, badRequest(CodeUnsupportedGrantType, "grant_type must be authorization_code.")
	}

	record, err := s.codes.GetCode(ctx, request.Code)
	if errors.Is(err, ErrCodeNotFound) && s.mode == ModeProvider {
		record, err = s.exchangeProviderCode(ctx, request)
	}
	if errors.Is(err, ErrCodeNotFound) {
		s.logger.Info("unknown authorization code", logging.Secret("code", request.Code))
		return TokenResponse{}, badRequest(CodeInvalidCode, "The authorization code is not valid.")
	}
	if err != nil {
		var linkingErr *Error
		if errors.As(err, &linkingErr) {
			return TokenResponse{}, linkingErr
		}
		s.logError("token.lookup", "store_failed", err)
		return TokenResponse{}, serverError()
	}

	if record.Used {
		s.logger.Warn("authorization code replayed",
			zap.String("user_id", record.UserID),
			logging.Secret("code", request.Code),
		)
		return TokenResponse{}, badRequest(CodeCodeUsed, "The authorization code has already been used.")
	}
	if request.State != "" && record.State != "" && request.State != record.State {
		return TokenResponse{}, badRequest(CodeStateMismatch, "state does not match the authorization request.")
	}
	now := s.clock().UTC()
	if record.Expired(now) {
		return TokenResponse{}, badRequest(CodeExpiredCode, "The authorization code has expired.")
	}
	if request.RedirectURI != "" && record.RedirectURI != "" && request.RedirectURI != record.RedirectURI {
		return TokenResponse{}, badRequest(CodeRedirectURIMismatch, "redirect_uri does not match the authorization request.")
	}

	won, err := s.codes.CompareAndSetUsed(ctx, record.Code, now)
	if err != nil {
		s.logError("token.consume", "store_failed", err)
		return TokenResponse{}, serverError()
	}
	if !won {
		s.logger.Warn("authorization code consumed concurrently",
			zap.String("user_id", record.UserID),
			logging.Secret("code", request.Code),
		)
		return TokenResponse{}, badRequest(CodeCodeUsed, "The authorization code has already been used.")
	}

	accessToken, err := s.issueAccessToken(ctx, record.UserID, now)
	if err != nil {
		s.logError("token.issue", "store_failed", err)
		return TokenResponse{}, serverError()
	}
	s.logger.Info("access token issued",
		zap.String("user_id", record.UserID),
		zap.String("strategy", string(s.tokenStrategy)),
		logging.Secret("access_token", accessToken),
	)
	return TokenResponse{
		AccessToken: accessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(s.tokenExpiresIn / time.Second),
	}, nil
}

func (s *Service) exchangeProviderCode(ctx context.Context, request TokenRequest) (AuthorizationCode, error) {
	userID, err := s.provider.Exchange(ctx, request.Code, request.RedirectURI)
	if errors.Is(err, identity.ErrProviderRejected) || errors.Is(err, identity.ErrMissingIDToken) {
		s.logger.Info("provider rejected code",
			logging.Secret("code", request.Code),
			zap.Error(err),
		)
		return AuthorizationCode{}, ErrCodeNotFound
	}
	if err != nil {
		s.logError("token.provider_exchange", "provider_failed", err)
		return AuthorizationCode{}, serverError()
	}

	now := s.clock().UTC()
	record := AuthorizationCode{
		Code:             request.Code,
		UserID:           userID,
		RedirectURI:      request.RedirectURI,
		CreatedAtSeconds: now.Unix(),
		ExpiresAtSeconds: now.Add(AuthorizationCodeTTL).Unix(),
	}
	err = s.codes.PutCode(ctx, record)
	if errors.Is(err, ErrCodeExists) {
		return s.codes.GetCode(ctx, request.Code)
	}
	if err != nil {
		return AuthorizationCode{}, err
	}
	return record, nil
}

func (s *Service) issueAccessToken(ctx context.Context, userID string, now time.Time) (string, error) {
	if s.tokenStrategy == TokenStrategyUserID {
		return userID, nil
	}
	token, err := randomHex(tokenBytes)
	if err != nil {
		return "", err
	}
	if err := s.tokens.PutToken(ctx, TokenBinding{
		Token:            token,
		UserID:           userID,
		CreatedAtSeconds: now.Unix(),
	}); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) record(endpoint, successOutcome string, err error) {
	if err == nil {
		s.recorder.RecordLinking(endpoint, successOutcome)
		return
	}
	var linkingErr *Error
	if errors.As(err, &linkingErr) {
		s.recorder.RecordLinking(endpoint, linkingErr.Code)
		return
	}
	s.recorder.RecordLinking(endpoint, CodeServerError)
}

func (s *Service) logError(operation, reason string, err error) {
	s.logger.Error(
		"linking service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func appendCodeAndState(target *url.URL, code, state string) string {
	redirect := *target
	query := redirect.Query()
	query.Set("code", code)
	query.Set("state", state)
	redirect.RawQuery = query.Encode()
	return redirect.String()
}

func randomHex(size int) (string, error) {
	buffer := make([]byte, size)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return hex.EncodeToString(buffer), nil
}

type nopRecorder struct{}

func (nopRecorder) RecordLinking(string, string) {}
