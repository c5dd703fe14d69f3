package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/linking"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/metrics"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/smarthome"
)

type stubLinking struct {
	authorizeRequests []linking.AuthorizeRequest
	tokenRequests     []linking.TokenRequest
	authorizeResult   linking.AuthorizeResult
	authorizeErr      error
	tokenResponse     linking.TokenResponse
	tokenErr          error
}

func (s *stubLinking) Authorize(ctx context.Context, request linking.AuthorizeRequest) (linking.AuthorizeResult, error) {
	s.authorizeRequests = append(s.authorizeRequests, request)
	return s.authorizeResult, s.authorizeErr
}

func (s *stubLinking) Token(ctx context.Context, request linking.TokenRequest) (linking.TokenResponse, error) {
	s.tokenRequests = append(s.tokenRequests, request)
	return s.tokenResponse, s.tokenErr
}

type stubDirectives struct {
	requests []smarthome.Request
}

func (s *stubDirectives) Handle(ctx context.Context, request smarthome.Request) smarthome.Response {
	s.requests = append(s.requests, request)
	return smarthome.Response{Event: smarthome.Event{
		Header:  smarthome.Header{Namespace: "Alexa", Name: "StateReport", PayloadVersion: "3", MessageID: "m-1"},
		Payload: map[string]any{},
	}}
}

func newTestHandler(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if deps.Linking == nil {
		deps.Linking = &stubLinking{}
	}
	if deps.Directives == nil {
		deps.Directives = &stubDirectives{}
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func serve(handler http.Handler, request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func postForm(path string, form url.Values) *http.Request {
	request := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return request
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
	return body
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{Directives: &stubDirectives{}}); !errors.Is(err, errMissingLinkingService) {
		t.Fatalf("expected missing linking error, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{Linking: &stubLinking{}}); !errors.Is(err, errMissingDirectives) {
		t.Fatalf("expected missing directives error, got %v", err)
	}
}

func TestAuthorizeRendersEscapedSignInForm(t *testing.T) {
	stub := &stubLinking{authorizeResult: linking.AuthorizeResult{Form: &linking.SignInForm{
		Action:      "/auth",
		State:       `x"><script>`,
		RedirectURI: "https://pitangui.amazon.com/cb",
	}}}
	handler := newTestHandler(t, Dependencies{Linking: stub})

	recorder := serve(handler, httptest.NewRequest(http.MethodGet, "/auth?redirect_uri=https%3A%2F%2Fpitangui.amazon.com%2Fcb&state=abc", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.HasPrefix(recorder.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("expected html, got %q", recorder.Header().Get("Content-Type"))
	}
	body := recorder.Body.String()
	if strings.Contains(body, `x"><script>`) {
		t.Fatalf("expected state to be escaped, got %s", body)
	}
	if !strings.Contains(body, `name="email"`) || !strings.Contains(body, `name="password"`) {
		t.Fatalf("expected sign-in inputs, got %s", body)
	}
	if got := stub.authorizeRequests[0]; got.State != "abc" || got.RedirectURI != "https://pitangui.amazon.com/cb" {
		t.Fatalf("unexpected authorize request %+v", got)
	}
}

func TestAuthorizeSignInRedirects(t *testing.T) {
	stub := &stubLinking{authorizeResult: linking.AuthorizeResult{RedirectURL: "https://pitangui.amazon.com/cb?code=c&state=s"}}
	handler := newTestHandler(t, Dependencies{Linking: stub})

	recorder := serve(handler, postForm("/auth", url.Values{
		"redirect_uri": {"https://pitangui.amazon.com/cb"},
		"state":        {"s"},
		"email":        {"ann@example.com"},
		"password":     {"correct-horse"},
	}))
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", recorder.Code)
	}
	if recorder.Header().Get("Location") != "https://pitangui.amazon.com/cb?code=c&state=s" {
		t.Fatalf("unexpected location %q", recorder.Header().Get("Location"))
	}
	if got := stub.authorizeRequests[0]; got.Email != "ann@example.com" || got.Password != "correct-horse" {
		t.Fatalf("expected credentials to be forwarded, got %+v", got)
	}
}

func TestAuthorizeWritesLinkingErrors(t *testing.T) {
	stub := &stubLinking{authorizeErr: &linking.Error{Status: http.StatusUnauthorized, Code: linking.CodeInvalidCredentials, Description: "The email or password is incorrect."}}
	handler := newTestHandler(t, Dependencies{Linking: stub})

	recorder := serve(handler, postForm("/auth", url.Values{"email": {"ann@example.com"}, "password": {"nope"}}))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	if body["error"] != linking.CodeInvalidCredentials || body["error_description"] == "" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAuthorizeUnexpectedErrorIsServerError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	stub := &stubLinking{authorizeErr: errors.New("boom")}
	handler := newTestHandler(t, Dependencies{Linking: stub, Logger: zap.New(core)})

	recorder := serve(handler, httptest.NewRequest(http.MethodGet, "/auth", http.NoBody))
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	if logs.FilterMessage("unexpected linking failure").Len() != 1 {
		t.Fatalf("expected failure to be logged")
	}
}

func TestSignInIsRateLimitedPerClient(t *testing.T) {
	stub := &stubLinking{authorizeErr: &linking.Error{Status: http.StatusUnauthorized, Code: linking.CodeInvalidCredentials}}
	now := time.Unix(1700000000, 0)
	handler := newTestHandler(t, Dependencies{
		Linking:       stub,
		AuthRateLimit: RateLimitConfig{PerMinute: 1, Burst: 2, Clock: func() time.Time { return now }},
	})

	attempt := func(remoteAddr string) *httptest.ResponseRecorder {
		request := postForm("/auth", url.Values{"email": {"ann@example.com"}, "password": {"guess"}})
		request.RemoteAddr = remoteAddr
		return serve(handler, request)
	}
	for i := 0; i < 2; i++ {
		if recorder := attempt("203.0.113.7:5000"); recorder.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, recorder.Code)
		}
	}
	limited := attempt("203.0.113.7:5001")
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", limited.Code)
	}
	if decodeBody(t, limited)["error"] != "rate_limited" || limited.Header().Get("Retry-After") != "60" {
		t.Fatalf("unexpected limited response %s %v", limited.Body.String(), limited.Header())
	}
	if recorder := attempt("198.51.100.2:5000"); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected other client to be unaffected, got %d", recorder.Code)
	}
	if len(stub.authorizeRequests) != 3 {
		t.Fatalf("expected limited request to skip linking, got %d calls", len(stub.authorizeRequests))
	}
}

func TestSignInLimitIgnoresForwardedForFromUntrustedPeers(t *testing.T) {
	stub := &stubLinking{authorizeErr: &linking.Error{Status: http.StatusUnauthorized, Code: linking.CodeInvalidCredentials}}
	now := time.Unix(1700000000, 0)
	handler := newTestHandler(t, Dependencies{
		Linking:       stub,
		AuthRateLimit: RateLimitConfig{PerMinute: 1, Burst: 2, Clock: func() time.Time { return now }},
	})

	limited := 0
	for i := 0; i < 20; i++ {
		request := postForm("/auth", url.Values{"email": {"ann@example.com"}, "password": {"guess"}})
		request.RemoteAddr = "203.0.113.7:5000"
		request.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		if serve(handler, request).Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 18 {
		t.Fatalf("expected 18 limited attempts, got %d", limited)
	}
	if len(stub.authorizeRequests) != 2 {
		t.Fatalf("expected only the burst to reach linking, got %d", len(stub.authorizeRequests))
	}
}

func TestSignInLimitUsesForwardedForFromTrustedProxy(t *testing.T) {
	stub := &stubLinking{authorizeErr: &linking.Error{Status: http.StatusUnauthorized, Code: linking.CodeInvalidCredentials}}
	now := time.Unix(1700000000, 0)
	handler := newTestHandler(t, Dependencies{
		Linking:        stub,
		AuthRateLimit:  RateLimitConfig{PerMinute: 1, Burst: 1, Clock: func() time.Time { return now }},
		TrustedProxies: []string{"192.0.2.10"},
	})

	attempt := func(forwardedFor string) int {
		request := postForm("/auth", url.Values{"email": {"ann@example.com"}, "password": {"guess"}})
		request.RemoteAddr = "192.0.2.10:443"
		request.Header.Set("X-Forwarded-For", forwardedFor)
		return serve(handler, request).Code
	}
	if code := attempt("198.51.100.1"); code != http.StatusUnauthorized {
		t.Fatalf("expected first client to reach linking, got %d", code)
	}
	if code := attempt("198.51.100.2"); code != http.StatusUnauthorized {
		t.Fatalf("expected second client behind the proxy to be counted separately, got %d", code)
	}
	if code := attempt("198.51.100.1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected repeat client to be limited, got %d", code)
	}
}

func TestNewHTTPHandlerRejectsInvalidTrustedProxy(t *testing.T) {
	_, err := NewHTTPHandler(Dependencies{
		Linking:        &stubLinking{},
		Directives:     &stubDirectives{},
		TrustedProxies: []string{"not-an-address"},
	})
	if err == nil {
		t.Fatalf("expected invalid proxy to be rejected")
	}
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	now := time.Unix(1700000000, 0)
	limiter := newRateLimiter(RateLimitConfig{PerMinute: 60, Burst: 1, Clock: func() time.Time { return now }}, zap.NewNop())

	limiter.allow("203.0.113.7")
	limiter.allow("198.51.100.2")
	now = now.Add(limiterIdleTTL + time.Minute)
	limiter.allow("192.0.2.1")

	if size := limiter.size(); size != 1 {
		t.Fatalf("expected idle clients to be swept, got %d", size)
	}
}

func TestTokenReturnsJSONAndForwardsForm(t *testing.T) {
	stub := &stubLinking{tokenResponse: linking.TokenResponse{AccessToken: "abc", TokenType: "bearer", ExpiresIn: 3600}}
	handler := newTestHandler(t, Dependencies{Linking: stub})

	recorder := serve(handler, postForm("/token", url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {"c"},
		"state":        {"s"},
		"redirect_uri": {"https://pitangui.amazon.com/cb"},
	}))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	if body["access_token"] != "abc" || body["token_type"] != "bearer" || body["expires_in"] != float64(3600) {
		t.Fatalf("unexpected body %v", body)
	}
	if recorder.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store")
	}
	want := linking.TokenRequest{GrantType: "authorization_code", Code: "c", State: "s", RedirectURI: "https://pitangui.amazon.com/cb"}
	if stub.tokenRequests[0] != want {
		t.Fatalf("expected %+v, got %+v", want, stub.tokenRequests[0])
	}
}

func TestTokenEnforcesClientCredentials(t *testing.T) {
	stub := &stubLinking{tokenResponse: linking.TokenResponse{AccessToken: "abc", TokenType: "bearer", ExpiresIn: 3600}}
	handler := newTestHandler(t, Dependencies{
		Linking: stub,
		Client:  ClientCredentials{ClientID: "alexa-skill", ClientSecret: "s3cret"},
	})
	form := url.Values{"grant_type": {"authorization_code"}, "code": {"c"}}

	missing := serve(handler, postForm("/token", form))
	if missing.Code != http.StatusUnauthorized || decodeBody(t, missing)["error"] != linking.CodeInvalidClient {
		t.Fatalf("expected invalid_client, got %d %s", missing.Code, missing.Body.String())
	}

	wrong := postForm("/token", form)
	wrong.SetBasicAuth("alexa-skill", "guess")
	if recorder := serve(handler, wrong); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", recorder.Code)
	}

	right := postForm("/token", form)
	right.SetBasicAuth("alexa-skill", "s3cret")
	if recorder := serve(handler, right); recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with basic auth, got %d", recorder.Code)
	}
	if len(stub.tokenRequests) != 1 {
		t.Fatalf("expected only the authenticated call to reach linking, got %d", len(stub.tokenRequests))
	}
}

func TestTokenWritesLinkingErrors(t *testing.T) {
	stub := &stubLinking{tokenErr: &linking.Error{Status: http.StatusBadRequest, Code: linking.CodeCodeUsed, Description: "used"}}
	handler := newTestHandler(t, Dependencies{Linking: stub})

	recorder := serve(handler, postForm("/token", url.Values{"grant_type": {"authorization_code"}, "code": {"c"}}))
	if recorder.Code != http.StatusBadRequest || decodeBody(t, recorder)["error"] != linking.CodeCodeUsed {
		t.Fatalf("expected code_used, got %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestSmartHomeForwardsDirective(t *testing.T) {
	directives := &stubDirectives{}
	handler := newTestHandler(t, Dependencies{Directives: directives})

	body := `{"directive":{"header":{"namespace":"Alexa","name":"ReportState","payloadVersion":"3","messageId":"in","correlationToken":"ct"},"endpoint":{"scope":{"type":"BearerToken","token":"t"},"endpointId":"r1"},"payload":{}}}`
	request := httptest.NewRequest(http.MethodPost, "/smartHome", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")

	recorder := serve(handler, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	forwarded := directives.requests[0].Directive
	if forwarded.Header.CorrelationToken != "ct" || forwarded.Endpoint.EndpointID != "r1" || forwarded.Endpoint.Scope.Token != "t" {
		t.Fatalf("unexpected forwarded directive %+v", forwarded)
	}
	if !strings.Contains(recorder.Body.String(), `"name":"StateReport"`) {
		t.Fatalf("unexpected response %s", recorder.Body.String())
	}
}

func TestSmartHomeRejectsMalformedJSON(t *testing.T) {
	directives := &stubDirectives{}
	handler := newTestHandler(t, Dependencies{Directives: directives})

	request := httptest.NewRequest(http.MethodPost, "/smartHome", strings.NewReader(`{"directive":`))
	request.Header.Set("Content-Type", "application/json")
	recorder := serve(handler, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if len(directives.requests) != 0 {
		t.Fatalf("expected malformed body to skip the router")
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	collector.RecordLinking("auth", "form")
	handler := newTestHandler(t, Dependencies{MetricsHandler: metrics.Handler(registry)})

	health := serve(handler, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if health.Code != http.StatusOK || decodeBody(t, health)["status"] != "ok" {
		t.Fatalf("unexpected health response %d %s", health.Code, health.Body.String())
	}
	scrape := serve(handler, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if scrape.Code != http.StatusOK || !strings.Contains(scrape.Body.String(), "locksure_linking_total") {
		t.Fatalf("unexpected metrics response %d", scrape.Code)
	}
}
