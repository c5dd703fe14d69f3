package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/linking"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/smarthome"
)

var (
	errMissingLinkingService = errors.New("linking service dependency required")
	errMissingDirectives     = errors.New("directive handler dependency required")
)

// LinkingService runs the account-linking grant.
type LinkingService interface {
	Authorize(ctx context.Context, request linking.AuthorizeRequest) (linking.AuthorizeResult, error)
	Token(ctx context.Context, request linking.TokenRequest) (linking.TokenResponse, error)
}

// DirectiveHandler answers smart home directives.
type DirectiveHandler interface {
	Handle(ctx context.Context, request smarthome.Request) smarthome.Response
}

// ClientCredentials are the assistant's client id and secret; /token enforces them when both are set.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

func (c ClientCredentials) enforced() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Linking        LinkingService
	Directives     DirectiveHandler
	Client         ClientCredentials
	AuthRateLimit  RateLimitConfig
	MetricsHandler http.Handler
	// TrustedProxies lists proxy addresses or CIDRs whose forwarding headers are believed.
	// Empty means client IPs always come from the connection.
	TrustedProxies []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin engine serving /auth, /token, /smartHome, /metrics and /healthz.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Linking == nil {
		return nil, errMissingLinkingService
	}
	if deps.Directives == nil {
		return nil, errMissingDirectives
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, fmt.Errorf("server: trusted proxies: %w", err)
	}
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.SetHTMLTemplate(newSignInTemplate())

	handler := &httpHandler{
		linking:    deps.Linking,
		directives: deps.Directives,
		client:     deps.Client,
		logger:     logger,
	}
	limiter := newRateLimiter(deps.AuthRateLimit, logger)

	router.GET("/auth", handler.handleAuthorize)
	router.POST("/auth", limiter.middleware, handler.handleAuthorize)
	router.POST("/token", handler.handleToken)
	router.POST("/smartHome", handler.handleDirective)
	router.GET("/healthz", handleHealth)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	linking    LinkingService
	directives DirectiveHandler
	client     ClientCredentials
	logger     *zap.Logger
}

func (h *httpHandler) handleAuthorize(c *gin.Context) {
	request := linking.AuthorizeRequest{
		RedirectURI: requestValue(c, "redirect_uri"),
		State:       requestValue(c, "state"),
		Code:        requestValue(c, "code"),
		Email:       c.PostForm("email"),
		Password:    c.PostForm("password"),
	}

	result, err := h.linking.Authorize(c.Request.Context(), request)
	if err != nil {
		h.writeLinkingError(c, err)
		return
	}
	if result.Form != nil {
		c.HTML(http.StatusOK, signInTemplateName, result.Form)
		return
	}
	c.Redirect(http.StatusFound, result.RedirectURL)
}

func (h *httpHandler) handleToken(c *gin.Context) {
	if h.client.enforced() && !h.clientAuthenticated(c) {
		c.Header("WWW-Authenticate", `Basic realm="token"`)
		h.writeLinkingError(c, linking.InvalidClient())
		return
	}

	response, err := h.linking.Token(c.Request.Context(), linking.TokenRequest{
		GrantType:   c.PostForm("grant_type"),
		Code:        c.PostForm("code"),
		State:       c.PostForm("state"),
		RedirectURI: c.PostForm("redirect_uri"),
	})
	if err != nil {
		h.writeLinkingError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleDirective(c *gin.Context) {
	var request smarthome.Request
	if err := c.ShouldBindJSON(&request); err != nil {
		h.logger.Info("malformed directive body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	c.JSON(http.StatusOK, h.directives.Handle(c.Request.Context(), request))
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) clientAuthenticated(c *gin.Context) bool {
	clientID, clientSecret, ok := c.Request.BasicAuth()
	if !ok {
		clientID, clientSecret = c.PostForm("client_id"), c.PostForm("client_secret")
	}
	idMatches := subtle.ConstantTimeCompare([]byte(clientID), []byte(h.client.ClientID)) == 1
	secretMatches := subtle.ConstantTimeCompare([]byte(clientSecret), []byte(h.client.ClientSecret)) == 1
	return idMatches && secretMatches
}

func (h *httpHandler) writeLinkingError(c *gin.Context, err error) {
	var linkingErr *linking.Error
	if !errors.As(err, &linkingErr) {
		h.logger.Error("unexpected linking failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": linking.CodeServerError})
		return
	}
	c.JSON(linkingErr.Status, gin.H{
		"error":             linkingErr.Code,
		"error_description": linkingErr.Description,
	})
}

// requestValue reads a parameter from the form body first, then the query string.
func requestValue(c *gin.Context, key string) string {
	if value, ok := c.GetPostForm(key); ok {
		return value
	}
	return c.Query(key)
}
