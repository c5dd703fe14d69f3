// Package credentials turns the bearer value attached to a directive into a user id.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/logging"
)

// ErrUnresolved reports that no lookup recognised the token.
var ErrUnresolved = errors.New("credentials: token not recognised")

// directUserIDPattern matches the 28 character alphanumeric ids the identity provider assigns.
var directUserIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{28}$`)

// Source names which lookup resolved a token.
type Source string

// Resolution sources, in lookup order.
const (
	SourceDirect   Source = "direct"
	SourceLegacy   Source = "legacy"
	SourceTokenMap Source = "token_map"
)

// Resolution is a resolved identity.
type Resolution struct {
	UserID string
	Source Source
}

// LegacyTokenLookup finds users by tokens stored on the user record.
type LegacyTokenLookup interface {
	UserIDForLegacyToken(ctx context.Context, token string) (string, bool, error)
}

// TokenLookup finds users by tokens issued through the token map.
type TokenLookup interface {
	LookupToken(ctx context.Context, token string) (string, bool, error)
}

// ResolverConfig wires the resolver lookups.
type ResolverConfig struct {
	AcceptDirectUserID bool
	Legacy             LegacyTokenLookup
	Tokens             TokenLookup
	Logger             *zap.Logger
}

// Resolver resolves bearer tokens in a fixed order: direct id, legacy record, token map.
type Resolver struct {
	acceptDirect bool
	legacy       LegacyTokenLookup
	tokens       TokenLookup
	logger       *zap.Logger
}

// NewResolver constructs a resolver. Lookups left nil are skipped.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		acceptDirect: cfg.AcceptDirectUserID,
		legacy:       cfg.Legacy,
		tokens:       cfg.Tokens,
		logger:       logger,
	}
}

// Resolve returns the user for token, ErrUnresolved when nothing matches, or a wrapped store error.
func (r *Resolver) Resolve(ctx context.Context, token string) (Resolution, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Resolution{}, ErrUnresolved
	}
	if r.acceptDirect && IsDirectUserID(token) {
		return Resolution{UserID: token, Source: SourceDirect}, nil
	}
	if r.legacy != nil {
		userID, found, err := r.legacy.UserIDForLegacyToken(ctx, token)
		if err != nil {
			return Resolution{}, fmt.Errorf("credentials: legacy lookup: %w", err)
		}
		if found {
			return Resolution{UserID: userID, Source: SourceLegacy}, nil
		}
	}
	if r.tokens != nil {
		userID, found, err := r.tokens.LookupToken(ctx, token)
		if err != nil {
			return Resolution{}, fmt.Errorf("credentials: token map lookup: %w", err)
		}
		if found {
			return Resolution{UserID: userID, Source: SourceTokenMap}, nil
		}
	}
	r.logger.Info("bearer token unresolved", logging.Secret("token", token))
	return Resolution{}, ErrUnresolved
}

// IsDirectUserID reports whether value has the shape of a provider-assigned user id.
func IsDirectUserID(value string) bool {
	return directUserIDPattern.MatchString(value)
}
