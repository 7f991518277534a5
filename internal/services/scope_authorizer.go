package services

import (
	"strings"

	"github.com/timegate/backend/internal/config"
	"github.com/timegate/backend/internal/models"
)

// ScopeAuthorizer decides whether a token scope may reach an origin path.
// It is a pure lookup over rules precompiled at startup; it holds no request
// state and is safe under unbounded concurrency.
type ScopeAuthorizer struct {
	rules *config.ScopeRules
}

func NewScopeAuthorizer(rules *config.ScopeRules) *ScopeAuthorizer {
	return &ScopeAuthorizer{rules: rules}
}

// Authorize reports whether path is reachable with the given scope. An
// unrestricted scope always passes. A restricted scope passes iff the
// normalized path matches at least one configured rule; unknown scopes deny.
func (a *ScopeAuthorizer) Authorize(path string, scope models.TokenScope) bool {
	if scope == models.ScopeUnrestricted {
		return true
	}
	if scope != models.ScopeRestrictedPathSet {
		return false
	}
	return a.rules.Match(normalizePath(path))
}

func normalizePath(path string) string {
	return strings.TrimPrefix(path, "/")
}
