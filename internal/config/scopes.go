package config

import (
	"strings"

	"github.com/spf13/viper"
)

// ScopeRules holds the ordered allow-list of origin paths available to
// restricted-scope tokens. Rules live in configuration rather than on the
// token row, so adding an allowed path needs no data migration.
//
// A rule is either an exact path ("reports/daily") or a prefix rule ending in
// "/*" ("quotes/*"). Leading slashes are stripped on both rules and probed
// paths so representation differences cannot bypass matching.
type ScopeRules struct {
	rules []pathRule
}

type pathRule struct {
	exact  string
	prefix string // non-empty for "<prefix>/*" rules
}

// LoadScopeRules reads the comma-separated rule list from configuration.
func LoadScopeRules() *ScopeRules {
	viper.SetDefault("scopes.restricted_paths", "status,quotes/*,reports/daily")

	raw := viper.GetString("scopes.restricted_paths")
	var patterns []string
	for _, pattern := range strings.Split(raw, ",") {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	return NewScopeRules(patterns)
}

// NewScopeRules precompiles an ordered pattern list.
func NewScopeRules(patterns []string) *ScopeRules {
	rules := make([]pathRule, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimPrefix(pattern, "/")
		if rest, ok := strings.CutSuffix(pattern, "/*"); ok {
			rules = append(rules, pathRule{exact: rest, prefix: rest + "/"})
		} else {
			rules = append(rules, pathRule{exact: pattern})
		}
	}
	return &ScopeRules{rules: rules}
}

// Match reports whether a normalized path (no leading slash) is allowed.
// The first matching rule allows; no match is the only denial.
func (r *ScopeRules) Match(path string) bool {
	for _, rule := range r.rules {
		if path == rule.exact {
			return true
		}
		if rule.prefix != "" && strings.HasPrefix(path, rule.prefix) {
			return true
		}
	}
	return false
}
