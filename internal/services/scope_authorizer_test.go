package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/timegate/backend/internal/config"
	"github.com/timegate/backend/internal/models"
)

func TestScopeAuthorizer_Authorize(t *testing.T) {
	authorizer := NewScopeAuthorizer(config.NewScopeRules([]string{
		"status",
		"quotes/*",
		"reports/daily",
	}))

	t.Run("unrestricted allows every path", func(t *testing.T) {
		for _, path := range []string{"/status", "admin/users", "/", "", "anything/at/all"} {
			assert.True(t, authorizer.Authorize(path, models.ScopeUnrestricted), path)
		}
	})

	t.Run("restricted allows only configured paths", func(t *testing.T) {
		assert.True(t, authorizer.Authorize("status", models.ScopeRestrictedPathSet))
		assert.True(t, authorizer.Authorize("quotes/AAPL", models.ScopeRestrictedPathSet))
		assert.True(t, authorizer.Authorize("quotes/fx/EURUSD", models.ScopeRestrictedPathSet))
		assert.True(t, authorizer.Authorize("reports/daily", models.ScopeRestrictedPathSet))

		assert.False(t, authorizer.Authorize("reports/weekly", models.ScopeRestrictedPathSet))
		assert.False(t, authorizer.Authorize("admin", models.ScopeRestrictedPathSet))
		assert.False(t, authorizer.Authorize("statusx", models.ScopeRestrictedPathSet))
		assert.False(t, authorizer.Authorize("", models.ScopeRestrictedPathSet))
	})

	t.Run("leading slash cannot change the decision", func(t *testing.T) {
		assert.True(t, authorizer.Authorize("/status", models.ScopeRestrictedPathSet))
		assert.True(t, authorizer.Authorize("/quotes/AAPL", models.ScopeRestrictedPathSet))
		assert.False(t, authorizer.Authorize("/admin", models.ScopeRestrictedPathSet))
	})

	t.Run("unknown scope denies", func(t *testing.T) {
		assert.False(t, authorizer.Authorize("status", models.TokenScope("everything")))
	})

	t.Run("prefix rule matches the bare segment too", func(t *testing.T) {
		assert.True(t, authorizer.Authorize("quotes", models.ScopeRestrictedPathSet))
		assert.False(t, authorizer.Authorize("quotesX", models.ScopeRestrictedPathSet))
	})
}
