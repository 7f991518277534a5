package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TokenScope string

const (
	ScopeUnrestricted      TokenScope = "unrestricted"
	ScopeRestrictedPathSet TokenScope = "restricted-path-set"
)

// Token statuses derived from row state; never stored.
const (
	TokenStatusPending = "PENDING"
	TokenStatusActive  = "ACTIVE"
	TokenStatusExpired = "EXPIRED"
	TokenStatusRevoked = "REVOKED"
)

// CapabilityToken grants its bearer time-boxed, possibly path-restricted
// access. The validity window starts at first successful validation, not at
// issuance (lazy activation).
type CapabilityToken struct {
	ID            string          `json:"id" db:"id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	Secret        string          `json:"-" db:"secret"` // never serialized
	DurationHours int             `json:"duration_hours" db:"duration_hours"`
	Scope         TokenScope      `json:"scope" db:"scope"`
	Cost          decimal.Decimal `json:"cost" db:"cost"` // price snapshot at issuance
	Active        bool            `json:"active" db:"active"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	ActivatedAt   *time.Time      `json:"activated_at,omitempty" db:"activated_at"`
	RevokedAt     *time.Time      `json:"revoked_at,omitempty" db:"revoked_at"`
}

// ExpiresAt is only defined once the token has been activated.
func (t *CapabilityToken) ExpiresAt() (time.Time, bool) {
	if t.ActivatedAt == nil {
		return time.Time{}, false
	}
	return t.ActivatedAt.Add(time.Duration(t.DurationHours) * time.Hour), true
}

func (t *CapabilityToken) Status(now time.Time) string {
	if !t.Active || t.RevokedAt != nil {
		return TokenStatusRevoked
	}
	expiresAt, activated := t.ExpiresAt()
	if !activated {
		return TokenStatusPending
	}
	if !expiresAt.After(now) {
		return TokenStatusExpired
	}
	return TokenStatusActive
}
