package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryCredit EntryKind = "CREDIT"
	EntryDebit  EntryKind = "DEBIT"
	EntryRefund EntryKind = "REFUND"
)

// LedgerEntry is append-only: entries are never updated or deleted, and an
// account's balance always equals the sum of its entry amounts.
type LedgerEntry struct {
	ID          int64           `json:"id" db:"id"`
	AccountID   string          `json:"account_id" db:"account_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"` // signed; debits are negative
	Kind        EntryKind       `json:"kind" db:"kind"`
	Reason      string          `json:"reason" db:"reason"`
	ExternalRef string          `json:"external_ref,omitempty" db:"external_ref"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
