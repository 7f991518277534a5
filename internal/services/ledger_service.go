package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/timegate/backend/internal/models"
)

var ErrAccountNotFound = errors.New("account not found")

// InsufficientFundsError carries the amounts involved so callers can report
// an actionable shortfall instead of a bare failure.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s",
		e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// LedgerService is the only writer of account balances. Every balance
// mutation happens in the same database transaction as a ledger entry
// insert, under an account row lock (SELECT ... FOR UPDATE).
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// GetBalance returns the account balance at the time of the read.
func (s *LedgerService) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM accounts WHERE id = $1
	`, accountID).Scan(&balance)

	if err == sql.ErrNoRows {
		return decimal.Zero, ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// Credit increases the account balance. When externalRef is set the operation
// is idempotent: a duplicate reference is a no-op returning the entry written
// by the first notification.
func (s *LedgerService) Credit(ctx context.Context, accountID string, amount decimal.Decimal, reason, externalRef string) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("credit amount must be positive, got %s", amount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.CreditTx(ctx, tx, accountID, amount, models.EntryCredit, reason, externalRef)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a duplicate-notification race; the winning entry is
			// already committed.
			tx.Rollback()
			return s.findEntryByRef(ctx, externalRef)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// CreditTx applies a credit inside an existing transaction. Callers that also
// lock a token row must lock it before calling, keeping the token-before-account
// lock order.
func (s *LedgerService) CreditTx(ctx context.Context, tx *sql.Tx, accountID string, amount decimal.Decimal, kind models.EntryKind, reason, externalRef string) (*models.LedgerEntry, error) {
	balance, err := s.lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	if externalRef != "" {
		if existing, err := s.findEntryByRefTx(ctx, tx, externalRef); err == nil {
			log.Printf("[LEDGER] Duplicate external ref %s, returning existing entry %d", externalRef, existing.ID)
			return existing, nil
		} else if err != sql.ErrNoRows {
			return nil, err
		}
	}

	entry, err := s.insertEntry(ctx, tx, accountID, amount, kind, reason, externalRef)
	if err != nil {
		return nil, err
	}

	if err := s.updateBalance(ctx, tx, accountID, balance.Add(amount)); err != nil {
		return nil, err
	}
	return entry, nil
}

// Debit decreases the account balance, failing with InsufficientFundsError if
// the balance cannot cover the amount. The check runs under the account lock,
// not at call time, since the balance may change concurrently.
func (s *LedgerService) Debit(ctx context.Context, accountID string, amount decimal.Decimal, reason string) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.DebitTx(ctx, tx, accountID, amount, reason)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// DebitTx applies a debit inside an existing transaction.
func (s *LedgerService) DebitTx(ctx context.Context, tx *sql.Tx, accountID string, amount decimal.Decimal, reason string) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("debit amount must be positive, got %s", amount)
	}

	balance, err := s.lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	if balance.LessThan(amount) {
		return nil, &InsufficientFundsError{Required: amount, Available: balance}
	}

	entry, err := s.insertEntry(ctx, tx, accountID, amount.Neg(), models.EntryDebit, reason, "")
	if err != nil {
		return nil, err
	}

	if err := s.updateBalance(ctx, tx, accountID, balance.Sub(amount)); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListEntries returns a reverse-chronological page of entries plus the total
// count for the filter.
func (s *LedgerService) ListEntries(ctx context.Context, accountID string, offset, limit int, kind models.EntryKind) ([]models.LedgerEntry, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	conditions := []string{"account_id = $1"}
	args := []interface{}{accountID}
	if kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)+1))
		args = append(args, string(kind))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_entries"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, account_id, amount, kind, reason, COALESCE(external_ref, ''), created_at
		FROM ledger_entries` + where + fmt.Sprintf(`
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var entry models.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Amount, &entry.Kind,
			&entry.Reason, &entry.ExternalRef, &entry.CreatedAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

func (s *LedgerService) lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		SELECT balance FROM accounts WHERE id = $1 FOR UPDATE
	`, accountID).Scan(&balance)

	if err == sql.ErrNoRows {
		return decimal.Zero, ErrAccountNotFound
	}
	return balance, err
}

func (s *LedgerService) insertEntry(ctx context.Context, tx *sql.Tx, accountID string, amount decimal.Decimal, kind models.EntryKind, reason, externalRef string) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{
		AccountID:   accountID,
		Amount:      amount,
		Kind:        kind,
		Reason:      reason,
		ExternalRef: externalRef,
	}

	var ref interface{}
	if externalRef != "" {
		ref = externalRef
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (account_id, amount, kind, reason, external_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, accountID, amount, string(kind), reason, ref, time.Now()).Scan(&entry.ID)
	if err != nil {
		return nil, err
	}
	entry.CreatedAt = time.Now()
	return entry, nil
}

func (s *LedgerService) updateBalance(ctx context.Context, tx *sql.Tx, accountID string, newBalance decimal.Decimal) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance = $1, updated_at = $2 WHERE id = $3
	`, newBalance, time.Now(), accountID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("balance update affected no rows for account %s", accountID)
	}
	return nil
}

func (s *LedgerService) findEntryByRef(ctx context.Context, externalRef string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, amount, kind, reason, COALESCE(external_ref, ''), created_at
		FROM ledger_entries WHERE external_ref = $1
	`, externalRef).Scan(&entry.ID, &entry.AccountID, &entry.Amount, &entry.Kind,
		&entry.Reason, &entry.ExternalRef, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *LedgerService) findEntryByRefTx(ctx context.Context, tx *sql.Tx, externalRef string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := tx.QueryRowContext(ctx, `
		SELECT id, account_id, amount, kind, reason, COALESCE(external_ref, ''), created_at
		FROM ledger_entries WHERE external_ref = $1
	`, externalRef).Scan(&entry.ID, &entry.AccountID, &entry.Amount, &entry.Kind,
		&entry.Reason, &entry.ExternalRef, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
