package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/timegate/backend/internal/models"
)

func TestLedgerService_GetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("existing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("100.00"))

		balance, err := service.GetBalance(context.Background(), "acct1")
		assert.NoError(t, err)
		assert.True(t, balance.Equal(decimal.RequireFromString("100.00")))
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := service.GetBalance(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestLedgerService_Credit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful credit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("82.00"))
		mock.ExpectQuery("SELECT id, account_id, amount, kind, reason, COALESCE\\(external_ref, ''\\), created_at FROM ledger_entries WHERE external_ref = \\$1").
			WithArgs("pay-1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct1", sqlmock.AnyArg(), "CREDIT", "top up", "pay-1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
		mock.ExpectExec("UPDATE accounts SET balance = \\$1, updated_at = \\$2 WHERE id = \\$3").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "acct1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		entry, err := service.Credit(context.Background(), "acct1", decimal.RequireFromString("18.00"), "top up", "pay-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(7), entry.ID)
		assert.Equal(t, models.EntryCredit, entry.Kind)
		assert.True(t, entry.Amount.Equal(decimal.RequireFromString("18.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate external ref is a no-op", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("118.00"))
		mock.ExpectQuery("SELECT id, account_id, amount, kind, reason, COALESCE\\(external_ref, ''\\), created_at FROM ledger_entries WHERE external_ref = \\$1").
			WithArgs("pay-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "amount", "kind", "reason", "external_ref", "created_at"}).
				AddRow(7, "acct1", "18.00", "CREDIT", "top up", "pay-1", time.Now()))
		mock.ExpectCommit()

		entry, err := service.Credit(context.Background(), "acct1", decimal.RequireFromString("18.00"), "top up", "pay-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(7), entry.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount rejected", func(t *testing.T) {
		_, err := service.Credit(context.Background(), "acct1", decimal.Zero, "top up", "")
		assert.Error(t, err)
	})
}

func TestLedgerService_Debit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful debit stores negative amount", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("100.00"))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct1", sqlmock.AnyArg(), "DEBIT", "token purchase", nil, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
		mock.ExpectExec("UPDATE accounts SET balance = \\$1, updated_at = \\$2 WHERE id = \\$3").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "acct1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		entry, err := service.Debit(context.Background(), "acct1", decimal.RequireFromString("18.00"), "token purchase")
		assert.NoError(t, err)
		assert.Equal(t, models.EntryDebit, entry.Kind)
		assert.True(t, entry.Amount.Equal(decimal.RequireFromString("-18.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds rechecked under lock", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("10.00"))
		mock.ExpectRollback()

		_, err := service.Debit(context.Background(), "acct1", decimal.RequireFromString("18.00"), "token purchase")
		assert.Error(t, err)

		var insufficient *InsufficientFundsError
		assert.True(t, errors.As(err, &insufficient))
		assert.True(t, insufficient.Required.Equal(decimal.RequireFromString("18.00")))
		assert.True(t, insufficient.Available.Equal(decimal.RequireFromString("10.00")))
		assert.Contains(t, err.Error(), "required 18.00")
		assert.Contains(t, err.Error(), "available 10.00")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := service.Debit(context.Background(), "ghost", decimal.RequireFromString("1.00"), "token purchase")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestLedgerService_ListEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("page with kind filter", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM ledger_entries WHERE account_id = \\$1 AND kind = \\$2").
			WithArgs("acct1", "DEBIT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectQuery("SELECT id, account_id, amount, kind, reason, COALESCE\\(external_ref, ''\\), created_at FROM ledger_entries WHERE account_id = \\$1 AND kind = \\$2 ORDER BY created_at DESC, id DESC LIMIT \\$3 OFFSET \\$4").
			WithArgs("acct1", "DEBIT", 2, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "amount", "kind", "reason", "external_ref", "created_at"}).
				AddRow(9, "acct1", "-18.00", "DEBIT", "token purchase", "", time.Now()).
				AddRow(8, "acct1", "-1.50", "DEBIT", "token purchase", "", time.Now()))

		entries, total, err := service.ListEntries(context.Background(), "acct1", 0, 2, models.EntryDebit)
		assert.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, entries, 2)
		assert.Equal(t, int64(9), entries[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no filter", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM ledger_entries WHERE account_id = \\$1").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("SELECT id, account_id, amount, kind, reason, COALESCE\\(external_ref, ''\\), created_at FROM ledger_entries WHERE account_id = \\$1 ORDER BY created_at DESC, id DESC LIMIT \\$2 OFFSET \\$3").
			WithArgs("acct1", 50, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "amount", "kind", "reason", "external_ref", "created_at"}))

		entries, total, err := service.ListEntries(context.Background(), "acct1", 0, 0, "")
		assert.NoError(t, err)
		assert.Equal(t, 0, total)
		assert.Empty(t, entries)
	})
}
