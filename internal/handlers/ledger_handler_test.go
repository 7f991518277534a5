package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/timegate/backend/internal/services"
)

func newLedgerTestStack(t *testing.T) (*LedgerHandler, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	return NewLedgerHandler(services.NewLedgerService(db)), mock, db
}

func TestLedgerHandler_GetBalance(t *testing.T) {
	t.Run("balance returned with two decimal places", func(t *testing.T) {
		handler, mock, db := newLedgerTestStack(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT balance FROM accounts WHERE id = \$1`).
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("42.5"))

		req := withAccount(httptest.NewRequest("GET", "/api/v1/balance", nil), "acct-1")
		rec := httptest.NewRecorder()
		handler.GetBalance(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "acct-1", body["accountId"])
		assert.Equal(t, "42.50", body["balance"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		handler, mock, db := newLedgerTestStack(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT balance FROM accounts WHERE id = \$1`).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		req := withAccount(httptest.NewRequest("GET", "/api/v1/balance", nil), "ghost")
		rec := httptest.NewRecorder()
		handler.GetBalance(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing auth context", func(t *testing.T) {
		handler, mock, db := newLedgerTestStack(t)
		defer db.Close()

		rec := httptest.NewRecorder()
		handler.GetBalance(rec, httptest.NewRequest("GET", "/api/v1/balance", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerHandler_ListEntries(t *testing.T) {
	t.Run("kind filter applied", func(t *testing.T) {
		handler, mock, db := newLedgerTestStack(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ledger_entries WHERE account_id = \$1 AND kind = \$2`).
			WithArgs("acct-1", "REFUND").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(`SELECT id, account_id, amount, kind, reason, COALESCE\(external_ref, ''\), created_at FROM ledger_entries WHERE account_id = \$1 AND kind = \$2 ORDER BY created_at DESC, id DESC LIMIT \$3 OFFSET \$4`).
			WithArgs("acct-1", "REFUND", 10, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "amount", "kind", "reason", "external_ref", "created_at"}).
				AddRow(3, "acct-1", "18.00", "REFUND", "refund token tok-1", "", time.Now()))

		req := withAccount(httptest.NewRequest("GET", "/api/v1/ledger?kind=REFUND&limit=10", nil), "acct-1")
		rec := httptest.NewRecorder()
		handler.ListEntries(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Entries []json.RawMessage `json:"entries"`
			Total   int               `json:"total"`
			Offset  int               `json:"offset"`
			Limit   int               `json:"limit"`
		}
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.Entries, 1)
		assert.Equal(t, 1, body.Total)
		assert.Equal(t, 10, body.Limit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid kind filter rejected", func(t *testing.T) {
		handler, mock, db := newLedgerTestStack(t)
		defer db.Close()

		req := withAccount(httptest.NewRequest("GET", "/api/v1/ledger?kind=BONUS", nil), "acct-1")
		rec := httptest.NewRecorder()
		handler.ListEntries(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("oversized limit falls back to default", func(t *testing.T) {
		handler, mock, db := newLedgerTestStack(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ledger_entries WHERE account_id = \$1`).
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`FROM ledger_entries WHERE account_id = \$1 ORDER BY created_at DESC, id DESC LIMIT \$2 OFFSET \$3`).
			WithArgs("acct-1", 50, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "amount", "kind", "reason", "external_ref", "created_at"}))

		req := withAccount(httptest.NewRequest("GET", "/api/v1/ledger?limit=5000", nil), "acct-1")
		rec := httptest.NewRecorder()
		handler.ListEntries(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
