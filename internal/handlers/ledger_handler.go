package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/timegate/backend/internal/models"
	"github.com/timegate/backend/internal/services"
)

type LedgerHandler struct {
	ledger *services.LedgerService
}

func NewLedgerHandler(ledger *services.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// GetBalance returns the authenticated account's balance
// @Summary Get account balance
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{accountId=string,balance=string}
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /balance [get]
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, services.ErrAccountNotFound) {
			services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[LEDGER] GetBalance failed for account %s: %v", accountID, err)
		services.SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"accountId": accountID,
		"balance":   balance.StringFixed(2),
	})
}

// ListEntries returns a page of the account's ledger entries
// @Summary List ledger entries
// @Description Reverse-chronological ledger entries with optional kind filter
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param offset query int false "Page offset (default 0)"
// @Param limit query int false "Page size (default 50, max 100)"
// @Param kind query string false "Filter by kind (CREDIT, DEBIT, REFUND)"
// @Success 200 {object} object{entries=[]models.LedgerEntry,total=int,offset=int,limit=int}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /ledger [get]
func (h *LedgerHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	kind := models.EntryKind(r.URL.Query().Get("kind"))
	switch kind {
	case "", models.EntryCredit, models.EntryDebit, models.EntryRefund:
	default:
		services.SendErrorResponse(w, "Invalid kind filter", http.StatusBadRequest, nil)
		return
	}

	entries, total, err := h.ledger.ListEntries(r.Context(), accountID, offset, limit, kind)
	if err != nil {
		log.Printf("[LEDGER] ListEntries failed for account %s: %v", accountID, err)
		services.SendErrorResponse(w, "Failed to fetch ledger entries", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entries": entries,
		"total":   total,
		"offset":  offset,
		"limit":   limit,
	})
}
