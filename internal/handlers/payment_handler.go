package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/timegate/backend/internal/services"
)

// PaymentHandler receives top-up notifications from the external payment
// gateway. Signature verification happens upstream; this endpoint only maps
// a notification to an idempotent ledger credit.
type PaymentHandler struct {
	ledger    *services.LedgerService
	validator *services.ValidationHelper
}

func NewPaymentHandler(ledger *services.LedgerService) *PaymentHandler {
	return &PaymentHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

// Notify credits an account from a payment gateway notification
// @Summary Process a payment notification
// @Description Credits the account balance; duplicate references are a no-op returning the original entry
// @Tags payments
// @Accept json
// @Produce json
// @Param notification body object{accountId=string,amount=string,reference=string,reason=string} true "Payment notification"
// @Success 200 {object} object{success=bool,entry=models.LedgerEntry}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /payments/notify [post]
func (h *PaymentHandler) Notify(w http.ResponseWriter, r *http.Request) {
	log.Printf("[PAYMENTS] Notification from IP: %s", r.RemoteAddr)

	var req struct {
		AccountID string `json:"accountId" validate:"required"`
		Amount    string `json:"amount" validate:"required"`
		Reference string `json:"reference" validate:"required"`
		Reason    string `json:"reason,omitempty"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		services.SendErrorResponse(w, "Amount must be a positive decimal", http.StatusBadRequest, nil)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "payment " + req.Reference
	}

	entry, err := h.ledger.Credit(r.Context(), req.AccountID, amount.Round(2), reason, req.Reference)
	if err != nil {
		if errors.Is(err, services.ErrAccountNotFound) {
			services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[PAYMENTS] Credit failed for reference %s: %v", req.Reference, err)
		services.SendErrorResponse(w, "Failed to process notification", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[PAYMENTS] Credited account %s with %s (ref %s, entry %d)",
		req.AccountID, amount.StringFixed(2), req.Reference, entry.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"entry":   entry,
	})
}
