package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/timegate/backend/internal/models"
	"github.com/timegate/backend/internal/services"
)

type TokenHandler struct {
	service   *services.TokenService
	validator *services.ValidationHelper
}

func NewTokenHandler(service *services.TokenService) *TokenHandler {
	return &TokenHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// IssueToken purchases a capability token for the authenticated account
// @Summary Purchase a capability token
// @Description Debits the token price from the account balance and returns the bearer secret (shown once)
// @Tags tokens
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{durationHours=int,scope=string} true "Token request"
// @Success 201 {object} services.IssueResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Router /tokens [post]
func (h *TokenHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		DurationHours int    `json:"durationHours" validate:"required,gt=0"`
		Scope         string `json:"scope" validate:"omitempty,oneof=unrestricted restricted-path-set"`
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

	scope := models.TokenScope(req.Scope)
	if scope == "" {
		scope = models.ScopeUnrestricted
	}

	result, err := h.service.Issue(r.Context(), accountID, req.DurationHours, scope)
	if err != nil {
		var insufficient *services.InsufficientFundsError
		switch {
		case errors.Is(err, services.ErrInvalidDuration):
			services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		case errors.As(err, &insufficient):
			services.SendErrorResponse(w, insufficient.Error(), http.StatusPaymentRequired, nil)
		default:
			log.Printf("[TOKEN] IssueToken failed for account %s: %v", accountID, err)
			services.SendErrorResponse(w, "Failed to issue token", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

// RevokeToken cancels an unconsumed token for a full refund
// @Summary Revoke an unconsumed token
// @Description Revokes a never-validated token and refunds its full cost; an activated token is not revocable
// @Tags tokens
// @Produce json
// @Security BearerAuth
// @Param tokenID path string true "Token ID"
// @Success 200 {object} object{tokenId=string,refund=string}
// @Failure 401 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /tokens/{tokenID} [delete]
func (h *TokenHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	tokenID := chi.URLParam(r, "tokenID")
	refund, err := h.service.Revoke(r.Context(), tokenID, accountID)
	if err != nil {
		if errors.Is(err, services.ErrNotRevocable) {
			services.SendErrorResponse(w, "Token is not revocable", http.StatusConflict, nil)
			return
		}
		log.Printf("[TOKEN] RevokeToken failed for token %s: %v", tokenID, err)
		services.SendErrorResponse(w, "Failed to revoke token", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"tokenId": tokenID,
		"refund":  refund.StringFixed(2),
	})
}

// ListTokens lists the authenticated account's tokens
// @Summary List tokens
// @Description Lists the caller's tokens with derived status; secrets are never returned
// @Tags tokens
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{tokens=[]object,count=int}
// @Failure 401 {object} services.ErrorResponse
// @Router /tokens [get]
func (h *TokenHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	tokens, err := h.service.ListTokens(r.Context(), accountID)
	if err != nil {
		log.Printf("[TOKEN] ListTokens failed for account %s: %v", accountID, err)
		services.SendErrorResponse(w, "Failed to list tokens", http.StatusInternalServerError, nil)
		return
	}

	now := time.Now()
	type tokenView struct {
		models.CapabilityToken
		Status string `json:"status"`
	}
	views := make([]tokenView, 0, len(tokens))
	for _, token := range tokens {
		views = append(views, tokenView{CapabilityToken: token, Status: token.Status(now)})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tokens": views,
		"count":  len(views),
	})
}
