package ledger_http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ledger/internal/app/ledger"
	"ledger/internal/domain"
	"ledger/internal/link"
)

type LedgerHandler struct {
	service ledger.Service
	links   link.Service
	logger  *zap.Logger
}

func NewLedgerHandler(s ledger.Service, links link.Service, l *zap.Logger) *LedgerHandler {
	return &LedgerHandler{service: s, links: links, logger: l}
}

type VerifyCodeRequest struct {
	Code         string `json:"code"`
	ExternalID   string `json:"external_id"`
	ExternalName string `json:"external_name"`
}

type VerifyCodeResponse struct {
	OwnerID       string `json:"owner_id"`
	AccountNumber string `json:"account_number"`
	DisplayName   string `json:"display_name"`
}

type AccountResponse struct {
	AccountNumber string `json:"account_number"`
	DisplayName   string `json:"display_name"`
	Balance       int64  `json:"balance"`
	IsPublic      bool   `json:"is_public"`
	Frozen        bool   `json:"frozen"`
}

// VerifyCodeHandler finalizes an identity link started with a link-request
// command: the external platform posts the code its user typed in.
func (h *LedgerHandler) VerifyCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req VerifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Code == "" || req.ExternalID == "" {
		http.Error(w, "Code and external ID are required", http.StatusBadRequest)
		return
	}

	ownerID, err := h.links.CompleteLink(r.Context(), req.Code, req.ExternalID, req.ExternalName)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			http.Error(w, "Code is invalid or expired", http.StatusBadRequest)
			return
		}
		if errors.Is(err, domain.ErrAccountAlreadyExists) {
			http.Error(w, "External identity is already linked", http.StatusConflict)
			return
		}
		h.logger.Error("failed to complete link", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := VerifyCodeResponse{OwnerID: ownerID}
	if account, err := h.service.LookupByOwner(r.Context(), ownerID); err == nil {
		resp.AccountNumber = account.AccountNumber
		resp.DisplayName = account.DisplayName
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

func (h *LedgerHandler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if number == "" {
		http.Error(w, "Account number is required", http.StatusBadRequest)
		return
	}

	account, err := h.service.LookupByNumber(r.Context(), number)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			http.Error(w, "Account not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to look up account", zap.String("account_number", number), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	frozen, err := h.service.IsFrozen(r.Context(), number)
	if err != nil {
		h.logger.Error("failed to read freeze state", zap.String("account_number", number), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := AccountResponse{
		AccountNumber: account.AccountNumber,
		DisplayName:   account.DisplayName,
		Balance:       account.Balance,
		IsPublic:      account.IsPublic,
		Frozen:        frozen,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}
