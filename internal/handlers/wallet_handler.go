package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/tourwallet/internal/models"
	"github.com/ruralpay/tourwallet/internal/services"
)

const maxBodyBytes = 1_048_576 // 1 MB

type WalletHandler struct {
	service *services.WalletService
}

func NewWalletHandler(service *services.WalletService) *WalletHandler {
	return &WalletHandler{service: service}
}

// BalanceResponse is the wallet balance view
type BalanceResponse struct {
	AccountID      string    `json:"account_id"`
	Balance        int64     `json:"balance"`
	BalanceDisplay string    `json:"balance_display"`
	Currency       string    `json:"currency"`
	SpentToday     int64     `json:"spent_today"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// decodeJSON reads a single JSON object from the body
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// Balance returns the wallet balance
// @Summary Get wallet balance
// @Tags wallets
// @Produce json
// @Security BearerAuth
// @Param account_id path string true "Account ID"
// @Success 200 {object} BalanceResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /wallets/{account_id}/balance [get]
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.Balance(r.Context(), chi.URLParam(r, "account_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, BalanceResponse{
		AccountID:      account.ID,
		Balance:        account.Balance,
		BalanceDisplay: models.FormatMinor(account.Balance, account.Currency),
		Currency:       account.Currency,
		SpentToday:     account.SpentToday,
		UpdatedAt:      account.UpdatedAt,
	})
}

// TopUp loads value through a payment provider
// @Summary Top up a wallet
// @Description Charges the named provider. Retrying with the same reference returns the original result.
// @Tags wallets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param account_id path string true "Account ID"
// @Param request body services.TopUpRequest true "Top-up request"
// @Success 200 {object} services.TopUpResult
// @Success 202 {object} services.TopUpResult "Pending provider confirmation"
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /wallets/{account_id}/top-up [post]
func (h *WalletHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req services.TopUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.AccountID = chi.URLParam(r, "account_id")

	res, err := h.service.TopUp(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if res.Pending() {
		status = http.StatusAccepted
	}
	services.SendJSON(w, status, res)
}

// Spend authorizes an online spend
// @Summary Spend from a wallet
// @Description A spend that cannot be authorized answers 200 with authorized=false and a reason.
// @Tags wallets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param account_id path string true "Account ID"
// @Param request body services.SpendRequest true "Spend request"
// @Success 200 {object} services.SpendResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse "Transaction id already used by a different transaction"
// @Router /wallets/{account_id}/spend [post]
func (h *WalletHandler) Spend(w http.ResponseWriter, r *http.Request) {
	var req services.SpendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.AccountID = chi.URLParam(r, "account_id")

	res, err := h.service.Spend(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, res)
}

// OfflineBatch ingests spends a terminal recorded while disconnected
// @Summary Submit an offline batch
// @Tags wallets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param account_id path string true "Account ID"
// @Param request body services.OfflineBatchRequest true "Offline spends"
// @Success 200 {object} services.OfflineBatchResult
// @Failure 400 {object} services.ErrorResponse
// @Router /wallets/{account_id}/offline-batch [post]
func (h *WalletHandler) OfflineBatch(w http.ResponseWriter, r *http.Request) {
	var req services.OfflineBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.AccountID = chi.URLParam(r, "account_id")

	res, err := h.service.IngestOffline(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, res)
}

// Transaction returns a recorded transaction's status
// @Summary Get transaction status
// @Tags wallets
// @Produce json
// @Security BearerAuth
// @Param account_id path string true "Account ID"
// @Param transaction_id path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} services.ErrorResponse
// @Router /wallets/{account_id}/transactions/{transaction_id} [get]
func (h *WalletHandler) Transaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.service.Transaction(r.Context(), chi.URLParam(r, "account_id"), chi.URLParam(r, "transaction_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	tx.Signature = ""
	services.SendJSON(w, http.StatusOK, tx)
}

type resolveRequest struct {
	Decision string `json:"decision" validate:"required,oneof=settle reject"`
}

// ResolveHold settles or rejects a held transaction
// @Summary Resolve a held transaction
// @Tags operators
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param account_id path string true "Account ID"
// @Param transaction_id path string true "Transaction ID"
// @Param request body resolveRequest true "Decision"
// @Success 200 {object} models.Transaction
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse "Signature no longer matches, settle refused"
// @Router /wallets/{account_id}/held/{transaction_id}/resolve [post]
func (h *WalletHandler) ResolveHold(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tx, err := h.service.ResolveHold(r.Context(), chi.URLParam(r, "account_id"), chi.URLParam(r, "transaction_id"), req.Decision)
	if err != nil {
		writeError(w, err)
		return
	}
	tx.Signature = ""
	services.SendJSON(w, http.StatusOK, tx)
}
