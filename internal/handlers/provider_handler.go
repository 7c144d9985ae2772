package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/tourwallet/internal/services"
)

const signatureHeader = "X-Signature"

type ProviderHandler struct {
	service *services.WalletService
}

func NewProviderHandler(service *services.WalletService) *ProviderHandler {
	return &ProviderHandler{service: service}
}

// Callback receives a rail's confirmation of a pending top-up
// @Summary Provider confirmation callback
// @Description Body must be signed with the provider's webhook secret in X-Signature (hex HMAC-SHA256).
// @Tags providers
// @Accept json
// @Produce json
// @Param provider path string true "Provider key"
// @Param request body services.CallbackPayload true "Confirmation"
// @Success 200 {object} object{transaction_id=string,status=string}
// @Failure 401 {object} services.ErrorResponse
// @Router /providers/{provider}/callbacks [post]
func (h *ProviderHandler) Callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	tx, err := h.service.Callback(r.Context(), chi.URLParam(r, "provider"), body, r.Header.Get(signatureHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]any{
		"transaction_id": tx.ID,
		"status":         tx.Status,
		"balance_after":  tx.BalanceAfter,
	})
}
