package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/ruralpay/tourwallet/internal/ledger"
	"github.com/ruralpay/tourwallet/internal/models"
	"github.com/ruralpay/tourwallet/internal/providers"
	"github.com/ruralpay/tourwallet/internal/services"
	"go.uber.org/zap"
)

func sendError(w http.ResponseWriter, statusCode int, message, reason string) {
	services.SendJSON(w, statusCode, services.ErrorResponse{Error: message, Reason: reason})
}

// writeError maps service and component errors onto HTTP responses
func writeError(w http.ResponseWriter, err error) {
	var (
		verrs       validator.ValidationErrors
		unknown     *providers.UnknownProviderError
		unavailable *providers.ProviderUnavailableError
		rejected    *providers.ProviderRejectedError
		conflict    *services.ReferenceConflictError
		taken       *ledger.TransactionConflictError
	)

	switch {
	case errors.As(err, &verrs):
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)

	case errors.As(err, &unknown):
		sendError(w, http.StatusBadRequest, unknown.Error(), "unknown_provider")

	case errors.As(err, &conflict):
		sendError(w, http.StatusConflict, conflict.Error(), "reference_conflict")

	case errors.As(err, &taken):
		sendError(w, http.StatusConflict, taken.Error(), models.ReasonTransactionIDTaken)

	case errors.As(err, &unavailable):
		retryAfter := int(math.Ceil(unavailable.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		sendError(w, http.StatusBadGateway, "Payment provider unavailable, retry with the same reference", "provider_unavailable")

	case errors.As(err, &rejected):
		sendError(w, http.StatusUnprocessableEntity, rejected.Error(), models.ReasonProviderDeclined)

	case errors.Is(err, ledger.ErrAccountNotFound):
		sendError(w, http.StatusNotFound, "Account not found", "")

	case errors.Is(err, ledger.ErrTransactionNotFound):
		sendError(w, http.StatusNotFound, "Transaction not found", "")

	case errors.Is(err, ledger.ErrAccountInactive):
		sendError(w, http.StatusForbidden, "Account is inactive", models.ReasonAccountInactive)

	case errors.Is(err, ledger.ErrCurrencyMismatch):
		sendError(w, http.StatusBadRequest, err.Error(), models.ReasonCurrencyMismatch)

	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, services.ErrInvalidDecision):
		sendError(w, http.StatusBadRequest, err.Error(), "")

	case errors.Is(err, ledger.ErrNotHeld):
		sendError(w, http.StatusConflict, err.Error(), "")

	case errors.Is(err, ledger.ErrSignatureInvalid):
		sendError(w, http.StatusUnprocessableEntity, err.Error(), models.ReasonSignatureMismatch)

	case errors.Is(err, services.ErrInvalidCallbackSignature):
		sendError(w, http.StatusUnauthorized, "Invalid signature", "")

	case errors.Is(err, services.ErrCallbackNotSupported):
		sendError(w, http.StatusNotFound, err.Error(), "")

	case errors.Is(err, context.DeadlineExceeded):
		sendError(w, http.StatusGatewayTimeout, "Request timed out", "")

	default:
		zap.L().Error("request failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "Internal server error", "")
	}
}
