package providers

import (
	"context"
	"net/http"

	"github.com/ruralpay/tourwallet/internal/config"
)

// MobileMoneyAdapter requests a collection from the tourist's mobile wallet.
// The rail accepts the request and confirms later through a callback.
type MobileMoneyAdapter struct {
	railClient
}

type collectionRequest struct {
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	ExternalID string `json:"external_id"`
	PayerNote  string `json:"payer_note"`
}

type collectionResponse struct {
	ReferenceID string `json:"reference_id"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

func NewMobileMoneyAdapter(cfg config.ProviderConfig, client *http.Client) *MobileMoneyAdapter {
	return &MobileMoneyAdapter{railClient: newRailClient(MobileMoney, cfg, client)}
}

func (a *MobileMoneyAdapter) InitiateTopUp(ctx context.Context, req SignedTopUp) Result {
	tx := req.Transaction
	var resp collectionResponse
	status, result := a.postJSON(ctx, "/collections", req.IdempotencyKey(), collectionRequest{
		Amount:     tx.Amount,
		Currency:   tx.Currency,
		ExternalID: tx.ID,
		PayerNote:  "Wallet top-up " + tx.AccountID,
	}, &resp)
	if result.Outcome != OutcomeOK {
		return result
	}

	result.ProviderRef = resp.ReferenceID
	if status == http.StatusAccepted || resp.Status == "pending" {
		result.Outcome = OutcomePending
		result.Instructions = resp.Message
	}
	return result
}
