package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/ruralpay/tourwallet/internal/config"
)

// CardAdapter charges a card through an acquirer's JSON API. The acquirer
// approves or declines synchronously.
type CardAdapter struct {
	railClient
}

type chargeRequest struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
	AccountID string `json:"account_id"`
	Signature string `json:"signature"`
}

type chargeResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	DeclineReason string `json:"decline_reason"`
}

func NewCardAdapter(cfg config.ProviderConfig, client *http.Client) *CardAdapter {
	return &CardAdapter{railClient: newRailClient(Card, cfg, client)}
}

func (a *CardAdapter) InitiateTopUp(ctx context.Context, req SignedTopUp) Result {
	tx := req.Transaction
	var resp chargeResponse
	_, result := a.postJSON(ctx, "/v1/charges", req.IdempotencyKey(), chargeRequest{
		Amount:    tx.Amount,
		Currency:  tx.Currency,
		Reference: tx.ID,
		AccountID: tx.AccountID,
		Signature: tx.Signature,
	}, &resp)
	if result.Outcome != OutcomeOK {
		return result
	}

	result.ProviderRef = resp.ID
	switch resp.Status {
	case "approved", "succeeded":
	case "pending":
		result.Outcome = OutcomePending
	default:
		result.Outcome = OutcomeFatal
		reason := resp.DeclineReason
		if reason == "" {
			reason = "card declined"
		}
		result.Err = errors.New(reason)
	}
	return result
}
