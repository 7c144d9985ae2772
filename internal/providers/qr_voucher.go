package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"time"

	"github.com/ruralpay/tourwallet/internal/config"
	"github.com/skip2/go-qrcode"
)

const defaultVoucherTTL = 30 * time.Minute

// QRVoucherAdapter is a store-and-forward rail: it renders a voucher the
// tourist pays at a partner counter, and the counter confirms through the
// provider callback. No outbound call is made.
type QRVoucherAdapter struct {
	webhookSecret string
	ttl           time.Duration
	now           func() time.Time
}

type voucherPayload struct {
	TransactionID string `json:"tx"`
	AccountID     string `json:"acct"`
	Amount        int64  `json:"amt"`
	Currency      string `json:"ccy"`
	Signature     string `json:"sig"`
	ExpiresAt     int64  `json:"exp"`
}

func NewQRVoucherAdapter(cfg config.ProviderConfig) *QRVoucherAdapter {
	ttl := cfg.VoucherTTL
	if ttl <= 0 {
		ttl = defaultVoucherTTL
	}
	return &QRVoucherAdapter{webhookSecret: cfg.WebhookSecret, ttl: ttl, now: time.Now}
}

func (a *QRVoucherAdapter) Key() ProviderKey { return QRVoucher }

func (a *QRVoucherAdapter) WebhookSecret() string { return a.webhookSecret }

func (a *QRVoucherAdapter) InitiateTopUp(ctx context.Context, req SignedTopUp) Result {
	tx := req.Transaction
	payload, err := json.Marshal(voucherPayload{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Signature:     tx.Signature,
		ExpiresAt:     a.now().Add(a.ttl).Unix(),
	})
	if err != nil {
		return Result{Provider: QRVoucher, Outcome: OutcomeFatal, Err: err}
	}
	code := base64.URLEncoding.EncodeToString(payload)

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return Result{Provider: QRVoucher, Outcome: OutcomeFatal, Err: err}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return Result{Provider: QRVoucher, Outcome: OutcomeFatal, Err: err}
	}

	return Result{
		Provider:     QRVoucher,
		Outcome:      OutcomePending,
		ProviderRef:  code,
		Instructions: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
}
