package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ruralpay/tourwallet/internal/events"
	"github.com/ruralpay/tourwallet/internal/fraud"
	"github.com/ruralpay/tourwallet/internal/hsm"
	"github.com/ruralpay/tourwallet/internal/ledger"
	"github.com/ruralpay/tourwallet/internal/models"
	"github.com/ruralpay/tourwallet/internal/providers"
	"github.com/ruralpay/tourwallet/internal/queue"
	"github.com/ruralpay/tourwallet/internal/settlement"
	"go.uber.org/zap"
)

var (
	ErrCallbackNotSupported     = errors.New("provider does not confirm through callbacks")
	ErrInvalidCallbackSignature = errors.New("invalid callback signature")
	ErrInvalidDecision          = errors.New("decision must be settle or reject")
)

// ReferenceConflictError means a top-up reference was reused with different
// parameters
type ReferenceConflictError struct {
	Reference string
}

func (e *ReferenceConflictError) Error() string {
	return fmt.Sprintf("reference %s was already used for a different top-up", e.Reference)
}

type TopUpRequest struct {
	AccountID string `json:"-" validate:"required"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Currency  string `json:"currency" validate:"omitempty,len=3,uppercase"`
	Provider  string `json:"provider" validate:"required"`
	Reference string `json:"reference,omitempty" validate:"omitempty,max=64"`
}

type TopUpResult struct {
	AccountID     string                   `json:"account_id"`
	TransactionID string                   `json:"transaction_id"`
	NewBalance    int64                    `json:"new_balance"`
	Provider      string                   `json:"provider"`
	Status        models.TransactionStatus `json:"status"`
	Instructions  string                   `json:"instructions,omitempty"`
	ProcessedAt   time.Time                `json:"processed_at"`
}

// Pending reports whether the rail still has to confirm the top-up
func (r *TopUpResult) Pending() bool {
	return r.Status == models.StatusSubmitted
}

type SpendRequest struct {
	AccountID     string `json:"-" validate:"required"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	MerchantID    string `json:"merchant_id,omitempty"`
	MerchantName  string `json:"merchant_name,omitempty"`
	Category      string `json:"category,omitempty"`
	DeviceID      string `json:"device_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty" validate:"omitempty,max=64"`
}

type SpendResult struct {
	AccountID     string                   `json:"account_id"`
	TransactionID string                   `json:"transaction_id"`
	Authorized    bool                     `json:"authorized"`
	Status        models.TransactionStatus `json:"status"`
	Reason        string                   `json:"reason,omitempty"`
	NewBalance    *int64                   `json:"new_balance,omitempty"`
	ProcessedAt   time.Time                `json:"processed_at"`
}

type OfflineSpend struct {
	TransactionID  string    `json:"transaction_id" validate:"required,max=64"`
	Amount         int64     `json:"amount" validate:"required,gt=0"`
	MerchantID     string    `json:"merchant_id"`
	DeviceID       string    `json:"device_id"`
	ClientSequence uint64    `json:"client_sequence" validate:"required"`
	OccurredAt     time.Time `json:"occurred_at" validate:"required"`
}

type OfflineBatchRequest struct {
	AccountID    string         `json:"-" validate:"required"`
	Transactions []OfflineSpend `json:"transactions" validate:"required,min=1,max=500,dive"`
}

type OfflineBatchResult struct {
	AccountID       string              `json:"account_id"`
	Results         []settlement.Result `json:"results"`
	OfflineExposure int64               `json:"offline_exposure"`
}

// CallbackPayload is what a rail posts when it confirms a pending top-up
type CallbackPayload struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	Status        string `json:"status" validate:"required,oneof=confirmed failed"`
	ProviderRef   string `json:"provider_ref"`
}

type Dependencies struct {
	Ledger     *ledger.Ledger
	Registry   *providers.Registry
	Signer     hsm.TransactionSigner
	Gate       *fraud.Gate
	Velocity   fraud.VelocityCounter
	Queue      queue.Queue
	Reconciler *settlement.Reconciler
	Publisher  events.Publisher
	Review     events.ReviewSink
	Audit      *hsm.AuditLogger
}

// WalletService composes the wallet components behind the HTTP surface
type WalletService struct {
	ledger     *ledger.Ledger
	registry   *providers.Registry
	signer     hsm.TransactionSigner
	gate       *fraud.Gate
	velocity   fraud.VelocityCounter
	queue      queue.Queue
	reconciler *settlement.Reconciler
	publisher  events.Publisher
	review     events.ReviewSink
	audit      *hsm.AuditLogger
	validator  *ValidationHelper
	logger     *zap.Logger
	now        func() time.Time
}

func NewWalletService(d Dependencies) *WalletService {
	s := &WalletService{
		ledger:     d.Ledger,
		registry:   d.Registry,
		signer:     d.Signer,
		gate:       d.Gate,
		velocity:   d.Velocity,
		queue:      d.Queue,
		reconciler: d.Reconciler,
		publisher:  d.Publisher,
		review:     d.Review,
		audit:      d.Audit,
		validator:  NewValidationHelper(),
		logger:     zap.L().Named("wallet"),
		now:        time.Now,
	}
	if s.publisher == nil {
		s.publisher = events.NewLogPublisher(s.logger)
	}
	if s.review == nil {
		s.review = events.NewReviewSink(s.publisher)
	}
	if s.velocity == nil {
		s.velocity = fraud.NewMemoryVelocity(s.gate.Config().VelocityWindow)
	}
	if s.audit == nil {
		s.audit = hsm.NewAuditLogger(s.logger)
	}
	return s
}

func (s *WalletService) Balance(ctx context.Context, accountID string) (*models.Account, error) {
	return s.ledger.Account(ctx, accountID)
}

// Transaction returns the recorded transaction if it belongs to accountID
func (s *WalletService) Transaction(ctx context.Context, accountID, transactionID string) (*models.Transaction, error) {
	tx, err := s.ledger.Transaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.AccountID != accountID {
		return nil, ledger.ErrTransactionNotFound
	}
	return tx, nil
}

// TopUp loads value through an external rail. The reference, or a generated
// id, is the transaction id. Retrying with the same reference returns the
// original result. A top-up whose rail timed out stays submitted and is
// re-attempted on retry.
func (s *WalletService) TopUp(ctx context.Context, req TopUpRequest) (*TopUpResult, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}
	adapter, err := s.registry.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}
	key := adapter.Key()

	txID := req.Reference
	if txID == "" {
		txID = s.signer.GenerateTransactionID()
	}

	var (
		tx    *models.Transaction
		prior *models.Transaction
	)
	err = s.ledger.Session(ctx, req.AccountID, func(ls *ledger.Session) error {
		account, err := ls.Account(ctx)
		if err != nil {
			return err
		}
		if !account.Active {
			return ledger.ErrAccountInactive
		}
		currency := req.Currency
		if currency == "" {
			currency = account.Currency
		}
		if currency != account.Currency {
			return ledger.ErrCurrencyMismatch
		}

		existing, err := ls.Lookup(ctx, txID)
		switch {
		case err == nil:
			if existing.AccountID != req.AccountID || existing.Kind != models.KindTopUp ||
				existing.Amount != req.Amount || existing.Provider != string(key) || existing.Currency != currency {
				return &ReferenceConflictError{Reference: txID}
			}
			if existing.Status.Terminal() {
				prior = existing
				return nil
			}
			tx = existing
			return nil
		case !errors.Is(err, ledger.ErrTransactionNotFound):
			return err
		}

		now := s.now()
		tx = &models.Transaction{
			ID:         txID,
			AccountID:  req.AccountID,
			Kind:       models.KindTopUp,
			Amount:     req.Amount,
			Currency:   currency,
			Provider:   string(key),
			OccurredAt: now,
			ReceivedAt: now,
			Status:     models.StatusCreated,
		}
		if err := s.signer.Sign(tx); err != nil {
			return err
		}
		return ls.Submit(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return s.topUpOutcome(prior)
	}

	result := adapter.InitiateTopUp(ctx, providers.SignedTopUp{Transaction: tx})
	if result.ProviderRef != "" {
		tx.ProviderRef = result.ProviderRef
	}

	switch result.Outcome {
	case providers.OutcomeOK:
		return s.confirmTopUp(ctx, tx)

	case providers.OutcomePending:
		err = s.ledger.Session(ctx, req.AccountID, func(ls *ledger.Session) error {
			return ls.Submit(ctx, tx)
		})
		var dup *ledger.DuplicateTransactionError
		if errors.As(err, &dup) {
			return s.topUpOutcome(dup.Prior)
		}
		if err != nil {
			return nil, err
		}
		s.publish(ctx, tx)
		return &TopUpResult{
			AccountID:     tx.AccountID,
			TransactionID: tx.ID,
			NewBalance:    tx.BalanceAfter,
			Provider:      tx.Provider,
			Status:        tx.Status,
			Instructions:  result.Instructions,
			ProcessedAt:   s.now(),
		}, nil

	case providers.OutcomeRetryable:
		s.logger.Warn("top-up left submitted, provider unavailable",
			zap.String("transaction_id", tx.ID),
			zap.String("provider", string(key)),
			zap.Error(result.Err))
		return nil, result.AsError()

	default:
		err = s.ledger.Reject(ctx, req.AccountID, tx, models.ReasonProviderDeclined)
		var dup *ledger.DuplicateTransactionError
		if errors.As(err, &dup) {
			return s.topUpOutcome(dup.Prior)
		}
		if err != nil {
			return nil, err
		}
		s.publish(ctx, tx)
		return nil, result.AsError()
	}
}

func (s *WalletService) confirmTopUp(ctx context.Context, tx *models.Transaction) (*TopUpResult, error) {
	err := s.ledger.Session(ctx, tx.AccountID, func(ls *ledger.Session) error {
		_, err := ls.Credit(ctx, tx)
		return err
	})
	var dup *ledger.DuplicateTransactionError
	if errors.As(err, &dup) {
		return s.topUpOutcome(dup.Prior)
	}
	if err != nil {
		return nil, err
	}
	s.publish(ctx, tx)
	return s.topUpOutcome(tx)
}

// topUpOutcome answers with a recorded top-up's result
func (s *WalletService) topUpOutcome(tx *models.Transaction) (*TopUpResult, error) {
	if tx.Status == models.StatusRejected || tx.Status == models.StatusHeld {
		key, _ := providers.ParseProviderKey(tx.Provider)
		return nil, &providers.ProviderRejectedError{Provider: key, Err: errors.New(tx.Reason)}
	}
	processedAt := tx.ReceivedAt
	if tx.SettledAt != nil {
		processedAt = *tx.SettledAt
	}
	return &TopUpResult{
		AccountID:     tx.AccountID,
		TransactionID: tx.ID,
		NewBalance:    tx.BalanceAfter,
		Provider:      tx.Provider,
		Status:        tx.Status,
		ProcessedAt:   processedAt,
	}, nil
}

// Spend authorizes an online spend: fraud gate first, then the debit, both
// under the account lock. A transaction id already used by a different
// transaction fails with a ledger.TransactionConflictError.
func (s *WalletService) Spend(ctx context.Context, req SpendRequest) (*SpendResult, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}
	txID := req.TransactionID
	if txID == "" {
		txID = s.signer.GenerateTransactionID()
	}

	now := s.now()
	tx := &models.Transaction{
		ID:           txID,
		AccountID:    req.AccountID,
		Kind:         models.KindSpend,
		Amount:       req.Amount,
		MerchantID:   req.MerchantID,
		MerchantName: req.MerchantName,
		Category:     req.Category,
		DeviceID:     req.DeviceID,
		OccurredAt:   now,
		ReceivedAt:   now,
		Status:       models.StatusCreated,
	}

	var held bool
	err := s.ledger.Session(ctx, req.AccountID, func(ls *ledger.Session) error {
		account, err := ls.Account(ctx)
		if err != nil {
			return err
		}
		if !account.Active {
			return ledger.ErrAccountInactive
		}
		tx.Currency = account.Currency
		if err := s.signer.Sign(tx); err != nil {
			return err
		}

		recent, err := s.velocity.Count(ctx, req.AccountID, now)
		if err != nil {
			return fmt.Errorf("velocity count: %w", err)
		}
		decision := s.gate.Evaluate(tx, fraud.AccountContext{
			SpentToday:  account.SpentToday,
			DailyLimit:  account.DailyLimit,
			RecentCount: recent,
		})
		if !decision.Allowed() {
			held = true
			return ls.Hold(ctx, tx, decision.Reason)
		}

		_, err = ls.Debit(ctx, tx)
		var insufficient *ledger.InsufficientFundsError
		if errors.As(err, &insufficient) {
			return ls.Reject(ctx, tx, models.ReasonInsufficientFunds)
		}
		return err
	})

	var dup *ledger.DuplicateTransactionError
	if errors.As(err, &dup) {
		return spendOutcome(dup.Prior), nil
	}
	if err != nil {
		return nil, err
	}

	if tx.Status == models.StatusSettled {
		if err := s.velocity.Record(ctx, tx.AccountID, now); err != nil {
			s.logger.Warn("velocity record failed", zap.String("transaction_id", tx.ID), zap.Error(err))
		}
	}
	if held {
		if err := s.review.Submit(ctx, tx); err != nil {
			s.logger.Warn("submit for review", zap.String("transaction_id", tx.ID), zap.Error(err))
		}
	}
	s.publish(ctx, tx)
	return spendOutcome(tx), nil
}

func spendOutcome(tx *models.Transaction) *SpendResult {
	res := &SpendResult{
		AccountID:     tx.AccountID,
		TransactionID: tx.ID,
		Authorized:    tx.Status == models.StatusSettled,
		Status:        tx.Status,
		Reason:        tx.Reason,
		ProcessedAt:   tx.ReceivedAt,
	}
	if res.Authorized {
		balance := tx.BalanceAfter
		res.NewBalance = &balance
		if tx.SettledAt != nil {
			res.ProcessedAt = *tx.SettledAt
		}
	}
	return res
}

// IngestOffline signs and queues a terminal's offline batch, then runs a
// reconciliation pass for the account before answering.
func (s *WalletService) IngestOffline(ctx context.Context, req OfflineBatchRequest) (*OfflineBatchResult, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}
	account, err := s.ledger.Account(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	received := s.now()
	for _, item := range req.Transactions {
		tx := &models.Transaction{
			ID:             item.TransactionID,
			AccountID:      req.AccountID,
			Kind:           models.KindSpend,
			Amount:         item.Amount,
			Currency:       account.Currency,
			MerchantID:     item.MerchantID,
			DeviceID:       item.DeviceID,
			ClientSequence: item.ClientSequence,
			Offline:        true,
			OccurredAt:     item.OccurredAt,
			ReceivedAt:     received,
			Status:         models.StatusCreated,
		}
		if err := s.signer.Sign(tx); err != nil {
			return nil, err
		}
		tx.Status = models.StatusQueued
		if err := s.queue.Enqueue(ctx, tx); err != nil {
			return nil, fmt.Errorf("enqueue %s: %w", tx.ID, err)
		}
	}

	report, err := s.reconciler.Reconcile(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	return &OfflineBatchResult{
		AccountID:       report.AccountID,
		Results:         report.Results,
		OfflineExposure: report.OfflineExposure,
	}, nil
}

// Callback applies a rail's confirmation of a pending top-up. The body must
// carry the rail's HMAC signature. Repeated confirmations are answered with
// the recorded outcome.
func (s *WalletService) Callback(ctx context.Context, provider string, body []byte, signature string) (*models.Transaction, error) {
	adapter, err := s.registry.Resolve(provider)
	if err != nil {
		return nil, err
	}
	verifier, ok := adapter.(providers.WebhookVerifier)
	if !ok {
		return nil, ErrCallbackNotSupported
	}
	if !hsm.VerifyHMAC(verifier.WebhookSecret(), body, signature) {
		s.audit.LogSecurity("", "", "invalid callback signature from "+provider)
		return nil, ErrInvalidCallbackSignature
	}

	var payload CallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}
	if err := s.validator.ValidateStruct(&payload); err != nil {
		return nil, err
	}

	tx, err := s.ledger.Transaction(ctx, payload.TransactionID)
	if err != nil {
		return nil, err
	}
	if tx.Kind != models.KindTopUp || tx.Provider != string(adapter.Key()) {
		return nil, ledger.ErrTransactionNotFound
	}
	if payload.ProviderRef != "" {
		tx.ProviderRef = payload.ProviderRef
	}

	err = s.ledger.Session(ctx, tx.AccountID, func(ls *ledger.Session) error {
		if payload.Status == "confirmed" {
			_, err := ls.Credit(ctx, tx)
			return err
		}
		return ls.Reject(ctx, tx, models.ReasonProviderDeclined)
	})
	var dup *ledger.DuplicateTransactionError
	if errors.As(err, &dup) {
		return dup.Prior, nil
	}
	if err != nil {
		return nil, err
	}
	s.publish(ctx, tx)
	return tx, nil
}

// ResolveHold is the operator override for a held transaction. Settling a
// transaction whose signature no longer verifies fails with
// ledger.ErrSignatureInvalid.
func (s *WalletService) ResolveHold(ctx context.Context, accountID, transactionID, decision string) (*models.Transaction, error) {
	var settle bool
	switch decision {
	case "settle":
		settle = true
	case "reject":
	default:
		return nil, ErrInvalidDecision
	}

	tx, err := s.ledger.ResolveHold(ctx, accountID, transactionID, settle)
	if err != nil {
		return nil, err
	}
	event := events.FromTransaction(tx)
	event.Type = events.HoldResolved
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish hold resolution", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
	return tx, nil
}

func (s *WalletService) publish(ctx context.Context, tx *models.Transaction) {
	if err := s.publisher.Publish(ctx, events.FromTransaction(tx)); err != nil {
		s.logger.Warn("publish event", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
}
