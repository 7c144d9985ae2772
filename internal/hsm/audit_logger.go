package hsm

import (
	"time"

	"go.uber.org/zap"
)

const (
	EventSettlement = "SETTLEMENT"
	EventHold       = "HOLD"
	EventRejection  = "REJECTION"
	EventSecurity   = "SECURITY"
	EventError      = "ERROR"
)

type AuditEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	AccountID     string    `json:"account_id"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	Details       any       `json:"details"`
}

// AuditLogger writes the money-movement and security audit trail
type AuditLogger struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.L()
	}
	return &AuditLogger{logger: logger.Named("audit"), now: time.Now}
}

func (a *AuditLogger) LogSettlement(transactionID, accountID string, amount, balanceAfter int64, kind string) {
	a.log(AuditEvent{
		EventType:     EventSettlement,
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        amount,
		Status:        "SETTLED",
		Details: map[string]any{
			"kind":          kind,
			"balance_after": balanceAfter,
		},
	})
}

func (a *AuditLogger) LogHold(transactionID, accountID string, amount int64, reason string) {
	a.log(AuditEvent{
		EventType:     EventHold,
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        amount,
		Status:        "HELD",
		Details:       map[string]string{"reason": reason},
	})
}

func (a *AuditLogger) LogRejection(transactionID, accountID string, amount int64, reason string) {
	a.log(AuditEvent{
		EventType:     EventRejection,
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        amount,
		Status:        "REJECTED",
		Details:       map[string]string{"reason": reason},
	})
}

// LogSecurity records tampering and authentication failures at warn level
func (a *AuditLogger) LogSecurity(transactionID, accountID, reason string) {
	a.log(AuditEvent{
		EventType:     EventSecurity,
		TransactionID: transactionID,
		AccountID:     accountID,
		Status:        "FAILED",
		Details:       map[string]string{"reason": reason},
	})
}

func (a *AuditLogger) LogError(transactionID, accountID string, err error) {
	a.log(AuditEvent{
		EventType:     EventError,
		TransactionID: transactionID,
		AccountID:     accountID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	})
}

func (a *AuditLogger) LogOperation(transactionID, accountID, operation, details string) {
	a.log(AuditEvent{
		EventType:     operation,
		TransactionID: transactionID,
		AccountID:     accountID,
		Status:        "SUCCESS",
		Details:       map[string]string{"details": details},
	})
}

func (a *AuditLogger) log(event AuditEvent) {
	event.Timestamp = a.now()
	fields := []zap.Field{
		zap.Time("timestamp", event.Timestamp),
		zap.String("event_type", event.EventType),
		zap.String("transaction_id", event.TransactionID),
		zap.String("account_id", event.AccountID),
		zap.Int64("amount", event.Amount),
		zap.String("status", event.Status),
		zap.Any("details", event.Details),
	}
	switch event.EventType {
	case EventSecurity, EventError:
		a.logger.Warn("AUDIT", fields...)
	default:
		a.logger.Info("AUDIT", fields...)
	}
}
