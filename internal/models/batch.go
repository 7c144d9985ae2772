package models

// ResolutionTag is the verdict the conflict resolver attaches to a queued transaction
type ResolutionTag string

const (
	TagApply     ResolutionTag = "apply"
	TagViolation ResolutionTag = "violation"
	// TagReject marks a transaction that can never be applied: a forged
	// signature or a second, different copy of an id already in the batch
	TagReject ResolutionTag = "reject"
)

type ResolvedItem struct {
	Transaction *Transaction  `json:"transaction"`
	Tag         ResolutionTag `json:"tag"`
	Reason      string        `json:"reason,omitempty"`
}

// ConflictBatch is the set of offline-originated transactions for one account
// awaiting resolution. Once Resolved, Items holds the rejected transactions
// followed by the rest in application order.
type ConflictBatch struct {
	AccountID    string         `json:"account_id"`
	Transactions []*Transaction `json:"transactions"`
	Items        []ResolvedItem `json:"items,omitempty"`
	Violations   []*Transaction `json:"violations,omitempty"`
	Rejected     []*Transaction `json:"rejected,omitempty"`
	Resolved     bool           `json:"resolved"`
}
