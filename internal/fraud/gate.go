package fraud

import (
	"time"

	"github.com/ruralpay/tourwallet/internal/models"
)

type Verdict string

const (
	Allow Verdict = "allow"
	Hold  Verdict = "hold"
)

type Decision struct {
	Verdict Verdict `json:"verdict"`
	Rule    string  `json:"rule,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

func (d Decision) Allowed() bool { return d.Verdict == Allow }

// AccountContext is everything the rules may look at besides the transaction.
// Callers fill RecentCount from a VelocityCounter.
type AccountContext struct {
	SpentToday  int64
	DailyLimit  int64
	RecentCount int
}

// Rule returns a reason code when it wants the transaction held
type Rule struct {
	Name  string
	Check func(tx *models.Transaction, ac AccountContext) (reason string, hold bool)
}

type Config struct {
	SingleTransactionCeiling int64
	VelocityMax              int
	VelocityWindow           time.Duration
}

// Gate evaluates rules in order. The first rule that asks for a hold wins,
// otherwise the transaction is allowed. A Gate is never mutated after
// construction.
type Gate struct {
	rules  []Rule
	config Config
}

func NewGate(config Config) *Gate {
	return &Gate{
		config: config,
		rules: []Rule{
			CeilingRule(config.SingleTransactionCeiling),
			DailyLimitRule(),
			VelocityRule(config.VelocityMax),
		},
	}
}

// WithRule returns a copy of the gate with rule appended
func (g *Gate) WithRule(rule Rule) *Gate {
	rules := make([]Rule, len(g.rules), len(g.rules)+1)
	copy(rules, g.rules)
	return &Gate{config: g.config, rules: append(rules, rule)}
}

func (g *Gate) Config() Config { return g.config }

func (g *Gate) Evaluate(tx *models.Transaction, ac AccountContext) Decision {
	for _, rule := range g.rules {
		if reason, hold := rule.Check(tx, ac); hold {
			return Decision{Verdict: Hold, Rule: rule.Name, Reason: reason}
		}
	}
	return Decision{Verdict: Allow}
}

// CeilingRule holds any single transaction above ceiling. Zero disables it.
func CeilingRule(ceiling int64) Rule {
	return Rule{
		Name: "single_transaction_ceiling",
		Check: func(tx *models.Transaction, _ AccountContext) (string, bool) {
			if ceiling > 0 && tx.Amount > ceiling {
				return models.ReasonAmountOverCeiling, true
			}
			return "", false
		},
	}
}

func DailyLimitRule() Rule {
	return Rule{
		Name: "daily_limit",
		Check: func(tx *models.Transaction, ac AccountContext) (string, bool) {
			if ac.DailyLimit > 0 && ac.SpentToday+tx.Amount > ac.DailyLimit {
				return models.ReasonDailyLimitExceeded, true
			}
			return "", false
		},
	}
}

// VelocityRule holds once max transactions were already seen in the window
func VelocityRule(max int) Rule {
	return Rule{
		Name: "velocity",
		Check: func(_ *models.Transaction, ac AccountContext) (string, bool) {
			if max > 0 && ac.RecentCount >= max {
				return models.ReasonVelocityExceeded, true
			}
			return "", false
		},
	}
}
