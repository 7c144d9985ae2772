package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EntryCredit = "CREDIT"
	EntryDebit  = "DEBIT"
)

type LedgerEntry struct {
	ID            int       `json:"id" db:"id"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	AccountID     string    `json:"account_id" db:"account_id"`
	Amount        int64     `json:"amount" db:"amount"`         // signed, minor units
	EntryType     string    `json:"entry_type" db:"entry_type"` // DEBIT or CREDIT
	BalanceAfter  int64     `json:"balance_after" db:"balance_after"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Account is one wristband-linked wallet. Balance and limits are in minor units.
type Account struct {
	ID            string    `json:"account_id" db:"id"`
	Balance       int64     `json:"balance" db:"balance"`
	Currency      string    `json:"currency" db:"currency"`
	DailyLimit    int64     `json:"daily_limit" db:"daily_limit"`
	OfflineLimit  int64     `json:"offline_limit" db:"offline_limit"`
	SpentToday    int64     `json:"spent_today" db:"spent_today"`
	SpentDay      string    `json:"spent_day" db:"spent_day"` // YYYY-MM-DD in the configured day boundary zone
	LedgerVersion int64     `json:"ledger_version" db:"version"`
	Active        bool      `json:"active" db:"active"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// currencyExponents lists ISO 4217 currencies whose minor unit is not 1/100
var currencyExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"ISK": 0,
	"VND": 0,
	"XOF": 0,
	"BHD": 3,
	"KWD": 3,
	"JOD": 3,
	"OMR": 3,
	"TND": 3,
}

// CurrencyExponent returns the number of minor-unit digits for an ISO 4217 code
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[currency]; ok {
		return exp
	}
	return 2
}

// MajorUnits converts an amount in minor units to a decimal in major units
func MajorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -CurrencyExponent(currency))
}

// FormatMinor renders minor units as a fixed-point major-unit string, e.g. 1050 USD -> "10.50"
func FormatMinor(amount int64, currency string) string {
	return MajorUnits(amount, currency).StringFixed(CurrencyExponent(currency))
}
