package domain

import (
	"strconv"
	"time"
)

// ─── Payout Ledger ──────────────────────────────────────────────────────────
// Every completion is booked as a payout with matched DEBIT/CREDIT entries:
// the curve account pays, the validator account receives.
// SUM(debits) == SUM(credits) per session and epoch.

// EntryType is the side of a double-entry ledger line.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// CurveAccount is the ledger account every reward is paid from.
const CurveAccount = "curve"

// ValidatorAccount names the ledger account of a validator.
func ValidatorAccount(id int) string {
	return "validator:" + strconv.Itoa(id)
}

// Payout is a persisted completion.
type Payout struct {
	ID string `json:"id"`
	Completion
}

// LedgerEntry is one side of a payout.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	PayoutID  string    `json:"payout_id"`
	Timestamp time.Time `json:"timestamp"`
	Session   string    `json:"session"`
	Epoch     uint64    `json:"epoch"`
	EntryType EntryType `json:"entry_type"`
	Account   string    `json:"account"`
	Amount    float64   `json:"amount"`
}

// LedgerTotals aggregates the ledger for one session epoch. PrizePool and
// ByValidator reproduce the engine's aggregates at the time of the last
// persisted payout.
type LedgerTotals struct {
	Session     string          `json:"session"`
	Epoch       uint64          `json:"epoch"`
	Payouts     int64           `json:"payouts"`
	PrizePool   float64         `json:"prize_pool"`
	Debits      float64         `json:"debits"`
	Credits     float64         `json:"credits"`
	ByValidator map[int]float64 `json:"by_validator"`
}
