package domain

import (
	"strconv"
	"time"
)

// WorkStatus is the status of a queued work item. Items leave the queue on
// assignment, so pending is the only status an item is ever observed in.
type WorkStatus string

const WorkPending WorkStatus = "pending"

// WorkItem is a unit of pending work.
type WorkItem struct {
	ID       string     `json:"id"`
	Category Category   `json:"category"`
	Status   WorkStatus `json:"status"`
}

// WorkID formats the n-th work item identifier.
func WorkID(n uint64) string {
	return "w" + strconv.FormatUint(n, 10)
}

// PriceSample is a point on the bonding curve history.
type PriceSample struct {
	Units uint64  `json:"units"`
	Price float64 `json:"price"`
}

// Completion describes one successfully validated work item and the payout
// it produced. Emitted to recorders such as the payout ledger.
type Completion struct {
	Session     string    `json:"session"`
	Epoch       uint64    `json:"epoch"`
	Unit        uint64    `json:"unit"` // cumulative units after this completion
	ValidatorID int       `json:"validator_id"`
	WorkID      string    `json:"work_id"`
	Category    Category  `json:"category"`
	Price       float64   `json:"price"`
	Reward      float64   `json:"reward"`
	At          time.Time `json:"at"`
}
