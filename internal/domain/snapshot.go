package domain

import (
	"sort"
	"time"
)

// Snapshot is a deep copy of engine state taken after a mutation. Receivers
// own it; writes to its slices and maps never reach the engine.
type Snapshot struct {
	Session  string    `json:"session"`
	Sequence uint64    `json:"sequence"`
	Epoch    uint64    `json:"epoch"`
	TakenAt  time.Time `json:"taken_at"`
	Mode     Mode      `json:"mode"`
	Running  bool      `json:"running"`

	Validators      []Validator      `json:"validators"`
	Queue           []WorkItem       `json:"queue"`
	QueueByCategory map[Category]int `json:"queue_by_category"`
	InFlight        int              `json:"in_flight"`

	TotalValidated    uint64        `json:"total_validated"`
	TotalSubmitted    uint64        `json:"total_submitted"`
	PrizePool         float64       `json:"prize_pool"`
	PriceHistory      []PriceSample `json:"price_history"`
	ValidationCounter uint64        `json:"validation_counter"`
	CurrentPrice      float64       `json:"current_price"`
}

// QueueDepth returns the number of pending items.
func (s Snapshot) QueueDepth() int {
	return len(s.Queue)
}

// TotalEarned sums validator earnings. Equal to PrizePool up to float rounding.
func (s Snapshot) TotalEarned() float64 {
	var total float64
	for _, v := range s.Validators {
		total += v.Earned
	}
	return total
}

// Leaderboard returns the validators ordered by earnings, highest first.
// Ties keep roster order.
func (s Snapshot) Leaderboard() []Validator {
	out := make([]Validator, len(s.Validators))
	copy(out, s.Validators)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Earned > out[j].Earned
	})
	return out
}

// Validator looks up a validator by id.
func (s Snapshot) Validator(id int) (Validator, error) {
	for _, v := range s.Validators {
		if v.ID == id {
			return v, nil
		}
	}
	return Validator{}, ErrValidatorNotFound
}
