package domain

import "fmt"

// Validator is a simulated worker. Profile fields (ID through Accuracy) are
// fixed for the process lifetime; Validated and Earned are cumulative and
// zeroed on reset.
type Validator struct {
	ID             int      `json:"id"`
	Name           string   `json:"name"`
	Specialization Category `json:"specialization"`
	Speed          float64  `json:"speed"`
	Accuracy       float64  `json:"accuracy"`
	Validated      uint64   `json:"validated"`
	Earned         float64  `json:"earned"`
}

// Validate checks the static profile of a validator.
func (v Validator) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("validator %d: name cannot be empty", v.ID)
	}
	if !v.Specialization.Valid() {
		return fmt.Errorf("validator %d: %w: %q", v.ID, ErrUnknownCategory, v.Specialization)
	}
	if v.Speed <= 0 {
		return fmt.Errorf("validator %d: speed must be positive, got %v", v.ID, v.Speed)
	}
	if v.Accuracy < 0 || v.Accuracy > 1 {
		return fmt.Errorf("validator %d: accuracy must be within [0, 1], got %v", v.ID, v.Accuracy)
	}
	return nil
}

// ValidateRoster checks every profile and rejects duplicate IDs.
func ValidateRoster(roster []Validator) error {
	if len(roster) == 0 {
		return ErrEmptyRoster
	}
	seen := make(map[int]bool, len(roster))
	for _, v := range roster {
		if err := v.Validate(); err != nil {
			return err
		}
		if seen[v.ID] {
			return fmt.Errorf("duplicate validator id %d", v.ID)
		}
		seen[v.ID] = true
	}
	return nil
}

// DefaultRoster returns the stock four-validator roster.
func DefaultRoster() []Validator {
	return []Validator{
		{ID: 1, Name: "Validator Prime", Specialization: CategoryCrypto, Speed: 1.2, Accuracy: 0.94},
		{ID: 2, Name: "DataFlow", Specialization: CategorySupply, Speed: 0.9, Accuracy: 0.87},
		{ID: 3, Name: "PyroMind", Specialization: CategoryML, Speed: 0.8, Accuracy: 0.78},
		{ID: 4, Name: "NeuralSwarm", Specialization: CategoryCrypto, Speed: 0.95, Accuracy: 0.91},
	}
}
