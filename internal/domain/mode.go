package domain

import "fmt"

// Mode is the engine's operating mode.
type Mode int

const (
	ModeNormal   Mode = iota // light organic arrival
	ModeFlooding             // bulk arrival, no assignment
	ModeDraining             // bounded burn-down of the backlog
)

// String returns a human-readable mode label.
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeFlooding:
		return "flooding"
	case ModeDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// MarshalText encodes the mode as its label.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode label.
func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "normal":
		*m = ModeNormal
	case "flooding":
		*m = ModeFlooding
	case "draining":
		*m = ModeDraining
	default:
		return fmt.Errorf("unknown mode %q", b)
	}
	return nil
}
