package scheduler

import (
	"time"

	"github.com/maco144/pickle/internal/domain"
)

// ─── Assignment Policy ──────────────────────────────────────────────────────
// A deliberately noisy router: every validator is tested once, independently,
// for inclusion in the candidate set. Specialists get in more often, but
// nothing guarantees a best fit.

const (
	DefaultMatchProbability = 0.6 // inclusion chance for a specialization match
	DefaultMissProbability  = 0.3 // inclusion chance for a non-match
	DefaultMinDelay         = 100 * time.Millisecond
	DefaultMaxDelay         = 600 * time.Millisecond
)

// Rand is the random source the scheduler draws from.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64 // uniform in [0, 1)
	IntN(n int) int   // uniform in [0, n)
}

// PolicyConfig holds the routing probabilities and the delay range.
type PolicyConfig struct {
	MatchProbability float64
	MissProbability  float64
	MinDelay         time.Duration
	MaxDelay         time.Duration
}

// DefaultPolicyConfig returns the stock routing parameters.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MatchProbability: DefaultMatchProbability,
		MissProbability:  DefaultMissProbability,
		MinDelay:         DefaultMinDelay,
		MaxDelay:         DefaultMaxDelay,
	}
}

// Route says how a validator was chosen.
type Route string

const (
	RouteCandidate Route = "candidate" // picked from the sampled candidate set
	RouteFallback  Route = "fallback"  // candidate set was empty
)

// Policy selects validators, completion delays and completion outcomes.
type Policy struct {
	cfg  PolicyConfig
	rand Rand
}

// NewPolicy creates a policy drawing from r.
func NewPolicy(cfg PolicyConfig, r Rand) *Policy {
	return &Policy{cfg: cfg, rand: r}
}

// Select returns the roster index of the validator that takes item.
// Draw order: one Float64 per validator in roster order, then one IntN.
func (p *Policy) Select(item domain.WorkItem, roster []domain.Validator) (int, Route) {
	candidates := make([]int, 0, len(roster))
	for i, v := range roster {
		prob := p.cfg.MissProbability
		if v.Specialization == item.Category {
			prob = p.cfg.MatchProbability
		}
		if p.rand.Float64() < prob {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) > 0 {
		return candidates[p.rand.IntN(len(candidates))], RouteCandidate
	}
	return p.rand.IntN(len(roster)), RouteFallback
}

// Delay draws uniform(MinDelay, MaxDelay) and scales it down by speed.
func (p *Policy) Delay(v domain.Validator) time.Duration {
	span := float64(p.cfg.MaxDelay - p.cfg.MinDelay)
	base := float64(p.cfg.MinDelay) + p.rand.Float64()*span
	return time.Duration(base / v.Speed)
}

// Accept runs the single Bernoulli accuracy trial for v.
func (p *Policy) Accept(v domain.Validator) bool {
	return p.rand.Float64() < v.Accuracy
}
