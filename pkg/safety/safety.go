// Package safety holds the declarative routing invariants checked between
// stages: small predicates over state that can soft-correct the next agent
// before a hard violation occurs.
package safety

import (
	"log/slog"

	"github.com/harborlabs/bunkerplan/pkg/state"
)

// Severity ranks a validator finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// CheckResult is one validator's verdict.
type CheckResult struct {
	Valid bool `json:"valid"`

	// RequiredAgent names the agent that must run first when the check
	// fails. Empty means no soft recovery is possible.
	RequiredAgent string   `json:"required_agent,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	Severity      Severity `json:"severity,omitempty"`
}

// Validator is one declarative routing invariant.
type Validator struct {
	Name string

	// AppliesWhen reports whether the check guards routing to nextAgent.
	AppliesWhen func(nextAgent string) bool

	// Check evaluates the invariant against the state.
	Check func(s state.State) CheckResult
}

// Set is an ordered collection of validators.
type Set struct {
	validators []Validator
}

func NewSet(validators ...Validator) *Set {
	return &Set{validators: validators}
}

// Add appends a validator.
func (s *Set) Add(v Validator) {
	s.validators = append(s.validators, v)
}

// ValidateAll returns the first critical failure for the routing decision,
// or a valid result.
func (s *Set) ValidateAll(st state.State, nextAgent string) CheckResult {
	for _, v := range s.validators {
		if v.AppliesWhen != nil && !v.AppliesWhen(nextAgent) {
			continue
		}
		res := v.Check(st)
		if !res.Valid && res.Severity == SeverityCritical {
			slog.Warn("Safety validator failed",
				"validator", v.Name, "next_agent", nextAgent,
				"required_agent", res.RequiredAgent, "reason", res.Reason)
			return res
		}
	}
	return CheckResult{Valid: true}
}

// GetSafeNextAgent returns nextAgent unchanged when all checks pass, else
// the overriding required agent from the first failing validator. The
// second return is false when a failing check has no recovery agent.
func (s *Set) GetSafeNextAgent(st state.State, nextAgent string) (string, bool) {
	res := s.ValidateAll(st, nextAgent)
	if res.Valid {
		return nextAgent, true
	}
	if res.RequiredAgent != "" {
		return res.RequiredAgent, true
	}
	return nextAgent, false
}

// existsAll reports whether every field is present in the state.
func existsAll(st state.State, fields ...string) bool {
	for _, f := range fields {
		if !st.Has(f) {
			return false
		}
	}
	return true
}

// existsAny reports whether at least one field is present in the state.
func existsAny(st state.State, fields ...string) bool {
	for _, f := range fields {
		if st.Has(f) {
			return true
		}
	}
	return false
}

// DefaultSet returns the bunker-planning routing invariants: optimization
// needs a route, vessel selection needs a bunker analysis, and synthesis
// needs at least one upstream result.
func DefaultSet() *Set {
	return NewSet(
		Validator{
			Name:        "route_before_bunker",
			AppliesWhen: func(next string) bool { return next == "bunker_agent" },
			Check: func(st state.State) CheckResult {
				if existsAll(st, "route_data") {
					return CheckResult{Valid: true}
				}
				return CheckResult{
					RequiredAgent: "route_agent",
					Reason:        "bunker optimization requires route_data",
					Severity:      SeverityCritical,
				}
			},
		},
		Validator{
			Name:        "analysis_before_vessel_selection",
			AppliesWhen: func(next string) bool { return next == "vessel_selection_agent" },
			Check: func(st state.State) CheckResult {
				if existsAny(st, "bunker_analysis", "bunker_ports") {
					return CheckResult{Valid: true}
				}
				return CheckResult{
					RequiredAgent: "bunker_agent",
					Reason:        "vessel selection requires bunker_analysis or bunker_ports",
					Severity:      SeverityCritical,
				}
			},
		},
		Validator{
			Name:        "data_before_finalize",
			AppliesWhen: func(next string) bool { return next == "finalizer_agent" },
			Check: func(st state.State) CheckResult {
				if existsAny(st, "route_data", "bunker_analysis", "weather_data", "vessel_list", "fuel_prices") {
					return CheckResult{Valid: true}
				}
				return CheckResult{
					Reason:   "nothing to synthesize: no upstream agent produced data",
					Severity: SeverityWarning,
				}
			},
		},
	)
}
