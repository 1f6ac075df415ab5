// Package training orchestrates the alternating optimization: flow
// steps fit the density model under sampled orderings, permutation
// steps fit the ordering parameters under the frozen flow.
package training

import "github.com/sw965/oslow"

// Phase names which parameter group is being fitted. Maximization fits
// the flow with gamma frozen; expectation fits gamma with the flow
// frozen.
type Phase string

const (
	PhaseMaximization Phase = "maximization"
	PhaseExpectation  Phase = "expectation"
)

var phaseNames = []string{string(PhaseMaximization), string(PhaseExpectation)}

func ParsePhase(name string) (Phase, error) {
	switch Phase(name) {
	case PhaseMaximization, PhaseExpectation:
		return Phase(name), nil
	}
	return "", &oslow.ConfigurationError{Field: "phase", Reason: "unknown name " + name, Valid: phaseNames}
}

// Other returns the opposite phase.
func (p Phase) Other() Phase {
	if p == PhaseMaximization {
		return PhaseExpectation
	}
	return PhaseMaximization
}
