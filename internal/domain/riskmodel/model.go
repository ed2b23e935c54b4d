// Package riskmodel holds the deterministic risk arithmetic of the dashboard:
// mediator scores, intervention levers, the rule-based mortality formula and
// the bounds placed on model predictions. Everything here is pure.
package riskmodel

// Model carries the baseline configuration a what-if session starts from.
type Model struct {
	Baseline MediatorScores
	Levers   LeverState
}

// NewModel returns a Model with the population baseline and default levers.
func NewModel() Model {
	return Model{
		Baseline: DefaultMediators(),
		Levers:   DefaultLevers(),
	}
}

// WhatIf is the full deterministic result for a lever configuration.
type WhatIf struct {
	Levers               LeverState           `json:"levers"`
	Mediators            MediatorScores       `json:"mediators"`
	MortalityDelta       MortalityDelta       `json:"mortalityDelta"`
	HospitalizationDelta HospitalizationDelta `json:"hospitalizationDelta"`
}

// Evaluate applies levers to the model baseline and estimates the deltas.
func (m Model) Evaluate(levers LeverState, isCatheter bool) WhatIf {
	mediators := ApplyLevers(m.Baseline, levers, isCatheter)
	delta := EstimateMortalityDelta(&mediators)
	return WhatIf{
		Levers:               levers,
		Mediators:            mediators,
		MortalityDelta:       delta,
		HospitalizationDelta: EstimateHospitalizationDelta(delta),
	}
}
