package riskmodel

import "math"

// RiskSource identifies which estimator produced the reported risk.
type RiskSource string

const (
	SourceFormula RiskSource = "formula"
	SourceAI      RiskSource = "ai"
)

// Divergence compares the AI and formula 30-day mortality.
type Divergence struct {
	Absolute  float64 `json:"absolute"`
	Threshold float64 `json:"threshold"`
	Flagged   bool    `json:"flagged"`
}

// Assessment is the reconciled risk reported for a patient.
type Assessment struct {
	Risk          RiskSnapshot `json:"risk"`
	Source        RiskSource   `json:"source"`
	Formula       RiskSnapshot `json:"formula"`
	Divergence    *Divergence  `json:"divergence,omitempty"`
	TopRiskFactor string       `json:"topRiskFactor"`
}

// Reconcile prefers the AI horizons when present and records how far they
// diverge from the formula. A nil ai yields the formula snapshot.
func Reconcile(formula RiskSnapshot, ai *Horizon, formulaTopFactor, aiTopFactor string, threshold float64) Assessment {
	a := Assessment{
		Risk:          formula,
		Source:        SourceFormula,
		Formula:       formula,
		TopRiskFactor: formulaTopFactor,
	}
	if ai == nil {
		return a
	}

	a.Risk = SnapshotFrom(*ai)
	a.Source = SourceAI
	if aiTopFactor != "" {
		a.TopRiskFactor = aiTopFactor
	}
	diff := Round1(math.Abs(a.Risk.Mortality.D30 - formula.Mortality.D30))
	a.Divergence = &Divergence{
		Absolute:  diff,
		Threshold: threshold,
		Flagged:   diff > threshold,
	}
	return a
}
