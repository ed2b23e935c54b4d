package riskmodel

import "math"

// DefaultPredictionExplanation is used when the model gives no explanation.
const DefaultPredictionExplanation = "Predicted based on active interventions."

// Baseline is the pre-intervention risk a prediction is bounded by.
type Baseline struct {
	Mortality30d       float64
	Mortality90d       float64
	Mortality1yr       float64
	Hospitalization30d float64
}

// BaselineFrom fills missing (zero) horizons with the defaults 10/20/25/5.
func BaselineFrom(mortality Horizon, hospitalization30d float64) Baseline {
	return Baseline{
		Mortality30d:       orDefault(mortality.D30, 10.0),
		Mortality90d:       orDefault(mortality.D90, 20.0),
		Mortality1yr:       orDefault(mortality.Y1, 25.0),
		Hospitalization30d: orDefault(hospitalization30d, 5.0),
	}
}

func orDefault(v, def float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return def
	}
	return v
}

// Prediction is the post-intervention risk estimate.
type Prediction struct {
	MortalityRisk30d       float64 `json:"mortalityRisk30d"`
	MortalityRisk90d       float64 `json:"mortalityRisk90d"`
	MortalityRisk1yr       float64 `json:"mortalityRisk1yr"`
	HospitalizationRisk30d float64 `json:"hospitalizationRisk30d"`
	Explanation            string  `json:"explanation"`
}

// ClampPrediction bounds each predicted value by [floor, baseline] where the
// floors are min(2, b30), min(4, b90) and min(10, b1yr). Hospitalization is
// only capped at its baseline. Interventions never raise risk.
func ClampPrediction(p Prediction, b Baseline) Prediction {
	p.MortalityRisk30d = bound(p.MortalityRisk30d, math.Min(2, b.Mortality30d), b.Mortality30d)
	p.MortalityRisk90d = bound(p.MortalityRisk90d, math.Min(4, b.Mortality90d), b.Mortality90d)
	p.MortalityRisk1yr = bound(p.MortalityRisk1yr, math.Min(10, b.Mortality1yr), b.Mortality1yr)
	p.HospitalizationRisk30d = math.Min(math.Max(p.HospitalizationRisk30d, 0), b.Hospitalization30d)
	if p.Explanation == "" {
		p.Explanation = DefaultPredictionExplanation
	}
	return p
}

func bound(v, lo, hi float64) float64 {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return v
}

// Delta expresses a prediction as a reduction from its baseline.
func (p Prediction) Delta(b Baseline) MortalityDelta {
	return MortalityDelta{
		D30: nonNegative(b.Mortality30d - p.MortalityRisk30d),
		D90: nonNegative(b.Mortality90d - p.MortalityRisk90d),
		Y1:  nonNegative(b.Mortality1yr - p.MortalityRisk1yr),
	}
}
