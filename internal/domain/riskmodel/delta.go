package riskmodel

// MortalityDelta is the absolute reduction in mortality risk, in percentage
// points, achieved by an intervention set.
type MortalityDelta struct {
	D30 float64 `json:"30d"`
	D90 float64 `json:"90d"`
	Y1  float64 `json:"1yr"`
}

// HospitalizationDelta is the reduction in hospitalization risk.
type HospitalizationDelta struct {
	D30 float64 `json:"30d"`
	D90 float64 `json:"90d"`
}

// EstimateMortalityDelta is the deterministic fallback used when no AI
// prediction is available. A nil input yields zero deltas.
func EstimateMortalityDelta(m *MediatorScores) MortalityDelta {
	if m == nil {
		return MortalityDelta{}
	}
	base := DefaultMediators()
	d30 := (base.Get(IDHBurden)-m.Get(IDHBurden))*15 +
		(base.Get(VolumeStress)-m.Get(VolumeStress))*8 +
		(base.Get(AccessFailure)-m.Get(AccessFailure))*3
	d90 := d30 * 1.5
	y1 := d90 * 1.2
	return MortalityDelta{
		D30: nonNegative(d30),
		D90: nonNegative(d90),
		Y1:  nonNegative(y1),
	}
}

// EstimateHospitalizationDelta scales a mortality delta to hospitalization.
func EstimateHospitalizationDelta(d MortalityDelta) HospitalizationDelta {
	return HospitalizationDelta{
		D30: d.D30 * 0.8,
		D90: d.D90 * 0.8,
	}
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
