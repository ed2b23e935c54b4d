package riskmodel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMediators_Baseline(t *testing.T) {
	m := DefaultMediators()
	want := map[string]float64{
		"Volume/UFR stress":       0.65,
		"IDH burden":              0.58,
		"Adherence burden":        0.42,
		"Adequacy/delivery gap":   0.35,
		"Access failure risk":     0.48,
		"Metabolic instability":   0.52,
		"Inflammation/Infection":  0.45,
		"Anemia/Nutrition":        0.38,
		"Cardio-vascular frailty": 0.55,
	}
	require.Equal(t, want, m.Map())
}

func TestDefaultMediators_ReturnsFreshValue(t *testing.T) {
	first := DefaultMediators()
	_ = first.With(IDHBurden, 0.1)
	changed := first.With(VolumeStress, 0)

	require.Equal(t, 0.0, changed.Get(VolumeStress))
	require.Equal(t, 0.65, DefaultMediators().Get(VolumeStress))
	require.Equal(t, 0.58, first.Get(IDHBurden))
}

func TestDefaultLevers(t *testing.T) {
	got := DefaultLevers().ActiveLevers()
	require.Equal(t, []Lever{UFCap, AccessSurveillance, AdherenceOutreach}, got)

	toggled := DefaultLevers().Toggle(Cooling)
	require.True(t, toggled.Active(Cooling))
	require.False(t, DefaultLevers().Active(Cooling))
}

func TestApplyLevers_NoLeversIsIdentity(t *testing.T) {
	base := DefaultMediators()
	require.Equal(t, base, ApplyLevers(base, LeverState{}, true))
}

func TestApplyLevers_DefaultLevers(t *testing.T) {
	got := ApplyLevers(DefaultMediators(), DefaultLevers(), false)

	assert.InDelta(t, 0.65*0.72*0.86, got.Get(VolumeStress), 1e-12)
	assert.InDelta(t, 0.58*0.82, got.Get(IDHBurden), 1e-12)
	assert.InDelta(t, 0.42*0.62, got.Get(AdherenceBurden), 1e-12)
	assert.InDelta(t, 0.35*0.82, got.Get(AdequacyGap), 1e-12)
	assert.InDelta(t, 0.48*0.65, got.Get(AccessFailure), 1e-12)
	assert.Equal(t, 0.52, got.Get(MetabolicInstability))
	assert.Equal(t, 0.45, got.Get(Inflammation))
	assert.Equal(t, 0.55, got.Get(CardioFrailty))
}

func TestApplyLevers_CoolingAndUFCapCompound(t *testing.T) {
	got := ApplyLevers(DefaultMediators(), NewLeverState(Cooling, UFCap), false)
	assert.InDelta(t, 0.58*0.65*0.82, got.Get(IDHBurden), 1e-12)
	assert.InDelta(t, 0.65*0.72, got.Get(VolumeStress), 1e-12)
}

func TestApplyLevers_CVCExitPlanOnlyForCatheter(t *testing.T) {
	levers := NewLeverState(CVCExitPlan)
	base := DefaultMediators()

	avf := ApplyLevers(base, levers, false)
	require.Equal(t, base, avf)

	cvc := ApplyLevers(base, levers, true)
	assert.InDelta(t, 0.45*0.60, cvc.Get(Inflammation), 1e-12)
	assert.InDelta(t, 0.48*0.85, cvc.Get(AccessFailure), 1e-12)
}

func TestApplyLevers_MonotoneAndBounded(t *testing.T) {
	base := DefaultMediators().With(CardioFrailty, 1).With(AnemiaNutrition, 0)
	for mask := 0; mask < 1<<numLevers; mask++ {
		var levers LeverState
		for i := 0; i < int(numLevers); i++ {
			if mask&(1<<i) != 0 {
				levers = levers.With(Lever(i), true)
			}
		}
		for _, catheter := range []bool{false, true} {
			got := ApplyLevers(base, levers, catheter)
			for _, m := range Mediators() {
				v := got.Get(m)
				if v < 0 || v > 1 || v > base.Get(m) {
					t.Fatalf("mask %b catheter %v: %s = %v (baseline %v)", mask, catheter, m, v, base.Get(m))
				}
			}
		}
	}
}

func TestApplyLevers_RecomputesFromBaseline(t *testing.T) {
	base := DefaultMediators()
	on := NewLeverState(Cooling)
	first := ApplyLevers(base, on, false)
	second := ApplyLevers(base, on, false)
	require.Equal(t, first, second)

	off := ApplyLevers(base, on.Toggle(Cooling), false)
	require.Equal(t, base, off)
}

func TestIsCatheterAccess(t *testing.T) {
	assert.True(t, IsCatheterAccess("CVC"))
	assert.True(t, IsCatheterAccess("cvc"))
	assert.True(t, IsCatheterAccess("CVC-dependent"))
	assert.False(t, IsCatheterAccess("AVF"))
	assert.False(t, IsCatheterAccess(""))
}

func TestEstimateMortalityDelta(t *testing.T) {
	require.Equal(t, MortalityDelta{}, EstimateMortalityDelta(nil))

	base := DefaultMediators()
	require.Equal(t, MortalityDelta{}, EstimateMortalityDelta(&base))

	m := ApplyLevers(base, DefaultLevers(), false)
	d := EstimateMortalityDelta(&m)
	want30 := (0.58-0.58*0.82)*15 + (0.65-0.65*0.72*0.86)*8 + (0.48-0.48*0.65)*3
	assert.InDelta(t, want30, d.D30, 1e-9)
	assert.InDelta(t, want30*1.5, d.D90, 1e-9)
	assert.InDelta(t, want30*1.5*1.2, d.Y1, 1e-9)

	h := EstimateHospitalizationDelta(d)
	assert.InDelta(t, d.D30*0.8, h.D30, 1e-9)
	assert.InDelta(t, d.D90*0.8, h.D90, 1e-9)
}

func TestEstimateMortalityDelta_NeverNegative(t *testing.T) {
	worse := DefaultMediators().With(IDHBurden, 1).With(VolumeStress, 1).With(AccessFailure, 1)
	d := EstimateMortalityDelta(&worse)
	require.Equal(t, MortalityDelta{}, d)
}

func TestCalculateRisk(t *testing.T) {
	tests := []struct {
		name    string
		age     int
		access  string
		albumin float64
		want    float64
	}{
		{"young fistula healthy", 40, "AVF", 4.0, 2.0},
		{"age only", 60, "AVF", 4.0, 3.5},
		{"graft", 40, "AVG", 4.0, 4.5},
		{"elderly catheter malnourished", 80, "CVC", 2.8, 23.1},
		{"low albumin", 50, "AVF", 3.2, 4.4},
		{"clamped high", 400, "CVC", 1.0, 99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CalculateRisk(tt.age, tt.access, tt.albumin), 1e-9)
		})
	}
}

func TestCalculateRisk_Bounds(t *testing.T) {
	for age := 0; age <= 120; age += 5 {
		for _, access := range []string{"AVF", "AVG", "CVC", "Unknown"} {
			for alb := 1.0; alb <= 5.0; alb += 0.25 {
				r := CalculateRisk(age, access, alb)
				if r < 1 || r > 99 {
					t.Fatalf("risk %v out of [1,99] for age=%d access=%s albumin=%v", r, age, access, alb)
				}
			}
		}
	}
}

func TestJitter(t *testing.T) {
	assert.InDelta(t, 0.2, Jitter("HD-1074"), 1e-9) // '4' = 52
	assert.InDelta(t, 0.5, Jitter("HD-1077"), 1e-9) // '7' = 55
	assert.Equal(t, 0.0, Jitter(""))
	assert.InDelta(t, 2.2, CalculateRiskWithJitter(40, "AVF", 4.0, "HD-1074"), 1e-9)
	assert.Equal(t, 99.0, CalculateRiskWithJitter(400, "CVC", 1.0, "HD-1079"))
}

func TestDeriveSnapshot(t *testing.T) {
	s := DeriveSnapshot(4.0)
	require.Equal(t, Horizon{D30: 4.0, D90: 10.0, Y1: 32.0}, s.Mortality)
	require.Equal(t, HospitalizationRisk{D30: 3.2, D90: 7.0}, s.Hospitalization)
	require.Equal(t, RiskMedium, s.Level())
}

func TestDeriveSnapshot_OrderedAndBounded(t *testing.T) {
	for r := 1.0; r <= 99; r += 0.7 {
		s := DeriveSnapshot(r)
		m := s.Mortality
		if !(m.D30 <= m.D90 && m.D90 <= m.Y1) {
			t.Fatalf("horizons not ordered for %v: %+v", r, m)
		}
		if m.Y1 > 100 || s.Hospitalization.D90 > 100 {
			t.Fatalf("snapshot exceeds 100 for %v: %+v", r, s)
		}
	}
}

func TestSnapshotFrom_RepairsOrder(t *testing.T) {
	s := SnapshotFrom(Horizon{D30: 12, D90: 8, Y1: 150})
	require.Equal(t, Horizon{D30: 12, D90: 12, Y1: 100}, s.Mortality)
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, RiskLow, LevelFor(8))
	assert.Equal(t, RiskMedium, LevelFor(8.1))
	assert.Equal(t, RiskMedium, LevelFor(15))
	assert.Equal(t, RiskHigh, LevelFor(15.1))
}

func TestTopRiskFactor(t *testing.T) {
	assert.Equal(t, "Vascular Access", TopRiskFactor("CVC", 3.0))
	assert.Equal(t, "Malnutrition", TopRiskFactor("AVF", 3.4))
	assert.Equal(t, "Age", TopRiskFactor("AVG", 3.5))
}

func TestClampPrediction(t *testing.T) {
	b := BaselineFrom(Horizon{D30: 8, D90: 20, Y1: 40}, 6)

	over := ClampPrediction(Prediction{MortalityRisk30d: 12, MortalityRisk90d: 25, MortalityRisk1yr: 50, HospitalizationRisk30d: 9}, b)
	assert.Equal(t, 8.0, over.MortalityRisk30d)
	assert.Equal(t, 20.0, over.MortalityRisk90d)
	assert.Equal(t, 40.0, over.MortalityRisk1yr)
	assert.Equal(t, 6.0, over.HospitalizationRisk30d)
	assert.Equal(t, DefaultPredictionExplanation, over.Explanation)

	under := ClampPrediction(Prediction{MortalityRisk30d: 0.5, MortalityRisk90d: 1, MortalityRisk1yr: 3, Explanation: "cooling"}, b)
	assert.Equal(t, 2.0, under.MortalityRisk30d)
	assert.Equal(t, 4.0, under.MortalityRisk90d)
	assert.Equal(t, 10.0, under.MortalityRisk1yr)
	assert.Equal(t, "cooling", under.Explanation)
}

func TestClampPrediction_BaselineBelowFloor(t *testing.T) {
	b := BaselineFrom(Horizon{D30: 1.5, D90: 3, Y1: 8}, 1)
	p := ClampPrediction(Prediction{MortalityRisk30d: 0.2, MortalityRisk90d: 0.2, MortalityRisk1yr: 0.2}, b)
	assert.Equal(t, 1.5, p.MortalityRisk30d)
	assert.Equal(t, 3.0, p.MortalityRisk90d)
	assert.Equal(t, 8.0, p.MortalityRisk1yr)
}

func TestBaselineFrom_Defaults(t *testing.T) {
	b := BaselineFrom(Horizon{}, 0)
	require.Equal(t, Baseline{Mortality30d: 10, Mortality90d: 20, Mortality1yr: 25, Hospitalization30d: 5}, b)
}

func TestPredictionDelta(t *testing.T) {
	b := Baseline{Mortality30d: 10, Mortality90d: 20, Mortality1yr: 25}
	d := Prediction{MortalityRisk30d: 8, MortalityRisk90d: 16, MortalityRisk1yr: 25}.Delta(b)
	require.Equal(t, MortalityDelta{D30: 2, D90: 4, Y1: 0}, d)
}

func TestReconcile(t *testing.T) {
	formula := DeriveSnapshot(4)

	fallback := Reconcile(formula, nil, "Age", "", 5)
	require.Equal(t, SourceFormula, fallback.Source)
	require.Nil(t, fallback.Divergence)
	require.Equal(t, formula, fallback.Risk)

	near := Reconcile(formula, &Horizon{D30: 6, D90: 12, Y1: 30}, "Age", "Albumin", 5)
	require.Equal(t, SourceAI, near.Source)
	require.Equal(t, "Albumin", near.TopRiskFactor)
	require.False(t, near.Divergence.Flagged)
	require.InDelta(t, 2.0, near.Divergence.Absolute, 1e-9)

	far := Reconcile(formula, &Horizon{D30: 15, D90: 30, Y1: 60}, "Age", "", 5)
	require.True(t, far.Divergence.Flagged)
	require.Equal(t, "Age", far.TopRiskFactor)
	require.Equal(t, formula, far.Formula)
}

func TestLeverStateJSON(t *testing.T) {
	data, err := json.Marshal(NewLeverState(Cooling))
	require.NoError(t, err)

	var decoded map[string]bool
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, int(numLevers))
	require.True(t, decoded["cooling"])
	require.False(t, decoded["uf_cap"])

	var s LeverState
	require.NoError(t, json.Unmarshal([]byte(`{"cooling":true,"nutrition_plan":true}`), &s))
	require.Equal(t, []Lever{Cooling, NutritionPlan}, s.ActiveLevers())

	require.Error(t, json.Unmarshal([]byte(`{"dialysate_magic":true}`), &s))
}

func TestMediatorScoresJSON_RejectsOutOfRange(t *testing.T) {
	var m MediatorScores
	require.NoError(t, json.Unmarshal([]byte(`{"IDH burden":0.3}`), &m))
	require.Equal(t, 0.3, m.Get(IDHBurden))
	require.Equal(t, 0.65, m.Get(VolumeStress))

	require.Error(t, json.Unmarshal([]byte(`{"IDH burden":1.3}`), &m))
	require.Error(t, json.Unmarshal([]byte(`{"Mystery":0.3}`), &m))
}

func TestModelEvaluate(t *testing.T) {
	w := NewModel().Evaluate(DefaultLevers(), false)
	require.Greater(t, w.MortalityDelta.D30, 0.0)
	require.InDelta(t, w.MortalityDelta.D30*0.8, w.HospitalizationDelta.D30, 1e-9)
}

func TestCatalog(t *testing.T) {
	c := Catalog()
	require.Len(t, c, 11)
	require.Equal(t, LeverInfo{Key: "cooling", Label: "Cool dialysate", Category: "IDH Support"}, c[0])
	c[0].Label = "changed"
	require.Equal(t, "Cool dialysate", Cooling.Info().Label)

	l, err := ParseLever("k_bath_2k")
	require.NoError(t, err)
	require.Equal(t, KBath2K, l)
}
