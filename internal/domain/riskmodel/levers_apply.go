package riskmodel

import "strings"

type effect struct {
	mediator Mediator
	factor   float64
}

// leverEffects are applied in lever order, each multiplying the running score.
var leverEffects = [numLevers][]effect{
	Cooling:            {{IDHBurden, 0.65}},
	SodiumProfile:      {{IDHBurden, 0.80}},
	UFCap:              {{VolumeStress, 0.72}, {IDHBurden, 0.82}},
	ExtendTime:         {{VolumeStress, 0.78}, {AdequacyGap, 0.72}},
	ExtraSession:       {{VolumeStress, 0.62}, {MetabolicInstability, 0.75}},
	KBath2K:            {{MetabolicInstability, 0.78}},
	KBinderAdherence:   {{MetabolicInstability, 0.70}},
	AccessSurveillance: {{AccessFailure, 0.65}, {AdequacyGap, 0.82}},
	CVCExitPlan:        {{Inflammation, 0.60}, {AccessFailure, 0.85}},
	AdherenceOutreach:  {{AdherenceBurden, 0.62}, {VolumeStress, 0.86}},
	NutritionPlan:      {{AnemiaNutrition, 0.70}, {Inflammation, 0.86}},
}

// ApplyLevers computes the mediator scores that result from applying the
// active levers to baseline. The CVC exit plan only acts on catheter patients.
// Scores never increase and stay within [0,1].
func ApplyLevers(baseline MediatorScores, levers LeverState, isCatheter bool) MediatorScores {
	out := baseline
	for _, l := range levers.ActiveLevers() {
		if l == CVCExitPlan && !isCatheter {
			continue
		}
		for _, e := range leverEffects[l] {
			out = out.scale(e.mediator, e.factor)
		}
	}
	return out
}

// IsCatheterAccess reports whether an access type or phenotype tag denotes a
// central venous catheter.
func IsCatheterAccess(access string) bool {
	return strings.Contains(strings.ToUpper(access), "CVC")
}
