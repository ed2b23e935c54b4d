package riskmodel

import (
	"encoding/json"
	"fmt"
)

// Mediator is a clinical pathway through which an intervention lowers risk.
type Mediator int

const (
	VolumeStress Mediator = iota
	IDHBurden
	AdherenceBurden
	AdequacyGap
	AccessFailure
	MetabolicInstability
	Inflammation
	AnemiaNutrition
	CardioFrailty

	numMediators
)

var mediatorNames = [numMediators]string{
	VolumeStress:         "Volume/UFR stress",
	IDHBurden:            "IDH burden",
	AdherenceBurden:      "Adherence burden",
	AdequacyGap:          "Adequacy/delivery gap",
	AccessFailure:        "Access failure risk",
	MetabolicInstability: "Metabolic instability",
	Inflammation:         "Inflammation/Infection",
	AnemiaNutrition:      "Anemia/Nutrition",
	CardioFrailty:        "Cardio-vascular frailty",
}

// Mediators returns every mediator in display order.
func Mediators() []Mediator {
	out := make([]Mediator, numMediators)
	for i := range out {
		out[i] = Mediator(i)
	}
	return out
}

func (m Mediator) String() string {
	if m < 0 || m >= numMediators {
		return fmt.Sprintf("Mediator(%d)", int(m))
	}
	return mediatorNames[m]
}

// ParseMediator resolves a display name to its Mediator.
func ParseMediator(name string) (Mediator, error) {
	for i, n := range mediatorNames {
		if n == name {
			return Mediator(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mediator %q", name)
}

// MediatorScores holds a score in [0,1] per mediator. It is a value type:
// every operation returns a new MediatorScores.
type MediatorScores struct {
	v [numMediators]float64
}

var baselineScores = [numMediators]float64{
	VolumeStress:         0.65,
	IDHBurden:            0.58,
	AdherenceBurden:      0.42,
	AdequacyGap:          0.35,
	AccessFailure:        0.48,
	MetabolicInstability: 0.52,
	Inflammation:         0.45,
	AnemiaNutrition:      0.38,
	CardioFrailty:        0.55,
}

// DefaultMediators returns the population baseline used before any lever is applied.
func DefaultMediators() MediatorScores {
	return MediatorScores{v: baselineScores}
}

// Get returns the score of m.
func (s MediatorScores) Get(m Mediator) float64 {
	return s.v[m]
}

// With returns a copy of s with m set to value clamped to [0,1].
func (s MediatorScores) With(m Mediator, value float64) MediatorScores {
	s.v[m] = clamp01(value)
	return s
}

func (s MediatorScores) scale(m Mediator, factor float64) MediatorScores {
	return s.With(m, s.v[m]*factor)
}

// Map returns the scores keyed by mediator name.
func (s MediatorScores) Map() map[string]float64 {
	out := make(map[string]float64, numMediators)
	for i, name := range mediatorNames {
		out[name] = s.v[i]
	}
	return out
}

func (s MediatorScores) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

// UnmarshalJSON accepts a partial object; absent mediators keep the baseline.
func (s *MediatorScores) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := DefaultMediators()
	for name, value := range raw {
		m, err := ParseMediator(name)
		if err != nil {
			return err
		}
		if value < 0 || value > 1 {
			return fmt.Errorf("mediator %q out of range [0,1]: %v", name, value)
		}
		out.v[m] = value
	}
	*s = out
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
