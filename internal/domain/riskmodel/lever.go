package riskmodel

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Lever is a clinician-selectable intervention.
type Lever int

const (
	Cooling Lever = iota
	SodiumProfile
	UFCap
	ExtendTime
	ExtraSession
	KBath2K
	KBinderAdherence
	AccessSurveillance
	CVCExitPlan
	AdherenceOutreach
	NutritionPlan

	numLevers
)

// LeverInfo describes a lever for display.
type LeverInfo struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Category string `json:"category"`
	Default  bool   `json:"default"`
}

var leverCatalog = [numLevers]LeverInfo{
	Cooling:            {Key: "cooling", Label: "Cool dialysate", Category: "IDH Support"},
	SodiumProfile:      {Key: "sodium_profile", Label: "Sodium Profiling", Category: "IDH Support"},
	UFCap:              {Key: "uf_cap", Label: "UF cap", Category: "Volume", Default: true},
	ExtendTime:         {Key: "extend_time", Label: "Extend time", Category: "Adequacy"},
	ExtraSession:       {Key: "extra_session", Label: "Extra session", Category: "Volume"},
	KBath2K:            {Key: "k_bath_2k", Label: "K bath 2K", Category: "Metabolic"},
	KBinderAdherence:   {Key: "k_binder_adherence", Label: "K binder adherence", Category: "Metabolic"},
	AccessSurveillance: {Key: "access_surveillance", Label: "Access surveillance", Category: "Access", Default: true},
	CVCExitPlan:        {Key: "cvc_exit_plan", Label: "CVC exit plan", Category: "Access"},
	AdherenceOutreach:  {Key: "adherence_outreach", Label: "Adherence outreach", Category: "Social", Default: true},
	NutritionPlan:      {Key: "nutrition_plan", Label: "Nutrition plan", Category: "Anemia"},
}

// Levers returns every lever in application order.
func Levers() []Lever {
	out := make([]Lever, numLevers)
	for i := range out {
		out[i] = Lever(i)
	}
	return out
}

// Catalog returns display metadata for every lever.
func Catalog() []LeverInfo {
	out := make([]LeverInfo, numLevers)
	copy(out, leverCatalog[:])
	return out
}

func (l Lever) String() string {
	if l < 0 || l >= numLevers {
		return fmt.Sprintf("Lever(%d)", int(l))
	}
	return leverCatalog[l].Key
}

// Info returns the display metadata of l.
func (l Lever) Info() LeverInfo {
	return leverCatalog[l]
}

// ParseLever resolves a lever key such as "uf_cap".
func ParseLever(key string) (Lever, error) {
	for i, info := range leverCatalog {
		if info.Key == key {
			return Lever(i), nil
		}
	}
	return 0, fmt.Errorf("unknown lever %q", key)
}

// LeverState records which levers are active. The zero value has every lever off.
type LeverState struct {
	on [numLevers]bool
}

// DefaultLevers returns the state a new what-if session starts from.
func DefaultLevers() LeverState {
	var s LeverState
	for i, info := range leverCatalog {
		s.on[i] = info.Default
	}
	return s
}

// NewLeverState returns a state with exactly the given levers active.
func NewLeverState(active ...Lever) LeverState {
	var s LeverState
	for _, l := range active {
		s.on[l] = true
	}
	return s
}

func (s LeverState) Active(l Lever) bool {
	return s.on[l]
}

// With returns a copy of s with l set to on.
func (s LeverState) With(l Lever, on bool) LeverState {
	s.on[l] = on
	return s
}

// Toggle returns a copy of s with l flipped.
func (s LeverState) Toggle(l Lever) LeverState {
	return s.With(l, !s.on[l])
}

// ActiveLevers lists the active levers in application order.
func (s LeverState) ActiveLevers() []Lever {
	var out []Lever
	for i, on := range s.on {
		if on {
			out = append(out, Lever(i))
		}
	}
	return out
}

// Labels returns the display labels of the active levers, sorted.
func (s LeverState) Labels() []string {
	var out []string
	for _, l := range s.ActiveLevers() {
		out = append(out, leverCatalog[l].Label)
	}
	sort.Strings(out)
	return out
}

// Map returns the state keyed by lever key.
func (s LeverState) Map() map[string]bool {
	out := make(map[string]bool, numLevers)
	for i, info := range leverCatalog {
		out[info.Key] = s.on[i]
	}
	return out
}

func (s LeverState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

// UnmarshalJSON accepts a partial object of lever keys; absent keys are off
// and unknown keys are rejected.
func (s *LeverState) UnmarshalJSON(data []byte) error {
	var raw map[string]bool
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out LeverState
	for key, on := range raw {
		l, err := ParseLever(key)
		if err != nil {
			return err
		}
		out.on[l] = on
	}
	*s = out
	return nil
}
