package riskmodel

import (
	"math"
	"strings"
)

// DefaultAlbumin is assumed when a patient has no albumin result.
const DefaultAlbumin = 4.0

// RiskLevel buckets a patient by 90-day mortality.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Horizon values for a risk in percent.
type Horizon struct {
	D30 float64 `json:"30d"`
	D90 float64 `json:"90d"`
	Y1  float64 `json:"1yr"`
}

// HospitalizationRisk in percent.
type HospitalizationRisk struct {
	D30 float64 `json:"30d"`
	D90 float64 `json:"90d"`
}

// RiskSnapshot is a patient's mortality and hospitalization risk at a point
// in time. Mortality horizons are non-decreasing.
type RiskSnapshot struct {
	Mortality       Horizon             `json:"mortalityRisk"`
	Hospitalization HospitalizationRisk `json:"hospitalizationRisk"`
}

// CalculateRisk is the rule-based 30-day mortality estimate in percent,
// clamped to [1,99].
func CalculateRisk(age int, accessType string, albumin float64) float64 {
	return clampRisk(rawRisk(age, accessType, albumin))
}

// CalculateRiskWithJitter adds the deterministic per-MRN jitter used on the
// detail view before clamping.
func CalculateRiskWithJitter(age int, accessType string, albumin float64, mrn string) float64 {
	return clampRisk(rawRisk(age, accessType, albumin) + Jitter(mrn))
}

func rawRisk(age int, accessType string, albumin float64) float64 {
	risk := 2.0
	a := float64(age)
	if a > 50 {
		risk += (a - 50) * 0.15
	}
	if a > 75 {
		risk += (a - 75) * 0.2
	}
	if albumin < 3.5 {
		risk += (3.5 - albumin) * 8
	}
	if albumin < 3.0 {
		risk += 5
	}
	switch strings.ToUpper(accessType) {
	case "CVC":
		risk += 5.0
	case "AVG":
		risk += 2.5
	}
	return risk
}

// Jitter returns (last byte of mrn mod 10) * 0.1.
func Jitter(mrn string) float64 {
	if mrn == "" {
		return 0
	}
	return float64(mrn[len(mrn)-1]%10) * 0.1
}

func clampRisk(v float64) float64 {
	return math.Min(99, math.Max(1, v))
}

func capPercent(v float64) float64 {
	return math.Min(99, v)
}

// DeriveSnapshot extends a 30-day mortality estimate to the other horizons.
// All values are rounded to one decimal and capped at 99.
func DeriveSnapshot(mortality30d float64) RiskSnapshot {
	m90 := mortality30d * 2.5
	return RiskSnapshot{
		Mortality: Horizon{
			D30: Round1(capPercent(mortality30d)),
			D90: Round1(capPercent(m90)),
			Y1:  Round1(capPercent(mortality30d * 8)),
		},
		Hospitalization: HospitalizationRisk{
			D30: Round1(capPercent(mortality30d * 0.8)),
			D90: Round1(capPercent(m90 * 0.7)),
		},
	}
}

// SnapshotFrom builds a snapshot from externally supplied horizons, such as
// an AI assessment. Values are clamped to [0,100] and made non-decreasing
// across horizons; hospitalization is derived as in DeriveSnapshot.
func SnapshotFrom(h Horizon) RiskSnapshot {
	d30 := clampPercent(h.D30)
	d90 := math.Max(clampPercent(h.D90), d30)
	y1 := math.Max(clampPercent(h.Y1), d90)
	return RiskSnapshot{
		Mortality: Horizon{
			D30: Round1(d30),
			D90: Round1(d90),
			Y1:  Round1(y1),
		},
		Hospitalization: HospitalizationRisk{
			D30: Round1(d30 * 0.8),
			D90: Round1(d90 * 0.7),
		},
	}
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(100, math.Max(0, v))
}

// Level classifies a snapshot by its 90-day mortality.
func (s RiskSnapshot) Level() RiskLevel {
	return LevelFor(s.Mortality.D90)
}

// LevelFor classifies a 90-day mortality percentage.
func LevelFor(mortality90d float64) RiskLevel {
	switch {
	case mortality90d > 15:
		return RiskHigh
	case mortality90d > 8:
		return RiskMedium
	default:
		return RiskLow
	}
}

// TopRiskFactor names the dominant rule-based driver.
func TopRiskFactor(accessType string, albumin float64) string {
	switch {
	case strings.EqualFold(accessType, "CVC"):
		return "Vascular Access"
	case albumin < 3.5:
		return "Malnutrition"
	default:
		return "Age"
	}
}

// Round1 rounds half away from zero to one decimal.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
