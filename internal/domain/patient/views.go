package patient

import (
	"time"

	"github.com/renalsim/renalsim/internal/domain/riskmodel"
)

// Alert severities and types.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"

	AlertTypeLab    = "Lab"
	AlertTypeAccess = "Access"
	AlertTypeVolume = "Volume"
)

// DefaultFacility is reported for patients without a center.
const DefaultFacility = "Center A"

type Alert struct {
	ID          string    `json:"id"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
}

type Schedule struct {
	DaysPerWeek        int `json:"daysPerWeek"`
	DurationPerSession int `json:"durationPerSession"`
}

// Summary is one roster row.
type Summary struct {
	ID                  string                        `json:"id"`
	Name                string                        `json:"name"`
	Age                 int                           `json:"age"`
	Sex                 string                        `json:"sex"`
	DialysisVintage     int                           `json:"dialysisVintage"`
	PrimaryDiagnosis    string                        `json:"primaryDiagnosis"`
	Schedule            Schedule                      `json:"schedule"`
	RiskLevel           riskmodel.RiskLevel           `json:"riskLevel"`
	MortalityRisk       riskmodel.Horizon             `json:"mortalityRisk"`
	HospitalizationRisk riskmodel.HospitalizationRisk `json:"hospitalizationRisk"`
	MortalityDelta      riskmodel.MortalityDelta      `json:"mortalityDelta"`
	Alerts              []Alert                       `json:"alerts"`
	TopRiskFactor       string                        `json:"topRiskFactor"`
	Phenotype           []string                      `json:"phenotype"`
	LastUpdated         time.Time                     `json:"lastUpdated"`
	Facility            string                        `json:"facility"`
	AccessType          string                        `json:"accessType"`
	Archetype           string                        `json:"archetype"`
}

// Detail is the full patient view.
type Detail struct {
	Summary

	Access           *AccessProfile    `json:"access,omitempty"`
	AccessMetrics    *AccessMonitoring `json:"accessMetrics,omitempty"`
	AccessRiskScore  int               `json:"accessRiskScore"`
	DataQualityScore int               `json:"dataQualityScore"`
	DryWeight        float64           `json:"dryWeight"`
	Recommendations  []Recommendation  `json:"recommendations"`

	RiskSource      riskmodel.RiskSource   `json:"riskSource"`
	FormulaRisk     riskmodel.RiskSnapshot `json:"formulaRisk"`
	RiskDivergence  *riskmodel.Divergence  `json:"riskDivergence,omitempty"`
	RiskExplanation string                 `json:"riskExplanation,omitempty"`

	Sessions    []SessionSummary  `json:"sessions"`
	Labs        []LabValue        `json:"labs"`
	Medications []MedicationEntry `json:"medications"`
}

type AccessProfile struct {
	Type          string   `json:"type"`
	Location      string   `json:"location"`
	InsertionDate string   `json:"insertionDate,omitempty"`
	AgeMonths     int      `json:"age"`
	History       []string `json:"history"`
}

// AccessMonitoring summarises access surveillance readings.
type AccessMonitoring struct {
	VPSlope               float64 `json:"vpSlope"`
	MeanVP                float64 `json:"meanVP"`
	AlarmsPerSession      float64 `json:"alarmsPerSession"`
	BleedingEvents        int     `json:"bleedingEvents"`
	CannulationDifficulty int     `json:"cannulationDifficulty"`
	RecirculationRate     float64 `json:"recirculationRate"`
	ArterialPressure      int     `json:"arterialPressure"`
	FlowRate              int     `json:"flowRate"`
}

// SessionSummary is a treatment as charted on the dashboard.
type SessionSummary struct {
	Date               string   `json:"date"`
	StartTime          string   `json:"startTime"`
	EndTime            string   `json:"endTime"`
	Duration           int      `json:"duration"`
	PrescribedDuration int      `json:"prescribedDuration"`
	UFVolume           float64  `json:"ufVolume"`
	PreWeight          float64  `json:"preWeight"`
	PostWeight         float64  `json:"postWeight"`
	IDWG               float64  `json:"idwg"`
	PreSBP             int      `json:"preSBP"`
	PreDBP             int      `json:"preDBP"`
	NadirSBP           int      `json:"nadirSBP"`
	PostSBP            int      `json:"postSBP"`
	PostDBP            int      `json:"postDBP"`
	VP                 int      `json:"vp"`
	BFR                int      `json:"bfr"`
	SpKtV              float64  `json:"spktv"`
	Events             []string `json:"events"`
	TerminatedEarly    bool     `json:"terminatedEarly"`
	Technique          string   `json:"technique"`
	DialyzerType       string   `json:"dialyzerType"`
	DialysateTemp      float64  `json:"dialysateTemp"`
	ReplacementVolume  float64  `json:"replacementVolume"`
	DialysateFlowRate  int      `json:"dialysateFlowRate"`
	TMP                int      `json:"tmp"`
	HeartRate          int      `json:"heartRate"`
	ArterialPressure   int      `json:"arterialPressure"`
}

// LabValue is one marker of one lab panel.
type LabValue struct {
	Name          string  `json:"name"`
	Value         float64 `json:"value"`
	PreviousValue float64 `json:"previousValue"`
	Unit          string  `json:"unit"`
	Date          string  `json:"date"`
	TargetMin     float64 `json:"targetMin"`
	TargetMax     float64 `json:"targetMax"`
	Status        string  `json:"status"`
}

type MedicationEntry struct {
	Name      string `json:"name"`
	Dose      string `json:"dose"`
	Frequency string `json:"frequency"`
	Route     string `json:"route"`
	Category  string `json:"category"`
	StartDate string `json:"startDate"`
}
