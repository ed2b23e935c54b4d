package patient

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no patient has the requested MRN.
var ErrNotFound = errors.New("patient not found")

// Patient is a row of the patients table.
type Patient struct {
	ID                      int        `json:"-"`
	MRN                     string     `json:"mrn"`
	FirstName               string     `json:"firstName"`
	LastName                string     `json:"lastName"`
	Sex                     string     `json:"sex"`
	DateOfBirth             *time.Time `json:"dob,omitempty"`
	Phone                   string     `json:"phone,omitempty"`
	RiskLevel               string     `json:"riskLevel,omitempty"`
	PrimaryDiagnosis        string     `json:"primaryDiagnosis"`
	DialysisVintage         int        `json:"dialysisVintage"`
	ScheduleDaysPerWeek     int        `json:"scheduleDaysPerWeek"`
	ScheduleDurationMinutes int        `json:"scheduleDurationMinutes"`
	Archetype               string     `json:"archetype"`
	Center                  string     `json:"center,omitempty"`
	Active                  bool       `json:"active"`
	CreatedAt               time.Time  `json:"createdAt"`
}

// FullName joins first and last name.
func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// AgeAt is the difference between the birth year and the year of now.
// Patients without a date of birth are reported as 0.
func (p *Patient) AgeAt(now time.Time) int {
	if p.DateOfBirth == nil {
		return 0
	}
	return now.Year() - p.DateOfBirth.Year()
}

type VascularAccess struct {
	ID          int            `json:"-"`
	PatientID   int            `json:"-"`
	AccessType  string         `json:"accessType"`
	Location    string         `json:"location"`
	CreatedDate *time.Time     `json:"createdDate,omitempty"`
	Status      string         `json:"status"`
	Metrics     []AccessMetric `json:"metrics,omitempty"`
}

// AccessMetric is one access pressure/flow reading.
type AccessMetric struct {
	ID               int        `json:"-"`
	AccessID         int        `json:"-"`
	ArterialPressure int        `json:"arterialPressure"`
	VenousPressure   int        `json:"venousPressure"`
	FlowRate         int        `json:"flowRate"`
	RecordedDate     *time.Time `json:"recordedDate,omitempty"`
}

// DialysisSession is one treatment. Nullable numeric columns read as zero.
type DialysisSession struct {
	ID                       int            `json:"-"`
	PatientID                int            `json:"-"`
	SessionDate              time.Time      `json:"sessionDate"`
	StartTime                *time.Time     `json:"startTime,omitempty"`
	EndTime                  *time.Time     `json:"endTime,omitempty"`
	Technique                string         `json:"technique"`
	DialyzerType             string         `json:"dialyzerType"`
	BathType                 string         `json:"bathType"`
	DryWeight                float64        `json:"dryWeight"`
	PreWeight                float64        `json:"preWeight"`
	PostWeight               float64        `json:"postWeight"`
	InterdialyticGain        float64        `json:"interdialyticWeightGain"`
	DialysateTemperature     float64        `json:"dialysateTemperature"`
	ReplacementVolume        float64        `json:"replacementVolume"`
	DoseKt                   float64        `json:"doseKt"`
	BloodFlowRate            int            `json:"bloodFlowRate"`
	DialysateFlowRate        int            `json:"dialysateFlowRate"`
	DialysateConductivity    float64        `json:"dialysateConductivity"`
	BicarbonateConductivity  float64        `json:"bicarbonateConductivity"`
	UltrafiltrationRate      float64        `json:"ultrafiltrationRate"`
	IntradialyticHypotension bool           `json:"intradialyticHypotension"`
	Vitals                   []SessionVital `json:"vitals,omitempty"`
}

// SessionVital is an intradialytic vital sign reading.
type SessionVital struct {
	ID                    int        `json:"-"`
	SessionID             int        `json:"-"`
	RecordedTime          *time.Time `json:"recordedTime,omitempty"`
	SystolicBP            int        `json:"systolicBp"`
	DiastolicBP           int        `json:"diastolicBp"`
	HeartRate             int        `json:"heartRate"`
	BodyTemperature       float64    `json:"bodyTemperature"`
	ArterialLinePressure  int        `json:"arterialLinePressure"`
	VenousLinePressure    int        `json:"venousLinePressure"`
	TransmembranePressure int        `json:"transmembranePressure"`
}

// LabResult is one monthly lab panel. A nil marker was not measured.
type LabResult struct {
	ID          int       `json:"-"`
	PatientID   int       `json:"-"`
	TestDate    time.Time `json:"testDate"`
	Hemoglobin  *float64  `json:"hemoglobin"`
	Albumin     *float64  `json:"albumin"`
	Potassium   *float64  `json:"potassium"`
	Sodium      *float64  `json:"sodium"`
	Calcium     *float64  `json:"calcium"`
	Phosphorus  *float64  `json:"phosphorus"`
	Urea        *float64  `json:"urea"`
	Creatinine  *float64  `json:"creatinine"`
	Bicarbonate *float64  `json:"bicarbonate"`
	Ferritin    *float64  `json:"ferritin"`
}

type Medication struct {
	ID        int        `json:"-"`
	PatientID int        `json:"-"`
	DrugName  string     `json:"drugName"`
	Category  string     `json:"category"`
	Dose      string     `json:"dose"`
	Frequency string     `json:"frequency"`
	Route     string     `json:"route"`
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
	Active    bool       `json:"active"`
}

// SummaryRecord is what the roster view needs for one patient.
type SummaryRecord struct {
	Patient     Patient
	Access      *VascularAccess
	LastSession *DialysisSession
	LatestLab   *LabResult
}

// DetailRecord is a patient with recent history: up to 20 sessions (newest
// first, each with its latest vital), up to 12 lab panels (newest first),
// all medications and all accesses with their metrics (newest first).
type DetailRecord struct {
	Patient     Patient
	Accesses    []VascularAccess
	Sessions    []DialysisSession
	Labs        []LabResult
	Medications []Medication
}

// PrimaryAccess returns the first access on file, or nil.
func (r *DetailRecord) PrimaryAccess() *VascularAccess {
	if len(r.Accesses) == 0 {
		return nil
	}
	return &r.Accesses[0]
}

// LatestLab returns the newest lab panel, or nil.
func (r *DetailRecord) LatestLab() *LabResult {
	if len(r.Labs) == 0 {
		return nil
	}
	return &r.Labs[0]
}
