package patient

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/renalsim/renalsim/internal/domain/riskmodel"
)

// Values assumed for alerting when the latest panel lacks a marker.
const (
	fallbackPotassium  = 4.5
	fallbackHemoglobin = 10.5
	fallbackPhosphorus = 5.2
	fallbackAlbumin    = 3.8
)

// Session defaults used when the chart lacks a value.
const (
	defaultStartTime         = "08:00"
	defaultEndTime           = "12:00"
	defaultSessionMinutes    = 240
	defaultDaysPerWeek       = 3
	defaultPreSBP            = 140
	defaultPreDBP            = 80
	defaultNadirSBP          = 100
	defaultPostSBP           = 130
	defaultPostDBP           = 75
	defaultVenousPressure    = 150
	defaultTMP               = 120
	defaultHeartRate         = 72
	defaultArterialPressure  = -150
	defaultDialysateTemp     = 36.5
	defaultDialysateFlowRate = 500
	defaultDryWeight         = 70.0
	noMetricsAccessRisk      = 25
)

const dateLayout = "2006-01-02"

// CalculateAlerts derives the alert list from the latest lab panel and access.
// fluidOverload is set on the detail view when the latest session had IDH.
func CalculateAlerts(lab *LabResult, accessType string, fluidOverload bool, now time.Time) []Alert {
	var k, hb, phos, alb *float64
	if lab != nil {
		k, hb, phos, alb = lab.Potassium, lab.Hemoglobin, lab.Phosphorus, lab.Albumin
	}
	potassium := valueOr(k, fallbackPotassium)
	hemoglobin := valueOr(hb, fallbackHemoglobin)
	phosphorus := valueOr(phos, fallbackPhosphorus)
	albumin := valueOr(alb, fallbackAlbumin)

	alerts := []Alert{}
	add := func(id, severity, typ, description string) {
		alerts = append(alerts, Alert{ID: id, Severity: severity, Description: description, Type: typ, Timestamp: now})
	}

	if potassium > 5.5 {
		add("alert-k", SeverityCritical, AlertTypeLab, fmt.Sprintf("Hyperkalemia: K+ %s mEq/L", formatNumber(potassium)))
	}
	if hemoglobin < 9.0 {
		add("alert-hb", SeverityCritical, AlertTypeLab, fmt.Sprintf("Severe Anemia: Hb %s g/dL", formatNumber(hemoglobin)))
	}
	if phosphorus > 5.5 {
		add("alert-phos", SeverityWarning, AlertTypeLab, fmt.Sprintf("Hyperphosphatemia: Phos %s mg/dL", formatNumber(phosphorus)))
	}
	if albumin < 3.2 {
		add("alert-alb", SeverityWarning, AlertTypeLab, fmt.Sprintf("Malnutrition Risk: Alb %s g/dL", formatNumber(albumin)))
	}
	if strings.EqualFold(accessType, "CVC") {
		add("alert-access", SeverityWarning, AlertTypeAccess, "CVC Catheter: Infection Risk")
	}
	if fluidOverload {
		add("alert-fluid", SeverityWarning, AlertTypeVolume, "Recent IDH Event: Fluid Overload Risk")
	}
	return alerts
}

// valueOr treats a missing or zero marker as unmeasured.
func valueOr(v *float64, def float64) float64 {
	if v == nil || *v == 0 {
		return def
	}
	return *v
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// LabTarget is the reference range of one marker.
type LabTarget struct {
	Name  string
	Unit  string
	Min   float64
	Max   float64
	value func(*LabResult) *float64
}

var labTargets = []LabTarget{
	{Name: "Hemoglobin", Unit: "g/dL", Min: 10, Max: 12, value: func(l *LabResult) *float64 { return l.Hemoglobin }},
	{Name: "Potassium", Unit: "mEq/L", Min: 3.5, Max: 5.5, value: func(l *LabResult) *float64 { return l.Potassium }},
	{Name: "Sodium", Unit: "mEq/L", Min: 135, Max: 145, value: func(l *LabResult) *float64 { return l.Sodium }},
	{Name: "Albumin", Unit: "g/dL", Min: 3.5, Max: 5.0, value: func(l *LabResult) *float64 { return l.Albumin }},
	{Name: "Calcium", Unit: "mg/dL", Min: 8.5, Max: 10.2, value: func(l *LabResult) *float64 { return l.Calcium }},
	{Name: "Phosphorus", Unit: "mg/dL", Min: 3.5, Max: 5.5, value: func(l *LabResult) *float64 { return l.Phosphorus }},
	{Name: "Urea", Unit: "mg/dL", Min: 70, Max: 150, value: func(l *LabResult) *float64 { return l.Urea }},
	{Name: "Creatinine", Unit: "mg/dl", Min: 0.7, Max: 1.3, value: func(l *LabResult) *float64 { return l.Creatinine }},
	{Name: "Bicarbonate", Unit: "mEq/L", Min: 22, Max: 29, value: func(l *LabResult) *float64 { return l.Bicarbonate }},
	{Name: "Ferritin", Unit: "ng/mL", Min: 200, Max: 800, value: func(l *LabResult) *float64 { return l.Ferritin }},
}

// LabTargets lists the tracked markers in display order.
func LabTargets() []LabTarget {
	out := make([]LabTarget, len(labTargets))
	copy(out, labTargets)
	return out
}

// LookupLabTarget finds a marker by name, case-insensitively.
func LookupLabTarget(name string) (LabTarget, bool) {
	for _, t := range labTargets {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return LabTarget{}, false
}

// Value reads this marker from a panel.
func (t LabTarget) Value(l *LabResult) *float64 {
	return t.value(l)
}

// Status classifies v as critical beyond 10% outside the range, warning
// outside the range, otherwise normal.
func (t LabTarget) Status(v float64) string {
	switch {
	case v < t.Min*0.9 || v > t.Max*1.1:
		return "critical"
	case v < t.Min || v > t.Max:
		return "warning"
	default:
		return "normal"
	}
}

// MapLabs flattens panels (newest first) into per-marker values. The previous
// value comes from the next older panel; unmeasured markers are skipped.
func MapLabs(labs []LabResult) []LabValue {
	out := make([]LabValue, 0, len(labs)*len(labTargets))
	for i := range labs {
		rec := &labs[i]
		for _, t := range labTargets {
			v := t.value(rec)
			if v == nil {
				continue
			}
			prev := *v
			if i+1 < len(labs) {
				if pv := t.value(&labs[i+1]); pv != nil {
					prev = *pv
				}
			}
			out = append(out, LabValue{
				Name:          t.Name,
				Value:         *v,
				PreviousValue: prev,
				Unit:          t.Unit,
				Date:          rec.TestDate.Format(dateLayout),
				TargetMin:     t.Min,
				TargetMax:     t.Max,
				Status:        t.Status(*v),
			})
		}
	}
	return out
}

// MapSession charts one treatment. The newest vital stands in for the
// nadir and post-dialysis readings.
func MapSession(s DialysisSession, prescribedMinutes int) SessionSummary {
	if prescribedMinutes <= 0 {
		prescribedMinutes = defaultSessionMinutes
	}
	out := SessionSummary{
		Date:               s.SessionDate.Format(dateLayout),
		StartTime:          clockOr(s.StartTime, defaultStartTime),
		EndTime:            clockOr(s.EndTime, defaultEndTime),
		Duration:           prescribedMinutes,
		PrescribedDuration: prescribedMinutes,
		UFVolume:           s.UltrafiltrationRate,
		PreWeight:          s.PreWeight,
		PostWeight:         s.PostWeight,
		IDWG:               s.InterdialyticGain,
		PreSBP:             defaultPreSBP,
		PreDBP:             defaultPreDBP,
		NadirSBP:           defaultNadirSBP,
		PostSBP:            defaultPostSBP,
		PostDBP:            defaultPostDBP,
		VP:                 defaultVenousPressure,
		BFR:                s.BloodFlowRate,
		SpKtV:              s.DoseKt,
		Events:             []string{},
		Technique:          s.Technique,
		DialyzerType:       s.DialyzerType,
		DialysateTemp:      s.DialysateTemperature,
		ReplacementVolume:  s.ReplacementVolume,
		DialysateFlowRate:  s.DialysateFlowRate,
		TMP:                defaultTMP,
		HeartRate:          defaultHeartRate,
		ArterialPressure:   defaultArterialPressure,
	}
	if s.StartTime != nil && s.EndTime != nil && s.EndTime.After(*s.StartTime) {
		out.Duration = int(s.EndTime.Sub(*s.StartTime).Minutes())
	}
	if out.DialysateTemp == 0 {
		out.DialysateTemp = defaultDialysateTemp
	}
	if out.DialysateFlowRate == 0 {
		out.DialysateFlowRate = defaultDialysateFlowRate
	}
	if s.IntradialyticHypotension {
		out.Events = append(out.Events, "Hypotension")
	}
	if len(s.Vitals) > 0 {
		v := s.Vitals[0]
		out.NadirSBP = v.SystolicBP
		out.PostSBP = v.SystolicBP
		out.PostDBP = v.DiastolicBP
		out.VP = v.VenousLinePressure
		out.TMP = v.TransmembranePressure
		out.HeartRate = v.HeartRate
		out.ArterialPressure = v.ArterialLinePressure
	}
	return out
}

func clockOr(t *time.Time, def string) string {
	if t == nil {
		return def
	}
	return t.Format("15:04")
}

// MapMedication falls back to a category guessed from the drug name.
func MapMedication(m Medication) MedicationEntry {
	category := m.Category
	if category == "" {
		if strings.Contains(m.DrugName, "Erythropoietin") {
			category = "ESA"
		} else {
			category = "Prescription"
		}
	}
	entry := MedicationEntry{
		Name:      m.DrugName,
		Dose:      m.Dose,
		Frequency: m.Frequency,
		Route:     m.Route,
		Category:  category,
	}
	if m.StartDate != nil {
		entry.StartDate = m.StartDate.Format(dateLayout)
	}
	return entry
}

// BuildAccessProfile describes the primary access; older accesses on file
// become its history.
func BuildAccessProfile(accesses []VascularAccess, now time.Time) *AccessProfile {
	if len(accesses) == 0 {
		return nil
	}
	primary := accesses[0]
	profile := &AccessProfile{
		Type:     primary.AccessType,
		Location: primary.Location,
		History:  []string{},
	}
	if primary.CreatedDate != nil {
		profile.InsertionDate = primary.CreatedDate.Format(dateLayout)
		profile.AgeMonths = monthsBetween(*primary.CreatedDate, now)
	}
	for _, prev := range accesses[1:] {
		entry := "Previous " + prev.AccessType
		if prev.Location != "" {
			entry += " (" + prev.Location + ")"
		}
		profile.History = append(profile.History, entry)
	}
	return profile
}

func monthsBetween(from, to time.Time) int {
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// BuildAccessMonitoring summarises metrics ordered newest first. The venous
// pressure slope is the least-squares trend in mmHg per reading, oldest to
// newest. Returns nil when there are no metrics.
func BuildAccessMonitoring(metrics []AccessMetric) *AccessMonitoring {
	if len(metrics) == 0 {
		return nil
	}
	latest := metrics[0]
	var sum float64
	for _, m := range metrics {
		sum += float64(m.VenousPressure)
	}
	return &AccessMonitoring{
		VPSlope:          riskmodel.Round1(venousSlope(metrics)),
		MeanVP:           riskmodel.Round1(sum / float64(len(metrics))),
		ArterialPressure: latest.ArterialPressure,
		FlowRate:         latest.FlowRate,
	}
}

func venousSlope(metrics []AccessMetric) float64 {
	n := len(metrics)
	if n < 2 {
		return 0
	}
	var sx, sy, sxy, sxx float64
	for i := 0; i < n; i++ {
		x := float64(i)
		y := float64(metrics[n-1-i].VenousPressure)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	fn := float64(n)
	den := fn*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (fn*sxy - sx*sy) / den
}

// AccessRiskScore is 15 plus 40 for a rising venous pressure trend (>3 per
// reading), 20 for mean VP above 180 and 15 for flow below 300, capped at 99.
func AccessRiskScore(m *AccessMonitoring) int {
	if m == nil {
		return noMetricsAccessRisk
	}
	risk := 15
	if m.VPSlope > 3 {
		risk += 40
	}
	if m.MeanVP > 180 {
		risk += 20
	}
	if m.FlowRate < 300 {
		risk += 15
	}
	if risk > 99 {
		risk = 99
	}
	return risk
}

// DataQualityScore is the percentage of sessions with at least one vital.
func DataQualityScore(sessions []DialysisSession) int {
	withVitals := 0
	for _, s := range sessions {
		if len(s.Vitals) > 0 {
			withVitals++
		}
	}
	denom := len(sessions)
	if denom < 1 {
		denom = 1
	}
	return int(math.Round(float64(withVitals) / float64(denom) * 100))
}

// DryWeight reads the target weight from the newest session.
func DryWeight(sessions []DialysisSession) float64 {
	if len(sessions) == 0 || sessions[0].DryWeight == 0 {
		return defaultDryWeight
	}
	return sessions[0].DryWeight
}

// Phenotype tags a patient by archetype. Standard patients carry no tags.
func Phenotype(archetype string) []string {
	if archetype == "" || archetype == "Standard" {
		return []string{}
	}
	return []string{archetype}
}

// albuminOf returns the panel's albumin or the model default.
func albuminOf(lab *LabResult) float64 {
	if lab == nil || lab.Albumin == nil {
		return riskmodel.DefaultAlbumin
	}
	return *lab.Albumin
}

func accessTypeOf(a *VascularAccess) string {
	if a == nil || a.AccessType == "" {
		return "Unknown"
	}
	return a.AccessType
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
