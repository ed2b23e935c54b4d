package copilot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/renalsim/renalsim/internal/domain/patient"
	"github.com/renalsim/renalsim/internal/domain/riskmodel"
)

// PatientContext is the slice of a patient detail the dashboard sends with
// chat and prediction requests. Field names follow the detail response so the
// client can forward it unchanged.
type PatientContext struct {
	Name                string                        `json:"name"`
	Age                 int                           `json:"age"`
	Sex                 string                        `json:"sex"`
	PrimaryDiagnosis    string                        `json:"primaryDiagnosis"`
	DialysisVintage     int                           `json:"dialysisVintage"`
	AccessType          string                        `json:"accessType"`
	Access              *patient.AccessProfile        `json:"access,omitempty"`
	Sessions            []patient.SessionSummary      `json:"sessions"`
	Labs                []patient.LabValue            `json:"labs"`
	Medications         []patient.MedicationEntry     `json:"medications"`
	MortalityRisk       riskmodel.Horizon             `json:"mortalityRisk"`
	HospitalizationRisk riskmodel.HospitalizationRisk `json:"hospitalizationRisk"`
}

// ContextFromDetail builds a context from a detail response.
func ContextFromDetail(d *patient.Detail) PatientContext {
	return PatientContext{
		Name:                d.Name,
		Age:                 d.Age,
		Sex:                 d.Sex,
		PrimaryDiagnosis:    d.PrimaryDiagnosis,
		DialysisVintage:     d.DialysisVintage,
		AccessType:          d.AccessType,
		Access:              d.Access,
		Sessions:            d.Sessions,
		Labs:                d.Labs,
		Medications:         d.Medications,
		MortalityRisk:       d.MortalityRisk,
		HospitalizationRisk: d.HospitalizationRisk,
	}
}

// latestLab returns the newest value of a marker; labs are newest first.
func (pc *PatientContext) latestLab(name string) (patient.LabValue, bool) {
	for _, l := range pc.Labs {
		if strings.EqualFold(l.Name, name) {
			return l, true
		}
	}
	return patient.LabValue{}, false
}

func (pc *PatientContext) hypotensionEvents() int {
	n := 0
	for _, s := range pc.Sessions {
		for _, e := range s.Events {
			if e == "Hypotension" {
				n++
				break
			}
		}
	}
	return n
}

// ChatPrompt is the system prompt grounding the assistant in one patient.
func ChatPrompt(pc *PatientContext) string {
	if pc == nil {
		pc = &PatientContext{}
	}
	var b strings.Builder
	b.WriteString("You are a specialized Dialysis Assistant for the RenalSim dashboard.\n\n")
	b.WriteString("You have access to the following patient data:\n")
	fmt.Fprintf(&b, "Name: %s\n", orUnknown(pc.Name))
	fmt.Fprintf(&b, "Age: %s\n", intOr(pc.Age, "Unknown"))
	fmt.Fprintf(&b, "Diagnosis: %s\n", orUnknown(pc.PrimaryDiagnosis))
	fmt.Fprintf(&b, "Access Type: %s\n\n", orUnknown(pc.AccessType))

	b.WriteString("Current Vitals (Last Session):\n")
	if len(pc.Sessions) > 0 {
		s := pc.Sessions[0]
		fmt.Fprintf(&b, "- Blood Pressure: %d/%d\n", s.PostSBP, s.PostDBP)
		fmt.Fprintf(&b, "- Weight: %s kg\n\n", num(s.PostWeight))
	} else {
		b.WriteString("- Blood Pressure: N/A\n- Weight: N/A\n\n")
	}

	b.WriteString("Key Labs:\n")
	if len(pc.Labs) == 0 {
		b.WriteString("No recent labs\n")
	}
	for _, l := range pc.Labs {
		fmt.Fprintf(&b, "- %s: %s %s\n", l.Name, num(l.Value), l.Unit)
	}

	b.WriteString("\nMedications:\n")
	if len(pc.Medications) == 0 {
		b.WriteString("None\n")
	}
	for _, m := range pc.Medications {
		fmt.Fprintf(&b, "- %s %s\n", m.Name, m.Dose)
	}

	b.WriteString("\nAnswer the user's questions based strictly on this data. Be helpful, clinical, and concise.")
	return b.String()
}

const riskPrompt = `You are a Nephrologist Risk Assessment AI.
Analyze the patient data and estimate the 30-day mortality risk (percentage 0-100).

Risk Factors to consider:
- Age > 65
- Albumin < 3.5 g/dL (Malnutrition)
- Access Type: CVC (High Risk) vs AVF (Lower Risk)
- Recent Hospitalizations or Hypotension events.

Return ONLY a JSON object:
{
    "mortalityRisk30d": number,
    "mortalityRisk90d": number,
    "mortalityRisk1yr": number,
    "topRiskFactor": "string",
    "explanation": "string"
}
Do not include markdown formatting.`

const recommendationsPrompt = `You are an expert Nephrologist providing strict, valid clinical recommendations for a dialysis patient.

Based on the patient's data, generate the TOP 5 recommendations to reduce mortality and hospitalization risk.
Rules:
1. Recommendations must be clinically valid and actionable.
2. Focus on: Volume Control, Access Management, Medication Optimization (Phosphate binders, Calcimimetics), and Nutrition.
3. "rank" should be 1 to 5.
4. "feasibility" must be "Easy", "Moderate", or "Hard".
5. "urgency" must be "Urgent", "High", or "Medium".
6. "category" must be "Medical", "Operational", or "Lifestyle".

Return ONLY a JSON array of objects with this schema:
[
    {
        "id": string (unique),
        "rank": number,
        "description": string (concise),
        "targetMediator": string (e.g., "Potassium", "Fluid Overload", "Access Infection"),
        "expectedMortalityReduction": number (estimated percentage, e.g., 2.5),
        "feasibility": "Easy" | "Moderate" | "Hard",
        "urgency": "Urgent" | "High" | "Medium",
        "category": "Medical" | "Operational" | "Lifestyle"
    }
]
Do not include markdown formatting.`

// leverReductions is the relative risk reduction, in percent, the prediction
// prompt assigns to each lever.
var leverReductions = []struct {
	lever     riskmodel.Lever
	reduction int
}{
	{riskmodel.Cooling, 15},
	{riskmodel.AccessSurveillance, 10},
	{riskmodel.SodiumProfile, 5},
	{riskmodel.UFCap, 5},
	{riskmodel.ExtendTime, 5},
}

// PredictPrompt describes the patient, the baseline and the reduction table.
func PredictPrompt(pc *PatientContext, b riskmodel.Baseline) string {
	var sb strings.Builder
	sb.WriteString("You are a Nephrologist Risk Prediction AI.\n")
	sb.WriteString("Predict the impact of clinical interventions on patient mortality and hospitalization risks.\n\n")
	sb.WriteString("Input: Detailed Patient Data and Active Clinical Levers (Interventions).\n\n")

	sb.WriteString("Patient Profile:\n")
	fmt.Fprintf(&sb, "- Name: %s (%sy %s)\n", orUnknown(pc.Name), intOr(pc.Age, "N/A"), orNA(pc.Sex))
	fmt.Fprintf(&sb, "- Diagnosis: %s\n", orNA(pc.PrimaryDiagnosis))
	fmt.Fprintf(&sb, "- Vintage: %d months\n", pc.DialysisVintage)
	accessType, location := pc.AccessType, ""
	if pc.Access != nil {
		accessType = orString(pc.Access.Type, accessType)
		location = pc.Access.Location
	}
	fmt.Fprintf(&sb, "- Access: %s (%s)\n\n", orNA(accessType), orNA(location))

	var last patient.SessionSummary
	if len(pc.Sessions) > 0 {
		last = pc.Sessions[0]
	}
	sb.WriteString("Recent Vitals (Last Session):\n")
	fmt.Fprintf(&sb, "- Pre-Dialysis BP: %s/%s\n", intOr(last.PreSBP, "N/A"), intOr(last.PreDBP, "N/A"))
	fmt.Fprintf(&sb, "- Post-Dialysis BP: %s/%s\n", intOr(last.PostSBP, "N/A"), intOr(last.PostDBP, "N/A"))
	fmt.Fprintf(&sb, "- Pre-Weight: %s kg\n", floatOr(last.PreWeight))
	fmt.Fprintf(&sb, "- Post-Weight: %s kg\n", floatOr(last.PostWeight))
	fmt.Fprintf(&sb, "- IDH Events: %d in last %d sessions.\n\n", pc.hypotensionEvents(), len(pc.Sessions))

	sb.WriteString("Key Labs:\n")
	for _, m := range []struct{ name, label, unit string }{
		{"Hemoglobin", "Hemoglobin", "g/dL"},
		{"Albumin", "Albumin", "g/dL"},
		{"Potassium", "Potassium", "mEq/L"},
		{"Phosphorus", "Phosphate", "mg/dL"},
	} {
		v := "N/A"
		if l, ok := pc.latestLab(m.name); ok && l.Value != 0 {
			v = num(l.Value)
		}
		fmt.Fprintf(&sb, "- %s: %s %s\n", m.label, v, m.unit)
	}

	sb.WriteString("\nCURRENT BASELINE RISK (Before Intervention):\n")
	fmt.Fprintf(&sb, "- 30-Day Mortality: %s%%\n", num(b.Mortality30d))
	fmt.Fprintf(&sb, "- 90-Day Mortality: %s%%\n\n", num(b.Mortality90d))

	sb.WriteString("Task: Estimate the NEW risks based on the active interventions.\n\n")
	sb.WriteString("CRITICAL INSTRUCTIONS:\n")
	sb.WriteString("1. You MUST calculate the new risk scores by applying reductions.\n")
	sb.WriteString("2. CALCULATE TOTAL REDUCTION PERCENTAGE by summing active lever effects:\n")
	for _, r := range leverReductions {
		fmt.Fprintf(&sb, "   - %q: +%d%% reduction\n", r.lever.Info().Label, r.reduction)
	}
	sb.WriteString("3. Apply total reduction to Baseline: New Risk = Baseline * (1 - (TotalReduction / 100))\n")
	sb.WriteString("4. Levers not listed above have no effect on the result.\n\n")

	sb.WriteString("FEW-SHOT EXAMPLES:\n")
	sb.WriteString("- Baseline 30d=20.0%. Active=\"Cool dialysate, UF cap\". Total Red=20%. Result 30d=16.0%.\n")
	sb.WriteString("- Baseline 90d=10.0%. Active=\"Access surveillance\". Total Red=10%. Result 90d=9.0%.\n\n")

	sb.WriteString(`Return ONLY a JSON object with the predicted NEW risks:
{
    "mortalityRisk30d": number,
    "mortalityRisk90d": number,
    "mortalityRisk1yr": number,
    "hospitalizationRisk30d": number,
    "explanation": "string (concise reason for changes)"
}
Do not include markdown formatting.`)
	return sb.String()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func floatOr(v float64) string {
	if v == 0 {
		return "N/A"
	}
	return num(v)
}

func intOr(v int, def string) string {
	if v == 0 {
		return def
	}
	return strconv.Itoa(v)
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orUnknown(v string) string { return orString(v, "Unknown") }
func orNA(v string) string      { return orString(v, "N/A") }
