package patient

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Seeder loads the demonstration unit: six archetype patients with three
// treatments each.
type Seeder struct {
	repo   SeedRepository
	logger zerolog.Logger
}

func NewSeeder(repo SeedRepository, logger zerolog.Logger) *Seeder {
	return &Seeder{repo: repo, logger: logger}
}

type seedProfile struct {
	mrn, first, last, sex, dob, diagnosis, archetype string
	vintage, minutes                                 int
	sessions                                         [][19]float64
}

// Session rows: hypotension flag, dry weight, pre weight, post weight, gain,
// bath temperature, replacement volume, raw Kt, BFR, DFR, conductivity,
// arterial pressure, venous pressure, TMP, SBP, DBP, pulse, UF rate, body temperature.
var seedProfiles = []seedProfile{
	{"HD-1074", "James", "Thompson", "Male", "1957-01-01", "Diabetic Nephropathy", "The Crasher (IDH/HF)", 52, 240, [][19]float64{
		{0, 73, 75.4, 74, 1.4, 35.5, 24.05, 75.3, 450, 798, 14.8, -185, 170, 135, 93, 40, 70, 0.18, 35.9},
		{0, 73, 75.4, 73.8, 1.4, 35.5, 26.53, 74.5, 450, 800, 13.9, -200, 190, 155, 92, 42, 71, 0.17, 36.7},
		{0, 73, 76.6, 74.6, 2.8, 35.5, 25.51, 73.6, 450, 806, 14.1, -200, 185, 190, 80, 35, 83, 0.15, 36.7},
	}},
	{"HD-1077", "Mary", "Johnson", "Female", "1971-01-01", "Diabetic Nephropathy", "The Non-Adherent", 18, 210, [][19]float64{
		{0, 46.5, 48, 46.4, 1.5, 36, 29.28, 67.3, 400, 803, 14.6, -170, 130, 155, 128, 60, 84, 0.12, 36.7},
		{0, 46.5, 48, 46.4, 1.6, 36, 28.51, 51, 370, 438, 14.1, -150, 105, 205, 97, 51, 86, 0.12, 36.9},
		{0, 46.5, 49.2, 46.4, 2.8, 36, 26.88, 44, 400, 784, 14, -180, 115, 205, 99, 48, 77, 0.18, 36.5},
	}},
	{"HD-1011", "Robert", "Smith", "Male", "1964-01-01", "Hypertensive Nephropathy", "Inflamed CVC", 28, 240, [][19]float64{
		{0, 67, 71.6, 71.4, 4.6, 35.5, 18.29, 34.4, 350, 791, 13.8, -140, 100, 155, 168, 30, 67, 0.23, 36.5},
		{1, 67, 67.6, 67.2, 0.6, 35.5, 32.91, 53.8, 350, 792, 13.6, -160, 90, 200, 178, 38, 68, 0.06, 36.3},
		{0, 67, 69.2, 67.4, 2, 35.5, 31.34, 60.7, 350, 487, 13.5, -135, 110, 90, 156, 50, 76, 0.13, 36.5},
	}},
	{"HD-1024", "Michael", "Davis", "Male", "1953-01-01", "Diabetic Nephropathy", "The Clotter", 44, 240, [][19]float64{
		{0, 95.5, 97.4, 95.6, 1.9, 35.5, 18.48, 46.6, 400, 474, 13.9, -245, 155, 85, 139, 88, 65, 0.07, 36.6},
		{0, 95.5, 97.2, 95.6, 1.6, 35.5, 22.82, 55.7, 380, 462, 13.8, -190, 135, 120, 125, 77, 66, 0.12, 36.3},
		{0, 95.5, 95, 95, -2.6, 35.5, 20.43, 50.5, 350, 418, 13.9, -240, 120, 110, 143, 84, 90, 0.04, 37.2},
	}},
	{"HD-1058", "Sarah", "Wilson", "Female", "1967-01-01", "Glomerulonephritis", "Malnourished/Inflamed", 36, 240, [][19]float64{
		{0, 59, 58.8, 59, -0.4, 35.5, 32.07, 65.2, 350, 791, 13.7, -145, 140, 160, 158, 103, 72, 0.01, 36.4},
		{0, 58, 61.2, 58, 2.2, 35.5, 27.45, 65.1, 350, 797, 13.7, -190, 145, 155, 145, 90, 88, 0.22, 36.7},
		{0, 57, 60.6, 58.4, 3.4, 35.5, 24.9, 57.2, 350, 806, 14, -155, 165, 170, 149, 94, 86, 0.17, 36.7},
	}},
	{"HD-1003", "Jennifer", "Brown", "Female", "1973-01-01", "Polycystic Kidney Disease", "Stable", 24, 240, [][19]float64{
		{0, 59, 61.6, 61.4, 2.9, 35.5, 24.56, 49.1, 400, 629, 13.9, -180, 145, 45, 113, 65, 86, 0.04, 36.3},
		{0, 59, 64.4, 62.2, 3, 35.5, 23.53, 52, 350, 796, 13.8, -175, 145, 115, 102, 49, 77, 0.26, 36.4},
		{1, 61.5, 64, 61.6, 1.8, 35.5, 27.11, 61.3, 400, 476, 14, -205, 190, 135, 112, 57, 71, 0.18, 36.3},
	}},
}

var seedAccessTypes = []string{"CVC", "AVF", "AVG"}

// seedSessionStart is the date of the first seeded treatment.
var seedSessionStart = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

// DemoPatients builds the seed set. Access type rotates CVC, AVF, AVG.
func DemoPatients() []SeedPatient {
	accessCreated := date(2024, 1, 1)
	out := make([]SeedPatient, 0, len(seedProfiles))
	for i, prof := range seedProfiles {
		dob, _ := time.Parse(dateLayout, prof.dob)
		sp := SeedPatient{
			Patient: Patient{
				MRN:                     prof.mrn,
				FirstName:               prof.first,
				LastName:                prof.last,
				Sex:                     prof.sex,
				DateOfBirth:             &dob,
				Phone:                   "9999999999",
				RiskLevel:               "Medium",
				PrimaryDiagnosis:        prof.diagnosis,
				DialysisVintage:         prof.vintage,
				ScheduleDaysPerWeek:     3,
				ScheduleDurationMinutes: prof.minutes,
				Archetype:               prof.archetype,
				Active:                  true,
			},
			Access: VascularAccess{
				AccessType:  seedAccessTypes[i%len(seedAccessTypes)],
				Location:    "Left Arm",
				CreatedDate: &accessCreated,
				Status:      "Active",
			},
			Labs:        []LabResult{baselineLabs(prof.archetype)},
			Medications: standardMedications(),
		}

		for j, row := range prof.sessions {
			day := seedSessionStart.AddDate(0, 0, j)
			recorded := day.AddDate(0, 0, 1)
			sp.Sessions = append(sp.Sessions, sessionFromRow(day, row))
			sp.Access.Metrics = append(sp.Access.Metrics, AccessMetric{
				ArterialPressure: int(row[11]),
				VenousPressure:   int(row[12]),
				FlowRate:         int(row[8]),
				RecordedDate:     &recorded,
			})
		}
		out = append(out, sp)
	}
	return out
}

func sessionFromRow(day time.Time, r [19]float64) DialysisSession {
	return DialysisSession{
		SessionDate:              day,
		Technique:                "HD",
		DialyzerType:             "Type",
		BathType:                 "Standard",
		IntradialyticHypotension: r[0] == 1,
		DryWeight:                r[1],
		PreWeight:                r[2],
		PostWeight:               r[3],
		InterdialyticGain:        r[4],
		DialysateTemperature:     r[5],
		ReplacementVolume:        r[6],
		DoseKt:                   math.Round(r[7]/50*100) / 100,
		BloodFlowRate:            int(r[8]),
		DialysateFlowRate:        int(r[9]),
		DialysateConductivity:    r[10],
		UltrafiltrationRate:      r[17],
		Vitals: []SessionVital{{
			SystolicBP:            int(r[14]),
			DiastolicBP:           int(r[15]),
			HeartRate:             int(r[16]),
			BodyTemperature:       r[18],
			ArterialLinePressure:  int(r[11]),
			VenousLinePressure:    int(r[12]),
			TransmembranePressure: int(r[13]),
		}},
	}
}

// baselineLabs varies the first panel by archetype.
func baselineLabs(archetype string) LabResult {
	malnourished := strings.Contains(archetype, "Malnourished") || strings.Contains(archetype, "Crasher")
	inflamed := strings.Contains(archetype, "Inflamed")
	nonAdherent := strings.Contains(archetype, "Non-Adherent")

	pick := func(cond bool, yes, no float64) *float64 {
		if cond {
			return &yes
		}
		return &no
	}
	return LabResult{
		TestDate:    seedSessionStart,
		Hemoglobin:  pick(inflamed, 9.2, 10.5),
		Albumin:     pick(malnourished, 3.2, 3.8),
		Potassium:   pick(nonAdherent, 6.1, 4.5),
		Sodium:      ptr(138),
		Calcium:     ptr(8.9),
		Phosphorus:  pick(nonAdherent, 7.2, 5.2),
		Urea:        ptr(120),
		Creatinine:  ptr(9.5),
		Bicarbonate: ptr(22),
		Ferritin:    pick(inflamed, 800, 300),
	}
}

func standardMedications() []Medication {
	return []Medication{
		{DrugName: "Sevelamer", Category: "Phosphate Binders", Dose: "800mg", Frequency: "TID", Route: "PO", Active: true},
		{DrugName: "Iron Sucrose", Category: "Iron Supplements", Dose: "100mg", Frequency: "Weekly", Route: "IV", Active: true},
		{DrugName: "Vitamin D3", Category: "Vitamin D / MBD", Dose: "0.25mcg", Frequency: "Daily", Route: "PO", Active: true},
		{DrugName: "Epoetin Alfa", Category: "ESA", Dose: "4000 units", Frequency: "TIW", Route: "IV", Active: true},
		{DrugName: "Lisinopril", Category: "BP Medications", Dose: "10mg", Frequency: "Daily", Route: "PO", Active: true},
	}
}

// Seed replaces all patients with the demonstration set.
func (s *Seeder) Seed(ctx context.Context) (int, error) {
	patients := DemoPatients()
	if err := s.repo.ReplaceAll(ctx, patients); err != nil {
		return 0, fmt.Errorf("seed patients: %w", err)
	}
	for _, p := range patients {
		s.logger.Info().Str("mrn", p.Patient.MRN).Str("archetype", p.Patient.Archetype).
			Str("access", p.Access.AccessType).Int("sessions", len(p.Sessions)).Msg("seeded patient")
	}
	return len(patients), nil
}

type labMarkerSpread struct {
	base, spread float64
}

// Monthly lab generation: base value and the full width of uniform noise.
var labSpreads = struct {
	hemoglobin, potassium, sodium, albumin, calcium, phosphorus, urea, creatinine, bicarbonate, ferritin labMarkerSpread
}{
	hemoglobin:  labMarkerSpread{10.5, 0.8},
	potassium:   labMarkerSpread{4.8, 1.2},
	sodium:      labMarkerSpread{138, 4},
	albumin:     labMarkerSpread{3.6, 0.5},
	calcium:     labMarkerSpread{9.0, 0.8},
	phosphorus:  labMarkerSpread{5.2, 1.5},
	urea:        labMarkerSpread{110, 30},
	creatinine:  labMarkerSpread{8.5, 2},
	bicarbonate: labMarkerSpread{22, 4},
	ferritin:    labMarkerSpread{450, 150},
}

// LabMonths returns the first day of each of the n months ending with the
// month of end, oldest first.
func LabMonths(end time.Time, n int) []time.Time {
	first := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		out[i] = first.AddDate(0, i-(n-1), 0)
	}
	return out
}

// GenerateLabHistory draws one panel per month. High-risk archetypes get
// raised potassium and lowered albumin.
func GenerateLabHistory(p Patient, months []time.Time, rng *rand.Rand) []LabResult {
	var kMod, albMod float64
	if strings.Contains(p.Archetype, "Crasher") || strings.Contains(p.Archetype, "Clotter") {
		kMod, albMod = 0.5, -0.4
	}
	draw := func(m labMarkerSpread, mod float64) *float64 {
		v := m.base + mod + rng.Float64()*m.spread - m.spread/2
		v = math.Round(v*100) / 100
		return &v
	}
	labs := make([]LabResult, 0, len(months))
	for _, month := range months {
		labs = append(labs, LabResult{
			PatientID:   p.ID,
			TestDate:    month,
			Hemoglobin:  draw(labSpreads.hemoglobin, 0),
			Potassium:   draw(labSpreads.potassium, kMod),
			Sodium:      draw(labSpreads.sodium, 0),
			Albumin:     draw(labSpreads.albumin, albMod),
			Calcium:     draw(labSpreads.calcium, 0),
			Phosphorus:  draw(labSpreads.phosphorus, 0),
			Urea:        draw(labSpreads.urea, 0),
			Creatinine:  draw(labSpreads.creatinine, 0),
			Bicarbonate: draw(labSpreads.bicarbonate, 0),
			Ferritin:    draw(labSpreads.ferritin, 0),
		})
	}
	return labs
}

// SyncLabs replaces every patient's labs with a generated monthly history.
func (s *Seeder) SyncLabs(ctx context.Context, months []time.Time, rng *rand.Rand) (int, error) {
	patients, err := s.repo.ListPatients(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range patients {
		labs := GenerateLabHistory(p, months, rng)
		if err := s.repo.ReplaceLabs(ctx, p.ID, labs); err != nil {
			return 0, fmt.Errorf("sync labs for %s: %w", p.MRN, err)
		}
		s.logger.Info().Str("mrn", p.MRN).Int("panels", len(labs)).Msg("lab history synced")
	}
	return len(patients), nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(v float64) *float64 { return &v }
