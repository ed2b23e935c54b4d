package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renalsim/renalsim/internal/platform/db"
)

const (
	detailSessionLimit = 20
	detailLabLimit     = 12
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo returns the Postgres chart repository.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// NewSeedRepo returns the Postgres repository used by the seed commands.
func NewSeedRepo(pool *pgxpool.Pool) SeedRepository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn() db.Querier {
	return r.pool
}

const patientCols = `patient_id, mrn, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(sex, ''),
	date_of_birth, COALESCE(phone, ''), COALESCE(risk_level, ''), COALESCE(primary_diagnosis, ''),
	COALESCE(dialysis_vintage, 0), COALESCE(schedule_days_per_week, 0), COALESCE(schedule_duration_minutes, 0),
	COALESCE(archetype, ''), COALESCE(center, ''), COALESCE(active, TRUE), COALESCE(created_at, NOW())`

const accessCols = `access_id, patient_id, COALESCE(access_type, ''), COALESCE(location, ''), created_date, COALESCE(status, '')`

const metricCols = `metric_id, access_id, COALESCE(arterial_pressure, 0), COALESCE(venous_pressure, 0),
	COALESCE(flow_rate, 0), recorded_date`

const sessionCols = `session_id, patient_id, session_date, start_time, end_time,
	COALESCE(dialysis_technique, ''), COALESCE(dialyzer_type, ''), COALESCE(dialysate_bath_type, ''),
	COALESCE(dry_weight, 0)::float8, COALESCE(pre_dialysis_weight, 0)::float8, COALESCE(post_dialysis_weight, 0)::float8,
	COALESCE(interdialytic_weight_gain, 0)::float8, COALESCE(dialysate_temperature, 0)::float8,
	COALESCE(replacement_volume, 0)::float8, COALESCE(dialysis_dose_kt, 0)::float8,
	COALESCE(blood_flow_rate, 0), COALESCE(dialysate_flow_rate, 0),
	COALESCE(dialysate_conductivity, 0)::float8, COALESCE(bicarbonate_conductivity, 0)::float8,
	COALESCE(ultrafiltration_rate, 0)::float8, COALESCE(intradialytic_hypotension, FALSE)`

const vitalCols = `vital_id, session_id, recorded_time, COALESCE(systolic_bp, 0), COALESCE(diastolic_bp, 0),
	COALESCE(heart_rate, 0), COALESCE(body_temperature, 0)::float8, COALESCE(arterial_line_pressure, 0),
	COALESCE(venous_line_pressure, 0), COALESCE(transmembrane_pressure, 0)`

const labCols = `lab_id, patient_id, test_date, hemoglobin::float8, albumin::float8, potassium::float8,
	sodium::float8, calcium::float8, phosphorus::float8, urea::float8, creatinine::float8,
	bicarbonate::float8, ferritin::float8`

const medicationCols = `medication_id, patient_id, COALESCE(drug_name, ''), COALESCE(category, ''), COALESCE(dose, ''),
	COALESCE(frequency, ''), COALESCE(route, ''), start_date, end_date, COALESCE(active, TRUE)`

func (r *repoPG) ListSummaries(ctx context.Context) ([]*SummaryRecord, error) {
	patients, err := r.ListPatients(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[int]*SummaryRecord, len(patients))
	out := make([]*SummaryRecord, 0, len(patients))
	for _, p := range patients {
		rec := &SummaryRecord{Patient: p}
		byID[p.ID] = rec
		out = append(out, rec)
	}

	accesses, err := queryAll(ctx, r.conn(), scanAccess,
		`SELECT DISTINCT ON (patient_id) `+accessCols+` FROM vascular_access ORDER BY patient_id, access_id`)
	if err != nil {
		return nil, fmt.Errorf("list primary access: %w", err)
	}
	for i := range accesses {
		if rec, ok := byID[accesses[i].PatientID]; ok {
			rec.Access = &accesses[i]
		}
	}

	sessions, err := queryAll(ctx, r.conn(), scanSession,
		`SELECT DISTINCT ON (patient_id) `+sessionCols+` FROM dialysis_sessions
		ORDER BY patient_id, session_date DESC, session_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list latest sessions: %w", err)
	}
	for i := range sessions {
		if rec, ok := byID[sessions[i].PatientID]; ok {
			rec.LastSession = &sessions[i]
		}
	}

	labs, err := queryAll(ctx, r.conn(), scanLab,
		`SELECT DISTINCT ON (patient_id) `+labCols+` FROM lab_results
		ORDER BY patient_id, test_date DESC, lab_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list latest labs: %w", err)
	}
	for i := range labs {
		if rec, ok := byID[labs[i].PatientID]; ok {
			rec.LatestLab = &labs[i]
		}
	}

	return out, nil
}

func (r *repoPG) GetDetail(ctx context.Context, mrn string) (*DetailRecord, error) {
	p, err := r.getByMRN(ctx, mrn)
	if err != nil {
		return nil, err
	}
	rec := &DetailRecord{Patient: *p}

	rec.Accesses, err = queryAll(ctx, r.conn(), scanAccess,
		`SELECT `+accessCols+` FROM vascular_access WHERE patient_id = $1 ORDER BY access_id`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list access: %w", err)
	}
	if err := r.attachMetrics(ctx, rec.Accesses); err != nil {
		return nil, err
	}

	rec.Sessions, err = queryAll(ctx, r.conn(), scanSession,
		`SELECT `+sessionCols+` FROM dialysis_sessions WHERE patient_id = $1
		ORDER BY session_date DESC, session_id DESC LIMIT $2`, p.ID, detailSessionLimit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if err := r.attachLatestVitals(ctx, rec.Sessions); err != nil {
		return nil, err
	}

	rec.Labs, err = queryAll(ctx, r.conn(), scanLab,
		`SELECT `+labCols+` FROM lab_results WHERE patient_id = $1
		ORDER BY test_date DESC, lab_id DESC LIMIT $2`, p.ID, detailLabLimit)
	if err != nil {
		return nil, fmt.Errorf("list labs: %w", err)
	}

	rec.Medications, err = queryAll(ctx, r.conn(), scanMedication,
		`SELECT `+medicationCols+` FROM medications WHERE patient_id = $1 ORDER BY medication_id`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}

	return rec, nil
}

func (r *repoPG) ListSessions(ctx context.Context, mrn string, limit, offset int) (*SessionPage, error) {
	p, err := r.getByMRN(ctx, mrn)
	if err != nil {
		return nil, err
	}
	page := &SessionPage{Patient: *p}

	if err := r.conn().QueryRow(ctx,
		`SELECT COUNT(*) FROM dialysis_sessions WHERE patient_id = $1`, p.ID).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	page.Sessions, err = queryAll(ctx, r.conn(), scanSession,
		`SELECT `+sessionCols+` FROM dialysis_sessions WHERE patient_id = $1
		ORDER BY session_date DESC, session_id DESC LIMIT $2 OFFSET $3`, p.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if err := r.attachLatestVitals(ctx, page.Sessions); err != nil {
		return nil, err
	}
	return page, nil
}

func (r *repoPG) LabHistory(ctx context.Context, mrn string, limit int) ([]LabResult, error) {
	p, err := r.getByMRN(ctx, mrn)
	if err != nil {
		return nil, err
	}
	labs, err := queryAll(ctx, r.conn(), scanLab,
		`SELECT `+labCols+` FROM lab_results WHERE patient_id = $1
		ORDER BY test_date DESC, lab_id DESC LIMIT $2`, p.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("lab history: %w", err)
	}
	for i, j := 0, len(labs)-1; i < j; i, j = i+1, j-1 {
		labs[i], labs[j] = labs[j], labs[i]
	}
	return labs, nil
}

func (r *repoPG) ListPatients(ctx context.Context) ([]Patient, error) {
	patients, err := queryAll(ctx, r.conn(), scanPatient,
		`SELECT `+patientCols+` FROM patients ORDER BY patient_id`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	return patients, nil
}

func (r *repoPG) getByMRN(ctx context.Context, mrn string) (*Patient, error) {
	row := r.conn().QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE mrn = $1`, mrn)
	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get patient %s: %w", mrn, err)
	}
	return &p, nil
}

// attachMetrics loads metrics for every access, newest reading first.
func (r *repoPG) attachMetrics(ctx context.Context, accesses []VascularAccess) error {
	if len(accesses) == 0 {
		return nil
	}
	ids := make([]int, len(accesses))
	index := make(map[int]int, len(accesses))
	for i, a := range accesses {
		ids[i] = a.ID
		index[a.ID] = i
	}
	metrics, err := queryAll(ctx, r.conn(), scanMetric,
		`SELECT `+metricCols+` FROM access_metrics WHERE access_id = ANY($1)
		ORDER BY recorded_date DESC NULLS LAST, metric_id DESC`, ids)
	if err != nil {
		return fmt.Errorf("list access metrics: %w", err)
	}
	for _, m := range metrics {
		i := index[m.AccessID]
		accesses[i].Metrics = append(accesses[i].Metrics, m)
	}
	return nil
}

// attachLatestVitals sets Vitals to the newest reading of each session.
func (r *repoPG) attachLatestVitals(ctx context.Context, sessions []DialysisSession) error {
	if len(sessions) == 0 {
		return nil
	}
	ids := make([]int, len(sessions))
	index := make(map[int]int, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
		index[s.ID] = i
	}
	vitals, err := queryAll(ctx, r.conn(), scanVital,
		`SELECT DISTINCT ON (session_id) `+vitalCols+` FROM session_vitals WHERE session_id = ANY($1)
		ORDER BY session_id, recorded_time DESC NULLS LAST, vital_id DESC`, ids)
	if err != nil {
		return fmt.Errorf("list session vitals: %w", err)
	}
	for _, v := range vitals {
		i := index[v.SessionID]
		sessions[i].Vitals = []SessionVital{v}
	}
	return nil
}

func (r *repoPG) ReplaceAll(ctx context.Context, patients []SeedPatient) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM patients`); err != nil {
			return fmt.Errorf("clear patients: %w", err)
		}
		for i := range patients {
			if err := insertSeedPatient(ctx, tx, &patients[i]); err != nil {
				return fmt.Errorf("seed %s: %w", patients[i].Patient.MRN, err)
			}
		}
		return nil
	})
}

func (r *repoPG) ReplaceLabs(ctx context.Context, patientID int, labs []LabResult) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM lab_results WHERE patient_id = $1`, patientID); err != nil {
			return fmt.Errorf("clear labs: %w", err)
		}
		for i := range labs {
			labs[i].PatientID = patientID
			if err := insertLab(ctx, tx, &labs[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertSeedPatient(ctx context.Context, q db.Querier, sp *SeedPatient) error {
	p := &sp.Patient
	err := q.QueryRow(ctx, `
		INSERT INTO patients (mrn, first_name, last_name, sex, date_of_birth, phone, risk_level,
			primary_diagnosis, dialysis_vintage, schedule_days_per_week, schedule_duration_minutes,
			archetype, center, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING patient_id, created_at`,
		p.MRN, p.FirstName, p.LastName, p.Sex, p.DateOfBirth, p.Phone, p.RiskLevel,
		p.PrimaryDiagnosis, p.DialysisVintage, p.ScheduleDaysPerWeek, p.ScheduleDurationMinutes,
		p.Archetype, nullIfEmpty(p.Center), p.Active,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}

	a := &sp.Access
	a.PatientID = p.ID
	err = q.QueryRow(ctx, `
		INSERT INTO vascular_access (patient_id, access_type, location, created_date, status)
		VALUES ($1,$2,$3,$4,$5) RETURNING access_id`,
		a.PatientID, a.AccessType, a.Location, a.CreatedDate, a.Status,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert access: %w", err)
	}
	for i := range a.Metrics {
		m := &a.Metrics[i]
		m.AccessID = a.ID
		err = q.QueryRow(ctx, `
			INSERT INTO access_metrics (access_id, arterial_pressure, venous_pressure, flow_rate, recorded_date)
			VALUES ($1,$2,$3,$4,$5) RETURNING metric_id`,
			m.AccessID, m.ArterialPressure, m.VenousPressure, m.FlowRate, m.RecordedDate,
		).Scan(&m.ID)
		if err != nil {
			return fmt.Errorf("insert access metric: %w", err)
		}
	}

	for i := range sp.Sessions {
		s := &sp.Sessions[i]
		s.PatientID = p.ID
		if err := insertSession(ctx, q, s); err != nil {
			return err
		}
	}

	for i := range sp.Labs {
		sp.Labs[i].PatientID = p.ID
		if err := insertLab(ctx, q, &sp.Labs[i]); err != nil {
			return err
		}
	}

	for i := range sp.Medications {
		m := &sp.Medications[i]
		m.PatientID = p.ID
		err = q.QueryRow(ctx, `
			INSERT INTO medications (patient_id, drug_name, category, dose, frequency, route, start_date, end_date, active)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING medication_id`,
			m.PatientID, m.DrugName, nullIfEmpty(m.Category), m.Dose, m.Frequency, m.Route,
			m.StartDate, m.EndDate, m.Active,
		).Scan(&m.ID)
		if err != nil {
			return fmt.Errorf("insert medication: %w", err)
		}
	}
	return nil
}

func insertSession(ctx context.Context, q db.Querier, s *DialysisSession) error {
	err := q.QueryRow(ctx, `
		INSERT INTO dialysis_sessions (patient_id, session_date, start_time, end_time, dialysis_technique,
			dialyzer_type, dialysate_bath_type, dry_weight, pre_dialysis_weight, post_dialysis_weight,
			interdialytic_weight_gain, dialysate_temperature, replacement_volume, dialysis_dose_kt,
			blood_flow_rate, dialysate_flow_rate, dialysate_conductivity, bicarbonate_conductivity,
			ultrafiltration_rate, intradialytic_hypotension)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING session_id`,
		s.PatientID, s.SessionDate, s.StartTime, s.EndTime, s.Technique,
		s.DialyzerType, s.BathType, s.DryWeight, s.PreWeight, s.PostWeight,
		s.InterdialyticGain, s.DialysateTemperature, s.ReplacementVolume, s.DoseKt,
		s.BloodFlowRate, s.DialysateFlowRate, s.DialysateConductivity, s.BicarbonateConductivity,
		s.UltrafiltrationRate, s.IntradialyticHypotension,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	for i := range s.Vitals {
		v := &s.Vitals[i]
		v.SessionID = s.ID
		err = q.QueryRow(ctx, `
			INSERT INTO session_vitals (session_id, recorded_time, systolic_bp, diastolic_bp, heart_rate,
				body_temperature, arterial_line_pressure, venous_line_pressure, transmembrane_pressure)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING vital_id`,
			v.SessionID, v.RecordedTime, v.SystolicBP, v.DiastolicBP, v.HeartRate,
			v.BodyTemperature, v.ArterialLinePressure, v.VenousLinePressure, v.TransmembranePressure,
		).Scan(&v.ID)
		if err != nil {
			return fmt.Errorf("insert session vital: %w", err)
		}
	}
	return nil
}

func insertLab(ctx context.Context, q db.Querier, l *LabResult) error {
	err := q.QueryRow(ctx, `
		INSERT INTO lab_results (patient_id, test_date, hemoglobin, albumin, potassium, sodium, calcium,
			phosphorus, urea, creatinine, bicarbonate, ferritin)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING lab_id`,
		l.PatientID, l.TestDate, l.Hemoglobin, l.Albumin, l.Potassium, l.Sodium, l.Calcium,
		l.Phosphorus, l.Urea, l.Creatinine, l.Bicarbonate, l.Ferritin,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("insert lab: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// queryAll runs sql and scans every row with scan.
func queryAll[T any](ctx context.Context, q db.Querier, scan func(pgx.Row) (T, error), sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanPatient(row pgx.Row) (Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.Sex,
		&p.DateOfBirth, &p.Phone, &p.RiskLevel, &p.PrimaryDiagnosis,
		&p.DialysisVintage, &p.ScheduleDaysPerWeek, &p.ScheduleDurationMinutes,
		&p.Archetype, &p.Center, &p.Active, &p.CreatedAt)
	return p, err
}

func scanAccess(row pgx.Row) (VascularAccess, error) {
	var a VascularAccess
	err := row.Scan(&a.ID, &a.PatientID, &a.AccessType, &a.Location, &a.CreatedDate, &a.Status)
	return a, err
}

func scanMetric(row pgx.Row) (AccessMetric, error) {
	var m AccessMetric
	err := row.Scan(&m.ID, &m.AccessID, &m.ArterialPressure, &m.VenousPressure, &m.FlowRate, &m.RecordedDate)
	return m, err
}

func scanSession(row pgx.Row) (DialysisSession, error) {
	var s DialysisSession
	err := row.Scan(&s.ID, &s.PatientID, &s.SessionDate, &s.StartTime, &s.EndTime,
		&s.Technique, &s.DialyzerType, &s.BathType,
		&s.DryWeight, &s.PreWeight, &s.PostWeight,
		&s.InterdialyticGain, &s.DialysateTemperature,
		&s.ReplacementVolume, &s.DoseKt,
		&s.BloodFlowRate, &s.DialysateFlowRate,
		&s.DialysateConductivity, &s.BicarbonateConductivity,
		&s.UltrafiltrationRate, &s.IntradialyticHypotension)
	return s, err
}

func scanVital(row pgx.Row) (SessionVital, error) {
	var v SessionVital
	err := row.Scan(&v.ID, &v.SessionID, &v.RecordedTime, &v.SystolicBP, &v.DiastolicBP,
		&v.HeartRate, &v.BodyTemperature, &v.ArterialLinePressure,
		&v.VenousLinePressure, &v.TransmembranePressure)
	return v, err
}

func scanLab(row pgx.Row) (LabResult, error) {
	var l LabResult
	err := row.Scan(&l.ID, &l.PatientID, &l.TestDate, &l.Hemoglobin, &l.Albumin, &l.Potassium,
		&l.Sodium, &l.Calcium, &l.Phosphorus, &l.Urea, &l.Creatinine,
		&l.Bicarbonate, &l.Ferritin)
	return l, err
}

func scanMedication(row pgx.Row) (Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.PatientID, &m.DrugName, &m.Category, &m.Dose,
		&m.Frequency, &m.Route, &m.StartDate, &m.EndDate, &m.Active)
	return m, err
}
