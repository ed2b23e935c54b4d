package patient

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/renalsim/renalsim/internal/domain/riskmodel"
)

// DefaultDivergenceThreshold is the 30-day mortality gap, in points, above
// which an AI estimate is flagged as diverging from the formula.
const DefaultDivergenceThreshold = 5.0

type Service struct {
	repo      Repository
	advisor   Advisor
	threshold float64
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithAdvisor enables model-based risk analysis and recommendations on the
// detail view.
func WithAdvisor(a Advisor) Option {
	return func(s *Service) { s.advisor = a }
}

func WithDivergenceThreshold(points float64) Option {
	return func(s *Service) { s.threshold = points }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		threshold: DefaultDivergenceThreshold,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPatients builds the roster with formula risk and alerts.
func (s *Service) ListPatients(ctx context.Context) ([]Summary, error) {
	recs, err := s.repo.ListSummaries(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	out := make([]Summary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.summarize(rec, now))
	}
	return out, nil
}

func (s *Service) summarize(rec *SummaryRecord, now time.Time) Summary {
	p := &rec.Patient
	age := p.AgeAt(now)
	accessType := accessTypeOf(rec.Access)
	albumin := albuminOf(rec.LatestLab)

	m30 := riskmodel.CalculateRisk(age, accessType, albumin)
	snap := riskmodel.DeriveSnapshot(m30)

	sum := baseSummary(p, age, accessType)
	sum.RiskLevel = riskmodel.LevelFor(m30 * 2.5)
	sum.MortalityRisk = snap.Mortality
	sum.HospitalizationRisk = snap.Hospitalization
	sum.Alerts = CalculateAlerts(rec.LatestLab, accessType, false, now)
	sum.TopRiskFactor = riskmodel.TopRiskFactor(accessType, albumin)
	sum.LastUpdated = now
	if rec.LastSession != nil {
		sum.LastUpdated = rec.LastSession.SessionDate
	}
	return sum
}

func baseSummary(p *Patient, age int, accessType string) Summary {
	return Summary{
		ID:               p.MRN,
		Name:             p.FullName(),
		Age:              age,
		Sex:              orString(p.Sex, "Unknown"),
		DialysisVintage:  p.DialysisVintage,
		PrimaryDiagnosis: orString(p.PrimaryDiagnosis, "Unknown"),
		Schedule: Schedule{
			DaysPerWeek:        orInt(p.ScheduleDaysPerWeek, defaultDaysPerWeek),
			DurationPerSession: orInt(p.ScheduleDurationMinutes, defaultSessionMinutes),
		},
		Phenotype:  Phenotype(p.Archetype),
		Facility:   orString(p.Center, DefaultFacility),
		AccessType: accessType,
		Archetype:  orString(p.Archetype, "Standard"),
	}
}

// GetPatientDetails builds the full patient view. When an advisor is
// configured its risk estimate is preferred over the formula, and the
// response records both along with their divergence.
func (s *Service) GetPatientDetails(ctx context.Context, mrn string) (*Detail, error) {
	rec, err := s.repo.GetDetail(ctx, mrn)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	p := &rec.Patient
	access := rec.PrimaryAccess()
	accessType := accessTypeOf(access)
	latest := rec.LatestLab()
	albumin := albuminOf(latest)
	age := p.AgeAt(now)

	m30 := riskmodel.CalculateRiskWithJitter(age, accessType, albumin, p.MRN)
	formula := riskmodel.DeriveSnapshot(m30)
	formulaTop := riskmodel.TopRiskFactor(accessType, albumin)

	insight, recommendations := s.consult(ctx, s.riskContext(p, age, accessType, albumin, latest))

	var aiRisk *riskmodel.Horizon
	var aiTop, explanation string
	if insight != nil {
		aiRisk = &insight.Mortality
		aiTop = insight.TopRiskFactor
		explanation = insight.Explanation
	}
	assessment := riskmodel.Reconcile(formula, aiRisk, formulaTop, aiTop, s.threshold)
	if d := assessment.Divergence; d != nil && d.Flagged {
		s.logger.Warn().
			Str("mrn", p.MRN).
			Float64("ai_30d", assessment.Risk.Mortality.D30).
			Float64("formula_30d", formula.Mortality.D30).
			Float64("divergence", d.Absolute).
			Msg("AI mortality estimate diverges from formula")
	}

	sum := baseSummary(p, age, accessType)
	if assessment.Source == riskmodel.SourceAI {
		sum.RiskLevel = assessment.Risk.Level()
	} else {
		sum.RiskLevel = riskmodel.LevelFor(m30 * 2.5)
	}
	sum.MortalityRisk = assessment.Risk.Mortality
	sum.HospitalizationRisk = assessment.Risk.Hospitalization
	fluidOverload := len(rec.Sessions) > 0 && rec.Sessions[0].IntradialyticHypotension
	sum.Alerts = CalculateAlerts(latest, accessType, fluidOverload, now)
	sum.TopRiskFactor = assessment.TopRiskFactor
	sum.LastUpdated = now

	var monitoring *AccessMonitoring
	if access != nil {
		monitoring = BuildAccessMonitoring(access.Metrics)
	}

	detail := &Detail{
		Summary:          sum,
		Access:           BuildAccessProfile(rec.Accesses, now),
		AccessMetrics:    monitoring,
		AccessRiskScore:  AccessRiskScore(monitoring),
		DataQualityScore: DataQualityScore(rec.Sessions),
		DryWeight:        DryWeight(rec.Sessions),
		Recommendations:  recommendations,
		RiskSource:       assessment.Source,
		FormulaRisk:      formula,
		RiskDivergence:   assessment.Divergence,
		RiskExplanation:  explanation,
		Sessions:         make([]SessionSummary, 0, len(rec.Sessions)),
		Labs:             MapLabs(rec.Labs),
		Medications:      make([]MedicationEntry, 0, len(rec.Medications)),
	}
	for _, sess := range rec.Sessions {
		detail.Sessions = append(detail.Sessions, MapSession(sess, p.ScheduleDurationMinutes))
	}
	for _, m := range rec.Medications {
		detail.Medications = append(detail.Medications, MapMedication(m))
	}
	return detail, nil
}

func (s *Service) riskContext(p *Patient, age int, accessType string, albumin float64, latest *LabResult) RiskContext {
	rc := RiskContext{
		Age:        age,
		Sex:        p.Sex,
		Diagnosis:  orString(p.PrimaryDiagnosis, "ESRD"),
		AccessType: accessType,
		LabAlbumin: albumin,
	}
	if latest != nil {
		rc.LabPotassium = latest.Potassium
	}
	return rc
}

// consult runs risk analysis and recommendations concurrently. Advisor
// failures are logged and degrade to no insight and no recommendations.
func (s *Service) consult(ctx context.Context, rc RiskContext) (*RiskInsight, []Recommendation) {
	recs := []Recommendation{}
	if s.advisor == nil {
		return nil, recs
	}

	var (
		insight *RiskInsight
		g       errgroup.Group
	)
	g.Go(func() error {
		out, err := s.advisor.AnalyzeRisk(ctx, rc)
		if err != nil {
			s.logger.Warn().Err(err).Msg("AI risk analysis failed")
			return nil
		}
		insight = out
		return nil
	})
	g.Go(func() error {
		out, err := s.advisor.Recommend(ctx, rc)
		if err != nil {
			s.logger.Warn().Err(err).Msg("AI recommendations failed")
			return nil
		}
		if out != nil {
			recs = out
		}
		return nil
	})
	_ = g.Wait()
	return insight, recs
}

// ListSessions pages through a patient's treatment history, newest first.
func (s *Service) ListSessions(ctx context.Context, mrn string, limit, offset int) ([]SessionSummary, int, error) {
	page, err := s.repo.ListSessions(ctx, mrn, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]SessionSummary, 0, len(page.Sessions))
	for _, sess := range page.Sessions {
		out = append(out, MapSession(sess, page.Patient.ScheduleDurationMinutes))
	}
	return out, page.Total, nil
}
