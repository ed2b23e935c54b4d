package copilot

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/renalsim/renalsim/internal/domain/patient"
	"github.com/renalsim/renalsim/internal/domain/riskmodel"
	"github.com/renalsim/renalsim/internal/platform/llm"
)

var errMissingRisk = errors.New("model returned no 30-day mortality")

const maxRecommendations = 5

var (
	feasibilities = map[string]bool{"Easy": true, "Moderate": true, "Hard": true}
	urgencies     = map[string]bool{"Urgent": true, "High": true, "Medium": true}
	categories    = map[string]bool{"Medical": true, "Operational": true, "Lifestyle": true}
)

type riskAnswer struct {
	MortalityRisk30d *float64 `json:"mortalityRisk30d"`
	MortalityRisk90d *float64 `json:"mortalityRisk90d"`
	MortalityRisk1yr *float64 `json:"mortalityRisk1yr"`
	TopRiskFactor    string   `json:"topRiskFactor"`
	Explanation      string   `json:"explanation"`
}

// AnalyzeRisk asks the analysis model for a mortality estimate. Missing
// longer horizons are extended from the 30-day value the way the formula
// extends its own.
func (s *Service) AnalyzeRisk(ctx context.Context, rc patient.RiskContext) (*patient.RiskInsight, error) {
	return cached(ctx, s, "risk", func() (*patient.RiskInsight, error) {
		content, err := s.analyze(ctx, riskPrompt, rc, 0.1)
		if err != nil {
			return nil, err
		}
		var ans riskAnswer
		if err := llm.DecodeJSON(content, &ans); err != nil {
			return nil, err
		}
		if !finite(ans.MortalityRisk30d) {
			return nil, errMissingRisk
		}
		m30 := *ans.MortalityRisk30d
		h := riskmodel.Horizon{D30: m30, D90: m30 * 2.5, Y1: m30 * 8}
		if finite(ans.MortalityRisk90d) {
			h.D90 = *ans.MortalityRisk90d
		}
		if finite(ans.MortalityRisk1yr) {
			h.Y1 = *ans.MortalityRisk1yr
		}
		return &patient.RiskInsight{
			Mortality:     riskmodel.SnapshotFrom(h).Mortality,
			TopRiskFactor: strings.TrimSpace(ans.TopRiskFactor),
			Explanation:   strings.TrimSpace(ans.Explanation),
		}, nil
	}, rc)
}

// Recommend asks for the top interventions. Entries outside the allowed
// ranks and enums are dropped; missing ids are filled in.
func (s *Service) Recommend(ctx context.Context, rc patient.RiskContext) ([]patient.Recommendation, error) {
	return cached(ctx, s, "recommendations", func() ([]patient.Recommendation, error) {
		content, err := s.analyze(ctx, recommendationsPrompt, rc, 0.2)
		if err != nil {
			return nil, err
		}
		var raw []patient.Recommendation
		if err := llm.DecodeJSON(content, &raw); err != nil {
			return nil, err
		}
		return validRecommendations(raw), nil
	}, rc)
}

func validRecommendations(in []patient.Recommendation) []patient.Recommendation {
	out := make([]patient.Recommendation, 0, len(in))
	seen := make(map[string]bool)
	for _, r := range in {
		r.Description = strings.TrimSpace(r.Description)
		if r.Rank < 1 || r.Rank > maxRecommendations || r.Description == "" {
			continue
		}
		if !feasibilities[r.Feasibility] || !urgencies[r.Urgency] || !categories[r.Category] {
			continue
		}
		if r.ID == "" || seen[r.ID] {
			r.ID = uuid.NewString()
		}
		seen[r.ID] = true
		if math.IsNaN(r.ExpectedMortalityReduction) || r.ExpectedMortalityReduction < 0 {
			r.ExpectedMortalityReduction = 0
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	if len(out) > maxRecommendations {
		out = out[:maxRecommendations]
	}
	return out
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

var _ patient.Advisor = (*Service)(nil)
