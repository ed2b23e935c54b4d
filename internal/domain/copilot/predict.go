package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/renalsim/renalsim/internal/domain/riskmodel"
	"github.com/renalsim/renalsim/internal/platform/llm"
)

// PredictInterventionImpact asks the analysis model for the patient's risk
// with the active levers applied. The answer is decoded strictly: a field
// that is not a finite number in [0,100] falls back to the baseline, and the
// result is clamped so interventions never raise risk.
func (s *Service) PredictInterventionImpact(ctx context.Context, pc PatientContext, levers riskmodel.LeverState) (*riskmodel.Prediction, error) {
	baseline := riskmodel.BaselineFrom(pc.MortalityRisk, pc.HospitalizationRisk.D30)
	active := levers.Labels()
	if active == nil {
		active = []string{}
	}

	p, err := cached(ctx, s, "predict", func() (*riskmodel.Prediction, error) {
		content, err := s.analyze(ctx, PredictPrompt(&pc, baseline), map[string][]string{"activeLevers": active}, 0.2)
		if err != nil {
			return nil, err
		}
		p, err := decodePrediction(content, baseline)
		if err != nil {
			return nil, err
		}
		clamped := riskmodel.ClampPrediction(*p, baseline)
		return &clamped, nil
	}, pc, active)
	if err != nil {
		s.logger.Warn().Err(err).Strs("levers", active).Msg("impact prediction failed")
		return nil, err
	}
	s.logger.Debug().
		Float64("baseline_30d", baseline.Mortality30d).
		Float64("predicted_30d", p.MortalityRisk30d).
		Strs("levers", active).
		Msg("impact predicted")
	return p, nil
}

func decodePrediction(content string, b riskmodel.Baseline) (*riskmodel.Prediction, error) {
	var fields map[string]json.RawMessage
	if err := llm.DecodeJSON(content, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("decode model output: expected an object")
	}
	p := &riskmodel.Prediction{
		MortalityRisk30d:       percentOr(fields["mortalityRisk30d"], b.Mortality30d),
		MortalityRisk90d:       percentOr(fields["mortalityRisk90d"], b.Mortality90d),
		MortalityRisk1yr:       percentOr(fields["mortalityRisk1yr"], b.Mortality1yr),
		HospitalizationRisk30d: percentOr(fields["hospitalizationRisk30d"], b.Hospitalization30d),
	}
	if raw, ok := fields["explanation"]; ok {
		_ = json.Unmarshal(raw, &p.Explanation)
	}
	return p, nil
}

// percentOr accepts only a JSON number within [0,100].
func percentOr(raw json.RawMessage, fallback float64) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return fallback
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return fallback
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 100 {
		return fallback
	}
	return v
}
