package patient

import (
	"context"

	"github.com/renalsim/renalsim/internal/domain/riskmodel"
)

// RiskContext is the de-identified summary sent to the advisor.
type RiskContext struct {
	Age                         int      `json:"age"`
	Sex                         string   `json:"sex"`
	Diagnosis                   string   `json:"diagnosis"`
	AccessType                  string   `json:"accessType"`
	LabAlbumin                  float64  `json:"labAlbumin"`
	LabPotassium                *float64 `json:"labPotassium"`
	LastMissedSession           bool     `json:"lastMissedSession"`
	HospitalizationsLast6Months int      `json:"hospitalizationsLast6Months"`
}

// RiskInsight is a model-produced mortality assessment.
type RiskInsight struct {
	Mortality     riskmodel.Horizon `json:"mortality"`
	TopRiskFactor string            `json:"topRiskFactor"`
	Explanation   string            `json:"explanation"`
}

type Recommendation struct {
	ID                         string  `json:"id"`
	Rank                       int     `json:"rank"`
	Description                string  `json:"description"`
	TargetMediator             string  `json:"targetMediator"`
	ExpectedMortalityReduction float64 `json:"expectedMortalityReduction"`
	Feasibility                string  `json:"feasibility"`
	Urgency                    string  `json:"urgency"`
	Category                   string  `json:"category"`
}

// Advisor produces model-based risk insight and recommendations. A nil
// insight with a nil error means the advisor had nothing usable.
type Advisor interface {
	AnalyzeRisk(ctx context.Context, rc RiskContext) (*RiskInsight, error)
	Recommend(ctx context.Context, rc RiskContext) ([]Recommendation, error)
}
