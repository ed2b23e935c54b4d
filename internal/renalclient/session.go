package renalclient

import (
	"sync"
	"time"

	"github.com/renalsim/renalsim/internal/domain/copilot"
	"github.com/renalsim/renalsim/internal/domain/riskmodel"
)

// Impact is what the dashboard shows for a lever configuration. Mediators
// are always the deterministic ones; the deltas come from the model when a
// prediction for exactly these levers has arrived.
type Impact struct {
	Levers               riskmodel.LeverState           `json:"levers"`
	Mediators            riskmodel.MediatorScores       `json:"mediators"`
	MortalityDelta       riskmodel.MortalityDelta       `json:"mortalityDelta"`
	HospitalizationDelta riskmodel.HospitalizationDelta `json:"hospitalizationDelta"`
	Source               riskmodel.RiskSource           `json:"source"`
	Prediction           *riskmodel.Prediction          `json:"prediction,omitempty"`
}

// LeverSession holds one patient's what-if state. Every change is reflected
// immediately with the formula result and followed by a debounced model
// prediction, published on Updates when it lands.
type LeverSession struct {
	model    riskmodel.Model
	patient  copilot.PatientContext
	baseline riskmodel.Baseline
	catheter bool

	mu      sync.Mutex
	levers  riskmodel.LeverState
	impact  Impact
	updates chan Impact

	predictor *Predictor
	done      chan struct{}
}

// NewLeverSession starts a session at the model's default levers. predict
// may be nil for a formula-only session.
func NewLeverSession(model riskmodel.Model, pc copilot.PatientContext, predict PredictFunc, debounce time.Duration) *LeverSession {
	s := &LeverSession{
		model:    model,
		patient:  pc,
		baseline: riskmodel.BaselineFrom(pc.MortalityRisk, pc.HospitalizationRisk.D30),
		catheter: riskmodel.IsCatheterAccess(pc.AccessType),
		levers:   model.Levers,
		updates:  make(chan Impact, 1),
		done:     make(chan struct{}),
	}
	s.impact = s.formula(s.levers)
	if predict != nil {
		s.predictor = NewPredictor(predict, debounce)
		go s.listen()
	} else {
		close(s.done)
	}
	return s
}

// Baseline is the pre-intervention risk predictions are bounded by.
func (s *LeverSession) Baseline() riskmodel.Baseline {
	return s.baseline
}

// Impact returns the current view.
func (s *LeverSession) Impact() Impact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.impact
}

// Updates yields the view each time a model prediction is applied.
func (s *LeverSession) Updates() <-chan Impact {
	return s.updates
}

// Toggle flips one lever.
func (s *LeverSession) Toggle(l riskmodel.Lever) Impact {
	s.mu.Lock()
	levers := s.levers.Toggle(l)
	s.mu.Unlock()
	return s.Set(levers)
}

// Set replaces the lever configuration. With no lever active there is
// nothing to predict: pending work is cancelled and the formula result,
// which is the baseline, stands.
func (s *LeverSession) Set(levers riskmodel.LeverState) Impact {
	s.mu.Lock()
	s.levers = levers
	s.impact = s.formula(levers)
	impact := s.impact
	s.mu.Unlock()

	if s.predictor == nil {
		return impact
	}
	if len(levers.ActiveLevers()) == 0 {
		s.predictor.Cancel()
		return impact
	}
	s.predictor.Request(s.patient, levers)
	return impact
}

func (s *LeverSession) formula(levers riskmodel.LeverState) Impact {
	w := s.model.Evaluate(levers, s.catheter)
	return Impact{
		Levers:               levers,
		Mediators:            w.Mediators,
		MortalityDelta:       w.MortalityDelta,
		HospitalizationDelta: w.HospitalizationDelta,
		Source:               riskmodel.SourceFormula,
	}
}

func (s *LeverSession) listen() {
	defer close(s.done)
	for r := range s.predictor.Results() {
		if r.Err != nil || r.Prediction == nil {
			continue
		}
		s.mu.Lock()
		if r.Levers != s.levers {
			s.mu.Unlock()
			continue
		}
		s.impact = s.applyPrediction(s.impact, *r.Prediction)
		impact := s.impact
		s.mu.Unlock()

		select {
		case <-s.updates:
		default:
		}
		s.updates <- impact
	}
}

func (s *LeverSession) applyPrediction(base Impact, p riskmodel.Prediction) Impact {
	p = riskmodel.ClampPrediction(p, s.baseline)
	delta := p.Delta(s.baseline)
	hosp := riskmodel.EstimateHospitalizationDelta(delta)
	if d := s.baseline.Hospitalization30d - p.HospitalizationRisk30d; d > 0 {
		hosp.D30 = d
	} else {
		hosp.D30 = 0
	}

	base.MortalityDelta = delta
	base.HospitalizationDelta = hosp
	base.Source = riskmodel.SourceAI
	base.Prediction = &p
	return base
}

// Close stops the prediction pipeline.
func (s *LeverSession) Close() {
	if s.predictor != nil {
		s.predictor.Close()
	}
	<-s.done
}
